package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/notifyrelay/internal/model"
	"github.com/shaharia-lab/notifyrelay/internal/service"
	"github.com/shaharia-lab/notifyrelay/internal/storage"
)

// ingestRequest is the JSON body of POST /notifications. campaign_id is
// accepted as an alias of campaignId.
type ingestRequest struct {
	Type            string `json:"type"`
	Recipient       string `json:"recipient"`
	Message         string `json:"message"`
	CampaignID      string `json:"campaignId"`
	CampaignIDSnake string `json:"campaign_id"`
}

type ingestResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// handleIngestNotification validates and enqueues a notification.
// Responds 202 with the assigned id.
func (s *Server) handleIngestNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	campaignID := body.CampaignID
	if campaignID == "" {
		campaignID = body.CampaignIDSnake
	}

	n, err := s.notificationSvc.Ingest(r.Context(), service.IngestRequest{
		Type:       body.Type,
		Recipient:  body.Recipient,
		Message:    body.Message,
		CampaignID: campaignID,
	})
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Message: "Notification accepted for delivery",
		ID:      n.ID,
	})
}

// handleListNotifications returns recorded notifications, newest first.
// Accepts optional ?status=, ?campaignId= and ?limit=N (default 50).
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.HistoryFilter{
		Status:     model.Status(q.Get("status")),
		CampaignID: q.Get("campaignId"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	list, err := s.notificationSvc.List(r.Context(), filter)
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetNotification returns a single recorded notification.
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.notificationSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleListBreakers returns the state of every delivery breaker.
func (s *Server) handleListBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.breakers.Breakers())
}
