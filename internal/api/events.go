package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/broadcast"
)

const sseEventName = "notification"

// HandleEvents streams every notification status change to the client until
// it disconnects. The default framing is Server-Sent Events; ?format=ndjson
// switches to one JSON object per line.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.events.Subscribe(0)
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	// Unsubscribe goes through the broadcaster's own loop; it is a no-op if
	// the subscription was already evicted or the broadcaster stopped.
	defer s.events.Unsubscribe(sub)

	ndjson := r.URL.Query().Get("format") == "ndjson"
	if ndjson {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := s.logger.With("subscription_id", sub.ID(), "remote_addr", r.RemoteAddr)
	log.Debug("observer connected", "ndjson", ndjson)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("observer disconnected")
			return
		case <-heartbeat.C:
			if ndjson {
				continue
			}
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				log.Debug("observer stream closed by server")
				return
			}
			if ndjson {
				// ev.Data is shared with other observers; never append to it.
				if _, err := w.Write(ev.Data); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n")); err != nil {
					return
				}
				flusher.Flush()
				continue
			}
			sendSSEEvent(w, flusher, sseEventName, json.RawMessage(ev.Data))
		}
	}
}
