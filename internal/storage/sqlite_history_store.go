package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// SQLiteHistoryStore implements HistoryStore backed by SQLite.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore returns a new SQLiteHistoryStore.
func NewSQLiteHistoryStore(db *sql.DB) *SQLiteHistoryStore {
	return &SQLiteHistoryStore{db: db}
}

// statusRank orders statuses so stale events never overwrite newer ones.
func statusRank(s model.Status) int {
	switch s {
	case model.StatusSending:
		return 1
	case model.StatusSent, model.StatusFailed:
		return 2
	default:
		return 0
	}
}

// Upsert inserts n or updates the stored row when n is not older than it.
func (s *SQLiteHistoryStore) Upsert(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("upserting notification: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, recipient, message, campaign_id, status, status_rank,
			attempt, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status      = excluded.status,
			status_rank = excluded.status_rank,
			attempt     = excluded.attempt,
			reason      = excluded.reason,
			updated_at  = excluded.updated_at
		WHERE notifications.status_rank < 2
		  AND excluded.status_rank >= notifications.status_rank`,
		n.ID, string(n.Type), n.Recipient, n.Message, n.CampaignID,
		string(n.Status), statusRank(n.Status), n.Attempt, n.Reason,
		n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting notification %q: %w", n.ID, err)
	}
	return nil
}

const selectNotificationColumns = `
	SELECT id, type, recipient, message, campaign_id, status, attempt, reason, created_at, updated_at
	FROM notifications`

// GetNotification returns the notification with the given id, or nil.
func (s *SQLiteHistoryStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx, selectNotificationColumns+` WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %q: %w", id, err)
	}
	return &n, nil
}

// ListNotifications returns notifications ordered by created_at descending.
func (s *SQLiteHistoryStore) ListNotifications(ctx context.Context, f HistoryFilter) (list []model.Notification, err error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CampaignID != "" {
		where = append(where, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}

	query := selectNotificationColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	list = []model.Notification{}
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning notification row: %w", scanErr)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return list, nil
}

// PruneTerminalBefore deletes terminal notifications not updated since cutoff.
func (s *SQLiteHistoryStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE status_rank = 2 AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned notifications: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(r rowScanner) (model.Notification, error) {
	var (
		n          model.Notification
		typ, state string
	)
	if err := r.Scan(&n.ID, &typ, &n.Recipient, &n.Message, &n.CampaignID,
		&state, &n.Attempt, &n.Reason, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return model.Notification{}, err
	}
	n.Type = model.Type(typ)
	n.Status = model.Status(state)
	return n, nil
}
