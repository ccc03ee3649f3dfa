package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

const notificationColumns = `id, user_id, type, title, body, request_id, metadata, created_at, read_at`

func scanNotification(row pgx.CollectableRow) (models.Notification, error) {
	var n models.Notification
	var meta []byte
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.RequestID, &meta, &n.CreatedAt, &n.ReadAt)
	n.Metadata = meta
	return n, err
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	var meta any
	if len(n.Metadata) > 0 {
		meta = string(n.Metadata)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.RequestID, meta, n.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page store.Page) ([]models.Notification, error) {
	page = page.Normalize()
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND ($2 = false OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, unreadOnly, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanNotification)
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET read_at = $1 WHERE id = $2 AND user_id = $3 AND read_at IS NULL`,
		at, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET read_at = $1 WHERE user_id = $2 AND read_at IS NULL`, at, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}
