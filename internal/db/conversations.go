package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// =========================
// Conversations and messages
// =========================

const conversationColumns = `id, request_id, requester_id, responder_id, reward_nears, created_at`

const messageColumns = `id, conversation_id, sender_id, content, media_url, media_price, purchased_at, created_at, read_at`

func scanConversation(row pgx.CollectableRow) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.RequestID, &c.RequesterID, &c.ResponderID, &c.RewardNears, &c.CreatedAt)
	return c, err
}

func scanMessage(row pgx.CollectableRow) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MediaURL, &m.MediaPrice,
		&m.PurchasedAt, &m.CreatedAt, &m.ReadAt)
	return m, err
}

// CreateConversation reports false when the request already has one.
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, request_id, requester_id, responder_id, reward_nears, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO NOTHING`,
		c.ID, c.RequestID, c.RequesterID, c.ResponderID, c.RewardNears, c.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanConversation)
	if err != nil {
		return nil, notFound(err, "conversation", id)
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, page store.Page) ([]models.Conversation, error) {
	page = page.Normalize()
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE requester_id = $1 OR responder_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanConversation)
}

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, media_url, media_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.MediaURL, m.MediaPrice, m.CreatedAt)
	return err
}

func (s *Store) GetMessage(ctx context.Context, conversationID, id string) (*models.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND conversation_id = $2`, id, conversationID)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMessage)
	if err != nil {
		return nil, notFound(err, "message", id)
	}
	return &m, nil
}

// ListMessages returns the thread oldest first. A zero since returns everything.
func (s *Store) ListMessages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND created_at > $2
		ORDER BY created_at ASC`, conversationID, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMessage)
}

func (s *Store) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL`,
		conversationID, userID).Scan(&n)
	return n, err
}

func (s *Store) MarkMessageRead(ctx context.Context, conversationID, id, readerID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET read_at = $1
		WHERE id = $2 AND conversation_id = $3 AND sender_id <> $4 AND read_at IS NULL`,
		at, id, conversationID, readerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetPurchased claims a priced message when at is set and releases the claim when at is nil.
func (s *Store) SetPurchased(ctx context.Context, id string, at *time.Time) (bool, error) {
	q := `UPDATE messages SET purchased_at = $2 WHERE id = $1 AND media_price IS NOT NULL AND purchased_at IS NULL`
	if at == nil {
		q = `UPDATE messages SET purchased_at = $2 WHERE id = $1`
	}
	tag, err := s.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
