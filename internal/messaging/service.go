package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/metrics"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

// Repository persists conversations and their messages.
type Repository interface {
	CreateConversation(ctx context.Context, c *models.Conversation) (bool, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, page store.Page) ([]models.Conversation, error)
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, conversationID, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	MarkMessageRead(ctx context.Context, conversationID, id, readerID string, at time.Time) (bool, error)
	SetPurchased(ctx context.Context, id string, at *time.Time) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev alerts.Event, userIDs ...string) error
}

// Payments moves money for paid media.
type Payments interface {
	PurchaseMedia(ctx context.Context, p wallet.MediaPurchase) (*wallet.TransferResult, error)
}

type Service struct {
	repo     Repository
	hub      *Hub
	notifier Notifier
	payments Payments
	now      func() time.Time
	log      *logrus.Entry
}

func NewService(repo Repository, hub *Hub, notifier Notifier, payments Payments) *Service {
	return &Service{
		repo:     repo,
		hub:      hub,
		notifier: notifier,
		payments: payments,
		now:      time.Now,
		log:      logger.Component("messaging"),
	}
}

// CreateConversation opens the chat for a completed request. Calling it again
// for the same request is a no-op.
func (s *Service) CreateConversation(ctx context.Context, requestID, requesterID, responderID string, rewardNears int64) error {
	created, err := s.repo.CreateConversation(ctx, &models.Conversation{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		RequesterID: requesterID,
		ResponderID: responderID,
		RewardNears: rewardNears,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if created {
		s.log.WithField("request_id", requestID).Info("conversation opened")
	}
	return nil
}

func (s *Service) Conversations(ctx context.Context, userID string, page store.Page) ([]models.Conversation, error) {
	return s.repo.ListConversations(ctx, userID, page)
}

// participant loads the conversation and checks userID belongs to it.
func (s *Service) participant(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", apperr.ErrUnauthorized)
	}
	return c, nil
}

type SendInput struct {
	Content    string           `json:"content" validate:"max=4000"`
	MediaURL   string           `json:"media_url" validate:"omitempty,url"`
	MediaPrice *decimal.Decimal `json:"media_price"`
}

func (s *Service) Send(ctx context.Context, userID, conversationID string, in SendInput) (*models.Message, error) {
	c, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.MediaURL == "" {
		return nil, apperr.Validation("message needs content or media")
	}
	if in.MediaPrice != nil {
		if in.MediaURL == "" {
			return nil, apperr.Validation("media_price requires media_url")
		}
		if !in.MediaPrice.IsPositive() {
			return nil, apperr.Validation("media_price must be positive")
		}
		p := in.MediaPrice.Round(2)
		in.MediaPrice = &p
	}

	m := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		SenderID:       userID,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		MediaPrice:     in.MediaPrice,
		CreatedAt:      s.now(),
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	recipient := c.Other(userID)
	s.hub.Broadcast(c.ID, "message_new", redact(*m, recipient))
	if s.notifier != nil {
		ev := alerts.Event{
			Type:      alerts.EventNewMessage,
			Title:     "New message",
			Body:      preview(m),
			RequestID: c.RequestID,
			Data:      map[string]any{"conversation_id": c.ID, "message_id": m.ID},
		}
		if err := s.notifier.Notify(ctx, ev, recipient); err != nil {
			metrics.RecordSideEffectFailure("notify")
			s.log.WithError(err).WithField("conversation_id", c.ID).Warn("message notification failed")
		}
	}
	return m, nil
}

func preview(m *models.Message) string {
	if m.Content == "" {
		return "Sent you media"
	}
	if r := []rune(m.Content); len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return m.Content
}

// redact hides locked media from anyone but the sender.
func redact(m models.Message, viewerID string) models.Message {
	if m.Locked() && m.SenderID != viewerID {
		m.MediaURL = ""
	}
	return m
}

// List returns the thread oldest first, optionally only messages after since.
func (s *Service) List(ctx context.Context, userID, conversationID string, since time.Time) ([]models.Message, error) {
	if _, err := s.participant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID, since)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = redact(msgs[i], userID)
	}
	return msgs, nil
}

func (s *Service) Unread(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := s.participant(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, conversationID, userID)
}

// MarkRead marks a message read by its recipient.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID, messageID string) (time.Time, error) {
	if _, err := s.participant(ctx, userID, conversationID); err != nil {
		return time.Time{}, err
	}
	m, err := s.repo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return time.Time{}, err
	}
	if m.SenderID == userID {
		return time.Time{}, fmt.Errorf("%w: not the recipient", apperr.ErrUnauthorized)
	}
	if m.ReadAt != nil {
		return *m.ReadAt, nil
	}
	at := s.now()
	if _, err := s.repo.MarkMessageRead(ctx, conversationID, messageID, userID, at); err != nil {
		return time.Time{}, err
	}
	s.hub.Broadcast(conversationID, "message_read", map[string]any{
		"message_id": messageID,
		"reader_id":  userID,
		"read_at":    at.UTC().Format(time.RFC3339),
	})
	return at, nil
}

// Purchase unlocks a priced media message. The message is claimed before money
// moves so two concurrent purchases cannot both pay.
func (s *Service) Purchase(ctx context.Context, userID, conversationID, messageID string) (*models.Message, *wallet.TransferResult, error) {
	c, err := s.participant(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.repo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, nil, err
	}
	if m.SenderID == userID {
		return nil, nil, apperr.Validation("cannot purchase your own media")
	}
	if m.MediaPrice == nil {
		return nil, nil, fmt.Errorf("%w: message has no paid media", apperr.ErrInvalidState)
	}

	at := s.now()
	claimed, err := s.repo.SetPurchased(ctx, m.ID, &at)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		return nil, nil, fmt.Errorf("%w: media already purchased", apperr.ErrInvalidState)
	}

	res, err := s.payments.PurchaseMedia(ctx, wallet.MediaPurchase{
		BuyerID:        userID,
		SellerID:       m.SenderID,
		Amount:         *m.MediaPrice,
		MessageID:      m.ID,
		ConversationID: c.ID,
	})
	if err != nil {
		if _, uerr := s.repo.SetPurchased(ctx, m.ID, nil); uerr != nil {
			s.log.WithError(uerr).WithField("message_id", m.ID).Error("failed to release purchase claim")
			err = errors.Join(err, uerr)
		}
		return nil, nil, err
	}

	m.PurchasedAt = &at
	s.hub.Broadcast(c.ID, "media_purchased", map[string]any{"message_id": m.ID, "buyer_id": userID})
	return m, res, nil
}
