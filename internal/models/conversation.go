package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conversation is the chat opened between the two parties once a request completes.
type Conversation struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	ResponderID string    `json:"responder_id"`
	RewardNears int64     `json:"reward_nears"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.RequesterID || userID == c.ResponderID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if userID == c.RequesterID {
		return c.ResponderID
	}
	return c.RequesterID
}

// Message may carry paid media. A priced message's MediaURL is withheld from
// the recipient until PurchasedAt is set.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	Content        string           `json:"content"`
	MediaURL       string           `json:"media_url,omitempty"`
	MediaPrice     *decimal.Decimal `json:"media_price,omitempty"`
	PurchasedAt    *time.Time       `json:"purchased_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ReadAt         *time.Time       `json:"read_at"`
}

func (m *Message) Locked() bool {
	return m.MediaPrice != nil && m.PurchasedAt == nil
}
