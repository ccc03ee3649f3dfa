package alerts

import "time"

// Task type constants
const (
	TaskNotify        = "notify:event"
	TaskWelcomeEmail  = "email:welcome"
	TaskPasswordReset = "email:password_reset"
)

const (
	QueueAlerts = "alerts"
	QueueEmails = "emails"
)

type EventType string

const (
	EventRequestNearby     EventType = "REQUEST_NEARBY"
	EventRequestAccepted   EventType = "REQUEST_ACCEPTED"
	EventCaptureStarted    EventType = "CAPTURE_STARTED"
	EventContentDelivered  EventType = "CONTENT_DELIVERED"
	EventDeliveryConfirmed EventType = "DELIVERY_CONFIRMED"
	EventDeliveryRejected  EventType = "DELIVERY_REJECTED"
	EventRequestCancelled  EventType = "REQUEST_CANCELLED"
	EventRequestReleased   EventType = "REQUEST_RELEASED"
	EventRequestExpired    EventType = "REQUEST_EXPIRED"
	EventRatingReceived    EventType = "RATING_RECEIVED"
	EventNewMessage        EventType = "NEW_MESSAGE"
)

// Event is what a user is told about. RequestID doubles as the notification reference.
type Event struct {
	Type      EventType      `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notify payload, one task per recipient
type NotifyPayload struct {
	UserID string    `json:"user_id"`
	Event  Event     `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

// Welcome email payload
type WelcomeEmailPayload struct {
	UserID   string        `json:"user_id"`
	Name     string        `json:"name"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Password reset payload
type PasswordResetPayload struct {
	UserID    string        `json:"user_id"`
	ResetURL  string        `json:"reset_url"`
	Envelope  EmailEnvelope `json:"envelope"`
	Requested time.Time     `json:"requested"`
}
