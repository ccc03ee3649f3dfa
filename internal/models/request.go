package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusAccepted   RequestStatus = "ACCEPTED"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusDelivered  RequestStatus = "DELIVERED"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusExpired    RequestStatus = "EXPIRED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusDisputed   RequestStatus = "DISPUTED"
)

// ActiveStatuses are the non-terminal statuses listed as a requester's active requests.
var ActiveStatuses = []RequestStatus{StatusPending, StatusAccepted, StatusInProgress, StatusDelivered}

// Claimed reports whether a responder holds the request and has not delivered yet.
func (s RequestStatus) Claimed() bool {
	return s == StatusAccepted || s == StatusInProgress
}

type ContentType string

const (
	ContentPhoto ContentType = "PHOTO"
	ContentVideo ContentType = "VIDEO"
	ContentBoth  ContentType = "BOTH"
)

type TrustMode string

const (
	TrustModeTrust TrustMode = "TRUST"
	TrustModeAll   TrustMode = "ALL"
)

type Request struct {
	ID          string  `json:"id"`
	RequesterID string  `json:"requester_id"`
	ResponderID *string `json:"responder_id,omitempty"`

	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	LocationAddress   string  `json:"location_address,omitempty"`
	LocationReference string  `json:"location_reference,omitempty"`
	RadiusMeters      int     `json:"radius_meters"`

	Description        string      `json:"description"`
	ContentType        ContentType `json:"content_type"`
	MaxDurationMinutes int         `json:"max_duration_minutes"`
	ExpiresAt          time.Time   `json:"expires_at"`

	TrustMode          TrustMode       `json:"trust_mode"`
	MinReputationStars decimal.Decimal `json:"min_reputation_stars"`
	TrustModeExpiresAt *time.Time      `json:"trust_mode_expires_at,omitempty"`

	RewardNears          int64           `json:"reward_nears"`
	CommissionPercentage decimal.Decimal `json:"commission_percentage"`
	CommissionAmount     int64           `json:"commission_amount"`
	FinalReward          int64           `json:"final_reward"`

	Status           RequestStatus `json:"status"`
	AcceptedAt       *time.Time    `json:"accepted_at,omitempty"`
	AcceptDeadlineAt *time.Time    `json:"accept_deadline_at,omitempty"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *string    `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	// RequesterRating is the score the responder gave the requester.
	RequesterRating  decimal.NullDecimal `json:"requester_rating"`
	RequesterReview  string              `json:"requester_review,omitempty"`
	RequesterRatedAt *time.Time          `json:"requester_rated_at,omitempty"`
	// ResponderRating is the score the requester gave the responder.
	ResponderRating  decimal.NullDecimal `json:"responder_rating"`
	ResponderReview  string              `json:"responder_review,omitempty"`
	ResponderRatedAt *time.Time          `json:"responder_rated_at,omitempty"`

	IsAnonymousRequester bool `json:"is_anonymous_requester"`
	ViewCount            int  `json:"view_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Media []Media `json:"media,omitempty"`
}

// CommissionFor rounds reward*pct/100 half up to whole Nears.
func CommissionFor(reward int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(reward).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

func (r *Request) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Request) TrustWindowActive(now time.Time) bool {
	return r.TrustMode == TrustModeTrust && r.TrustModeExpiresAt != nil && now.Before(*r.TrustModeExpiresAt)
}

func (r *Request) IsResponder(userID string) bool {
	return r.ResponderID != nil && *r.ResponderID == userID
}

func (r *Request) IsParticipant(userID string) bool {
	return r.RequesterID == userID || r.IsResponder(userID)
}

// Republish puts a claimed or delivered request back in the pool.
func (r *Request) Republish(now time.Time) {
	r.Status = StatusPending
	r.ResponderID = nil
	r.AcceptedAt = nil
	r.AcceptDeadlineAt = nil
	r.DeliveredAt = nil
	r.UpdatedAt = now
}

type MediaType string

const (
	MediaPhoto MediaType = "PHOTO"
	MediaVideo MediaType = "VIDEO"
)

type Media struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id"`
	MediaType        MediaType       `json:"media_type"`
	URL              string          `json:"url"`
	ThumbnailURL     string          `json:"thumbnail_url,omitempty"`
	PublicID         string          `json:"public_id,omitempty"`
	FileSizeBytes    *int            `json:"file_size_bytes,omitempty"`
	Width            *int            `json:"width,omitempty"`
	Height           *int            `json:"height,omitempty"`
	DurationSeconds  *int            `json:"duration_seconds,omitempty"`
	CaptureLatitude  *float64        `json:"capture_latitude,omitempty"`
	CaptureLongitude *float64        `json:"capture_longitude,omitempty"`
	CaptureTimestamp *time.Time      `json:"capture_timestamp,omitempty"`
	DeviceInfo       json.RawMessage `json:"device_info,omitempty"`
	IsVerified       bool            `json:"is_verified"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ReportType string

const (
	ReportInappropriateContent ReportType = "INAPPROPRIATE_CONTENT"
	ReportPrivacyViolation     ReportType = "PRIVACY_VIOLATION"
	ReportFraud                ReportType = "FRAUD"
	ReportHarassment           ReportType = "HARASSMENT"
	ReportNoResponse           ReportType = "NO_RESPONSE"
	ReportWrongLocation        ReportType = "WRONG_LOCATION"
	ReportLowQuality           ReportType = "LOW_QUALITY"
	ReportOther                ReportType = "OTHER"
)

type ReportStatus string

const (
	ReportPending   ReportStatus = "PENDING"
	ReportReviewing ReportStatus = "REVIEWING"
	ReportResolved  ReportStatus = "RESOLVED"
	ReportDismissed ReportStatus = "DISMISSED"
)

type ReportAction string

const (
	ActionNone          ReportAction = "NONE"
	ActionWarning       ReportAction = "WARNING"
	ActionRefund        ReportAction = "REFUND"
	ActionUserSuspended ReportAction = "USER_SUSPENDED"
	ActionUserBanned    ReportAction = "USER_BANNED"
)

type Report struct {
	ID             string        `json:"id" db:"id"`
	RequestID      string        `json:"request_id" db:"request_id"`
	ReporterID     string        `json:"reporter_id" db:"reporter_id"`
	ReportedUserID string        `json:"reported_user_id" db:"reported_user_id"`
	ReportType     ReportType    `json:"report_type" db:"report_type"`
	Description    string        `json:"description" db:"description"`
	EvidenceURLs   []string      `json:"evidence_urls" db:"-"`
	Status         ReportStatus  `json:"status" db:"status"`
	ActionTaken    *ReportAction `json:"action_taken,omitempty" db:"action_taken"`
	ResolutionNote *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedBy     *string       `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// View is recorded once per (request, user).
type View struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	DistanceMeters   int       `json:"distance_meters"`
	WasTrustEligible bool      `json:"was_trust_eligible"`
	ViewedAt         time.Time `json:"viewed_at"`
}
