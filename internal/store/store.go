// Package store defines the persistence contract shared by the wallet ledger and
// the request state machine. Every mutation runs inside Atomic, which gives the
// callback a Tx whose Lock* methods take row locks held until the callback returns.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/models"
)

type Store interface {
	// Atomic runs fn in one storage transaction. Any error from fn rolls it back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID string, page Page) ([]models.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, typ models.TransactionType, status models.TransactionStatus, page Page) ([]models.Transaction, error)

	GetRequest(ctx context.Context, id string) (*models.Request, error)
	ListMedia(ctx context.Context, requestID string) ([]models.Media, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]models.Request, error)
	ListOpenInBox(ctx context.Context, q BoxQuery) ([]models.Request, error)
	ListDue(ctx context.Context, q DueQuery) ([]string, error)
	ListUnrefunded(ctx context.Context, before time.Time, limit int) ([]string, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Tx interface {
	// LockWallet returns the user's wallet under a row lock, creating an empty one if absent.
	LockWallet(ctx context.Context, userID string) (*models.Wallet, error)
	UpdateWallet(ctx context.Context, w *models.Wallet) error
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	LockTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// SetTransactionStatus moves rows matching m from m.From to to and reports how many changed.
	SetTransactionStatus(ctx context.Context, m TxMatch, to models.TransactionStatus, at time.Time) (int64, error)
	HasTransaction(ctx context.Context, requestID string, typ models.TransactionType) (bool, error)

	InsertRequest(ctx context.Context, r *models.Request) error
	LockRequest(ctx context.Context, id string) (*models.Request, error)
	UpdateRequest(ctx context.Context, r *models.Request) error
	InsertMedia(ctx context.Context, m *models.Media) error
	DeleteMedia(ctx context.Context, requestID string) (int64, error)

	InsertReport(ctx context.Context, r *models.Report) error
	HasReport(ctx context.Context, requestID, reporterID string) (bool, error)
	// InsertView records a view and reports false when the user already viewed the request.
	InsertView(ctx context.Context, v *models.View) (bool, error)

	LockUser(ctx context.Context, id string) (*models.User, error)
	UpdateReputation(ctx context.Context, userID string, stars decimal.Decimal, totalRatings int) error
	RatingStats(ctx context.Context, userID string) (models.RatingStats, error)
}

type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type RequestFilter struct {
	RequesterID string
	ResponderID string
	Statuses    []models.RequestStatus
	Page        Page
}

// BoxQuery selects PENDING, unexpired requests inside a lat/lng bounding box.
type BoxQuery struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	ExcludeUser    string
	Now            time.Time
	Limit          int
}

type Deadline string

const (
	DeadlineExpires Deadline = "expires_at"
	DeadlineAccept  Deadline = "accept_deadline_at"
)

// DueQuery selects ids of requests in one of Statuses whose Deadline is before Before.
type DueQuery struct {
	Statuses []models.RequestStatus
	Deadline Deadline
	Before   time.Time
	Limit    int
}

// TxMatch selects ledger rows by any combination of request, row id and
// external reference, restricted to one type and current status.
type TxMatch struct {
	RequestID  string
	ID         string
	ExternalID string
	Type       models.TransactionType
	From       models.TransactionStatus
}
