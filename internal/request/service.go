// Package request implements the request lifecycle: creation with escrow,
// acceptance, delivery, settlement or rejection, cancellation, ratings and
// reports, plus the deadline transitions driven by the reaper.
package request

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

// Notifier delivers events to users. Calls are fire and forget.
type Notifier interface {
	Notify(ctx context.Context, ev alerts.Event, userIDs ...string) error
}

// Fanout finds recently active users around a point.
type Fanout interface {
	NearbyUsers(ctx context.Context, center geo.Point, radiusMeters float64, exclude string, limit int) ([]string, error)
}

// Conversations opens the chat between the two parties of a completed request.
type Conversations interface {
	CreateConversation(ctx context.Context, requestID, requesterID, responderID string, rewardNears int64) error
}

type Service struct {
	store  store.Store
	ledger *wallet.Ledger
	finder *geo.Finder
	policy Policy

	notifier Notifier
	fanout   Fanout
	chats    Conversations

	now func() time.Time
	log *logrus.Entry
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithFanout(f Fanout) Option { return func(s *Service) { s.fanout = f } }

func WithConversations(c Conversations) Option { return func(s *Service) { s.chats = c } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *logrus.Entry) Option { return func(s *Service) { s.log = l } }

func NewService(st store.Store, ledger *wallet.Ledger, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ledger: ledger,
		policy: policy,
		now:    time.Now,
		log:    logger.Component("request"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.finder = geo.NewFinder(st).WithClock(s.now)
	return s
}

func (s *Service) Policy() Policy { return s.policy }
