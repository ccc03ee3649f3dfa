package request

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/metrics"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// Everything in this file runs after commit. Failures are logged and counted,
// never returned.

func (s *Service) notify(ctx context.Context, r *models.Request, typ alerts.EventType, title, body string, userIDs ...string) {
	if s.notifier == nil || len(userIDs) == 0 {
		return
	}
	ev := alerts.Event{
		Type:      typ,
		Title:     title,
		Body:      body,
		RequestID: r.ID,
		Data: map[string]any{
			"status":       r.Status,
			"reward_nears": r.RewardNears,
		},
	}
	if err := s.notifier.Notify(ctx, ev, userIDs...); err != nil {
		metrics.RecordSideEffectFailure("notify")
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": r.ID,
			"event":      typ,
		}).Warn("notification dispatch failed")
	}
}

// broadcast tells recently active users around a new request about it.
func (s *Service) broadcast(ctx context.Context, r *models.Request) {
	if s.fanout == nil || s.notifier == nil {
		return
	}
	log := s.log.WithField("request_id", r.ID)

	users, err := s.fanout.NearbyUsers(ctx, geo.Point{Lat: r.Latitude, Lng: r.Longitude},
		float64(r.RadiusMeters), r.RequesterID, s.policy.FanoutMaxUsers)
	if err != nil {
		metrics.RecordSideEffectFailure("fanout")
		log.WithError(err).Warn("nearby user lookup failed")
		return
	}

	if r.TrustMode == models.TrustModeTrust {
		users = s.trustedOnly(ctx, users)
	}
	if len(users) == 0 {
		return
	}

	s.notify(ctx, r, alerts.EventRequestNearby,
		"New request nearby",
		fmt.Sprintf("Someone nearby wants %s content for %d Nears", r.ContentType, r.FinalReward),
		users...)
	log.WithField("recipients", len(users)).Debug("request broadcast")
}

func (s *Service) trustedOnly(ctx context.Context, ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			continue
		}
		if s.policy.TrustEligible(u.ReputationStars) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) openConversation(ctx context.Context, r *models.Request) {
	if s.chats == nil || r.ResponderID == nil {
		return
	}
	if err := s.chats.CreateConversation(ctx, r.ID, r.RequesterID, *r.ResponderID, r.RewardNears); err != nil {
		metrics.RecordSideEffectFailure("conversation")
		s.log.WithError(err).WithField("request_id", r.ID).Warn("conversation creation failed")
	}
}

func transitioned(from, to models.RequestStatus) {
	metrics.RecordTransition(string(from), string(to))
}

// penalize docks the requester's reputation for a rejection. It runs in its
// own transaction so a failure cannot undo the rejection.
func (s *Service) penalize(ctx context.Context, r *models.Request) {
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		u, err := tx.LockUser(ctx, r.RequesterID)
		if err != nil {
			return err
		}
		stars := u.ReputationStars.Sub(s.policy.RejectPenalty)
		if stars.IsNegative() {
			stars = decimal.Zero
		}
		return tx.UpdateReputation(ctx, r.RequesterID, stars, u.TotalRatingsReceived)
	})
	if err != nil {
		metrics.RecordSideEffectFailure("reject_penalty")
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": r.ID,
			"user_id":    r.RequesterID,
		}).Warn("reject penalty failed")
	}
}
