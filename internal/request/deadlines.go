package request

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// The methods below are the reaper's per-item transitions. Each re-reads the
// row under lock and is a no-op when the request no longer qualifies, so
// running them twice has no further effect.

// ExpirePending expires a PENDING request past its expiry and refunds the escrow.
func (s *Service) ExpirePending(ctx context.Context, requestID string) (bool, error) {
	var r *models.Request
	changed := false
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		now := s.now()
		if r.Status != models.StatusPending || !r.Expired(now) {
			return nil
		}
		r.Status = models.StatusExpired
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		changed = true
		return s.refund(ctx, tx, r)
	})
	if err != nil || !changed {
		return false, err
	}

	transitioned(models.StatusPending, models.StatusExpired)
	s.log.WithField("request_id", r.ID).Info("pending request expired")
	s.notify(ctx, r, alerts.EventRequestExpired, "Request expired",
		"Nobody took your request in time. The reward is back in your wallet", r.RequesterID)
	return true, nil
}

// ReleaseOverdue handles a claimed request whose responder missed the accept
// deadline: it goes back to PENDING, or expires with a refund once the request
// itself has expired.
func (s *Service) ReleaseOverdue(ctx context.Context, requestID string) (bool, error) {
	var r *models.Request
	var from models.RequestStatus
	var responderID string
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		now := s.now()
		if !r.Status.Claimed() {
			return nil
		}
		from = r.Status
		responderID = *r.ResponderID

		if r.Expired(now) {
			r.Status = models.StatusExpired
			r.ResponderID = nil
			r.AcceptDeadlineAt = nil
			r.UpdatedAt = now
			if err := tx.UpdateRequest(ctx, r); err != nil {
				return err
			}
			return s.refund(ctx, tx, r)
		}
		if r.AcceptDeadlineAt == nil || now.Before(*r.AcceptDeadlineAt) {
			from = ""
			return nil
		}
		r.Republish(now)
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil || from == "" {
		return false, err
	}

	transitioned(from, r.Status)
	s.log.WithFields(logrus.Fields{
		"request_id":   r.ID,
		"responder_id": responderID,
		"status":       r.Status,
	}).Info("overdue request released")
	if r.Status == models.StatusPending {
		s.notify(ctx, r, alerts.EventRequestReleased, "Request reopened",
			"The responder ran out of time. Your request is open again", r.RequesterID)
	} else {
		s.notify(ctx, r, alerts.EventRequestExpired, "Request expired",
			"Your request expired. The reward is back in your wallet", r.RequesterID)
	}
	s.notify(ctx, r, alerts.EventRequestReleased, "Request released",
		"You did not deliver in time", responderID)
	return true, nil
}

// RefundExpired is the safety net for EXPIRED requests that never got their refund.
func (s *Service) RefundExpired(ctx context.Context, requestID string) (bool, error) {
	refunded := false
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusExpired {
			return nil
		}
		done, err := tx.HasTransaction(ctx, r.ID, models.TxRequestRefund)
		if err != nil || done {
			return err
		}
		refunded = true
		return s.refund(ctx, tx, r)
	})
	if err != nil || !refunded {
		return false, err
	}
	s.log.WithField("request_id", requestID).Warn("missing refund issued")
	return true, nil
}

// DueForExpiry and the sibling listings give the reaper its batches.

func (s *Service) DueForExpiry(ctx context.Context, limit int) ([]string, error) {
	return s.store.ListDue(ctx, store.DueQuery{
		Statuses: []models.RequestStatus{models.StatusPending},
		Deadline: store.DeadlineExpires,
		Before:   s.now(),
		Limit:    limit,
	})
}

// DueForRelease lists claimed requests past either deadline.
func (s *Service) DueForRelease(ctx context.Context, limit int) ([]string, error) {
	claimed := []models.RequestStatus{models.StatusAccepted, models.StatusInProgress}
	now := s.now()
	byAccept, err := s.store.ListDue(ctx, store.DueQuery{Statuses: claimed, Deadline: store.DeadlineAccept, Before: now, Limit: limit})
	if err != nil {
		return nil, err
	}
	byExpiry, err := s.store.ListDue(ctx, store.DueQuery{Statuses: claimed, Deadline: store.DeadlineExpires, Before: now, Limit: limit})
	if err != nil {
		return nil, err
	}
	return union(byAccept, byExpiry), nil
}

func (s *Service) DueForRefund(ctx context.Context, limit int, grace time.Duration) ([]string, error) {
	return s.store.ListUnrefunded(ctx, s.now().Add(-grace), limit)
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
