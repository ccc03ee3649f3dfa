package request

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/validation"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

type CreateInput struct {
	RequesterID       string             `json:"-"`
	Latitude          float64            `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude         float64            `json:"longitude" validate:"gte=-180,lte=180"`
	LocationAddress   string             `json:"location_address" validate:"max=500"`
	LocationReference string             `json:"location_reference" validate:"max=255"`
	RadiusMeters      int                `json:"radius_meters" validate:"omitempty,min=100,max=5000"`
	Description       string             `json:"description" validate:"required,min=10,max=1000"`
	ContentType       models.ContentType `json:"content_type" validate:"required,oneof=PHOTO VIDEO BOTH"`
	DurationMinutes   int                `json:"max_duration_minutes" validate:"required,min=5,max=60"`
	RewardNears       int64              `json:"reward_nears" validate:"required,min=5"`
	TrustMode         models.TrustMode   `json:"trust_mode" validate:"omitempty,oneof=TRUST ALL"`
	Anonymous         bool               `json:"is_anonymous_requester"`
}

// Create persists a PENDING request and escrows its reward on the requester's wallet.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Request, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.RadiusMeters == 0 {
		in.RadiusMeters = s.policy.DefaultRadiusMeters
	}
	if in.TrustMode == "" {
		in.TrustMode = models.TrustModeAll
	}

	now := s.now()
	commission := models.CommissionFor(in.RewardNears, s.policy.CommissionPct)
	r := &models.Request{
		ID:                   uuid.NewString(),
		RequesterID:          in.RequesterID,
		Latitude:             in.Latitude,
		Longitude:            in.Longitude,
		LocationAddress:      in.LocationAddress,
		LocationReference:    in.LocationReference,
		RadiusMeters:         in.RadiusMeters,
		Description:          in.Description,
		ContentType:          in.ContentType,
		MaxDurationMinutes:   in.DurationMinutes,
		ExpiresAt:            now.Add(time.Duration(in.DurationMinutes) * time.Minute),
		TrustMode:            in.TrustMode,
		MinReputationStars:   s.policy.TrustMinReputation,
		RewardNears:          in.RewardNears,
		CommissionPercentage: s.policy.CommissionPct,
		CommissionAmount:     commission,
		FinalReward:          in.RewardNears - commission,
		Status:               models.StatusPending,
		IsAnonymousRequester: in.Anonymous,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if r.TrustMode == models.TrustModeTrust {
		until := now.Add(s.policy.TrustWindow)
		r.TrustModeExpiresAt = &until
	}

	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.LockUser(ctx, in.RequesterID); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, r); err != nil {
			return err
		}
		_, err := s.ledger.Freeze(ctx, tx, r.RequesterID, decimal.NewFromInt(r.RewardNears), wallet.Entry{
			Type:        models.TxRequestPayment,
			Status:      models.TxPending,
			RequestID:   r.ID,
			Description: fmt.Sprintf("escrow for request %s", r.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	transitioned("", models.StatusPending)
	s.log.WithFields(logrus.Fields{
		"request_id": r.ID,
		"user_id":    r.RequesterID,
		"reward":     r.RewardNears,
		"trust_mode": r.TrustMode,
	}).Info("request created")
	s.broadcast(ctx, r)
	return r, nil
}

// Accept claims a PENDING request for the responder standing at loc. The row
// lock makes the first of two concurrent accepts win.
func (s *Service) Accept(ctx context.Context, responderID, requestID string, loc geo.Point) (*models.Request, error) {
	var r *models.Request
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		now := s.now()

		if r.Status != models.StatusPending {
			if r.Status.Claimed() || r.Status == models.StatusDelivered {
				return fmt.Errorf("%w: request already accepted", apperr.ErrInvalidState)
			}
			return fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
		}
		if r.Expired(now) {
			return fmt.Errorf("%w: request expired", apperr.ErrInvalidState)
		}
		if r.RequesterID == responderID {
			return apperr.Validation("cannot accept your own request")
		}
		if r.TrustWindowActive(now) {
			u, err := tx.LockUser(ctx, responderID)
			if err != nil {
				return err
			}
			if u.ReputationStars.LessThan(r.MinReputationStars) {
				return fmt.Errorf("%w: %s stars required until %s", apperr.ErrTrustModeIneligible,
					r.MinReputationStars.StringFixed(1), r.TrustModeExpiresAt.Format(time.RFC3339))
			}
		}
		dist := geo.Distance(geo.Point{Lat: r.Latitude, Lng: r.Longitude}, loc)
		if dist > float64(r.RadiusMeters) {
			return fmt.Errorf("%w: %.0f m away, radius is %d m", apperr.ErrOutOfRange, dist, r.RadiusMeters)
		}

		deadline := now.Add(s.policy.AcceptWindow)
		r.ResponderID = &responderID
		r.Status = models.StatusAccepted
		r.AcceptedAt = &now
		r.AcceptDeadlineAt = &deadline
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	transitioned(models.StatusPending, models.StatusAccepted)
	s.log.WithFields(logrus.Fields{"request_id": r.ID, "user_id": responderID}).Info("request accepted")
	s.notify(ctx, r, alerts.EventRequestAccepted, "Request accepted",
		"A nearby user is on the way to capture your content", r.RequesterID)
	return r, nil
}

// StartCapture is the optional ACCEPTED -> IN_PROGRESS step.
func (s *Service) StartCapture(ctx context.Context, responderID, requestID string) (*models.Request, error) {
	var r *models.Request
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if !r.IsResponder(responderID) {
			return fmt.Errorf("%w: only the responder can start the capture", apperr.ErrUnauthorized)
		}
		if r.Status != models.StatusAccepted {
			return fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
		}
		r.Status = models.StatusInProgress
		r.UpdatedAt = s.now()
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	transitioned(models.StatusAccepted, models.StatusInProgress)
	s.notify(ctx, r, alerts.EventCaptureStarted, "Capture started",
		"The responder has started capturing your content", r.RequesterID)
	return r, nil
}

type MediaInput struct {
	MediaType        models.MediaType `json:"media_type" validate:"required,oneof=PHOTO VIDEO"`
	URL              string           `json:"url" validate:"required,url,max=500"`
	ThumbnailURL     string           `json:"thumbnail_url" validate:"omitempty,url,max=500"`
	PublicID         string           `json:"public_id" validate:"max=255"`
	FileSizeBytes    *int             `json:"file_size_bytes" validate:"omitempty,gt=0"`
	Width            *int             `json:"width" validate:"omitempty,gt=0"`
	Height           *int             `json:"height" validate:"omitempty,gt=0"`
	DurationSeconds  *int             `json:"duration_seconds" validate:"omitempty,gte=0"`
	CaptureLatitude  *float64         `json:"capture_latitude" validate:"omitempty,gte=-90,lte=90"`
	CaptureLongitude *float64         `json:"capture_longitude" validate:"omitempty,gte=-180,lte=180"`
	CaptureTimestamp *time.Time       `json:"capture_timestamp"`
	DeviceInfo       json.RawMessage  `json:"device_info"`
}

type deliverInput struct {
	Media []MediaInput `json:"media" validate:"required,min=1,max=20,dive"`
}

// Deliver stores the captured media and hands the request back to the requester for review.
func (s *Service) Deliver(ctx context.Context, responderID, requestID string, media []MediaInput) (*models.Request, error) {
	if err := validation.Struct(deliverInput{Media: media}); err != nil {
		return nil, err
	}

	var r *models.Request
	var from models.RequestStatus
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if !r.IsResponder(responderID) {
			return fmt.Errorf("%w: only the responder can deliver", apperr.ErrUnauthorized)
		}
		if !r.Status.Claimed() {
			return fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
		}

		now := s.now()
		r.Media = r.Media[:0]
		for _, in := range media {
			m := models.Media{
				ID:               uuid.NewString(),
				RequestID:        r.ID,
				MediaType:        in.MediaType,
				URL:              in.URL,
				ThumbnailURL:     in.ThumbnailURL,
				PublicID:         in.PublicID,
				FileSizeBytes:    in.FileSizeBytes,
				Width:            in.Width,
				Height:           in.Height,
				DurationSeconds:  in.DurationSeconds,
				CaptureLatitude:  in.CaptureLatitude,
				CaptureLongitude: in.CaptureLongitude,
				CaptureTimestamp: in.CaptureTimestamp,
				DeviceInfo:       in.DeviceInfo,
				CreatedAt:        now,
			}
			if err := tx.InsertMedia(ctx, &m); err != nil {
				return err
			}
			r.Media = append(r.Media, m)
		}

		from = r.Status
		r.Status = models.StatusDelivered
		r.DeliveredAt = &now
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	transitioned(from, models.StatusDelivered)
	s.log.WithFields(logrus.Fields{"request_id": r.ID, "media": len(media)}).Info("content delivered")
	s.notify(ctx, r, alerts.EventContentDelivered, "Content delivered",
		"Your content is ready for review", r.RequesterID)
	return r, nil
}

// Confirm settles the escrow: the requester's frozen reward leaves the wallet
// and the responder is credited the final reward net of commission.
func (s *Service) Confirm(ctx context.Context, requesterID, requestID string) (*models.Request, error) {
	var r *models.Request
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if r.RequesterID != requesterID {
			return fmt.Errorf("%w: only the requester can confirm", apperr.ErrUnauthorized)
		}
		if r.Status != models.StatusDelivered {
			return fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
		}

		if err := s.ledger.Settle(ctx, tx, r.RequesterID, decimal.NewFromInt(r.RewardNears), r.ID); err != nil {
			return err
		}
		if r.FinalReward > 0 {
			_, err = s.ledger.Credit(ctx, tx, *r.ResponderID, decimal.NewFromInt(r.FinalReward), wallet.Entry{
				Type:                 models.TxRequestEarning,
				RequestID:            r.ID,
				CounterpartyID:       r.RequesterID,
				CommissionAmount:     decimal.NewNullDecimal(decimal.NewFromInt(r.CommissionAmount)),
				CommissionPercentage: decimal.NewNullDecimal(r.CommissionPercentage),
				Description:          fmt.Sprintf("earning for request %s", r.ID),
			})
			if err != nil {
				return err
			}
		}

		now := s.now()
		r.Status = models.StatusCompleted
		r.CompletedAt = &now
		r.UpdatedAt = now
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	transitioned(models.StatusDelivered, models.StatusCompleted)
	s.log.WithFields(logrus.Fields{
		"request_id":   r.ID,
		"responder_id": *r.ResponderID,
		"final_reward": r.FinalReward,
	}).Info("delivery confirmed")
	s.notify(ctx, r, alerts.EventDeliveryConfirmed, "Payment released",
		fmt.Sprintf("%d Nears were added to your wallet", r.FinalReward), *r.ResponderID)
	s.openConversation(ctx, r)
	return r, nil
}

// Reject puts the request back in the pool, or expires and refunds it when no
// time is left. The requester's reputation penalty follows the commit.
func (s *Service) Reject(ctx context.Context, requesterID, requestID, reason string) (*models.Request, error) {
	var r *models.Request
	var responderID string
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if r.RequesterID != requesterID {
			return fmt.Errorf("%w: only the requester can reject", apperr.ErrUnauthorized)
		}
		if r.Status != models.StatusDelivered {
			return fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
		}
		responderID = *r.ResponderID

		now := s.now()
		if !r.Expired(now) {
			r.Republish(now)
			r.Media = nil
			if _, err := tx.DeleteMedia(ctx, r.ID); err != nil {
				return err
			}
			return tx.UpdateRequest(ctx, r)
		}

		r.Status = models.StatusExpired
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		return s.refund(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}

	transitioned(models.StatusDelivered, r.Status)
	s.log.WithFields(logrus.Fields{
		"request_id": r.ID,
		"status":     r.Status,
		"reason":     reason,
	}).Info("delivery rejected")
	s.penalize(ctx, r)
	s.notify(ctx, r, alerts.EventDeliveryRejected, "Delivery rejected", reason, responderID)
	return r, nil
}

// Cancel lets the requester withdraw a PENDING or claimed request with a
// refund, and lets the responder abandon a claimed one without either.
func (s *Service) Cancel(ctx context.Context, callerID, requestID, reason string) (*models.Request, error) {
	var r *models.Request
	var from models.RequestStatus
	var notifyID string
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		from = r.Status
		now := s.now()

		switch {
		case r.RequesterID == callerID && (r.Status == models.StatusPending || r.Status.Claimed()):
			if r.ResponderID != nil {
				notifyID = *r.ResponderID
			}
			r.Status = models.StatusCancelled
			r.ResponderID = nil
			r.AcceptDeadlineAt = nil
			r.CancelledAt = &now
			r.CancelledBy = &callerID
			r.CancellationReason = reason
			r.UpdatedAt = now
			if err := tx.UpdateRequest(ctx, r); err != nil {
				return err
			}
			return s.refund(ctx, tx, r)

		case r.IsResponder(callerID) && r.Status.Claimed():
			notifyID = r.RequesterID
			r.Republish(now)
			return tx.UpdateRequest(ctx, r)
		}
		return fmt.Errorf("%w: cannot cancel a %s request", apperr.ErrUnauthorized, r.Status)
	})
	if err != nil {
		return nil, err
	}

	transitioned(from, r.Status)
	s.log.WithFields(logrus.Fields{
		"request_id": r.ID,
		"user_id":    callerID,
		"status":     r.Status,
	}).Info("request cancelled")
	if r.Status == models.StatusPending {
		s.notify(ctx, r, alerts.EventRequestReleased, "Responder withdrew",
			"Your request is open again", notifyID)
	} else if notifyID != "" {
		s.notify(ctx, r, alerts.EventRequestCancelled, "Request cancelled", reason, notifyID)
	}
	return r, nil
}

// refund returns the escrowed reward to the requester once. A request that
// already has a REQUEST_REFUND row is left alone.
func (s *Service) refund(ctx context.Context, tx store.Tx, r *models.Request) error {
	done, err := tx.HasTransaction(ctx, r.ID, models.TxRequestRefund)
	if err != nil || done {
		return err
	}
	_, err = s.ledger.Release(ctx, tx, r.RequesterID, decimal.NewFromInt(r.RewardNears), wallet.Entry{
		Type:        models.TxRequestRefund,
		RequestID:   r.ID,
		Description: fmt.Sprintf("refund for request %s", r.ID),
	})
	return err
}
