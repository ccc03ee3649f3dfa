package request

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
	"github.com/sudo-init-do/nearhub/internal/validation"
)

var (
	minRating = decimal.NewFromInt(1)
	maxRating = decimal.NewFromInt(5)
)

type rateInput struct {
	Review string `json:"review" validate:"max=500"`
}

// Rate records the caller's rating of the counterpart on a completed request
// and recomputes the counterpart's reputation across both roles.
func (s *Service) Rate(ctx context.Context, callerID, requestID string, rating decimal.Decimal, review string) (*models.Request, error) {
	if rating.LessThan(minRating) || rating.GreaterThan(maxRating) {
		return nil, apperr.Validation("rating must be between 1.0 and 5.0")
	}
	if err := validation.Struct(rateInput{Review: review}); err != nil {
		return nil, err
	}
	rating = rating.Round(1)

	var r *models.Request
	var rateeID string
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		if r, err = tx.LockRequest(ctx, requestID); err != nil {
			return err
		}
		if r.Status != models.StatusCompleted {
			return fmt.Errorf("%w: only completed requests can be rated", apperr.ErrInvalidState)
		}

		now := s.now()
		switch {
		case r.RequesterID == callerID:
			if r.ResponderRating.Valid {
				return fmt.Errorf("%w: responder already rated", apperr.ErrAlreadyRated)
			}
			r.ResponderRating = decimal.NewNullDecimal(rating)
			r.ResponderReview = review
			r.ResponderRatedAt = &now
			rateeID = *r.ResponderID
		case r.IsResponder(callerID):
			if r.RequesterRating.Valid {
				return fmt.Errorf("%w: requester already rated", apperr.ErrAlreadyRated)
			}
			r.RequesterRating = decimal.NewNullDecimal(rating)
			r.RequesterReview = review
			r.RequesterRatedAt = &now
			rateeID = r.RequesterID
		default:
			return fmt.Errorf("%w: not a participant", apperr.ErrUnauthorized)
		}
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}

		if _, err := tx.LockUser(ctx, rateeID); err != nil {
			return err
		}
		stats, err := tx.RatingStats(ctx, rateeID)
		if err != nil {
			return err
		}
		stars, total := stats.Reputation()
		return tx.UpdateReputation(ctx, rateeID, stars, total)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"request_id": r.ID, "ratee": rateeID, "rating": rating.String()}).Info("rating recorded")
	s.notify(ctx, r, alerts.EventRatingReceived, "New rating",
		fmt.Sprintf("You received %s stars", rating.StringFixed(1)), rateeID)
	return r, nil
}

type ReportInput struct {
	ReporterID     string            `json:"-"`
	RequestID      string            `json:"-"`
	ReportedUserID string            `json:"reported_user_id" validate:"required"`
	Type           models.ReportType `json:"report_type" validate:"required,oneof=INAPPROPRIATE_CONTENT PRIVACY_VIOLATION FRAUD HARASSMENT NO_RESPONSE WRONG_LOCATION LOW_QUALITY OTHER"`
	Description    string            `json:"description" validate:"required,min=20,max=1000"`
	EvidenceURLs   []string          `json:"evidence_urls" validate:"max=10,dive,url"`
}

// Report files a moderation report by one participant against the other.
func (s *Service) Report(ctx context.Context, in ReportInput) (*models.Report, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.ReporterID == in.ReportedUserID {
		return nil, apperr.Validation("cannot report yourself")
	}

	rep := &models.Report{
		ID:             uuid.NewString(),
		RequestID:      in.RequestID,
		ReporterID:     in.ReporterID,
		ReportedUserID: in.ReportedUserID,
		ReportType:     in.Type,
		Description:    in.Description,
		EvidenceURLs:   in.EvidenceURLs,
		Status:         models.ReportPending,
		CreatedAt:      s.now(),
	}
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		r, err := tx.LockRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if !r.IsParticipant(in.ReporterID) {
			return fmt.Errorf("%w: only participants can report", apperr.ErrUnauthorized)
		}
		if !r.IsParticipant(in.ReportedUserID) {
			return apperr.Validation("reported user is not part of this request")
		}
		dup, err := tx.HasReport(ctx, in.RequestID, in.ReporterID)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: request already reported", apperr.ErrDuplicateReport)
		}
		return tx.InsertReport(ctx, rep)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": in.RequestID,
		"report_id":  rep.ID,
		"type":       in.Type,
	}).Warn("request reported")
	return rep, nil
}

// RegisterView records the first view of a request by a user and bumps its
// view counter. Views by the requester are ignored.
func (s *Service) RegisterView(ctx context.Context, userID, requestID string, loc geo.Point) error {
	viewer, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.Atomic(ctx, func(tx store.Tx) error {
		r, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.RequesterID == userID {
			return nil
		}
		first, err := tx.InsertView(ctx, &models.View{
			ID:               uuid.NewString(),
			RequestID:        r.ID,
			UserID:           userID,
			Latitude:         loc.Lat,
			Longitude:        loc.Lng,
			DistanceMeters:   int(geo.Distance(geo.Point{Lat: r.Latitude, Lng: r.Longitude}, loc)),
			WasTrustEligible: s.policy.TrustEligible(viewer.ReputationStars),
			ViewedAt:         s.now(),
		})
		if err != nil || !first {
			return err
		}
		r.ViewCount++
		return tx.UpdateRequest(ctx, r)
	})
}
