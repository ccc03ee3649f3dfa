package request

import (
	"context"

	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// Get returns the request with its delivered media.
func (s *Service) Get(ctx context.Context, id string) (*models.Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Media, err = s.store.ListMedia(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

// Nearby lists open requests whose radius covers loc. Callers below the trust
// threshold only see TRUST requests once their trust window has passed.
func (s *Service) Nearby(ctx context.Context, userID string, loc geo.Point) ([]geo.Nearby, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.finder.FindNearbyPending(ctx, loc, userID, s.policy.TrustEligible(u.ReputationStars))
}

// Distance is the distance in meters from the request's point to loc.
func (s *Service) Distance(ctx context.Context, requestID string, loc geo.Point) (float64, error) {
	return s.finder.Distance(ctx, requestID, loc)
}

func (s *Service) ListAsRequester(ctx context.Context, userID string, page store.Page) ([]models.Request, error) {
	return s.store.ListRequests(ctx, store.RequestFilter{RequesterID: userID, Page: page.Normalize()})
}

func (s *Service) ListAsResponder(ctx context.Context, userID string, page store.Page) ([]models.Request, error) {
	return s.store.ListRequests(ctx, store.RequestFilter{ResponderID: userID, Page: page.Normalize()})
}

// ListActive lists the caller's requests that have not reached a terminal status.
func (s *Service) ListActive(ctx context.Context, userID string, page store.Page) ([]models.Request, error) {
	return s.store.ListRequests(ctx, store.RequestFilter{
		RequesterID: userID,
		Statuses:    models.ActiveStatuses,
		Page:        page.Normalize(),
	})
}
