package geo

import (
	"context"
	"sort"
	"time"

	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/store"
)

// MaxRadiusMeters bounds the search box; no request may advertise a larger radius.
const MaxRadiusMeters = 5000

type RequestSource interface {
	ListOpenInBox(ctx context.Context, q store.BoxQuery) ([]models.Request, error)
	GetRequest(ctx context.Context, id string) (*models.Request, error)
}

// Nearby is a request together with its distance from the viewer.
type Nearby struct {
	Request        models.Request `json:"request"`
	DistanceMeters int            `json:"distance_meters"`
}

// Finder answers geo-eligibility questions for requests.
type Finder struct {
	src   RequestSource
	limit int
	now   func() time.Time
}

func NewFinder(src RequestSource) *Finder {
	return &Finder{src: src, limit: 500, now: time.Now}
}

func (f *Finder) WithClock(now func() time.Time) *Finder {
	f.now = now
	return f
}

// FindNearbyPending lists PENDING requests whose radius covers the viewer, closest first.
// Viewers that are not trust eligible do not see requests inside an active trust window.
func (f *Finder) FindNearbyPending(ctx context.Context, viewer Point, excludeUser string, trustEligible bool) ([]Nearby, error) {
	now := f.now()
	var candidates []models.Request
	seen := make(map[string]bool)
	for _, box := range BoundingBox(viewer, MaxRadiusMeters).Spans() {
		found, err := f.src.ListOpenInBox(ctx, store.BoxQuery{
			MinLat: box.MinLat, MaxLat: box.MaxLat,
			MinLng: box.MinLng, MaxLng: box.MaxLng,
			ExcludeUser: excludeUser,
			Now:         now,
			Limit:       f.limit,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			if !seen[r.ID] {
				seen[r.ID] = true
				candidates = append(candidates, r)
			}
		}
	}

	out := make([]Nearby, 0, len(candidates))
	for _, r := range candidates {
		if !trustEligible && r.TrustWindowActive(now) {
			continue
		}
		dist := Distance(viewer, Point{Lat: r.Latitude, Lng: r.Longitude})
		if dist > float64(r.RadiusMeters) {
			continue
		}
		out = append(out, Nearby{Request: r, DistanceMeters: int(dist)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// Distance returns the distance in meters from the request's point to p.
func (f *Finder) Distance(ctx context.Context, requestID string, p Point) (float64, error) {
	r, err := f.src.GetRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}
	return Distance(Point{Lat: r.Latitude, Lng: r.Longitude}, p), nil
}
