package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	locationsKey   = "near:user_locations"
	activeKeySpace = "near:active:"
)

// LocationIndex keeps the last known position of each user in a Redis GEO set,
// plus a short-lived marker so only recently active users are picked for fanout.
type LocationIndex struct {
	rdb          redis.Cmdable
	activeWindow time.Duration
}

func NewLocationIndex(rdb redis.Cmdable, activeWindow time.Duration) *LocationIndex {
	return &LocationIndex{rdb: rdb, activeWindow: activeWindow}
}

func (l *LocationIndex) Update(ctx context.Context, userID string, p Point) error {
	if err := l.rdb.GeoAdd(ctx, locationsKey, &redis.GeoLocation{
		Name:      userID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err(); err != nil {
		return err
	}
	return l.rdb.Set(ctx, activeKeySpace+userID, "1", l.activeWindow).Err()
}

func (l *LocationIndex) Remove(ctx context.Context, userID string) error {
	if err := l.rdb.ZRem(ctx, locationsKey, userID).Err(); err != nil {
		return err
	}
	return l.rdb.Del(ctx, activeKeySpace+userID).Err()
}

// NearbyUsers returns up to limit active users within radiusMeters of center, closest first.
func (l *LocationIndex) NearbyUsers(ctx context.Context, center Point, radiusMeters float64, exclude string, limit int) ([]string, error) {
	members, err := l.rdb.GeoSearch(ctx, locationsKey, &redis.GeoSearchQuery{
		Longitude:  center.Lng,
		Latitude:   center.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
		Count:      limit + 1,
	}).Result()
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(members))
	for _, m := range members {
		if m != exclude {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]string, len(candidates))
	for i, id := range candidates {
		keys[i] = activeKeySpace + id
	}
	flags, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []string
	for i, f := range flags {
		if f == nil {
			continue
		}
		out = append(out, candidates[i])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
