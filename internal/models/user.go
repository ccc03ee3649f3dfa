package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Every account can both post and answer requests. Admins moderate.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Email                string          `json:"email"`
	Password             string          `json:"-"` // never return
	Role                 string          `json:"role"`
	Bio                  string          `json:"bio,omitempty"`
	AvatarURL            string          `json:"avatar_url,omitempty"`
	ReputationStars      decimal.Decimal `json:"reputation_stars"`
	TotalRatingsReceived int             `json:"total_ratings_received"`
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
}

// RatingStats aggregates the ratings a user received in each role.
type RatingStats struct {
	AsResponderSum   decimal.Decimal
	AsResponderCount int
	AsRequesterSum   decimal.Decimal
	AsRequesterCount int
}

// Reputation is the count-weighted average over both roles, rounded half up to 2 places.
func (s RatingStats) Reputation() (decimal.Decimal, int) {
	total := s.AsResponderCount + s.AsRequesterCount
	if total == 0 {
		return decimal.Zero, 0
	}
	sum := s.AsResponderSum.Add(s.AsRequesterSum)
	return sum.Div(decimal.NewFromInt(int64(total))).Round(2), total
}
