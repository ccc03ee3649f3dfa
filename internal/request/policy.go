package request

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/config"
)

// Policy is the marketplace configuration a request is created and judged under.
type Policy struct {
	CommissionPct       decimal.Decimal
	TrustMinReputation  decimal.Decimal
	TrustWindow         time.Duration
	AcceptWindow        time.Duration
	RejectPenalty       decimal.Decimal
	DefaultRadiusMeters int
	FanoutMaxUsers      int
}

func PolicyFrom(m config.Marketplace, f config.Fanout) Policy {
	return Policy{
		CommissionPct:       m.CommissionPercentage,
		TrustMinReputation:  m.TrustMinReputation,
		TrustWindow:         m.TrustWindow,
		AcceptWindow:        m.AcceptWindow,
		RejectPenalty:       m.RejectPenalty,
		DefaultRadiusMeters: m.DefaultRadiusMeters,
		FanoutMaxUsers:      f.MaxUsers,
	}
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		CommissionPct:       decimal.NewFromInt(15),
		TrustMinReputation:  decimal.NewFromInt(4),
		TrustWindow:         60 * time.Second,
		AcceptWindow:        5 * time.Minute,
		RejectPenalty:       decimal.RequireFromString("0.1"),
		DefaultRadiusMeters: 500,
		FanoutMaxUsers:      100,
	}
}

func (p Policy) TrustEligible(reputation decimal.Decimal) bool {
	return reputation.GreaterThanOrEqual(p.TrustMinReputation)
}
