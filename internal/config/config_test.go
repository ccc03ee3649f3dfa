package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "near")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres://postgres:postgres@db:5432/near", cfg.DatabaseURL)
	assert.True(t, cfg.Marketplace.CommissionPercentage.Equal(decimal.RequireFromString("15")))
	assert.True(t, cfg.Marketplace.TrustMinReputation.Equal(decimal.RequireFromString("4")))
	assert.Equal(t, time.Minute, cfg.Marketplace.TrustWindow)
	assert.Equal(t, 5*time.Minute, cfg.Marketplace.AcceptWindow)
	assert.Equal(t, 500, cfg.Marketplace.DefaultRadiusMeters)
	assert.Equal(t, time.Minute, cfg.Reaper.ExpireInterval)
	assert.Equal(t, 30*time.Second, cfg.Reaper.ReleaseInterval)
	assert.Equal(t, 5*time.Minute, cfg.Reaper.RefundInterval)
	assert.Equal(t, 100, cfg.Fanout.MaxUsers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("COMMISSION_PERCENTAGE", "12.5")
	t.Setenv("REAPER_RELEASE_INTERVAL", "10s")
	t.Setenv("FANOUT_MAX_USERS", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "12.5", cfg.Marketplace.CommissionPercentage.String())
	assert.Equal(t, 10*time.Second, cfg.Reaper.ReleaseInterval)
	assert.Equal(t, 25, cfg.Fanout.MaxUsers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ACCEPT_WINDOW", "five minutes")

	_, err := Load()
	assert.ErrorContains(t, err, "ACCEPT_WINDOW")
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
