package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/db"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

// grant_bonus credits a BONUS to a user's wallet.
// Usage:
//
//	go run ./cmd/adminutil/grant_bonus -email user@example.com -amount 25 -reason "launch promo"
func main() {
	email := flag.String("email", "", "Email of the user receiving the bonus")
	amount := flag.String("amount", "", "Bonus amount, e.g. 25.00")
	reason := flag.String("reason", "admin bonus", "Description stored on the transaction")
	flag.Parse()

	log := logger.Component("adminutil")
	if *email == "" || *amount == "" {
		log.Fatal("usage: go run ./cmd/adminutil/grant_bonus -email user@example.com -amount 25")
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil || !value.IsPositive() {
		log.Fatalf("amount must be a positive number, got %q", *amount)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer pool.Close()

	st := db.NewStore(pool)
	u, err := st.GetUserByEmail(ctx, *email)
	if err != nil {
		log.WithError(err).Fatalf("no user found with email: %s", *email)
	}

	wallets := wallet.NewService(st, wallet.NewLedger(time.Now), wallet.Policy{
		WithdrawalCommissionPct: cfg.Marketplace.WithdrawalCommissionPercentage,
		MediaCommissionPct:      cfg.Marketplace.MediaCommissionPercentage,
	})
	rec, err := wallets.GrantBonus(ctx, u.ID, value, *reason)
	if err != nil {
		log.WithError(err).Fatal("failed to grant bonus")
	}
	fmt.Printf("Granted %s to %s (transaction %s).\n", value.StringFixed(2), *email, rec.ID)
}
