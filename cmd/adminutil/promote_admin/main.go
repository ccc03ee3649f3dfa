package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/db"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
)

// promote_admin sets a user's role to 'admin' by email.
// Usage:
//
//	go run ./cmd/adminutil/promote_admin -email user@example.com
func main() {
	email := flag.String("email", "", "Email of the user to promote to admin")
	flag.Parse()

	log := logger.Component("adminutil")
	if *email == "" {
		log.Fatal("usage: go run ./cmd/adminutil/promote_admin -email user@example.com")
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

	if err := db.NewStore(pool).SetRoleByEmail(ctx, *email, models.RoleAdmin); err != nil {
		log.WithError(err).Fatalf("failed to promote %s", *email)
	}
	fmt.Printf("User %s promoted to admin.\n", *email)
}
