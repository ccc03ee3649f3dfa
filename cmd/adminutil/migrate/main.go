package main

import (
	"flag"
	"fmt"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/db"
	"github.com/sudo-init-do/nearhub/internal/logger"
)

// migrate applies or rolls back the embedded schema migrations.
// Usage:
//
//	go run ./cmd/adminutil/migrate            # apply all pending
//	go run ./cmd/adminutil/migrate -down 1    # roll back one step
func main() {
	down := flag.Int("down", 0, "Number of migrations to roll back instead of applying")
	flag.Parse()

	log := logger.Component("adminutil")
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if *down > 0 {
		if err := db.MigrateDown(cfg.DatabaseURL, *down); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		fmt.Printf("Rolled back %d migration(s).\n", *down)
		return
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	fmt.Println("Schema up to date.")
}
