package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sudo-init-do/nearhub/internal/admin"
	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/auth"
	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/db"
	"github.com/sudo-init-do/nearhub/internal/geo"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/messaging"
	"github.com/sudo-init-do/nearhub/internal/reaper"
	"github.com/sudo-init-do/nearhub/internal/request"
	"github.com/sudo-init-do/nearhub/internal/server"
	"github.com/sudo-init-do/nearhub/internal/user"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().WithError(err).Fatal("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer pool.Close()
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	st := db.NewStore(pool)
	readDB := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	defer readDB.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	tasks := asynq.NewClient(redisOpt)
	defer tasks.Close()

	mailer, err := alerts.NewMailer(cfg.Mail)
	if err != nil {
		log.WithError(err).Fatal("mail provider misconfigured")
	}
	if mailer == nil {
		log.Warn("no mail provider configured, emails will be dropped")
	}

	hub := messaging.NewHub()
	queue := alerts.NewQueue(tasks, cfg.AppURL, cfg.Mail.PasswordResetTTL)
	processor := alerts.NewProcessor(st, st, hub, mailer)
	locations := geo.NewLocationIndex(rdb, cfg.Fanout.ActiveWindow)

	ledger := wallet.NewLedger(time.Now)
	wallets := wallet.NewService(st, ledger, wallet.Policy{
		WithdrawalCommissionPct: cfg.Marketplace.WithdrawalCommissionPercentage,
		MediaCommissionPct:      cfg.Marketplace.MediaCommissionPercentage,
	})
	chats := messaging.NewService(st, hub, queue, wallets)
	requests := request.NewService(st, ledger, request.PolicyFrom(cfg.Marketplace, cfg.Fanout),
		request.WithNotifier(queue),
		request.WithFanout(locations),
		request.WithConversations(chats),
	)
	accounts := auth.NewService(st, wallets, queue, auth.Config{
		Secret:          []byte(cfg.JWTSecret),
		ResetTTL:        cfg.Mail.PasswordResetTTL,
		BootstrapSecret: cfg.AdminBootstrapSecret,
	})

	e := server.New(server.Handlers{
		Auth:          auth.NewHandler(accounts),
		Users:         user.NewHandler(st, locations),
		Wallets:       wallet.NewHandler(wallets),
		Requests:      request.NewHandler(requests),
		Messages:      messaging.NewHandler(chats, hub),
		Notifications: alerts.NewHandler(st),
		Admin:         admin.NewHandler(admin.NewRepository(readDB)),
	}, server.Options{
		JWTSecret:     []byte(cfg.JWTSecret),
		AuthRateLimit: cfg.AuthRateLimit,
		Ready:         pool,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return reaper.New(requests, cfg.Reaper).Run(ctx)
	})
	g.Go(func() error {
		return alerts.Serve(ctx, alerts.NewServer(redisOpt, 10), processor.Mux())
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
