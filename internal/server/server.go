// Package server assembles the echo instance: middleware, health probes,
// metrics and every route group.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/nearhub/internal/admin"
	"github.com/sudo-init-do/nearhub/internal/alerts"
	"github.com/sudo-init-do/nearhub/internal/auth"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/messaging"
	"github.com/sudo-init-do/nearhub/internal/metrics"
	mw "github.com/sudo-init-do/nearhub/internal/middleware"
	"github.com/sudo-init-do/nearhub/internal/request"
	"github.com/sudo-init-do/nearhub/internal/user"
	"github.com/sudo-init-do/nearhub/internal/validation"
	"github.com/sudo-init-do/nearhub/internal/wallet"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Auth          *auth.Handler
	Users         *user.Handler
	Wallets       *wallet.Handler
	Requests      *request.Handler
	Messages      *messaging.Handler
	Notifications *alerts.Handler
	Admin         *admin.Handler
}

type Options struct {
	JWTSecret []byte
	// AuthRateLimit is requests per second per client IP on auth and request creation.
	AuthRateLimit float64
	// Ready is checked by /ready. Nil always reports ready.
	Ready Pinger
}

func New(h Handlers, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.Echo{}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger.Component("http")))
	e.Use(metrics.Middleware)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "nearhub"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", ready(opts.Ready))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := rateLimit(opts.AuthRateLimit)
	jwt := mw.JWT(opts.JWTSecret)

	// Public routes
	authGroup := e.Group("/auth", limit)
	authGroup.POST("/signup", h.Auth.Signup)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/password/forgot", h.Auth.RequestPasswordReset)
	authGroup.POST("/password/reset", h.Auth.ResetPassword)
	authGroup.POST("/admin/bootstrap", h.Auth.BootstrapAdmin)

	e.GET("/user/:id/profile", h.Users.PublicProfile)

	// Protected routes
	api := e.Group("", jwt)

	api.GET("/auth/me", h.Auth.Me)
	api.GET("/user/profile", h.Users.Profile)
	api.PATCH("/user/profile", h.Users.UpdateProfile)
	api.PUT("/user/location", h.Users.UpdateLocation)

	api.GET("/wallet/balance", h.Wallets.Balance)
	api.GET("/wallet/transactions", h.Wallets.Transactions)
	api.POST("/wallet/recharge", h.Wallets.Recharge)
	api.POST("/wallet/withdraw", h.Wallets.Withdraw)
	api.POST("/wallet/tip", h.Wallets.SendTip)

	api.POST("/requests", h.Requests.Create, limit)
	api.GET("/requests/nearby", h.Requests.Nearby)
	api.GET("/requests/mine", h.Requests.Mine)
	api.GET("/requests/responded", h.Requests.Responded)
	api.GET("/requests/active", h.Requests.Active)
	api.GET("/requests/:id", h.Requests.Get)
	api.POST("/requests/:id/view", h.Requests.RegisterView)
	api.POST("/requests/:id/accept", h.Requests.Accept)
	api.POST("/requests/:id/start", h.Requests.StartCapture)
	api.POST("/requests/:id/deliver", h.Requests.Deliver)
	api.POST("/requests/:id/confirm", h.Requests.Confirm)
	api.POST("/requests/:id/reject", h.Requests.Reject)
	api.POST("/requests/:id/cancel", h.Requests.Cancel)
	api.POST("/requests/:id/rate", h.Requests.Rate)
	api.POST("/requests/:id/report", h.Requests.Report)

	api.GET("/conversations", h.Messages.Conversations)
	api.GET("/conversations/:id/messages", h.Messages.List)
	api.POST("/conversations/:id/messages", h.Messages.Send)
	api.GET("/conversations/:id/unread", h.Messages.UnreadCount)
	api.POST("/conversations/:id/messages/:message_id/read", h.Messages.MarkRead)
	api.POST("/conversations/:id/messages/:message_id/purchase", h.Messages.Purchase)
	api.GET("/conversations/:id/ws", h.Messages.ConversationWS)
	api.GET("/ws", h.Messages.UserWS)

	api.GET("/notifications", h.Notifications.List)
	api.POST("/notifications/:id/read", h.Notifications.MarkRead)
	api.POST("/notifications/read-all", h.Notifications.MarkAllRead)

	// Admin routes
	adm := e.Group("/admin", jwt, mw.AdminGuard)
	adm.GET("/stats", h.Admin.Stats)
	adm.GET("/users", h.Admin.ListUsers)
	adm.POST("/users/:id/suspend", h.Admin.SuspendUser)
	adm.POST("/users/:id/activate", h.Admin.ActivateUser)
	adm.GET("/wallets", h.Admin.ListWallets)
	adm.GET("/reports", h.Admin.ListReports)
	adm.POST("/reports/:id/review", h.Admin.ReviewReport)
	adm.POST("/reports/:id/resolve", h.Admin.ResolveReport)
	adm.GET("/transactions/user/:id", h.Wallets.AdminUserTransactions)
	adm.GET("/withdrawals/pending", h.Wallets.ListPendingWithdrawals)
	adm.POST("/withdrawals/:id/approve", h.Wallets.ApproveWithdrawal)
	adm.POST("/withdrawals/:id/reject", h.Wallets.RejectWithdrawal)

	return e
}

func ready(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p == nil {
			return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}

// rateLimit keys on client IP. A non-positive limit disables it.
func rateLimit(perSecond float64) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.RateLimiter(echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     int(perSecond) * 2,
		ExpiresIn: 3 * time.Minute,
	}))
}

func requestLogger(log *logrus.Entry) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/health" || p == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":     v.Method,
				"path":       v.URIPath,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
				"request_id": v.RequestID,
			})
			if uid, ok := mw.UserID(c); ok {
				entry = entry.WithField("user_id", uid)
			}
			switch {
			case v.Error != nil || v.Status >= http.StatusInternalServerError:
				entry.WithError(v.Error).Error("request failed")
			case v.Status >= http.StatusBadRequest:
				entry.Warn("request rejected")
			default:
				entry.Info("request handled")
			}
			return nil
		},
	})
}
