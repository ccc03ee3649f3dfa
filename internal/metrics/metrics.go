package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RequestTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_request_transitions_total",
			Help: "Request state transitions by origin and target status",
		},
		[]string{"from", "to"},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_ledger_operations_total",
			Help: "Wallet ledger operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	ReaperItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_reaper_items_total",
			Help: "Items handled by reaper sweeps",
		},
		[]string{"sweep", "result"},
	)

	ReaperSweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nearhub_reaper_sweep_duration_seconds",
			Help:    "Duration of a reaper sweep",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_notifications_total",
			Help: "Notification dispatch attempts by event type and outcome",
		},
		[]string{"type", "result"},
	)

	SideEffectFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearhub_side_effect_failures_total",
			Help: "Post-commit collaborator calls that failed",
		},
		[]string{"effect"},
	)
)

func RecordTransition(from, to string) {
	RequestTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordLedgerOp(op string, err error) {
	LedgerOperationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// RecordReaperItem counts one sweep item as changed, skipped or error.
func RecordReaperItem(sweep, result string) {
	ReaperItemsTotal.WithLabelValues(sweep, result).Inc()
}

func ObserveReaperSweep(sweep string, start time.Time) {
	ReaperSweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}

func RecordNotification(eventType string, err error) {
	NotificationsTotal.WithLabelValues(eventType, outcome(err)).Inc()
}

func RecordSideEffectFailure(effect string) {
	SideEffectFailuresTotal.WithLabelValues(effect).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latency per route template.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request().Method
		HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return nil
	}
}
