package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_login_total",
			Help: "Total number of login attempts",
		},
	)

	// Registration counters
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_register_total",
			Help: "Total number of business registrations",
		},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // "missing_token", "invalid_token", "user_not_found" etc.
	)

	// Cross-tenant violations get their own counter so they can be alerted
	// on separately from ordinary 403s
	IsolationViolationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_isolation_violations_total",
			Help: "Total number of cross-tenant access attempts",
		},
	)

	PermissionDeniedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_permission_denied_total",
			Help: "Total number of permission check failures",
		},
		[]string{"permission"},
	)

	// Webhook update counter by outcome
	WebhookUpdateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_webhook_updates_total",
			Help: "Total number of webhook updates by outcome",
		},
		[]string{"result"}, // "ok", "unknown_bot", "bad_payload"
	)

	// Booking flow counters
	BookingCreatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_bookings_created_total",
			Help: "Total number of appointments created through the bot flow",
		},
	)

	BookingErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_booking_errors_total",
			Help: "Total number of booking flow failures",
		},
		[]string{"reason"}, // "stale_service", "stale_master", "commit_failed" etc.
	)

	// Outbound channel messages
	MessageSentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_messages_sent_total",
			Help: "Total number of outbound channel messages",
		},
		[]string{"kind"}, // "chat", "reminder"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "query", "insert", "update", "delete"
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(IsolationViolationCounter)
	prometheus.MustRegister(PermissionDeniedCounter)
	prometheus.MustRegister(WebhookUpdateCounter)
	prometheus.MustRegister(BookingCreatedCounter)
	prometheus.MustRegister(BookingErrorCounter)
	prometheus.MustRegister(MessageSentCounter)
	prometheus.MustRegister(HTTPRequestCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordPermissionDenied records a failed permission check
func RecordPermissionDenied(permission string) {
	PermissionDeniedCounter.With(prometheus.Labels{"permission": permission}).Inc()
}

// RecordBookingError records a booking flow failure by reason
func RecordBookingError(reason string) {
	BookingErrorCounter.With(prometheus.Labels{"reason": reason}).Inc()
}
