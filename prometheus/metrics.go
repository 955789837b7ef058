package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"familytree-service/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counter by flow (superadmin, admin, member)
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_login_total",
			Help: "Total number of login attempts by flow",
		},
		[]string{"flow"},
	)

	// Onboarding request submissions
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "familytree_onboarding_requests_total",
			Help: "Total number of admin onboarding requests filed",
		},
	)

	// Onboarding review decisions
	OnboardingReviewCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_onboarding_reviews_total",
			Help: "Total number of onboarding reviews by outcome",
		},
		[]string{"outcome"}, // "approved" or "rejected"
	)

	// Family operation counter
	FamilyOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_family_operations_total",
			Help: "Total number of family operations",
		},
		[]string{"operation"},
	)

	// Family member operation counter
	MemberOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_member_operations_total",
			Help: "Total number of family member operations",
		},
		[]string{"operation"},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"},
	)

	// Policy denial counter by table and operation
	PolicyDenialCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familytree_policy_denials_total",
			Help: "Total number of access policy denials",
		},
		[]string{"table", "operation"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "familytree_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "familytree_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)
)

// Gauge metrics
var (
	// Active tokens
	ActiveTokensGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "familytree_active_tokens",
			Help: "Number of currently active authentication tokens",
		},
	)

	// Pending onboarding requests
	PendingRequestsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "familytree_pending_onboarding_requests",
			Help: "Number of onboarding requests awaiting review",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "familytree_info",
			Help: "Information about the family tree service",
		},
		[]string{"version", "environment"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(OnboardingReviewCounter)
	prometheus.MustRegister(FamilyOperationCounter)
	prometheus.MustRegister(MemberOperationCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(PolicyDenialCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(ActiveTokensGauge)
	prometheus.MustRegister(PendingRequestsGauge)
	prometheus.MustRegister(InfoGauge)
}

// InitMetrics sets the static service info from configuration.
func InitMetrics(cfg *config.Config) {
	InfoGauge.With(prometheus.Labels{
		"version":     "1.0.0",
		"environment": cfg.Server.Env,
	}).Set(1)
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

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
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

// IncreaseActiveTokens increments the active tokens gauge
func IncreaseActiveTokens() {
	ActiveTokensGauge.Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordPolicyDenial records an access policy denial
func RecordPolicyDenial(table, operation string) {
	PolicyDenialCounter.With(prometheus.Labels{
		"table":     table,
		"operation": operation,
	}).Inc()
}

// RecordFamilyOperation records a family operation by kind
func RecordFamilyOperation(operation string) {
	FamilyOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordMemberOperation records a family member operation by kind
func RecordMemberOperation(operation string) {
	MemberOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}
