package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Authentication metrics
	authLoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"}, // success/failure/blocked/error
	)

	authLoginDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_login_duration_seconds",
			Help:    "Login duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	authJWTValidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_jwt_validated_total",
			Help: "Total number of JWT validations",
		},
		[]string{"status"}, // success/invalid/revoked
	)

	authRateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
	)

	// Refresh rotation, backend side
	authRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token rotations by outcome",
		},
		[]string{"status"}, // rotated/unknown/replayed/error/restored
	)

	authRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Account sign ups by kind and outcome",
		},
		[]string{"kind", "status"}, // student|school, success/taken/blocked/error
	)

	// Session renewal, gateway side
	sessionRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_refresh_total",
			Help: "Session renewals attempted by the gateway, by outcome",
		},
		[]string{"outcome"}, // renewed/rejected/transient
	)

	sessionRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_refresh_duration_seconds",
			Help:    "Time spent renewing a session including retries",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	orgLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_org_lookup_total",
			Help: "Organization lookups by outcome",
		},
		[]string{"outcome"}, // resolved/none/unauthorized/unavailable/bypass
	)

	scopeOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_scope_overrides_total",
			Help: "Requests whose client-supplied schoolId was replaced by the resolved one",
		},
	)
)

// ObserveRequest records one served HTTP request
func ObserveRequest(method, route, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordLoginAttempt records a login attempt metric
func RecordLoginAttempt(status string, d time.Duration) {
	authLoginAttemptsTotal.WithLabelValues(status).Inc()
	authLoginDuration.Observe(d.Seconds())
}

// RecordJWTValidation records a JWT validation metric
func RecordJWTValidation(status string) {
	authJWTValidatedTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit() {
	authRateLimitHitsTotal.Inc()
}

// RecordRefresh records the outcome of a refresh token rotation
func RecordRefresh(status string) {
	authRefreshTotal.WithLabelValues(status).Inc()
}

// RecordRegistration records a sign up outcome
func RecordRegistration(kind, status string) {
	authRegistrationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSessionRefresh records a gateway session renewal
func RecordSessionRefresh(outcome string, d time.Duration) {
	sessionRefreshTotal.WithLabelValues(outcome).Inc()
	sessionRefreshDuration.Observe(d.Seconds())
}

// RecordOrgLookup records an organization resolution outcome
func RecordOrgLookup(outcome string) {
	orgLookupTotal.WithLabelValues(outcome).Inc()
}

// RecordScopeOverride counts a replaced client-supplied organization id
func RecordScopeOverride() {
	scopeOverridesTotal.Inc()
}
