package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes used as the "outcome" label of LoginAttempts.
const (
	LoginSuccess  = "success"
	LoginFailure  = "failure"
	LoginBlocked  = "blocked"
	LoginRejected = "invalid_input"
)

var (
	// LoginAttempts counts login submissions by outcome.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Login submissions by outcome.",
	}, []string{"outcome"})

	// SessionRotations counts access tokens minted from a refresh token.
	SessionRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_rotations_total",
		Help: "Access tokens re-issued from a valid refresh token.",
	})

	// ScheduleConflicts counts rejected schedule slots by reason.
	ScheduleConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflicts_total",
		Help: "Schedule slots rejected because of an overlap.",
	}, []string{"reason"})

	// LimiterEntries reports the failed-login entries held in memory after
	// the last sweep.
	LimiterEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "login_limiter_entries",
		Help: "Failed-login entries tracked by the in-memory limiter.",
	})

	// AuditFailures counts audit entries that could not be delivered.
	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_delivery_failures_total",
		Help: "Audit entries dropped because the sink returned an error.",
	})
)

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
