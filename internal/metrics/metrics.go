// Package metrics holds the Prometheus counters for login, refresh, guard
// and security-event sink outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeRateLimited        = "rate_limited"
	OutcomeLocked             = "locked"
	OutcomeError              = "error"
	OutcomeInvalidToken       = "invalid_token"
)

// Guard rejection reasons.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonInvalidToken    = "invalid_token"
	ReasonForbidden       = "forbidden"
	ReasonThrottled       = "throttled"
)

var (
	LoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_refresh_total",
			Help: "Access token refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	GuardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_guard_rejections_total",
			Help: "Requests rejected by the request guard, by reason.",
		},
		[]string{"reason"},
	)

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_security_event_sink_errors_total",
			Help: "Security events a sink failed to record.",
		},
		[]string{"sink"},
	)
)

// Register adds every collector to reg. Call it once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{LoginTotal, RefreshTotal, GuardRejections, SinkErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
