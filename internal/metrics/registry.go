package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg *prometheus.Registry

	connectAttempts  *prometheus.CounterVec
	strategyOutcomes *prometheus.CounterVec
	recoveries       *prometheus.CounterVec
	falsyAcks        prometheus.Counter
	enrollments      *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	livePunches      prometheus.Counter
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkbridge_connect_attempts_total",
			Help: "Terminal connect attempts by result",
		}, []string{"result"}),
		strategyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkbridge_strategy_outcomes_total",
			Help: "Fallback strategy attempts by query, strategy and result",
		}, []string{"query", "strategy", "result"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkbridge_recoveries_total",
			Help: "Secondary connection recoveries by result",
		}, []string{"result"}),
		falsyAcks: factory.NewCounter(prometheus.CounterOpts{
			Name: "zkbridge_set_user_falsy_acks_total",
			Help: "User writes the terminal acknowledged with a non-OK code",
		}),
		enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zkbridge_enrollments_total",
			Help: "Enrollments by mode and result",
		}, []string{"mode", "result"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkbridge_query_duration_seconds",
			Help:    "Duration of terminal queries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"query"}),
		livePunches: factory.NewCounter(prometheus.CounterOpts{
			Name: "zkbridge_live_punches_total",
			Help: "Realtime punches received from terminals",
		}),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// IncConnectAttempt counts one connect attempt.
func (r *Registry) IncConnectAttempt(success bool) {
	if r == nil {
		return
	}
	r.connectAttempts.WithLabelValues(result(success)).Inc()
}

// IncStrategy counts one fallback strategy attempt.
func (r *Registry) IncStrategy(query, strategy string, success bool) {
	if r == nil {
		return
	}
	r.strategyOutcomes.WithLabelValues(query, strategy, result(success)).Inc()
}

// IncRecovery counts one secondary connection recovery.
func (r *Registry) IncRecovery(success bool) {
	if r == nil {
		return
	}
	r.recoveries.WithLabelValues(result(success)).Inc()
}

func (r *Registry) IncFalsyAck() {
	if r == nil {
		return
	}
	r.falsyAcks.Inc()
}

// IncEnrollment counts one enrollment; mode is "live" or "test".
func (r *Registry) IncEnrollment(mode string, success bool) {
	if r == nil {
		return
	}
	r.enrollments.WithLabelValues(mode, result(success)).Inc()
}

// ObserveQuery records the duration of a terminal query.
func (r *Registry) ObserveQuery(query string, seconds float64) {
	if r == nil {
		return
	}
	r.queryDuration.WithLabelValues(query).Observe(seconds)
}

func (r *Registry) IncLivePunch() {
	if r == nil {
		return
	}
	r.livePunches.Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
