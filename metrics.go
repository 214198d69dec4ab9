package authcore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the auth core. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	rateLimitEvictions prometheus.Counter
	rateLimitEntries   prometheus.Gauge
	sessionChecks      *prometheus.CounterVec
	federatedLogins    *prometheus.CounterVec
	singleUseTokens    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limit_decisions_total",
			Help: "Rate limiter decisions by endpoint class and outcome.",
		}, []string{"class", "outcome"}),
		rateLimitEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_rate_limit_evictions_total",
			Help: "Rate limit buckets removed for idleness or capacity.",
		}),
		rateLimitEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_rate_limit_buckets",
			Help: "Live rate limit buckets.",
		}),
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_session_checks_total",
			Help: "Bearer session token checks by result.",
		}, []string{"result"}),
		federatedLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_federated_logins_total",
			Help: "Federated logins by provider and outcome.",
		}, []string{"provider", "outcome"}),
		singleUseTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_single_use_tokens_total",
			Help: "Single-use token events by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
	}

	reg.MustRegister(
		m.rateLimitDecisions,
		m.rateLimitEvictions,
		m.rateLimitEntries,
		m.sessionChecks,
		m.federatedLogins,
		m.singleUseTokens,
	)
	return m
}

func (m *Metrics) rateLimitDecision(class EndpointClass, allowed bool, entries int) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.rateLimitDecisions.WithLabelValues(string(class), outcome).Inc()
	m.rateLimitEntries.Set(float64(entries))
}

func (m *Metrics) rateLimitEviction() {
	if m == nil {
		return
	}
	m.rateLimitEvictions.Inc()
}

func (m *Metrics) sessionCheck(ok bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !ok {
		result = "invalid"
	}
	m.sessionChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) federatedLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.federatedLogins.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) singleUse(purpose TokenPurpose, outcome string) {
	if m == nil {
		return
	}
	m.singleUseTokens.WithLabelValues(string(purpose), outcome).Inc()
}
