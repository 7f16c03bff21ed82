package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes of the session bootstrap.
const (
	OutcomeResolved   = "resolved"
	OutcomeOrphaned   = "orphaned"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

// SessionMetrics records profile lookups and role resolutions.
type SessionMetrics struct {
	attempts    *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewSessionMetrics registers the session metrics on reg. A nil registerer
// yields a no-op recorder.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	if reg == nil {
		return &SessionMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_profile_fetch_attempts_total",
		Help: "Profile lookups issued while resolving a role, by outcome.",
	}, []string{"outcome"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_resolutions_total",
		Help: "Completed role resolutions, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_resolution_duration_seconds",
		Help:    "Time from identity event to ready.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(attempts, resolutions, duration)
	return &SessionMetrics{attempts: attempts, resolutions: resolutions, duration: duration}
}

// FetchAttempt counts one profile lookup ("ok", "not_found", "error").
func (m *SessionMetrics) FetchAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Resolved counts a finished resolution and its latency.
func (m *SessionMetrics) Resolved(outcome string, took time.Duration) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(outcome)).Inc()
	if took > 0 {
		m.duration.Observe(took.Seconds())
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
