package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PayoutMetrics records the commit coordinator's attempt outcomes.
type PayoutMetrics struct {
	commitDuration *prometheus.HistogramVec
	attempts       *prometheus.CounterVec
	conflicts      prometheus.Counter
	retries        prometheus.Counter
}

// NewPayoutMetrics registers the payout metrics on the provided registerer.
func NewPayoutMetrics(reg prometheus.Registerer) *PayoutMetrics {
	if reg == nil {
		return &PayoutMetrics{}
	}
	commitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payout_commit_duration_seconds",
		Help:    "Duration of payout commit attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_requests_total",
		Help: "Payout requests by final outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payout_commit_conflicts_total",
		Help: "Optimistic-concurrency conflicts observed during payout commits.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payout_commit_retries_total",
		Help: "Payout commit attempts retried after a conflict.",
	})
	reg.MustRegister(commitDuration, attempts, conflicts, retries)
	return &PayoutMetrics{
		commitDuration: commitDuration,
		attempts:       attempts,
		conflicts:      conflicts,
		retries:        retries,
	}
}

// ObserveCommit records the duration of a commit attempt with its outcome label.
func (p *PayoutMetrics) ObserveCommit(outcome string, duration time.Duration) {
	if p == nil || p.commitDuration == nil {
		return
	}
	p.commitDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncRequest increments the request counter for the given outcome.
func (p *PayoutMetrics) IncRequest(outcome string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncConflict increments the conflict counter.
func (p *PayoutMetrics) IncConflict() {
	if p == nil || p.conflicts == nil {
		return
	}
	p.conflicts.Inc()
}

// IncRetry increments the retry counter.
func (p *PayoutMetrics) IncRetry() {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.Inc()
}

func normalizeLabel(outcome string) string {
	if outcome == "" {
		return "unknown"
	}
	return outcome
}
