package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestPayoutMetricsRecordOutcomes(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m := NewPayoutMetrics(registry)

	m.IncRequest("success")
	m.IncRequest("success")
	m.IncRequest("below_minimum")
	m.IncConflict()
	m.IncRetry()
	m.ObserveCommit("conflict", 25*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	requests := findFamily(t, families, "payout_requests_total")
	byOutcome := map[string]float64{}
	for _, metric := range requests.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "outcome" {
				byOutcome[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if byOutcome["success"] != 2 {
		t.Fatalf("success count = %v, want 2", byOutcome["success"])
	}
	if byOutcome["below_minimum"] != 1 {
		t.Fatalf("below_minimum count = %v, want 1", byOutcome["below_minimum"])
	}

	conflicts := findFamily(t, families, "payout_commit_conflicts_total")
	if got := conflicts.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("conflict count = %v, want 1", got)
	}

	duration := findFamily(t, families, "payout_commit_duration_seconds")
	if got := duration.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("histogram samples = %v, want 1", got)
	}
}

func TestPayoutMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *PayoutMetrics
	m.IncRequest("success")
	m.IncConflict()
	m.IncRetry()
	m.ObserveCommit("success", time.Millisecond)

	unregistered := NewPayoutMetrics(nil)
	unregistered.IncRequest("success")
	unregistered.ObserveCommit("error", time.Millisecond)
}
