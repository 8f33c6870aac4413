package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewConsoleMetricsWithRegisterer(t *testing.T) {
	m := NewConsoleMetricsWithRegisterer(prometheus.NewRegistry())

	if m.mutations == nil || m.attempts == nil || m.rollbacks == nil {
		t.Fatal("mutation collectors should not be nil")
	}
	if m.duration == nil || m.inFlight == nil {
		t.Fatal("duration and in-flight collectors should not be nil")
	}
	if m.cacheFetches == nil || m.notifications == nil {
		t.Fatal("cache and notification collectors should not be nil")
	}
}

func TestConsoleMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewConsoleMetricsWithRegisterer(registry)
	second := NewConsoleMetricsWithRegisterer(registry)

	first.RolledBack()
	second.RolledBack()

	if got := testutil.ToFloat64(first.rollbacks); got != 2 {
		t.Fatalf("expected shared rollback counter = 2, got %v", got)
	}
}

func TestConsoleMetrics_MutationLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewConsoleMetricsWithRegisterer(registry)

	m.MutationStarted()
	m.MutationStarted()
	if got := testutil.ToFloat64(m.inFlight); got != 2 {
		t.Fatalf("expected 2 in-flight mutations, got %v", got)
	}

	m.AttemptFinished("network")
	m.AttemptFinished("ok")
	m.MutationSettled("succeeded", 150*time.Millisecond)
	m.MutationSettled("rolled_back", time.Second)

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected 0 in-flight mutations, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutations.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("expected 1 succeeded mutation, got %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("network")); got != 1 {
		t.Fatalf("expected 1 network attempt, got %v", got)
	}

	var metric dto.Metric
	if err := m.duration.Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected 2 duration samples, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestConsoleMetrics_FetchAndNotifications(t *testing.T) {
	m := NewConsoleMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveFetch("stored")
	m.ObserveFetch("cancelled")
	m.ObserveFetch("cancelled")
	m.NotificationSent("error")

	if got := testutil.ToFloat64(m.cacheFetches.WithLabelValues("cancelled")); got != 2 {
		t.Fatalf("expected 2 cancelled fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 error notification, got %v", got)
	}
}
