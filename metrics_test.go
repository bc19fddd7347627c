package goIdentity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricPasswordGrantSuccess)

	if got := m.Value(MetricPasswordGrantSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricPasswordGrantSuccess)
	m.Inc(MetricPasswordGrantSuccess)
	m.Inc(MetricPasswordGrantSuccess)

	if got := m.Value(MetricPasswordGrantSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricValidateLatency, d)
	}
	// Only validation latency has a histogram.
	m.Observe(MetricRefreshSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected a single histogram, got %d", len(snap.Histograms))
	}
}

func TestEngineCountsGrantOutcomes(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	if _, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "wrong-horse"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := te.IssueTokensForRefreshGrant(ctx, grant.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	snap := te.MetricsSnapshot()
	for id, want := range map[MetricID]uint64{
		MetricPasswordGrantSuccess: 1,
		MetricPasswordGrantFailure: 1,
		MetricRefreshSuccess:       1,
		MetricSessionCreated:       1,
	} {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: expected %d, got %d", id, want, got)
		}
	}
}

func TestValidateAccessAvoidsIdentityStore(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Metrics.EnableLatencyHistograms = true })
	ctx := context.Background()
	te.seedUser(t, "alice", "alice@example.com", "correct-horse", true)

	grant, err := te.IssueTokensForPasswordGrant(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	outage := errors.New("database down")
	te.store.mu.Lock()
	te.store.failNext = outage
	te.store.mu.Unlock()

	if _, err := te.ValidateAccess(ctx, grant.AccessToken); err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}

	te.store.mu.Lock()
	defer te.store.mu.Unlock()
	if te.store.failNext != outage {
		t.Fatal("ValidateAccess must not read the identity store")
	}

	var total uint64
	for _, v := range te.MetricsSnapshot().Histograms[MetricValidateLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency sample, got %d", total)
	}
}
