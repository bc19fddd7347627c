package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/goIdentity"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestCollectSkipsDisabledMetrics(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	// Only the audit drop counter remains.
	if n := testutil.CollectAndCount(exp); n != 1 {
		t.Fatalf("expected 1 series for disabled metrics, got %d", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricPasswordGrantSuccess: 7,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP goidentity_password_grant_success_total Successful password grants.
# TYPE goidentity_password_grant_success_total counter
goidentity_password_grant_success_total 7
# HELP goidentity_audit_dropped_total Audit events dropped under dispatcher backpressure.
# TYPE goidentity_audit_dropped_total counter
goidentity_audit_dropped_total 2
# HELP goidentity_validate_latency_seconds Access token validation latency.
# TYPE goidentity_validate_latency_seconds histogram
goidentity_validate_latency_seconds_bucket{le="0.005"} 1
goidentity_validate_latency_seconds_bucket{le="0.01"} 3
goidentity_validate_latency_seconds_bucket{le="0.025"} 6
goidentity_validate_latency_seconds_bucket{le="0.05"} 10
goidentity_validate_latency_seconds_bucket{le="0.1"} 15
goidentity_validate_latency_seconds_bucket{le="0.25"} 21
goidentity_validate_latency_seconds_bucket{le="0.5"} 28
goidentity_validate_latency_seconds_bucket{le="+Inf"} 36
goidentity_validate_latency_seconds_sum 0
goidentity_validate_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"goidentity_password_grant_success_total",
		"goidentity_audit_dropped_total",
		"goidentity_validate_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{goIdentity.MetricSessionCreated: 1},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "goidentity_session_created_total 1") {
		t.Fatalf("expected session counter, got:\n%s", rec.Body.String())
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricPasswordGrantSuccess: 1000,
				goIdentity.MetricPasswordGrantFailure: 40,
				goIdentity.MetricRefreshSuccess:       800,
				goIdentity.MetricSessionCreated:       800,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	for b.Loop() {
		_ = testutil.CollectAndCount(exp)
	}
}
