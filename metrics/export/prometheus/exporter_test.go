package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authcore "github.com/tessera-platform/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderCountersAndHistogram(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricRefreshSuccess:       5,
				authcore.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {4, 3, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 7,
	}

	out := NewPrometheusExporterFromSource(src).Render()

	for _, want := range []string{
		"# TYPE authcore_refresh_success_total counter",
		"authcore_refresh_success_total 5",
		"authcore_refresh_reuse_detected_total 2",
		"# TYPE authcore_validate_latency_seconds histogram",
		"authcore_validate_latency_seconds_bucket{le=\"0.0001\"} 4",
		"authcore_validate_latency_seconds_bucket{le=\"0.0004\"} 7",
		"authcore_validate_latency_seconds_bucket{le=\"+Inf\"} 8",
		"authcore_validate_latency_seconds_count 8",
		"authcore_audit_dropped_total 7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	src := &fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}}

	if out := NewPrometheusExporterFromSource(src).Render(); out != "" {
		t.Fatalf("expected empty render, got %q", out)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricSessionStarted: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	}

	rec := httptest.NewRecorder()
	NewPrometheusExporterFromSource(src).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), "authcore_session_started_total 1") {
		t.Fatalf("body missing counter: %q", rec.Body.String())
	}
}
