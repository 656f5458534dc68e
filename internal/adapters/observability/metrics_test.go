package observability_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"channel_manager/internal/adapters/observability"
)

func scrape(t *testing.T) string {
	t.Helper()
	reg := observability.InitRegistry()
	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestMetricsRegistryAndHandler(t *testing.T) {
	// record one sample so counters are non-zero
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)

	if out := scrape(t); !strings.Contains(out, "cm_http_requests_total") {
		t.Fatalf("expected cm_http_requests_total in output")
	}
}

func TestDomainCounters(t *testing.T) {
	observability.ObserveMerge(nil, 4, 3, 1, 0, 5*time.Millisecond)
	observability.ObserveMerge(errors.New("disk full"), 0, 0, 0, 0, time.Millisecond)
	observability.ObserveDecision("too_soon")
	observability.ObserveLock("busy")

	out := scrape(t)
	for _, want := range []string{
		`cm_merge_runs_total{result="ok"}`,
		`cm_merge_runs_total{result="error"}`,
		`cm_autopilot_decisions_total{reason="too_soon"}`,
		`cm_unit_lock_events_total{event="busy"}`,
		`cm_merge_segments_bucket{kind="dropped_soft"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output", want)
		}
	}
}
