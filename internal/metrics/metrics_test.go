package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(OffersSent)
	m.Add(EnvelopesRelayed, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE rustyclint_call_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `rustyclint_call_events_total{event="envelopes_relayed"} 2`) {
		t.Fatalf("missing relayed counter: %s", body)
	}
	if !strings.Contains(body, `rustyclint_call_events_total{event="offers_sent"} 1`) {
		t.Fatalf("missing offers counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `rustyclint_call_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Inc("anything")
	if got := m.Get("anything"); got != 0 {
		t.Fatalf("Get on nil Metrics=%d, want 0", got)
	}
}
