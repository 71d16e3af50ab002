package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Event names counted by the call layer. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	EnvelopeDiscardedNotAddressed = "envelope_discarded_not_addressed"
	EnvelopeDiscardedUnknownPeer  = "envelope_discarded_unknown_peer"
	ProtocolViolation             = "protocol_violation"
	OffersSent                    = "offers_sent"
	AnswersSent                   = "answers_sent"
	LinksConnected                = "links_connected"
	LinksFailed                   = "links_failed"
	EnvelopesRelayed              = "envelopes_relayed"
	RelayRateLimited              = "relay_rate_limited"
	RelayRoomFull                 = "relay_room_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The call layer is expected to plug into a real metrics backend eventually;
// this type exists to keep coordination logic observable in tests and to back
// the relay's /metrics endpoint.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}

// PrometheusHandler serves every counter as one metric family,
// rustyclint_call_events_total, keyed by an `event` label in Prometheus'
// text exposition format. One family with a label beats a registration API
// for a registry whose counter set is a handful of string constants.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		events := make([]string, 0, len(snap))
		for event := range snap {
			events = append(events, event)
		}
		sort.Strings(events)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprintln(w, "# HELP rustyclint_call_events_total Internal event counters.")
		fmt.Fprintln(w, "# TYPE rustyclint_call_events_total counter")
		for _, event := range events {
			// %q quotes and escapes backslashes and double quotes the way
			// the exposition format expects for label values.
			fmt.Fprintf(w, "rustyclint_call_events_total{event=%q} %d\n", event, snap[event])
		}
	})
}
