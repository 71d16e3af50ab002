package room_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spayyavula/azrustyclint/internal/config"
	"github.com/spayyavula/azrustyclint/internal/media"
	"github.com/spayyavula/azrustyclint/internal/metrics"
	"github.com/spayyavula/azrustyclint/internal/room"
	"github.com/spayyavula/azrustyclint/internal/signaling"
)

// Drives two full calls through the real relay: WebSocket channels, the hub's
// broadcast and the synthesized Leave on disconnect.
func TestCall_EndToEndOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end relay test")
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		MaxRoomMembers:      8,
		MemberSendQueue:     64,
		MaxEnvelopeBytes:    config.DefaultMaxEnvelopeBytes,
		MaxEnvelopesPerSec:  200,
		RelayWSIdleTimeout:  time.Minute,
		RelayWSPingInterval: 20 * time.Second,
		RelayWSWriteTimeout: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("GET /rooms/{roomID}/ws", signaling.NewServer(cfg, log, metrics.New()))
	relay := httptest.NewServer(mux)
	defer relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startParticipant := func(id string) (*room.Call, *snapshotWatch) {
		t.Helper()
		call, err := room.StartCall(ctx, room.Options{
			ServerURL:     relay.URL,
			RoomID:        "edit-room-7",
			ParticipantID: id,
			Device:        media.SyntheticDevice{},
			Logger:        log,
			Metrics:       metrics.New(),
		})
		if err != nil {
			t.Fatalf("start call %s: %v", id, err)
		}
		return call, watch(call)
	}

	callA, rosterA := startParticipant("alice")
	defer callA.End()
	waitRoster(t, rosterA, "alice")

	callB, rosterB := startParticipant("bob")
	waitRoster(t, rosterA, "alice", "bob")
	waitRoster(t, rosterB, "bob", "alice")

	// Toggling media must not disturb the established mesh.
	callA.SetVideoEnabled(false)
	callA.SetVideoEnabled(true)

	callB.End()
	waitRoster(t, rosterA, "alice")

	select {
	case <-callB.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bob's call did not tear down")
	}
}

type snapshotWatch struct {
	mu   sync.Mutex
	last room.Snapshot
}

func watch(call *room.Call) *snapshotWatch {
	w := &snapshotWatch{}
	go func() {
		for snap := range call.Roster() {
			w.mu.Lock()
			w.last = snap
			w.mu.Unlock()
		}
	}()
	return w
}

func waitRoster(t *testing.T, w *snapshotWatch, wantIDs ...string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		snap := w.last
		w.mu.Unlock()
		if len(snap) == len(wantIDs) {
			all := true
			for _, id := range wantIDs {
				if !snap.Contains(id) {
					all = false
					break
				}
			}
			if all {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for roster %v", wantIDs)
}
