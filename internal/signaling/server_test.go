package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/spayyavula/azrustyclint/internal/config"
	"github.com/spayyavula/azrustyclint/internal/metrics"
)

func testRelayConfig() config.Config {
	return config.Config{
		MaxRoomMembers:      8,
		MemberSendQueue:     16,
		MaxEnvelopeBytes:    config.DefaultMaxEnvelopeBytes,
		MaxEnvelopesPerSec:  1000,
		RelayWSIdleTimeout:  5 * time.Second,
		RelayWSPingInterval: 1 * time.Second,
		RelayWSWriteTimeout: time.Second,
	}
}

func newTestRelay(t *testing.T, cfg config.Config) (*httptest.Server, *Server) {
	t.Helper()
	srv := NewServer(cfg, nil, metrics.New())
	mux := http.NewServeMux()
	mux.Handle("GET /rooms/{roomID}/ws", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, srv
}

func dialTestRoom(t *testing.T, ts *httptest.Server, roomID, participantID string) *WSChannel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := DialRoom(ctx, ts.URL, roomID, participantID, nil)
	if err != nil {
		t.Fatalf("DialRoom(%s): %v", participantID, err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func waitEnvelope(t *testing.T, ch *WSChannel) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch.Receive():
		if !ok {
			t.Fatal("receive channel closed while waiting for envelope")
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func waitClosed(t *testing.T, ch *WSChannel) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch.Receive():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}

func TestRelay_BroadcastsToOtherMembersOnly(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	a := dialTestRoom(t, ts, "room-1", "alice")
	b := dialTestRoom(t, ts, "room-1", "bob")
	c := dialTestRoom(t, ts, "room-1", "carol")

	if err := a.Send(NewJoin("alice")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, ch := range []*WSChannel{b, c} {
		env := waitEnvelope(t, ch)
		if env.Type != EnvelopeJoin || env.From != "alice" {
			t.Fatalf("got %+v, want Join from alice", env)
		}
	}

	select {
	case env := <-a.Receive():
		t.Fatalf("sender received its own envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelay_PerSenderFIFO(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	a := dialTestRoom(t, ts, "room-1", "alice")
	b := dialTestRoom(t, ts, "room-1", "bob")

	if err := a.Send(NewJoin("alice")); err != nil {
		t.Fatalf("Send join: %v", err)
	}
	const n = 20
	for i := 0; i < n; i++ {
		env := NewIceCandidate("alice", "bob", webrtc.ICECandidateInit{Candidate: candidateN(i)})
		if err := a.Send(env); err != nil {
			t.Fatalf("Send candidate %d: %v", i, err)
		}
	}

	if env := waitEnvelope(t, b); env.Type != EnvelopeJoin {
		t.Fatalf("first envelope=%+v, want Join", env)
	}
	for i := 0; i < n; i++ {
		env := waitEnvelope(t, b)
		if env.Type != EnvelopeIceCandidate {
			t.Fatalf("envelope %d type=%s, want IceCandidate", i, env.Type)
		}
		if got := env.Candidate.Candidate; got != candidateN(i) {
			t.Fatalf("candidate %d=%q, out of order", i, got)
		}
	}
}

func candidateN(i int) string {
	return "candidate:" + strings.Repeat("x", i+1)
}

func TestRelay_SynthesizesLeaveOnDisconnect(t *testing.T) {
	ts, srv := newTestRelay(t, testRelayConfig())

	a := dialTestRoom(t, ts, "room-1", "alice")
	b := dialTestRoom(t, ts, "room-1", "bob")

	if err := b.Send(NewJoin("bob")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env := waitEnvelope(t, a); env.Type != EnvelopeJoin {
		t.Fatalf("got %+v, want Join", env)
	}

	// Drop bob's socket without an explicit Leave.
	_ = b.Close()

	env := waitEnvelope(t, a)
	if env.Type != EnvelopeLeave || env.From != "bob" {
		t.Fatalf("got %+v, want synthesized Leave from bob", env)
	}

	waitForRoomSize(t, srv.Hub(), "room-1", 1)
}

func waitForRoomSize(t *testing.T, h *Hub, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.RoomSize(roomID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("RoomSize(%s)=%d, want %d", roomID, h.RoomSize(roomID), want)
}

func TestRelay_RejectsWhenRoomFull(t *testing.T) {
	cfg := testRelayConfig()
	cfg.MaxRoomMembers = 2
	ts, _ := newTestRelay(t, cfg)

	dialTestRoom(t, ts, "room-1", "alice")
	dialTestRoom(t, ts, "room-1", "bob")

	c := dialTestRoom(t, ts, "room-1", "carol")
	waitClosed(t, c)
	if c.Err() == nil {
		t.Fatal("expected transport error after room-full rejection")
	}
}

func TestRelay_RejectsDuplicateParticipant(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	dialTestRoom(t, ts, "room-1", "alice")
	dup := dialTestRoom(t, ts, "room-1", "alice")
	waitClosed(t, dup)
}

func TestRelay_ClosesSpoofedSender(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	a := dialTestRoom(t, ts, "room-1", "alice")
	b := dialTestRoom(t, ts, "room-1", "bob")

	// alice claims to be mallory.
	if err := a.Send(NewJoin("mallory")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitClosed(t, a)

	select {
	case env := <-b.Receive():
		if env.Type == EnvelopeJoin && env.From == "mallory" {
			t.Fatal("spoofed envelope was relayed")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelay_DiscardsMalformedEnvelopeWithoutDisconnecting(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	b := dialTestRoom(t, ts, "room-1", "bob")

	// Raw connection so we can write bytes the client channel would refuse.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/room-1/ws?participant=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Wave","from":"alice"}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Join","from":"alice"}`)); err != nil {
		t.Fatalf("write join: %v", err)
	}

	env := waitEnvelope(t, b)
	if env.Type != EnvelopeJoin || env.From != "alice" {
		t.Fatalf("got %+v, want Join from alice after malformed envelope", env)
	}
}

func TestRelay_RequiresRoomAndParticipant(t *testing.T) {
	ts, _ := newTestRelay(t, testRelayConfig())

	resp, err := http.Get(ts.URL + "/rooms/room-1/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
