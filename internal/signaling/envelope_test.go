package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseEnvelope_Valid(t *testing.T) {
	mid := "0"
	tests := []struct {
		name string
		env  Envelope
	}{
		{"join", NewJoin("alice")},
		{"leave", NewLeave("alice")},
		{"offer", NewOffer("alice", "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})},
		{"answer", NewAnswer("bob", "alice", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})},
		{"candidate", NewIceCandidate("alice", "bob", webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.env)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			got, err := ParseEnvelope(data)
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			if got.Type != tt.env.Type || got.From != tt.env.From || got.Target != tt.env.Target {
				t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestParseEnvelope_Violations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown type", `{"type":"Wave","from":"a"}`},
		{"missing from", `{"type":"Join"}`},
		{"join with target", `{"type":"Join","from":"a","target":"b"}`},
		{"join with sdp", `{"type":"Join","from":"a","sdp":{"type":"offer","sdp":"v=0"}}`},
		{"offer missing target", `{"type":"Offer","from":"a","sdp":{"type":"offer","sdp":"v=0"}}`},
		{"offer missing sdp", `{"type":"Offer","from":"a","target":"b"}`},
		{"offer with answer sdp", `{"type":"Offer","from":"a","target":"b","sdp":{"type":"answer","sdp":"v=0"}}`},
		{"answer with offer sdp", `{"type":"Answer","from":"a","target":"b","sdp":{"type":"offer","sdp":"v=0"}}`},
		{"candidate missing candidate", `{"type":"IceCandidate","from":"a","target":"b"}`},
		{"candidate with sdp", `{"type":"IceCandidate","from":"a","target":"b","candidate":{"candidate":"c"},"sdp":{"type":"offer","sdp":"v=0"}}`},
		{"unknown field", `{"type":"Join","from":"a","color":"red"}`},
		{"trailing data", `{"type":"Join","from":"a"}{"type":"Leave","from":"a"}`},
		{"not json", `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tt.data))
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("err=%v, want ErrProtocolViolation", err)
			}
		})
	}
}

func TestEnvelope_Addressed(t *testing.T) {
	if NewJoin("a").Addressed() {
		t.Error("Join should not be addressed")
	}
	if NewLeave("a").Addressed() {
		t.Error("Leave should not be addressed")
	}
	offer := NewOffer("a", "b", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if !offer.Addressed() {
		t.Error("Offer should be addressed")
	}
}

func TestSDP_PionRoundtrip(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	got, err := SDPFromPion(desc).ToPion()
	if err != nil {
		t.Fatalf("ToPion: %v", err)
	}
	if got != desc {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, desc)
	}

	if _, err := (SDP{Type: "pranswer", SDP: "v=0"}).ToPion(); err == nil {
		t.Fatal("expected error for unsupported sdp type")
	}
}
