package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type EnvelopeType string

const (
	EnvelopeJoin         EnvelopeType = "Join"
	EnvelopeOffer        EnvelopeType = "Offer"
	EnvelopeAnswer       EnvelopeType = "Answer"
	EnvelopeIceCandidate EnvelopeType = "IceCandidate"
	EnvelopeLeave        EnvelopeType = "Leave"
)

// ErrProtocolViolation marks envelopes with an unknown type or malformed
// payload. Receivers discard and log such envelopes; they are never fatal.
var ErrProtocolViolation = errors.New("signaling: protocol violation")

// SDP is a JSON-friendly session description. The wire shape stays decoupled
// from the WebRTC library type.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Envelope is one signaling message. Join and Leave carry only the announcing
// participant in From; Offer, Answer and IceCandidate additionally name the
// addressed participant in Target.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	From      string       `json:"from"`
	Target    string       `json:"target,omitempty"`
	SDP       *SDP         `json:"sdp,omitempty"`
	Candidate *Candidate   `json:"candidate,omitempty"`
}

func NewJoin(participantID string) Envelope {
	return Envelope{Type: EnvelopeJoin, From: participantID}
}

func NewLeave(participantID string) Envelope {
	return Envelope{Type: EnvelopeLeave, From: participantID}
}

func NewOffer(from, target string, desc webrtc.SessionDescription) Envelope {
	sdp := SDPFromPion(desc)
	return Envelope{Type: EnvelopeOffer, From: from, Target: target, SDP: &sdp}
}

func NewAnswer(from, target string, desc webrtc.SessionDescription) Envelope {
	sdp := SDPFromPion(desc)
	return Envelope{Type: EnvelopeAnswer, From: from, Target: target, SDP: &sdp}
}

func NewIceCandidate(from, target string, init webrtc.ICECandidateInit) Envelope {
	c := CandidateFromPion(init)
	return Envelope{Type: EnvelopeIceCandidate, From: from, Target: target, Candidate: &c}
}

// Addressed reports whether the envelope type carries a Target.
func (e Envelope) Addressed() bool {
	switch e.Type {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeIceCandidate:
		return true
	default:
		return false
	}
}

// ParseEnvelope decodes and validates a single wire envelope. Unknown fields,
// trailing data, unknown types and shape violations all yield
// ErrProtocolViolation.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrProtocolViolation)
	}
	return env, nil
}

func (e Envelope) Validate() error {
	if e.From == "" {
		return fmt.Errorf("%w: missing from", ErrProtocolViolation)
	}

	switch e.Type {
	case EnvelopeJoin, EnvelopeLeave:
		if e.Target != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("%w: %s envelope has unexpected fields", ErrProtocolViolation, e.Type)
		}
	case EnvelopeOffer:
		if e.Target == "" {
			return fmt.Errorf("%w: offer envelope missing target", ErrProtocolViolation)
		}
		if e.SDP == nil {
			return fmt.Errorf("%w: offer envelope missing sdp", ErrProtocolViolation)
		}
		if e.SDP.Type != "offer" {
			return fmt.Errorf("%w: offer envelope has sdp.type=%q", ErrProtocolViolation, e.SDP.Type)
		}
		if e.Candidate != nil {
			return fmt.Errorf("%w: offer envelope has unexpected fields", ErrProtocolViolation)
		}
	case EnvelopeAnswer:
		if e.Target == "" {
			return fmt.Errorf("%w: answer envelope missing target", ErrProtocolViolation)
		}
		if e.SDP == nil {
			return fmt.Errorf("%w: answer envelope missing sdp", ErrProtocolViolation)
		}
		if e.SDP.Type != "answer" {
			return fmt.Errorf("%w: answer envelope has sdp.type=%q", ErrProtocolViolation, e.SDP.Type)
		}
		if e.Candidate != nil {
			return fmt.Errorf("%w: answer envelope has unexpected fields", ErrProtocolViolation)
		}
	case EnvelopeIceCandidate:
		if e.Target == "" {
			return fmt.Errorf("%w: candidate envelope missing target", ErrProtocolViolation)
		}
		if e.Candidate == nil {
			return fmt.Errorf("%w: candidate envelope missing candidate", ErrProtocolViolation)
		}
		if e.SDP != nil {
			return fmt.Errorf("%w: candidate envelope has unexpected fields", ErrProtocolViolation)
		}
	default:
		return fmt.Errorf("%w: unsupported envelope type %q", ErrProtocolViolation, e.Type)
	}
	return nil
}
