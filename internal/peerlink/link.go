package peerlink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNegotiationFailed marks a link whose transport reported a terminal
	// failure or that never connected in time. It is local to the pair: the
	// coordinator closes the link and the rest of the room is unaffected.
	ErrNegotiationFailed = errors.New("peerlink: negotiation failed")
	ErrClosed            = errors.New("peerlink: closed")
	errWrongRole         = errors.New("peerlink: operation does not match role")
	errWrongState        = errors.New("peerlink: operation does not match state")
)

type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultConnectTimeout bounds how long a link may sit in negotiation before
// it is failed. The signaling design has no retry; a stuck link would
// otherwise linger until the participant leaves.
const DefaultConnectTimeout = 30 * time.Second

type Config struct {
	ICEServers     []webrtc.ICEServer
	ConnectTimeout time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// Callbacks are invoked from pion's event goroutines and from the connect
// timer; none of them is called while the link's lock is held.
type Callbacks struct {
	// OnLocalCandidate fires for each locally gathered ICE candidate, to be
	// forwarded to the remote participant over signaling.
	OnLocalCandidate func(webrtc.ICECandidateInit)
	// OnConnected fires once, when the transport reports usable connectivity.
	OnConnected func()
	// OnFailed fires at most once, on terminal transport failure or connect
	// timeout. The link is already closed when it fires.
	OnFailed func(error)
	// OnRemoteTrack fires when the remote participant's media arrives.
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// Link is the negotiation state machine for one remote participant.
//
// Idle -> Offering|Answering -> Negotiating -> Connected -> Closed.
// Negotiating covers the span where descriptions are exchanged but the
// transport has not yet reported a usable connection.
type Link struct {
	participantID string
	role          Role
	log           *slog.Logger
	cb            Callbacks

	pc *webrtc.PeerConnection

	mu            sync.Mutex
	state         State
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	connectTimer  *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// New creates a link to one remote participant and attaches the local
// outbound tracks. A nil api falls back to the default WebRTC API.
func New(api *webrtc.API, cfg Config, participantID string, role Role, tracks []webrtc.TrackLocal, cb Callbacks, log *slog.Logger) (*Link, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	if log == nil {
		log = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}

	l := &Link{
		participantID: participantID,
		role:          role,
		log:           log.With("peer", participantID, "role", string(role)),
		cb:            cb,
		pc:            pc,
		state:         StateIdle,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || l.cb.OnLocalCandidate == nil {
			return
		}
		l.cb.OnLocalCandidate(c.ToJSON())
	})
	if cb.OnRemoteTrack != nil {
		pc.OnTrack(cb.OnRemoteTrack)
	}
	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		switch cs {
		case webrtc.PeerConnectionStateConnected:
			l.mu.Lock()
			if l.state == StateClosed || l.state == StateConnected {
				l.mu.Unlock()
				return
			}
			l.state = StateConnected
			l.stopConnectTimerLocked()
			l.mu.Unlock()
			l.log.Debug("link connected")
			if l.cb.OnConnected != nil {
				l.cb.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			l.fail(fmt.Errorf("%w: transport reported failure", ErrNegotiationFailed))
		}
	})

	// Bound negotiation: a link that never connects is failed, not left
	// half-open forever.
	timeout := cfg.connectTimeout()
	l.connectTimer = time.AfterFunc(timeout, func() {
		l.fail(fmt.Errorf("%w: not connected within %s", ErrNegotiationFailed, timeout))
	})

	return l, nil
}

func (l *Link) ParticipantID() string { return l.participantID }
func (l *Link) Role() Role            { return l.role }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BufferedCandidates reports how many remote candidates await the remote
// description.
func (l *Link) BufferedCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// CreateOffer produces the local offer and starts gathering. Offerer role,
// Idle state only.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	if l.role != RoleOfferer {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, errWrongRole
	}
	if l.state != StateIdle {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s", errWrongState, l.state)
	}
	l.state = StateOffering
	l.mu.Unlock()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// HandleRemoteOffer applies the remote offer and produces the local answer,
// flushing any candidates buffered ahead of it. Answerer role, Idle state
// only.
func (l *Link) HandleRemoteOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	if l.role != RoleAnswerer {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, errWrongRole
	}
	if l.state != StateIdle {
		l.mu.Unlock()
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s", errWrongState, l.state)
	}
	l.state = StateAnswering
	l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteDescSet = true
	l.flushPendingLocked()
	l.mu.Unlock()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	l.mu.Lock()
	if l.state == StateAnswering {
		l.state = StateNegotiating
	}
	l.mu.Unlock()
	return answer, nil
}

// HandleRemoteAnswer completes the SDP exchange on the offerer side. The link
// moves to Negotiating; Connected comes from the transport, not from here.
func (l *Link) HandleRemoteAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.role != RoleOfferer {
		l.mu.Unlock()
		return errWrongRole
	}
	if l.state != StateOffering {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", errWrongState, l.state)
	}
	l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteDescSet = true
	l.flushPendingLocked()
	if l.state == StateOffering {
		l.state = StateNegotiating
	}
	l.mu.Unlock()
	return nil
}

// AddRemoteCandidate applies a candidate, or buffers it in receipt order when
// the remote description is not set yet.
func (l *Link) AddRemoteCandidate(init webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !l.remoteDescSet {
		l.pending = append(l.pending, init)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *Link) flushPendingLocked() {
	for _, init := range l.pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			// One bad candidate must not break the rest.
			l.log.Warn("apply buffered candidate", "err", err)
		}
	}
	l.pending = nil
}

// Close tears down the transport. Idempotent; OnFailed does not fire for a
// deliberate close.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.state = StateClosed
		l.stopConnectTimerLocked()
		l.pending = nil
		l.mu.Unlock()
		l.closeErr = l.pc.Close()
	})
	return l.closeErr
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.stopConnectTimerLocked()
	l.pending = nil
	l.mu.Unlock()

	l.log.Warn("link failed", "err", err)
	_ = l.pc.Close()
	if l.cb.OnFailed != nil {
		l.cb.OnFailed(err)
	}
}

func (l *Link) stopConnectTimerLocked() {
	if l.connectTimer != nil {
		l.connectTimer.Stop()
	}
}
