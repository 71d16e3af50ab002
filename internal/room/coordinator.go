package room

import (
	"log/slog"
	"sort"

	"github.com/pion/webrtc/v4"

	"github.com/spayyavula/azrustyclint/internal/media"
	"github.com/spayyavula/azrustyclint/internal/metrics"
	"github.com/spayyavula/azrustyclint/internal/peerlink"
	"github.com/spayyavula/azrustyclint/internal/signaling"
)

// Participant is one roster entry. Connected reports whether a live peer link
// to it exists; the local participant is always reported connected. A failed
// link clears Connected but keeps the entry until an explicit Leave.
type Participant struct {
	ID        string
	JoinedAt  int
	Connected bool
}

// Snapshot is the roster at one point in time, ordered by join order.
type Snapshot []Participant

func (s Snapshot) Contains(participantID string) bool {
	for _, p := range s {
		if p.ID == participantID {
			return true
		}
	}
	return false
}

type linkEventKind int

const (
	linkConnected linkEventKind = iota
	linkFailed
)

type linkEvent struct {
	kind          linkEventKind
	participantID string
	err           error
}

// coordinator owns one call's roster and links. Its state is touched only by
// the run goroutine; link callbacks and negotiation goroutines communicate
// with it through the events channel.
type coordinator struct {
	self    string
	ch      signaling.Channel
	source  *media.Source
	api     *webrtc.API
	linkCfg peerlink.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	onRemoteTrack func(participantID string, track *webrtc.TrackRemote)

	roster    map[string]*Participant
	links     map[string]*peerlink.Link
	nextOrder int

	events   chan linkEvent
	rosterCh chan Snapshot
	loopDone chan struct{}
}

func newCoordinator(self string, ch signaling.Channel, source *media.Source, api *webrtc.API, linkCfg peerlink.Config, onRemoteTrack func(string, *webrtc.TrackRemote), log *slog.Logger, m *metrics.Metrics) *coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &coordinator{
		self:          self,
		ch:            ch,
		source:        source,
		api:           api,
		linkCfg:       linkCfg,
		log:           log.With("room_self", self),
		metrics:       m,
		onRemoteTrack: onRemoteTrack,
		roster:        make(map[string]*Participant),
		links:         make(map[string]*peerlink.Link),
		events:        make(chan linkEvent, 32),
		rosterCh:      make(chan Snapshot, 1),
		loopDone:      make(chan struct{}),
	}
	c.addParticipant(self)
	return c
}

// run is the call's event loop. It exits when Receive closes, which covers
// both a local Close and a transport failure, and tears the call down either
// way.
func (c *coordinator) run() {
	defer close(c.loopDone)
	defer c.teardown()

	c.publishRoster()
	for {
		select {
		case env, ok := <-c.ch.Receive():
			if !ok {
				return
			}
			c.handleEnvelope(env)
		case ev := <-c.events:
			c.handleLinkEvent(ev)
		}
	}
}

func (c *coordinator) handleEnvelope(env signaling.Envelope) {
	if env.From == c.self {
		// Our own announcements echoed back carry no new information.
		return
	}
	if env.Addressed() && env.Target != c.self {
		c.metrics.Inc(metrics.EnvelopeDiscardedNotAddressed)
		return
	}

	switch env.Type {
	case signaling.EnvelopeJoin:
		c.handleJoin(env.From)
	case signaling.EnvelopeOffer:
		c.handleOffer(env)
	case signaling.EnvelopeAnswer:
		c.handleAnswer(env)
	case signaling.EnvelopeIceCandidate:
		c.handleCandidate(env)
	case signaling.EnvelopeLeave:
		c.handleLeave(env.From)
	default:
		// Validate() runs before delivery; an unknown type here means a
		// channel implementation skipped it.
		c.metrics.Inc(metrics.ProtocolViolation)
		c.log.Warn("unsupported envelope type", "type", string(env.Type))
	}
}

// handleJoin applies the offering rule: the side that observes the Join was
// in the room first, so it creates the link and the offer.
func (c *coordinator) handleJoin(participantID string) {
	if _, known := c.roster[participantID]; known {
		// Duplicate Join; the existing link stands.
		return
	}
	c.addParticipant(participantID)

	link, err := c.newLink(participantID, peerlink.RoleOfferer)
	if err != nil {
		c.log.Error("create offerer link", "peer", participantID, "err", err)
		c.publishRoster()
		return
	}
	c.links[participantID] = link
	c.publishRoster()

	// Offer generation is asynchronous so one slow negotiation never delays
	// envelopes for other peers.
	go func() {
		offer, err := link.CreateOffer()
		if err != nil {
			c.postEvent(linkEvent{kind: linkFailed, participantID: participantID, err: err})
			return
		}
		if err := c.ch.Send(signaling.NewOffer(c.self, participantID, offer)); err != nil {
			c.postEvent(linkEvent{kind: linkFailed, participantID: participantID, err: err})
			return
		}
		c.metrics.Inc(metrics.OffersSent)
	}()
}

func (c *coordinator) handleOffer(env signaling.Envelope) {
	if _, exists := c.links[env.From]; exists {
		// A second Offer for a live pair violates the single-offer rule.
		c.metrics.Inc(metrics.ProtocolViolation)
		c.log.Warn("duplicate offer for existing link", "peer", env.From)
		return
	}
	desc, err := env.SDP.ToPion()
	if err != nil {
		c.metrics.Inc(metrics.ProtocolViolation)
		c.log.Warn("offer with unusable sdp", "peer", env.From, "err", err)
		return
	}

	// An Offer from an unknown sender means our attach raced their Join; the
	// offer itself proves they are in the room.
	if _, known := c.roster[env.From]; !known {
		c.addParticipant(env.From)
	}

	link, err := c.newLink(env.From, peerlink.RoleAnswerer)
	if err != nil {
		c.log.Error("create answerer link", "peer", env.From, "err", err)
		c.publishRoster()
		return
	}
	c.links[env.From] = link
	c.publishRoster()

	peerID := env.From
	go func() {
		answer, err := link.HandleRemoteOffer(desc)
		if err != nil {
			c.postEvent(linkEvent{kind: linkFailed, participantID: peerID, err: err})
			return
		}
		if err := c.ch.Send(signaling.NewAnswer(c.self, peerID, answer)); err != nil {
			c.postEvent(linkEvent{kind: linkFailed, participantID: peerID, err: err})
			return
		}
		c.metrics.Inc(metrics.AnswersSent)
	}()
}

func (c *coordinator) handleAnswer(env signaling.Envelope) {
	link, ok := c.links[env.From]
	if !ok {
		c.metrics.Inc(metrics.EnvelopeDiscardedUnknownPeer)
		c.log.Warn("answer from peer without link", "peer", env.From)
		return
	}
	desc, err := env.SDP.ToPion()
	if err != nil {
		c.metrics.Inc(metrics.ProtocolViolation)
		c.log.Warn("answer with unusable sdp", "peer", env.From, "err", err)
		return
	}

	peerID := env.From
	go func() {
		if err := link.HandleRemoteAnswer(desc); err != nil {
			c.postEvent(linkEvent{kind: linkFailed, participantID: peerID, err: err})
		}
	}()
}

func (c *coordinator) handleCandidate(env signaling.Envelope) {
	link, ok := c.links[env.From]
	if !ok {
		c.metrics.Inc(metrics.EnvelopeDiscardedUnknownPeer)
		return
	}
	if err := link.AddRemoteCandidate(env.Candidate.ToPion()); err != nil {
		c.log.Warn("apply remote candidate", "peer", env.From, "err", err)
	}
}

func (c *coordinator) handleLeave(participantID string) {
	if link, ok := c.links[participantID]; ok {
		delete(c.links, participantID)
		_ = link.Close()
	}
	if _, known := c.roster[participantID]; !known {
		return
	}
	delete(c.roster, participantID)
	c.publishRoster()
}

func (c *coordinator) handleLinkEvent(ev linkEvent) {
	switch ev.kind {
	case linkConnected:
		c.metrics.Inc(metrics.LinksConnected)
		if p, ok := c.roster[ev.participantID]; ok {
			p.Connected = true
			c.publishRoster()
		}
	case linkFailed:
		c.metrics.Inc(metrics.LinksFailed)
		c.log.Warn("peer link failed", "peer", ev.participantID, "err", ev.err)
		// The participant stays in the roster; only its Leave removes it.
		if link, ok := c.links[ev.participantID]; ok {
			delete(c.links, ev.participantID)
			_ = link.Close()
		}
		if p, ok := c.roster[ev.participantID]; ok && p.Connected {
			p.Connected = false
		}
		c.publishRoster()
	}
}

func (c *coordinator) newLink(participantID string, role peerlink.Role) (*peerlink.Link, error) {
	var tracks []webrtc.TrackLocal
	if c.source != nil {
		tracks = c.source.Tracks()
	}
	cb := peerlink.Callbacks{
		OnLocalCandidate: func(init webrtc.ICECandidateInit) {
			if err := c.ch.Send(signaling.NewIceCandidate(c.self, participantID, init)); err != nil {
				c.log.Debug("send local candidate", "peer", participantID, "err", err)
			}
		},
		OnConnected: func() {
			c.postEvent(linkEvent{kind: linkConnected, participantID: participantID})
		},
		OnFailed: func(err error) {
			c.postEvent(linkEvent{kind: linkFailed, participantID: participantID, err: err})
		},
	}
	if c.onRemoteTrack != nil {
		cb.OnRemoteTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			c.onRemoteTrack(participantID, track)
		}
	}
	return peerlink.New(c.api, c.linkCfg, participantID, role, tracks, cb, c.log)
}

// postEvent hands an event to the loop without ever blocking a pion callback;
// once the loop has exited the event is irrelevant.
func (c *coordinator) postEvent(ev linkEvent) {
	select {
	case c.events <- ev:
	case <-c.loopDone:
	}
}

func (c *coordinator) addParticipant(participantID string) {
	p := &Participant{
		ID:       participantID,
		JoinedAt: c.nextOrder,
	}
	if participantID == c.self {
		p.Connected = true
	}
	c.nextOrder++
	c.roster[participantID] = p
}

func (c *coordinator) snapshot() Snapshot {
	snap := make(Snapshot, 0, len(c.roster))
	for _, p := range c.roster {
		snap = append(snap, *p)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].JoinedAt < snap[j].JoinedAt })
	return snap
}

// publishRoster delivers the current snapshot, coalescing: a slow consumer
// observes the latest roster, never a backlog, and never blocks the loop.
func (c *coordinator) publishRoster() {
	snap := c.snapshot()
	for {
		select {
		case c.rosterCh <- snap:
			return
		default:
		}
		select {
		case <-c.rosterCh:
		default:
		}
	}
}

// teardown runs on the loop goroutine after Receive closes. Cancels every
// in-flight negotiation; a cancelled negotiation is never retried.
func (c *coordinator) teardown() {
	for id, link := range c.links {
		delete(c.links, id)
		_ = link.Close()
	}
	if c.source != nil {
		c.source.Release()
	}
	close(c.rosterCh)
}
