package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/spayyavula/azrustyclint/internal/media"
	"github.com/spayyavula/azrustyclint/internal/metrics"
	"github.com/spayyavula/azrustyclint/internal/peerlink"
	"github.com/spayyavula/azrustyclint/internal/signaling"
)

var errMissingOption = errors.New("room: missing option")

// Options configures StartCall. ServerURL, RoomID, ParticipantID and Device
// are required; the rest default sensibly.
type Options struct {
	ServerURL     string
	RoomID        string
	ParticipantID string

	// Device provides local capture. media.SyntheticDevice serves headless
	// clients and tests.
	Device media.Device

	ICEServers     []webrtc.ICEServer
	ConnectTimeout time.Duration

	// OnRemoteTrack, when set, is invoked from transport goroutines as remote
	// participants' media arrives.
	OnRemoteTrack func(participantID string, track *webrtc.TrackRemote)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) validate() error {
	switch {
	case o.ServerURL == "":
		return fmt.Errorf("%w: ServerURL", errMissingOption)
	case o.RoomID == "":
		return fmt.Errorf("%w: RoomID", errMissingOption)
	case o.ParticipantID == "":
		return fmt.Errorf("%w: ParticipantID", errMissingOption)
	case o.Device == nil:
		return fmt.Errorf("%w: Device", errMissingOption)
	}
	return nil
}

// Call is a live room membership. It stays valid until End returns or the
// signaling transport drops; either way Done is closed and the roster stream
// ends.
type Call struct {
	self   string
	ch     signaling.Channel
	source *media.Source
	coord  *coordinator

	endOnce sync.Once
}

// StartCall acquires local media, attaches to the room's signaling channel,
// announces the join and starts the coordinator.
//
// Failure modes mirror the error taxonomy: media.ErrCaptureDenied and
// media.ErrCaptureUnavailable when capture cannot start,
// signaling.ErrChannelUnavailable when the transport cannot be established.
func StartCall(ctx context.Context, opts Options) (*Call, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	source, err := media.Acquire(ctx, opts.Device, log)
	if err != nil {
		return nil, err
	}

	ch, err := signaling.DialRoom(ctx, opts.ServerURL, opts.RoomID, opts.ParticipantID, log)
	if err != nil {
		source.Release()
		return nil, err
	}

	call, err := start(opts.ParticipantID, ch, source, nil, opts, log)
	if err != nil {
		_ = ch.Close()
		source.Release()
		return nil, err
	}
	return call, nil
}

// start wires a call over an already-open channel. Split from StartCall so
// tests can drive the coordinator over an in-memory transport.
func start(self string, ch signaling.Channel, source *media.Source, api *webrtc.API, opts Options, log *slog.Logger) (*Call, error) {
	if err := ch.Send(signaling.NewJoin(self)); err != nil {
		return nil, fmt.Errorf("%w: announce join: %v", signaling.ErrChannelUnavailable, err)
	}

	coord := newCoordinator(self, ch, source,
		api,
		peerlink.Config{ICEServers: opts.ICEServers, ConnectTimeout: opts.ConnectTimeout},
		opts.OnRemoteTrack, log, opts.Metrics)
	go coord.run()

	return &Call{
		self:   self,
		ch:     ch,
		source: source,
		coord:  coord,
	}, nil
}

func (c *Call) ParticipantID() string { return c.self }

// Roster streams roster snapshots while the call is active and closes when it
// ends. Snapshots coalesce: a consumer that falls behind sees the latest
// state, not every intermediate one.
func (c *Call) Roster() <-chan Snapshot {
	return c.coord.rosterCh
}

// Done is closed once the call has fully torn down, whether by End or by the
// transport dropping.
func (c *Call) Done() <-chan struct{} {
	return c.coord.loopDone
}

// Err reports why the call ended. It is meaningful after Done; nil means a
// deliberate End.
func (c *Call) Err() error {
	return c.ch.Err()
}

// SetAudioEnabled flips local audio. Never touches any peer link.
func (c *Call) SetAudioEnabled(enabled bool) {
	c.source.SetAudioEnabled(enabled)
}

// SetVideoEnabled flips local video. Never touches any peer link.
func (c *Call) SetVideoEnabled(enabled bool) {
	c.source.SetVideoEnabled(enabled)
}

// End announces the leave and tears everything down: every peer link, the
// local media and the signaling channel. Idempotent and safe to invoke
// concurrently with a transport-initiated shutdown; it returns once teardown
// has completed.
func (c *Call) End() {
	c.endOnce.Do(func() {
		// Best effort: if the transport already dropped, the relay has
		// synthesized our Leave.
		_ = c.ch.Send(signaling.NewLeave(c.self))
		_ = c.ch.Close()
	})
	<-c.coord.loopDone
}
