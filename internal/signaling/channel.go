package signaling

import "errors"

// ErrChannelUnavailable is returned when the signaling transport cannot be
// established. Starting a call fails with it; callers may retry.
var ErrChannelUnavailable = errors.New("signaling: channel unavailable")

// ErrChannelClosed is returned by Send after the channel has shut down.
var ErrChannelClosed = errors.New("signaling: channel closed")

// Channel is a room-scoped, ordered, at-least-once broadcast transport.
//
// Envelopes sent by a still-connected member reach all other room members in
// the order sent (per-sender FIFO; no cross-sender ordering is guaranteed).
// Receive yields inbound envelopes and is closed when the channel disconnects,
// whether by Close or by transport failure; Err reports the terminal cause
// after Receive closes. A closed Receive is the coordinator's cue for local
// teardown, equivalent to observing its own Leave.
type Channel interface {
	Send(env Envelope) error
	Receive() <-chan Envelope
	Close() error
	Err() error
}
