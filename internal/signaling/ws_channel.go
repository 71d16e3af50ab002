package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second

	// receiveBuffer absorbs short bursts (a mesh of N peers joining at once
	// produces O(N) envelopes); the coordinator drains continuously.
	receiveBuffer = 64
)

// WSChannel is the client side of the relay transport: a Channel implemented
// over a single WebSocket connection to the room relay.
type WSChannel struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex
	recv    chan Envelope

	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// DialRoom connects to the relay and attaches to a room. Failure to establish
// the transport is reported as ErrChannelUnavailable.
func DialRoom(ctx context.Context, serverURL, roomID, participantID string, log *slog.Logger) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid server url %q: %v", ErrChannelUnavailable, serverURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrChannelUnavailable, u.Scheme)
	}
	u = u.JoinPath("rooms", roomID, "ws")
	q := u.Query()
	q.Set("participant", participantID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannelUnavailable, u.String(), err)
	}

	ch := &WSChannel{
		conn: conn,
		log:  log,
		recv: make(chan Envelope, receiveBuffer),
		done: make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

func (ch *WSChannel) Send(env Envelope) error {
	select {
	case <-ch.done:
		return ErrChannelClosed
	default:
	}

	if err := env.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ch.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

func (ch *WSChannel) Receive() <-chan Envelope {
	return ch.recv
}

// Close tears the connection down. It is idempotent and safe to call
// concurrently with a transport-initiated disconnect.
func (ch *WSChannel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		ch.writeMu.Unlock()
		_ = ch.conn.Close()
	})
	return nil
}

// Err reports why Receive closed. It returns nil after a local Close.
func (ch *WSChannel) Err() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	return ch.err
}

func (ch *WSChannel) readLoop() {
	defer close(ch.recv)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				// Local close; not an error.
			default:
				ch.errMu.Lock()
				ch.err = fmt.Errorf("%w: %v", ErrChannelClosed, err)
				ch.errMu.Unlock()
			}
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			// Malformed envelopes are discarded, never fatal.
			ch.log.Warn("discarding malformed envelope", "err", err)
			continue
		}

		select {
		case ch.recv <- env:
		case <-ch.done:
			return
		}
	}
}
