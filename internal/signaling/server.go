package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spayyavula/azrustyclint/internal/config"
	"github.com/spayyavula/azrustyclint/internal/metrics"
	"github.com/spayyavula/azrustyclint/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// Server is the relay's WebSocket endpoint. Each accepted connection attaches
// one participant to one room; everything the participant sends is validated
// and broadcast to the other members.
//
// It enforces per-connection limits (message size, message rate, idle
// timeout) so one misbehaving client cannot degrade a room.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	hub      *Hub
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		hub:     NewHub(log, m, cfg.MaxRoomMembers, cfg.MemberSendQueue),
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin header and pass.
				origin := r.Header.Get("Origin")
				return origin == "" || cfg.OriginAllowed(origin)
			},
		},
	}
}

// Hub exposes the room registry, primarily for observability and tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP handles GET /rooms/{roomID}/ws?participant=<id>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	participantID := r.URL.Query().Get("participant")
	if roomID == "" || participantID == "" {
		http.Error(w, "room and participant are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	m, err := s.hub.Join(roomID, participantID, connID, func() {
		_ = conn.Close()
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomFull):
			writeClose(conn, websocket.ClosePolicyViolation, "room full")
		case errors.Is(err, ErrParticipantTaken):
			writeClose(conn, websocket.ClosePolicyViolation, "participant id already in room")
		default:
			writeClose(conn, websocket.CloseInternalServerErr, "failed to join room")
		}
		return
	}
	// Deferred in this order so that Leave closes the member's send queue
	// first, releasing the writer we then wait for.
	writerDone := make(chan struct{})
	defer func() { <-writerDone }()
	defer s.hub.Leave(roomID, m)
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, m)
	}()

	limiter := ratelimit.NewTokenBucket(nil, s.cfg.MaxEnvelopesPerSec, s.cfg.MaxEnvelopesPerSec)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.RelayWSIdleTimeout))
	})

	for {
		if !limiter.Allow() {
			s.metrics.Inc(metrics.RelayRateLimited)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.RelayWSIdleTimeout))
		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			if isTimeout(err) {
				writeClose(conn, websocket.ClosePolicyViolation, "idle timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		payload, err := readLimited(msgReader, s.cfg.MaxEnvelopeBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
				return
			}
			return
		}

		env, err := ParseEnvelope(payload)
		if err != nil {
			// Discarded and logged, never fatal to the connection.
			s.metrics.Inc(metrics.ProtocolViolation)
			s.log.Warn("discarding invalid envelope",
				"room", roomID,
				"participant", participantID,
				"conn_id", connID,
				"err", err,
			)
			continue
		}
		if env.From != participantID {
			// A member may only speak for itself.
			writeClose(conn, websocket.ClosePolicyViolation, "from does not match participant")
			return
		}

		s.hub.Broadcast(roomID, participantID, payload)
	}
}

// writeLoop drains the member's queue onto the socket and keeps the
// connection alive with periodic pings.
func (s *Server) writeLoop(conn *websocket.Conn, m *member) {
	ticker := time.NewTicker(s.cfg.RelayWSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-m.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.RelayWSWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.RelayWSWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
