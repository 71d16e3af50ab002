package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/spayyavula/azrustyclint/internal/metrics"
)

var (
	ErrRoomFull         = errors.New("signaling: room full")
	ErrParticipantTaken = errors.New("signaling: participant id already in room")
)

// Hub tracks every active room on the relay. A room exists while at least one
// member is attached; the hub holds no other per-room state.
type Hub struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	maxMember int
	queueLen  int

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	members map[string]*member
}

// member is one attached participant connection. Envelopes to deliver are
// queued on send and drained by the connection's writer goroutine, which
// preserves per-sender FIFO order: each sender's reader pushes into every
// queue in arrival order.
type member struct {
	participantID string
	connID        string
	send          chan []byte

	// dropSlow disconnects the member when its queue is full so one stalled
	// reader cannot block the rest of the room.
	dropSlow func()
}

func NewHub(log *slog.Logger, m *metrics.Metrics, maxMembers, sendQueueLen int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		metrics:   m,
		maxMember: maxMembers,
		queueLen:  sendQueueLen,
		rooms:     make(map[string]*room),
	}
}

// Join attaches a participant to a room, creating the room on first join.
func (h *Hub) Join(roomID, participantID, connID string, dropSlow func()) (*member, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		h.rooms[roomID] = rm
	}

	if h.maxMember > 0 && len(rm.members) >= h.maxMember {
		h.metrics.Inc(metrics.RelayRoomFull)
		return nil, ErrRoomFull
	}
	if _, ok := rm.members[participantID]; ok {
		return nil, ErrParticipantTaken
	}

	m := &member{
		participantID: participantID,
		connID:        connID,
		send:          make(chan []byte, h.queueLen),
		dropSlow:      dropSlow,
	}
	rm.members[participantID] = m
	h.log.Info("participant joined room",
		"room", roomID,
		"participant", participantID,
		"conn_id", connID,
		"members", len(rm.members),
	)
	return m, nil
}

// Leave detaches a member and broadcasts a synthesized Leave envelope so the
// remaining members observe the departure even when the member's socket died
// without an explicit Leave. Empty rooms are deleted.
func (h *Hub) Leave(roomID string, m *member) {
	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if !ok || rm.members[m.participantID] != m {
		h.mu.Unlock()
		return
	}
	delete(rm.members, m.participantID)
	close(m.send)
	empty := len(rm.members) == 0
	if empty {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	h.log.Info("participant left room", "room", roomID, "participant", m.participantID, "conn_id", m.connID)
	if empty {
		h.log.Info("room closed", "room", roomID)
		return
	}

	leave, err := json.Marshal(NewLeave(m.participantID))
	if err != nil {
		return
	}
	h.Broadcast(roomID, m.participantID, leave)
}

// Broadcast delivers payload to every room member except the sender.
func (h *Hub) Broadcast(roomID, fromParticipantID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for id, m := range rm.members {
		if id == fromParticipantID {
			continue
		}
		select {
		case m.send <- payload:
			h.metrics.Inc(metrics.EnvelopesRelayed)
		default:
			// Queue full: the member is too slow to keep up with the room.
			h.log.Warn("dropping slow room member",
				"room", roomID,
				"participant", id,
				"conn_id", m.connID,
			)
			if m.dropSlow != nil {
				m.dropSlow()
			}
		}
	}
}

// RoomSize reports the current member count of a room; 0 if it does not exist.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rm, ok := h.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}
