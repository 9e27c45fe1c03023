package stub

import (
	"sync"

	"github.com/vadim/prodesk/internal/chat/entity"
)

// session is one authenticated websocket connection on the server side.
type session struct {
	user   entity.Participant
	send   chan entity.Envelope
	joined map[string]bool
	mu     sync.Mutex
}

func newSession(user entity.Participant) *session {
	return &session{
		user:   user,
		send:   make(chan entity.Envelope, 64),
		joined: make(map[string]bool),
	}
}

func (s *session) join(roomID string) {
	s.mu.Lock()
	s.joined[roomID] = true
	s.mu.Unlock()
}

func (s *session) inRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[roomID]
}

// hub tracks live sessions and fans events out to them.
type hub struct {
	mu       sync.Mutex
	sessions map[*session]bool
}

func newServerHub() *hub {
	return &hub{sessions: make(map[*session]bool)}
}

func (h *hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s] = true
	h.mu.Unlock()
}

func (h *hub) unregister(s *session) {
	h.mu.Lock()
	if h.sessions[s] {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// broadcastRoom delivers the envelope to every session that joined the room,
// the sender's own session included. Slow consumers are skipped rather than
// blocking the fan-out.
func (h *hub) broadcastRoom(roomID string, env entity.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if !s.inRoom(roomID) {
			continue
		}
		select {
		case s.send <- env:
		default:
		}
	}
}

// deliverTo delivers the envelope to every live session of the given user.
func (h *hub) deliverTo(userID string, env entity.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if s.user.ID != userID {
			continue
		}
		select {
		case s.send <- env:
		default:
		}
	}
}
