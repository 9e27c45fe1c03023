package stub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/prodesk/internal/chat/entity"
)

// RoomStore persists conversations for the conformance backend.
type RoomStore interface {
	// ListForUser returns the user's conversations, most recently updated
	// first.
	ListForUser(ctx context.Context, userID string) ([]entity.Conversation, error)
	// Get returns one conversation with its full message history.
	Get(ctx context.Context, roomID string) (*entity.Conversation, error)
	// CreateOrGet returns the existing 1:1 conversation between the two
	// actors, creating it when absent. The bool reports whether a new room
	// was created.
	CreateOrGet(ctx context.Context, a, b entity.Participant) (*entity.Conversation, bool, error)
	// AppendMessage appends to the room and bumps its updated timestamp.
	AppendMessage(ctx context.Context, roomID string, msg entity.Message) error
}

// MemoryStore is the in-memory RoomStore used by default and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*entity.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*entity.Conversation)}
}

func (m *MemoryStore) ListForUser(ctx context.Context, userID string) ([]entity.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entity.Conversation
	for _, room := range m.rooms {
		if room.HasParticipant(userID) {
			out = append(out, *room)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) (*entity.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, entity.ErrConversationNotFound
	}
	copied := *room
	copied.Messages = append([]entity.Message(nil), room.Messages...)
	return &copied, nil
}

func (m *MemoryStore) CreateOrGet(ctx context.Context, a, b entity.Participant) (*entity.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		if room.HasParticipant(a.ID) && room.HasParticipant(b.ID) {
			copied := *room
			return &copied, false, nil
		}
	}

	room := &entity.Conversation{
		ID:           uuid.New().String(),
		Participants: []entity.Participant{a, b},
		Messages:     []entity.Message{},
		UpdatedAt:    time.Now().UTC(),
	}
	m.rooms[room.ID] = room
	copied := *room
	return &copied, true, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, roomID string, msg entity.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return entity.ErrConversationNotFound
	}
	room.Messages = append(room.Messages, msg)
	room.UpdatedAt = time.Now().UTC()
	return nil
}
