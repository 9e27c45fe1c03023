package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/chat/policy"
)

// ErrSuperseded marks a conversation-detail response that arrived after the
// user had already moved on to another room. The response is discarded, not
// applied.
var ErrSuperseded = errors.New("open superseded by a newer request")

// Loader is the REST surface the store reads from.
type Loader interface {
	ListConversations(ctx context.Context) ([]entity.Conversation, error)
	GetConversation(ctx context.Context, roomID string) (*entity.Conversation, error)
}

// Store holds the authoritative local view of all conversations for one
// mounted client instance: the list ordered most-recent-activity-first, the
// open-conversation pointer, the collapsed state and the derived unread flag.
// None of it is persisted.
type Store struct {
	api      Loader
	pol      *policy.Policy
	notifier policy.Notifier
	log      *slog.Logger

	mu        sync.Mutex
	myID      string
	list      []*entity.Conversation
	openID    string
	opening   string
	collapsed bool
	unread    bool
	onAppend  func(roomID string)
}

// New creates an empty store. Seed it with LoadSummaries before use.
func New(api Loader, pol *policy.Policy, notifier policy.Notifier, log *slog.Logger) *Store {
	if notifier == nil {
		notifier = policy.NopNotifier{}
	}
	return &Store{api: api, pol: pol, notifier: notifier, log: log}
}

// SetSelf records the current actor's id, used for opponent derivation.
func (s *Store) SetSelf(id string) {
	s.mu.Lock()
	s.myID = id
	s.mu.Unlock()
}

// OnThreadAppend registers the hook fired whenever a message lands in the
// currently open thread, so the UI can scroll to the latest entry.
func (s *Store) OnThreadAppend(fn func(roomID string)) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// LoadSummaries replaces the whole conversation list with the server's view.
// Replacement, never merge: a full reload is the documented recovery path for
// any state divergence.
func (s *Store) LoadSummaries(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversation summaries: %w", err)
	}

	ptrs := make([]*entity.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		ptrs[i] = &c
	}

	s.mu.Lock()
	s.list = ptrs
	s.mu.Unlock()
	return nil
}

// Open fetches the full history of one conversation and marks it as the open
// one, clearing the unread flag. If another Open started in the meantime the
// stale response is discarded and ErrSuperseded returned.
func (s *Store) Open(ctx context.Context, roomID string) (entity.Conversation, error) {
	if roomID == "" {
		return entity.Conversation{}, entity.ErrEmptyRoomID
	}

	s.mu.Lock()
	s.opening = roomID
	s.mu.Unlock()

	detail, err := s.api.GetConversation(ctx, roomID)
	if err != nil {
		return entity.Conversation{}, fmt.Errorf("loading conversation detail: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opening != roomID {
		return entity.Conversation{}, ErrSuperseded
	}
	s.opening = ""
	s.openID = roomID
	s.unread = false

	if idx := s.indexOf(roomID); idx >= 0 {
		// Same object identity as the list entry: pushed events appended to
		// the list are visible in the open view without a re-fetch.
		conv := s.list[idx]
		conv.Participants = detail.Participants
		conv.Messages = detail.Messages
		if detail.UpdatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = detail.UpdatedAt
		}
		return snapshot(conv), nil
	}

	// Full detail straight from the server (e.g. a just-created room) is
	// trustworthy enough to insert, unlike a bare pushed event.
	conv := *detail
	s.list = append([]*entity.Conversation{&conv}, s.list...)
	return snapshot(&conv), nil
}

// CloseOpen clears the open-conversation pointer.
func (s *Store) CloseOpen() {
	s.mu.Lock()
	s.openID = ""
	s.opening = ""
	s.mu.Unlock()
}

// SetCollapsed records whether the owning UI is collapsed. Expanding clears
// the unread flag, mirroring the user explicitly looking at the widget.
func (s *Store) SetCollapsed(collapsed bool) {
	s.mu.Lock()
	s.collapsed = collapsed
	if !collapsed {
		s.unread = false
	}
	s.mu.Unlock()
}

// Unread returns the derived notification flag for this instance.
func (s *Store) Unread() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// OpenID returns the id of the currently open conversation, if any.
func (s *Store) OpenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// Conversations returns a snapshot of the ordered list.
func (s *Store) Conversations() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Conversation, len(s.list))
	for i, c := range s.list {
		out[i] = snapshot(c)
	}
	return out
}

// Get returns a snapshot of one conversation by id.
func (s *Store) Get(roomID string) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(roomID); idx >= 0 {
		return snapshot(s.list[idx]), true
	}
	return entity.Conversation{}, false
}

// Opponent returns the other participant of a conversation relative to the
// current actor.
func (s *Store) Opponent(roomID string) (entity.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(roomID)
	if idx < 0 {
		return entity.Participant{}, entity.ErrConversationNotFound
	}
	return s.list[idx].Opponent(s.myID), nil
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(roomID string) int {
	for i, c := range s.list {
		if c.ID == roomID {
			return i
		}
	}
	return -1
}

func snapshot(c *entity.Conversation) entity.Conversation {
	out := *c
	out.Participants = append([]entity.Participant(nil), c.Participants...)
	out.Messages = append([]entity.Message(nil), c.Messages...)
	return out
}
