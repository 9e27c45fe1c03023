package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/chat/store"
	"github.com/vadim/prodesk/internal/httpx/upstream/marketplace"
	"github.com/vadim/prodesk/internal/realtime"
)

// Session is one mounted chat surface: its own conversation store and unread
// flag on top of the shared realtime connection. Close must be called on
// every teardown path of the owning surface.
type Session struct {
	app    *App
	Store  *store.Store
	Client *realtime.Client

	subs      []*realtime.Subscription
	closeOnce sync.Once
}

// Mount acquires the shared connection, wires the event handlers and seeds
// the conversation list. selfID is the current actor's id, used for opponent
// derivation; it may be empty when not yet resolved.
func (a *App) Mount(ctx context.Context, selfID string) (*Session, error) {
	client, err := a.Hub.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	st := store.New(a.API, a.Policy, a.Notifier, a.Log)
	st.SetSelf(selfID)

	s := &Session{app: a, Store: st, Client: client}

	s.subs = append(s.subs,
		client.On(entity.EventReceiveMessage, func(data json.RawMessage) {
			var ev entity.ReceiveMessageData
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			st.ApplyMessage(context.Background(), ev)
		}),
		client.On(entity.EventOrderNew, func(data json.RawMessage) {
			var ev entity.OrderEventData
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			st.ApplyOrderEvent(entity.EventOrderNew, ev)
		}),
		client.On(entity.EventOrderStatusUpdate, func(data json.RawMessage) {
			var ev entity.OrderEventData
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			st.ApplyOrderEvent(entity.EventOrderStatusUpdate, ev)
		}),
	)

	if err := st.LoadSummaries(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenConversation loads the full history, marks the room open and joins its
// broadcast group so pushes arrive on this connection.
func (s *Session) OpenConversation(ctx context.Context, roomID string) (entity.Conversation, error) {
	conv, err := s.Store.Open(ctx, roomID)
	if err != nil {
		return entity.Conversation{}, err
	}
	if err := s.Client.JoinRoom(roomID); err != nil {
		return entity.Conversation{}, err
	}
	return conv, nil
}

// StartConversation creates (or returns) the 1:1 room with the target actor
// and opens it.
func (s *Session) StartConversation(ctx context.Context, targetUserID string) (entity.Conversation, error) {
	conv, err := s.app.API.CreateConversation(ctx, targetUserID)
	if err != nil {
		return entity.Conversation{}, err
	}
	return s.OpenConversation(ctx, conv.ID)
}

// SendMessage fires a message into the room. Fire and forget: the thread
// updates when the server echoes the message back.
func (s *Session) SendMessage(roomID, content string, attachment *entity.Attachment) error {
	return s.Client.Send(roomID, content, attachment)
}

// UploadAttachment uploads a file and returns the descriptor to attach to a
// subsequent send.
func (s *Session) UploadAttachment(ctx context.Context, filename, contentType string, size int64, r io.Reader) (*entity.Attachment, error) {
	return s.app.API.UploadAttachment(ctx, marketplace.UploadAttachmentInput{
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Reader:      r,
	})
}

// Close detaches the session's handlers and releases the shared connection.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sub := range s.subs {
			sub.Close()
		}
		s.app.Hub.Release(s.Client)
	})
}
