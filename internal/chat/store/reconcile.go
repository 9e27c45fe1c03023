package store

import (
	"context"
	"time"

	"github.com/vadim/prodesk/internal/chat/entity"
	"github.com/vadim/prodesk/internal/chat/policy"
)

// ApplyMessage folds a pushed receive_message event into local state.
//
// Known room: the message is appended (deduped by id), the room's
// last-activity timestamp is bumped and the room moves to the front of the
// list, preserving the relative order of the rest. Unknown room: the event
// payload carries no participant metadata, so the only safe recovery is one
// full LoadSummaries refresh; no synthetic entry is fabricated.
//
// Events must be applied in delivery order; append order is authoritative and
// embedded timestamps are never used for ordering.
func (s *Store) ApplyMessage(ctx context.Context, ev entity.ReceiveMessageData) {
	s.mu.Lock()

	idx := s.indexOf(ev.RoomID)
	if idx < 0 {
		s.mu.Unlock()
		if err := s.LoadSummaries(ctx); err != nil {
			s.log.Warn("refresh after event for unknown room failed",
				"room_id", ev.RoomID, "error", err)
		}
		return
	}

	conv := s.list[idx]
	if conv.HasMessage(ev.Message.ID) {
		// Transport double-delivery. Dropping the duplicate entirely also
		// keeps the list order untouched.
		s.mu.Unlock()
		return
	}

	conv.Messages = append(conv.Messages, ev.Message)
	conv.UpdatedAt = time.Now()

	// Move to front, shifting everything before it one slot down.
	copy(s.list[1:idx+1], s.list[:idx])
	s.list[0] = conv

	// The open view shares object identity with the list entry, so an append
	// for the open room is already visible there; only the scroll hook and
	// the unread decision remain.
	open := s.openID == ev.RoomID && !s.collapsed
	flag := s.pol.FlagMessage(s.openID, ev.RoomID, s.collapsed)
	if flag {
		s.unread = true
	}
	onAppend := s.onAppend
	notifier := s.notifier
	s.mu.Unlock()

	if open && onAppend != nil {
		onAppend(ev.RoomID)
	}
	if flag {
		notifier.Notify(policy.Notification{
			Kind:    policy.KindMessage,
			RoomID:  ev.RoomID,
			Preview: ev.Message.Content,
		})
	}
}

// ApplyOrderEvent routes an order lifecycle event to the notification
// side-channel. The conversation list is never touched.
func (s *Store) ApplyOrderEvent(event string, ev entity.OrderEventData) {
	switch event {
	case entity.EventOrderNew:
		// A brand-new order always interrupts.
	case entity.EventOrderStatusUpdate:
		if !s.pol.AnnounceStatus(ev.Status) {
			return
		}
	default:
		return
	}

	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()

	notifier.Notify(policy.Notification{
		Kind:    policy.KindOrder,
		OrderID: ev.OrderID,
		Status:  ev.Status,
		Preview: ev.Title,
	})
}
