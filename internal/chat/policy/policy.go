package policy

import (
	"log/slog"

	"github.com/vadim/prodesk/internal/chat/entity"
)

// Kind distinguishes notification sources.
type Kind string

const (
	KindMessage Kind = "message"
	KindOrder   Kind = "order"
)

// Notification is the single side effect the reconciler may emit per event.
type Notification struct {
	Kind    Kind
	RoomID  string
	OrderID string
	Status  entity.OrderStatus
	Preview string
}

// Notifier receives at most one call per reconciled event. Toast and sound
// are host-application concerns behind this interface.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// LogNotifier writes notifications to the structured log. It is the default
// for headless use.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(v Notification) {
	switch v.Kind {
	case KindOrder:
		n.log.Info("order notification", "order_id", v.OrderID, "status", string(v.Status))
	default:
		n.log.Info("message notification", "room_id", v.RoomID, "preview", v.Preview)
	}
}

// Policy decides which events are allowed to interrupt the provider.
type Policy struct {
	important map[entity.OrderStatus]bool
}

// New creates the default policy: only paid and cancelled order statuses are
// important enough to interrupt; every other status is ignored.
func New() *Policy {
	return &Policy{
		important: map[entity.OrderStatus]bool{
			entity.OrderStatusPaid:      true,
			entity.OrderStatusCancelled: true,
		},
	}
}

// FlagMessage reports whether a message for roomID must set the unread flag:
// the room is not the open one, no room is open, or the UI is collapsed. A
// message for the open, expanded room never flags.
func (p *Policy) FlagMessage(openRoomID, roomID string, collapsed bool) bool {
	if collapsed {
		return true
	}
	return openRoomID == "" || openRoomID != roomID
}

// AnnounceStatus reports whether an order_status_update is worth a
// notification.
func (p *Policy) AnnounceStatus(status entity.OrderStatus) bool {
	return p.important[status]
}
