package entity

import "encoding/json"

// Realtime event names produced and consumed over the websocket channel.
const (
	EventJoinChat          = "join_chat"
	EventSendMessage       = "send_message"
	EventReceiveMessage    = "receive_message"
	EventOrderNew          = "order_new"
	EventOrderStatusUpdate = "order_status_update"
	EventError             = "error"
)

// Envelope is the wire format for every realtime event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a payload into an Envelope.
func NewEnvelope(event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// JoinChatData is the payload of a join_chat intent.
type JoinChatData struct {
	RoomID string `json:"room_id"`
}

// SendMessageData is the payload of a fire-and-forget send. The server, if it
// accepts the message, pushes the resulting receive_message back to all room
// participants including the sender.
type SendMessageData struct {
	RoomID     string      `json:"room_id"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ReceiveMessageData is pushed for every accepted message. It carries no
// participant metadata, which is why an unknown room forces a full refresh.
type ReceiveMessageData struct {
	RoomID  string  `json:"room_id"`
	Message Message `json:"message"`
}

// OrderStatus is the lifecycle state of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderEventData carries order lifecycle notifications consumed by the same
// connection. These never touch the conversation list; they only drive the
// notification side-channel.
type OrderEventData struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status,omitempty"`
	Title   string      `json:"title,omitempty"`
}

// ErrorData is a server-side failure pushed on the channel.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCodeUnauthorized marks a rejected credential. It is terminal for the
// connection: retrying against a rejected credential is never correct.
const ErrorCodeUnauthorized = "unauthorized"
