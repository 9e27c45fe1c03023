package entity

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// AttachmentKind determines how an attachment is rendered.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is an uploaded file referenced by a message. The URL may be
// absolute or server-relative.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"type"`
}

// ResolveURL returns the absolute content URL. Server-relative URLs are
// resolved against the given API origin.
func (a Attachment) ResolveURL(origin string) string {
	if a.URL == "" || strings.Contains(a.URL, "://") {
		return a.URL
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(a.URL, "/")
}

// Sender identifies the author of a message. On the wire it is either a bare
// id string or an embedded partial participant object; both shapes normalize
// to ID here, at the store boundary, so call sites never compare ad hoc.
type Sender struct {
	ID        string
	Name      string
	AvatarURL string
	// Embedded records which wire shape was received so the value
	// round-trips unchanged.
	Embedded bool
}

type senderObject struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// UnmarshalJSON accepts both sender wire shapes.
func (s *Sender) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*s = Sender{ID: id}
		return nil
	}
	var obj senderObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*s = Sender{ID: obj.ID, Name: obj.Name, AvatarURL: obj.AvatarURL, Embedded: true}
	return nil
}

// MarshalJSON writes back the shape that was received.
func (s Sender) MarshalJSON() ([]byte, error) {
	if !s.Embedded {
		return json.Marshal(s.ID)
	}
	return json.Marshal(senderObject{ID: s.ID, Name: s.Name, AvatarURL: s.AvatarURL})
}

// Message is one entry in a conversation. Once appended it is immutable.
type Message struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Sender     Sender      `json:"sender"`
	SentAt     time.Time   `json:"created_at"`
}

// SenderID returns the normalized sender id regardless of wire shape.
func (m *Message) SenderID() string {
	return m.Sender.ID
}

// IsMine reports whether the message was authored by the given actor.
func (m *Message) IsMine(myID string) bool {
	return myID != "" && m.Sender.ID == myID
}
