package entity

import "time"

// Conversation represents a 1:1 thread between the current provider and one
// customer. The participant set is fixed at creation; messages are append-only
// from the client's perspective and their order is the order the transport
// delivered them in, never a timestamp sort.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant is one side of a conversation.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Opponent returns the participant whose id is not myID. When myID is empty
// (the current actor has not been resolved yet) the first participant is
// returned as a deterministic fallback.
func (c *Conversation) Opponent(myID string) Participant {
	if len(c.Participants) == 0 {
		return Participant{}
	}
	if myID != "" {
		for _, p := range c.Participants {
			if p.ID != myID {
				return p
			}
		}
	}
	return c.Participants[0]
}

// HasParticipant reports whether the given actor belongs to the conversation.
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// HasMessage reports whether a message with the given id was already appended.
func (c *Conversation) HasMessage(id string) bool {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// LastMessage returns the newest message, or nil for an empty thread.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
