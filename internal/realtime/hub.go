package realtime

import (
	"context"
	"sync"
)

// Hub shares one Client between every mounted UI surface (toast shell,
// embedded widget, full chat page). The connection opens on the first Acquire
// and closes on the last Release, so concurrent surfaces never hold duplicate
// connections. Mounts that need an isolated connection can still construct
// their own Client.
type Hub struct {
	mu      sync.Mutex
	factory func() *Client
	client  *Client
	// refs counts subscribers per handed-out client. A terminated client is
	// replaced on the next Acquire, but holders of the old one keep their own
	// count, so their late Release never touches the replacement.
	refs map[*Client]int
}

// NewHub creates a hub. The factory builds a fresh client whenever the
// previous one reached its terminal state.
func NewHub(factory func() *Client) *Hub {
	return &Hub{factory: factory, refs: make(map[*Client]int)}
}

// Acquire returns the shared client, dialing on the first subscriber. A
// client that terminated (credential rejected, retries exhausted) is replaced
// by a fresh one so a re-authenticated session can reconnect.
func (h *Hub) Acquire(ctx context.Context) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client == nil || h.client.State() == StateClosed {
		h.client = h.factory()
	}
	if h.refs[h.client] == 0 {
		if err := h.client.Connect(ctx); err != nil {
			h.client = nil
			return nil, err
		}
	}
	h.refs[h.client]++
	return h.client, nil
}

// Release drops one reference on the given client; its last release closes
// it. Releasing a client the hub already replaced only tears down that old
// client, never the current one.
func (h *Hub) Release(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.refs[c]
	if n == 0 {
		return
	}
	n--
	if n > 0 {
		h.refs[c] = n
		return
	}
	delete(h.refs, c)
	c.Close()
	if h.client == c {
		h.client = nil
	}
}

// Refs returns the subscriber count of the current client.
func (h *Hub) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs[h.client]
}
