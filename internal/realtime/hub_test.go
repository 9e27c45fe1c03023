package realtime

import (
	"context"
	"testing"
)

func TestHubSharesOneClient(t *testing.T) {
	h := newWSHarness(t, "good")
	built := 0
	hub := NewHub(func() *Client {
		built++
		return newTestClient(h, "good")
	})

	c1, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	c2, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if c1 != c2 {
		t.Error("both surfaces must share one client")
	}
	if built != 1 {
		t.Errorf("factory calls = %d, want 1", built)
	}
	if h.connCount() != 1 {
		t.Errorf("connections = %d, want 1", h.connCount())
	}
	if hub.Refs() != 2 {
		t.Errorf("refs = %d, want 2", hub.Refs())
	}

	hub.Release(c1)
	if c1.State() == StateClosed {
		t.Error("client must survive while a subscriber remains")
	}
	hub.Release(c2)
	if c1.State() != StateClosed {
		t.Error("last release must close the connection")
	}
}

func TestHubReplacesTerminatedClient(t *testing.T) {
	h := newWSHarness(t, "good")
	hub := NewHub(func() *Client { return newTestClient(h, "good") })

	c1, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	hub.Release(c1)
	if c1.State() != StateClosed {
		t.Fatal("expected closed client after last release")
	}

	// A re-mount after terminal close gets a fresh client.
	c2, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if c2 == c1 {
		t.Error("terminated client must be replaced")
	}
	if c2.State() != StateConnected {
		t.Errorf("fresh client state = %s, want connected", c2.State())
	}
	hub.Release(c2)
}

func TestHubStaleReleaseLeavesReplacementAlive(t *testing.T) {
	h := newWSHarness(t, "good")
	hub := NewHub(func() *Client { return newTestClient(h, "good") })

	c1, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// The shared client reaches its terminal state while the first surface
	// still holds its reference.
	c1.Close()

	c2, err := hub.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after termination: %v", err)
	}
	if c2 == c1 {
		t.Fatal("terminated client must be replaced")
	}
	if c2.State() != StateConnected {
		t.Fatalf("replacement state = %s, want connected", c2.State())
	}

	// The stale holder tears down later; its release must only touch its own
	// client, never the replacement still in use.
	hub.Release(c1)
	if c2.State() != StateConnected {
		t.Fatal("stale release closed the replacement client")
	}
	if hub.Refs() != 1 {
		t.Errorf("refs = %d, want 1 (replacement subscriber untouched)", hub.Refs())
	}

	hub.Release(c2)
	if c2.State() != StateClosed {
		t.Error("last release of the replacement must close it")
	}
}

func TestHubReleaseWithoutAcquire(t *testing.T) {
	hub := NewHub(func() *Client { return nil })
	hub.Release(nil)
	if hub.Refs() != 0 {
		t.Errorf("refs = %d, want 0", hub.Refs())
	}
}
