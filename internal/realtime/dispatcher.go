package realtime

import (
	"encoding/json"
	"sync"

	"github.com/vadim/prodesk/internal/chat/entity"
)

// Handler receives the raw payload of one realtime event.
type Handler func(data json.RawMessage)

// StateHandler observes connection state transitions.
type StateHandler func(state State)

// Subscription is the handle returned at registration time. Close releases
// it; a closed subscription never receives another callback. Every owner must
// release its subscriptions on every teardown path.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Close deregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

type dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	states   map[uint64]StateHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[string]map[uint64]Handler),
		states:   make(map[uint64]StateHandler),
	}
}

func (d *dispatcher) add(event string, h Handler) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[uint64]Handler)
	}
	d.handlers[event][id] = h
	d.mu.Unlock()

	return &Subscription{remove: func() {
		d.mu.Lock()
		delete(d.handlers[event], id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) addState(h StateHandler) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.states[id] = h
	d.mu.Unlock()

	return &Subscription{remove: func() {
		d.mu.Lock()
		delete(d.states, id)
		d.mu.Unlock()
	}}
}

// dispatch invokes handlers synchronously so events are observed strictly in
// delivery order; the reconciler depends on that.
func (d *dispatcher) dispatch(env entity.Envelope) {
	d.mu.RLock()
	hs := make([]Handler, 0, len(d.handlers[env.Event]))
	for _, h := range d.handlers[env.Event] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(env.Data)
	}
}

func (d *dispatcher) dispatchState(state State) {
	d.mu.RLock()
	hs := make([]StateHandler, 0, len(d.states))
	for _, h := range d.states {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(state)
	}
}

// clear drops every registration. Used on terminal close so no stale callback
// can outlive its owner.
func (d *dispatcher) clear() {
	d.mu.Lock()
	d.handlers = make(map[string]map[uint64]Handler)
	d.states = make(map[uint64]StateHandler)
	d.mu.Unlock()
}
