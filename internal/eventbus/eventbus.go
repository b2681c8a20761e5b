// Package eventbus provides the in-process event emitter used as the local
// bus on both sides of the bridge.
package eventbus

import (
	"slices"
	"sync"
)

// Event is passed to listeners. Args are the values given to Emit.
type Event struct {
	Name string
	Args []any
}

// Listener handles an emitted event.
type Listener func(e Event)

// Subscription is the handle returned by On. It owns one registration and
// is required by Off.
type Subscription struct {
	event    string
	listener Listener
}

// Event returns the event name the subscription was registered for.
func (s *Subscription) Event() string {
	return s.event
}

// Emitter is the capability consumed by the forwarding protocol.
type Emitter interface {
	On(event string, l Listener) *Subscription
	Off(sub *Subscription) bool
	Emit(event string, args ...any) int
}

// Bus is a synchronous Emitter. Listeners run on the emitting goroutine in
// registration order.
type Bus struct {
	name string

	mu        sync.RWMutex
	listeners map[string][]*Subscription
}

var _ Emitter = (*Bus)(nil)

// New creates a bus. The name identifies the emitter, it is used when
// events emitted through the bus carry their emitter's name as first argument.
func New(name string) *Bus {
	return &Bus{
		name:      name,
		listeners: make(map[string][]*Subscription),
	}
}

// Name of the bus.
func (b *Bus) Name() string {
	return b.name
}

// On registers listener for event.
func (b *Bus) On(event string, l Listener) *Subscription {
	sub := &Subscription{event: event, listener: l}
	b.mu.Lock()
	b.listeners[event] = append(b.listeners[event], sub)
	b.mu.Unlock()
	return sub
}

// Off removes the registration owned by sub. Returns false if it was not
// registered.
func (b *Bus) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[sub.event]
	i := slices.Index(subs, sub)
	if i < 0 {
		return false
	}
	subs = slices.Delete(slices.Clone(subs), i, i+1)
	if len(subs) == 0 {
		delete(b.listeners, sub.event)
	} else {
		b.listeners[sub.event] = subs
	}
	return true
}

// Emit calls every listener of event and returns how many were called.
func (b *Bus) Emit(event string, args ...any) int {
	b.mu.RLock()
	subs := b.listeners[event]
	b.mu.RUnlock()
	e := Event{Name: event, Args: args}
	for _, sub := range subs {
		sub.listener(e)
	}
	return len(subs)
}

// Listeners returns current registrations for event.
func (b *Bus) Listeners(event string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.listeners[event])
}
