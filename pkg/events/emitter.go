// Package events is a small listener registry. Emit never lets one listener's
// panic reach the emitter or skip the remaining listeners.
package events

import (
	"sync"
)

// Listener receives an event payload.
type Listener func(payload any)

// ListenerID identifies a registration so it can be removed later.
type ListenerID uint64

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

type entry struct {
	id   ListenerID
	fn   Listener
	once bool
}

// Emitter holds listeners keyed by event name, in registration order.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]entry
	next      ListenerID
	logger    Logger
}

// NewEmitter returns an empty emitter. logger may be nil.
func NewEmitter(logger Logger) *Emitter {
	return &Emitter{listeners: make(map[string][]entry), logger: logger}
}

// On registers fn for event.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	return e.add(event, fn, false)
}

// Once registers fn to run at most once.
func (e *Emitter) Once(event string, fn Listener) ListenerID {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Listener, once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]entry)
	}
	e.next++
	e.listeners[event] = append(e.listeners[event], entry{id: e.next, fn: fn, once: once})
	return e.next
}

// Remove drops a registration. Unknown ids are ignored.
func (e *Emitter) Remove(event string, id ListenerID) {
	e.remove(event, id)
}

func (e *Emitter) remove(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[event]
	removed := false
	for i, l := range list {
		if l.id == id {
			e.listeners[event] = append(list[:i:i], list[i+1:]...)
			removed = true
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
	return removed
}

// RemoveAll drops every listener.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]entry)
}

// Count returns how many listeners are registered for event.
func (e *Emitter) Count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit invokes the listeners registered for event with payload.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	snapshot := append([]entry(nil), e.listeners[event]...)
	e.mu.Unlock()
	for _, l := range snapshot {
		// a concurrent Emit may already have claimed a once listener
		if l.once && !e.remove(event, l.id) {
			continue
		}
		e.invoke(event, l.fn, payload)
	}
}

func (e *Emitter) invoke(event string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Printf("listener for %s panicked: %v", event, r)
		}
	}()
	fn(payload)
}
