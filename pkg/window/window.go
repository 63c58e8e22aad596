// Package window models the channels between isolated contexts. A Port is the
// postMessage surface; Window is an in-memory page context and Socket carries
// the same messages over a websocket.
package window

import (
	"errors"
	"sync"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/events"
)

// ErrClosed is returned when posting to a closed port.
var ErrClosed = errors.New("window: closed")

// Handler receives every message posted to a port.
type Handler func(bridge.Message)

// Port is an asynchronous, best-effort message channel.
type Port interface {
	Post(msg bridge.Message) error
	Subscribe(h Handler) (unsubscribe func())
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// subscribers keeps handlers in registration order.
type subscribers struct {
	mu   sync.Mutex
	list []subscriber
	next uint64
}

type subscriber struct {
	id uint64
	h  Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.list = append(s.list, subscriber{id: id, h: h})
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.list {
				if sub.id == id {
					s.list = append(s.list[:i:i], s.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers) snapshot() []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscriber(nil), s.list...)
}

func (s *subscribers) deliver(msg bridge.Message, logger Logger) {
	for _, sub := range s.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil && logger != nil {
					logger.Printf("message handler panicked: %v", r)
				}
			}()
			sub.h(msg)
		}()
	}
}

// Window is an in-memory page context. Posted messages are delivered to every
// subscriber (the poster included) in post order on a dispatch goroutine.
type Window struct {
	subs   subscribers
	logger Logger

	mu     sync.Mutex
	queue  []bridge.Message
	closed bool
	notify chan struct{}
	done   chan struct{}

	dom     *events.Emitter
	globals map[string]any
}

// New starts a window. logger may be nil.
func New(logger Logger) *Window {
	w := &Window{
		logger:  logger,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		dom:     events.NewEmitter(logger),
		globals: make(map[string]any),
	}
	go w.dispatch()
	return w
}

// Post queues msg for delivery.
func (w *Window) Post(msg bridge.Message) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, msg)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers h for every later delivery.
func (w *Window) Subscribe(h Handler) func() {
	return w.subs.add(h)
}

func (w *Window) dispatch() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				close(w.done)
				return
			}
			<-w.notify
			continue
		}
		msg := w.queue[0]
		w.queue[0] = bridge.Message{}
		w.queue = w.queue[1:]
		w.mu.Unlock()
		w.subs.deliver(msg, w.logger)
	}
}

// AddEventListener registers fn for a DOM-style custom event.
func (w *Window) AddEventListener(name string, fn events.Listener) func() {
	id := w.dom.On(name, fn)
	return func() { w.dom.Remove(name, id) }
}

// DispatchEvent synchronously invokes the listeners for name.
func (w *Window) DispatchEvent(name string, detail any) {
	w.dom.Emit(name, detail)
}

// SetGlobal binds v under name and reports whether a value was already bound.
func (w *Window) SetGlobal(name string, v any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, existed := w.globals[name]
	w.globals[name] = v
	return existed
}

// Global returns the value bound under name.
func (w *Window) Global(name string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.globals[name]
	return v, ok
}

// Close stops delivery after the already queued messages have been handed out.
// It must not be called from a message handler.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	<-w.done
}
