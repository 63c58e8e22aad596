// Package relay is the bridge between a page's provider and the wallet
// session. One Relay serves one page for the page's lifetime.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/kv"
	"github.com/rexliu/splitsconnect/pkg/offload"
	"github.com/rexliu/splitsconnect/pkg/wallet"
	"github.com/rexliu/splitsconnect/pkg/window"
)

// EnvKey is the store key whose change makes the page reload.
const EnvKey = "env"

// ErrClosed is reported to requests that lose their session to teardown.
var ErrClosed = errors.New("relay: closed")

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithDocumentReady delays session creation until ready is closed.
func WithDocumentReady(ready <-chan struct{}) Option {
	return func(r *Relay) { r.docReady = ready }
}

// WithPolicy sets the offload policy applied before forwarding. Without one
// payloads are forwarded as sent.
func WithPolicy(p *offload.Policy) Option {
	return func(r *Relay) { r.policy = p }
}

// WithStore sets the store watched for EnvKey changes.
func WithStore(s kv.Store) Option {
	return func(r *Relay) { r.store = s }
}

// Relay is safe for concurrent use.
type Relay struct {
	port     window.Port
	factory  wallet.Factory
	policy   *offload.Policy
	store    kv.Store
	logger   Logger
	docReady <-chan struct{}

	init   singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	notify chan struct{}
	once   sync.Once

	mu       sync.Mutex
	started  bool
	closed   bool
	session  wallet.Session
	removers []func()
	detach   []func()
	queue    []bridge.Message
}

// New builds a relay that creates wallet sessions with factory.
func New(port window.Port, factory wallet.Factory, opts ...Option) *Relay {
	r := &Relay{
		port:    port,
		factory: factory,
		notify:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start attaches to the port, announces readiness and begins processing.
// Cancelling ctx tears the relay down.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.detach = append(r.detach, r.port.Subscribe(r.handle))
	if r.store != nil {
		r.detach = append(r.detach, r.store.Watch(r.watchEnv))
	}
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, r.Close)
	r.mu.Lock()
	r.detach = append(r.detach, func() { stop() })
	r.mu.Unlock()

	r.post(bridge.NewReady())
	go r.work()
}

func (r *Relay) handle(msg bridge.Message) {
	switch {
	case bridge.IsReadyRequest(msg):
		r.post(bridge.NewReady())
	case bridge.IsRequest(msg):
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.queue = append(r.queue, msg)
		r.mu.Unlock()
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
}

func (r *Relay) watchEnv(c kv.Change) {
	if c.Key == EnvKey {
		r.post(bridge.NewTriggerReload())
	}
}

// ensureSession returns the live session, creating it if needed. Concurrent
// callers share one creation.
func (r *Relay) ensureSession() (wallet.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.session != nil {
		s := r.session
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	v, err, _ := r.init.Do("session", func() (any, error) {
		r.mu.Lock()
		if s := r.session; s != nil {
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		if r.docReady != nil {
			select {
			case <-r.docReady:
			case <-r.ctx.Done():
				return nil, ErrClosed
			}
		}
		s, err := r.factory(r.ctx)
		if err != nil {
			return nil, fmt.Errorf("create wallet session: %w", err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			s.Destroy()
			return nil, ErrClosed
		}
		r.session = s
		for _, name := range bridge.ProviderEvents {
			name := name
			r.removers = append(r.removers, s.On(name, func(payload any) {
				r.post(bridge.NewEvent(name, payload))
			}))
		}
		r.logf("wallet session ready")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(wallet.Session), nil
}

// work dispatches queued requests one at a time, in arrival order. Only the
// dispatch is serialized; answers are awaited concurrently.
func (r *Relay) work() {
	for {
		msg, ok := r.next()
		if !ok {
			return
		}
		r.dispatch(msg)
	}
}

func (r *Relay) next() (bridge.Message, bool) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return bridge.Message{}, false
		}
		if len(r.queue) > 0 {
			msg := r.queue[0]
			r.queue[0] = bridge.Message{}
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return msg, true
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-r.ctx.Done():
			return bridge.Message{}, false
		}
	}
}

func (r *Relay) dispatch(msg bridge.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.logf("request %s panicked: %v", msg.ID, p)
			r.respond(msg.ID, nil, fmt.Errorf("internal error: %v", p))
		}
	}()
	session, err := r.ensureSession()
	if err != nil {
		r.respond(msg.ID, nil, err)
		return
	}
	payload, ok := bridge.DecodeRequestPayload(msg.Payload)
	if !ok {
		r.respond(msg.ID, nil, bridge.Errorf(-32600, "invalid request payload"))
		return
	}
	if r.policy != nil {
		payload, _ = r.policy.Apply(r.ctx, payload)
	}
	results := session.Request(r.ctx, payload)
	go r.await(msg.ID, results)
}

func (r *Relay) await(id string, results <-chan wallet.Result) {
	select {
	case res := <-results:
		r.respond(id, res.Value, res.Err)
	case <-r.ctx.Done():
	}
}

func (r *Relay) respond(id string, result any, err error) {
	if err != nil {
		r.post(bridge.NewErrorResponse(id, bridge.SerializeError(err)))
		return
	}
	r.post(bridge.NewResult(id, result))
}

func (r *Relay) post(msg bridge.Message) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if err := r.port.Post(msg); err != nil {
		r.logf("post %s: %v", msg.Type, err)
	}
}

// Close detaches every listener, destroys the session and drops queued
// requests. Later messages are ignored. It is idempotent.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		detach := r.detach
		removers := r.removers
		session := r.session
		r.detach, r.removers, r.session, r.queue = nil, nil, nil, nil
		r.mu.Unlock()

		for _, fn := range detach {
			fn()
		}
		for _, fn := range removers {
			fn()
		}
		if session != nil {
			session.Destroy()
		}
		r.cancel()
		r.logf("relay closed")
	})
}

func (r *Relay) logf(format string, v ...any) {
	if r.logger != nil {
		r.logger.Printf(format, v...)
	}
}
