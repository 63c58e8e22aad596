// Package provider is the page-side EIP-1193 provider. It never talks to the
// wallet directly: every call travels as a bridge message over a window.Port
// and is answered by the bridge relay.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/events"
	"github.com/rexliu/splitsconnect/pkg/window"
)

var (
	ErrInvalidRequest = errors.New("provider: invalid request")
	ErrClosed         = errors.New("provider: closed")
)

// DefaultHandshakeInterval is how often ReadyRequest is re-posted until the
// bridge answers.
const DefaultHandshakeInterval = 250 * time.Millisecond

// RequestArgs is an EIP-1193 request.
type RequestArgs struct {
	Method string
	Params any
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

type reply struct {
	value any
	err   error
}

// Provider is safe for concurrent use.
type Provider struct {
	port     window.Port
	info     config.ProviderInfo
	logger   Logger
	emitter  *events.Emitter
	interval time.Duration
	timeout  time.Duration
	onReload func()
	now      func() time.Time

	mu          sync.Mutex
	ready       bool
	closed      bool
	seq         uint64
	queue       []bridge.Message
	pending     map[string]chan reply
	chainID     string
	selected    string
	cleanup     []func()
	handshakeOn bool
	stop        chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithInfo sets the EIP-6963 descriptor.
func WithInfo(info config.ProviderInfo) Option {
	return func(p *Provider) { p.info = info }
}

// WithHandshakeInterval overrides DefaultHandshakeInterval.
func WithHandshakeInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds every Request. Zero waits for the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithReloadHandler sets what happens when the bridge asks for a reload.
func WithReloadHandler(fn func()) Option {
	return func(p *Provider) { p.onReload = fn }
}

// New builds a provider bound to port. Nothing is posted until Start.
func New(port window.Port, opts ...Option) *Provider {
	p := &Provider{
		port:     port,
		info:     config.EnvironmentFor(config.ModeProduction).ProviderInfo(),
		interval: DefaultHandshakeInterval,
		now:      time.Now,
		pending:  make(map[string]chan reply),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.emitter = events.NewEmitter(p.logger)
	return p
}

// Info returns the EIP-6963 descriptor.
func (p *Provider) Info() config.ProviderInfo { return p.info }

// IsSplitsConnect is always true.
func (p *Provider) IsSplitsConnect() bool { return true }

// IsMetaMask is always false.
func (p *Provider) IsMetaMask() bool { return false }

// ChainID returns the last chain reported by chainChanged, or "".
func (p *Provider) ChainID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID
}

// SelectedAddress returns the first account of the last accountsChanged, or "".
func (p *Provider) SelectedAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// IsReady reports whether the bridge has answered the handshake.
func (p *Provider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Request sends args to the wallet and waits for its answer. Before the bridge
// is ready the call is queued; queued calls go out in call order.
func (p *Provider) Request(ctx context.Context, args RequestArgs) (any, error) {
	if args.Method == "" {
		return nil, ErrInvalidRequest
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	id := fmt.Sprintf("%d:%d", p.now().UnixMilli(), p.seq)
	p.seq++
	ch := make(chan reply, 1)
	p.pending[id] = ch
	msg := bridge.NewRequest(id, bridge.RequestPayload{Method: args.Method, Params: args.Params})
	if !p.ready {
		p.queue = append(p.queue, msg)
	} else if err := p.port.Post(msg); err != nil {
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("post %s: %w", args.Method, err)
	}
	p.mu.Unlock()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		p.abandon(id)
		return nil, ctx.Err()
	}
}

// abandon forgets a call the caller stopped waiting for. A call still queued
// is never posted.
func (p *Provider) abandon(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, id)
	for i, m := range p.queue {
		if m.ID == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
}

// On registers fn for a provider event.
func (p *Provider) On(event string, fn events.Listener) events.ListenerID {
	return p.emitter.On(event, fn)
}

// AddListener is an alias for On.
func (p *Provider) AddListener(event string, fn events.Listener) events.ListenerID {
	return p.emitter.On(event, fn)
}

// Once registers fn for the next emission of event only.
func (p *Provider) Once(event string, fn events.Listener) events.ListenerID {
	return p.emitter.Once(event, fn)
}

// RemoveListener unregisters id. Unknown ids are ignored.
func (p *Provider) RemoveListener(event string, id events.ListenerID) {
	p.emitter.Remove(event, id)
}

// Off is an alias for RemoveListener.
func (p *Provider) Off(event string, id events.ListenerID) {
	p.emitter.Remove(event, id)
}

// Emit invokes the listeners for event. A panicking listener is logged and
// skipped.
func (p *Provider) Emit(event string, payload any) {
	p.emitter.Emit(event, payload)
}

// Close rejects every pending call with ErrClosed and detaches from the port
// and host. It is idempotent.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	cleanup := p.cleanup
	p.cleanup = nil
	pending := p.pending
	p.pending = make(map[string]chan reply)
	p.queue = nil
	p.mu.Unlock()

	for _, fn := range cleanup {
		fn()
	}
	for _, ch := range pending {
		ch <- reply{err: ErrClosed}
	}
	p.emitter.RemoveAll()
}

func (p *Provider) logf(format string, v ...any) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}
