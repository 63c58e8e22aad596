package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/window"
)

// fakeBridge answers on the content side of a window.
type fakeBridge struct {
	w       *window.Window
	ready   atomic.Bool
	mu      sync.Mutex
	seen    []string
	handshk atomic.Int32
	answer  func(m bridge.Message) (bridge.Message, bool)
}

func newFakeBridge(w *window.Window) *fakeBridge {
	b := &fakeBridge{w: w}
	w.Subscribe(func(m bridge.Message) {
		switch {
		case bridge.IsReadyRequest(m):
			b.handshk.Add(1)
			if b.ready.Load() {
				_ = w.Post(bridge.NewReady())
			}
		case bridge.IsRequest(m):
			p, _ := bridge.DecodeRequestPayload(m.Payload)
			b.mu.Lock()
			b.seen = append(b.seen, p.Method)
			answer := b.answer
			b.mu.Unlock()
			if answer == nil {
				_ = w.Post(bridge.NewResult(m.ID, p.Method))
				return
			}
			if resp, ok := answer(m); ok {
				_ = w.Post(resp)
			}
		}
	})
	return b
}

func (b *fakeBridge) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

func setup(t *testing.T, opts ...Option) (*Provider, *window.Window, *fakeBridge) {
	t.Helper()
	w := window.New(nil)
	b := newFakeBridge(w)
	opts = append([]Option{WithHandshakeInterval(5 * time.Millisecond)}, opts...)
	p := New(w, opts...)
	t.Cleanup(func() {
		p.Close()
		w.Close()
	})
	return p, w, b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (p *Provider) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func TestQueuedRequestsDrainInOrder(t *testing.T) {
	p, _, b := setup(t)
	p.Start(context.Background(), nil)

	results := make(chan string, 2)
	for i, method := range []string{"eth_requestAccounts", "eth_chainId"} {
		method := method
		go func() {
			v, err := p.Request(context.Background(), RequestArgs{Method: method})
			if err != nil {
				results <- err.Error()
				return
			}
			results <- v.(string)
		}()
		n := i + 1
		waitFor(t, func() bool { return p.queued() == n })
	}
	if len(b.methods()) != 0 {
		t.Fatal("requests left the page before the bridge was ready")
	}

	b.ready.Store(true)
	waitFor(t, p.IsReady)
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r] = true
		case <-time.After(2 * time.Second):
			t.Fatal("request never resolved")
		}
	}
	if !got["eth_requestAccounts"] || !got["eth_chainId"] {
		t.Fatalf("unexpected results %v", got)
	}
	if m := b.methods(); len(m) != 2 || m[0] != "eth_requestAccounts" || m[1] != "eth_chainId" {
		t.Fatalf("bridge saw %v", m)
	}
}

func TestHandshakeStopsOnceReady(t *testing.T) {
	p, _, b := setup(t)
	p.Start(context.Background(), nil)
	waitFor(t, func() bool { return b.handshk.Load() >= 3 })

	b.ready.Store(true)
	waitFor(t, p.IsReady)
	time.Sleep(20 * time.Millisecond)
	settled := b.handshk.Load()
	time.Sleep(30 * time.Millisecond)
	if after := b.handshk.Load(); after != settled {
		t.Fatalf("handshake kept polling: %d -> %d", settled, after)
	}
}

func TestInvalidRequest(t *testing.T) {
	p, _, b := setup(t)
	b.ready.Store(true)
	p.Start(context.Background(), nil)
	if _, err := p.Request(context.Background(), RequestArgs{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if p.queued() != 0 || len(b.methods()) != 0 {
		t.Fatal("invalid request reached the queue")
	}
}

func TestErrorResponse(t *testing.T) {
	p, _, b := setup(t)
	b.ready.Store(true)
	b.answer = func(m bridge.Message) (bridge.Message, bool) {
		rpcErr := bridge.Errorf(4001, "User rejected the request.")
		rpcErr.Data = map[string]any{"reason": "denied"}
		return bridge.NewErrorResponse(m.ID, rpcErr), true
	}
	p.Start(context.Background(), nil)

	_, err := p.Request(context.Background(), RequestArgs{Method: "eth_sendTransaction"})
	var rpcErr *bridge.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if code, ok := rpcErr.ErrorCode(); !ok || code != 4001 || rpcErr.Message != "User rejected the request." {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestUnknownResponseIsDropped(t *testing.T) {
	p, w, b := setup(t)
	b.ready.Store(true)
	release := make(chan string, 1)
	b.answer = func(m bridge.Message) (bridge.Message, bool) {
		release <- m.ID
		return bridge.Message{}, false
	}
	p.Start(context.Background(), nil)

	done := make(chan any, 1)
	go func() {
		v, _ := p.Request(context.Background(), RequestArgs{Method: "eth_chainId"})
		done <- v
	}()
	id := <-release
	_ = w.Post(bridge.NewResult("0:999", "stray"))
	select {
	case v := <-done:
		t.Fatalf("resolved by a stray response: %v", v)
	case <-time.After(30 * time.Millisecond):
	}
	_ = w.Post(bridge.NewResult(id, "0x1"))
	select {
	case v := <-done:
		if v != "0x1" {
			t.Fatalf("unexpected result %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request never resolved")
	}
}

func TestRequestTimeout(t *testing.T) {
	p, _, b := setup(t, WithRequestTimeout(20*time.Millisecond))
	b.ready.Store(true)
	b.answer = func(bridge.Message) (bridge.Message, bool) { return bridge.Message{}, false }
	p.Start(context.Background(), nil)

	_, err := p.Request(context.Background(), RequestArgs{Method: "eth_sendTransaction"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) != 0 {
		t.Fatal("timed out call still pending")
	}
}

func TestCancelledQueuedRequestIsNeverSent(t *testing.T) {
	p, _, b := setup(t)
	p.Start(context.Background(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Request(ctx, RequestArgs{Method: "eth_sendTransaction"})
		done <- err
	}()
	waitFor(t, func() bool { return p.queued() == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
	b.ready.Store(true)
	waitFor(t, p.IsReady)
	time.Sleep(10 * time.Millisecond)
	if m := b.methods(); len(m) != 0 {
		t.Fatalf("cancelled request was sent: %v", m)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	p, _, _ := setup(t)
	p.Start(context.Background(), nil)
	done := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), RequestArgs{Method: "eth_chainId"})
		done <- err
	}()
	waitFor(t, func() bool { return p.queued() == 1 })
	p.Close()
	p.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := p.Request(context.Background(), RequestArgs{Method: "eth_chainId"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestEventsUpdateStateAndIsolateListeners(t *testing.T) {
	p, w, b := setup(t)
	b.ready.Store(true)
	p.Start(context.Background(), nil)

	got := make(chan any, 4)
	p.On(bridge.EventAccountsChanged, func(any) { panic("faulty listener") })
	p.On(bridge.EventAccountsChanged, func(v any) { got <- v })
	p.Once(bridge.EventChainChanged, func(v any) { got <- v })

	_ = w.Post(bridge.NewEvent(bridge.EventAccountsChanged, []any{"0xabc", "0xdef"}))
	_ = w.Post(bridge.NewEvent(bridge.EventChainChanged, "0xa"))
	_ = w.Post(bridge.NewEvent("somethingElse", "ignored"))
	_ = w.Post(bridge.NewEvent(bridge.EventChainChanged, 10))

	waitFor(t, func() bool { return len(got) == 2 })
	waitFor(t, func() bool { return p.ChainID() == "" && p.SelectedAddress() == "0xabc" })
	if first := <-got; fmt.Sprint(first) != "[0xabc 0xdef]" {
		t.Fatalf("unexpected accounts payload %v", first)
	}
	if second := <-got; second != "0xa" {
		t.Fatalf("unexpected chain payload %v", second)
	}
}

func TestRemoveListener(t *testing.T) {
	p, w, b := setup(t)
	b.ready.Store(true)
	p.Start(context.Background(), nil)

	var calls atomic.Int32
	id := p.AddListener(bridge.EventChainChanged, func(any) { calls.Add(1) })
	p.Off(bridge.EventChainChanged, id)
	p.RemoveListener(bridge.EventChainChanged, id)
	_ = w.Post(bridge.NewEvent(bridge.EventChainChanged, "0x1"))
	waitFor(t, func() bool { return p.ChainID() == "0x1" })
	if calls.Load() != 0 {
		t.Fatal("removed listener was called")
	}
}

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func TestStartInjectsIntoHost(t *testing.T) {
	logger := &recordLogger{}
	p, w, _ := setup(t, WithLogger(logger))
	w.SetGlobal(GlobalEthereum, "another wallet")

	var initialized atomic.Int32
	announced := make(chan Announcement, 4)
	w.AddEventListener(EventInitialized, func(any) { initialized.Add(1) })
	w.AddEventListener(EventAnnounceProvider, func(v any) { announced <- v.(Announcement) })

	p.Start(context.Background(), w)
	if v, _ := w.Global(GlobalEthereum); v != p {
		t.Fatal("ethereum not bound to the provider")
	}
	if v, _ := w.Global(GlobalSplitsEthereum); v != p {
		t.Fatal("splitsEthereum not bound to the provider")
	}
	if initialized.Load() != 1 {
		t.Fatal("ethereum#initialized not dispatched")
	}
	if a := <-announced; a.Provider != p || a.Info.RDNS != "org.splits.teams.connect" {
		t.Fatalf("unexpected announcement %+v", a.Info)
	}

	w.DispatchEvent(EventRequestProvider, nil)
	if len(announced) != 1 {
		t.Fatal("requestProvider did not re-announce")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.lines) == 0 || !strings.Contains(logger.lines[0], "already defined") {
		t.Fatalf("expected override warning, got %v", logger.lines)
	}
	if !p.IsSplitsConnect() || p.IsMetaMask() {
		t.Fatal("identity flags wrong")
	}
}

func TestTriggerReload(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	p, w, _ := setup(t, WithReloadHandler(func() { reloaded <- struct{}{} }))
	p.Start(context.Background(), nil)
	_ = w.Post(bridge.NewTriggerReload())
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reload handler not called")
	}
}
