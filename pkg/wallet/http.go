package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/events"
)

// SessionConfig describes where and as whom an HTTPSession connects.
type SessionConfig struct {
	RelayURL   string
	DialogHost string
	Info       config.ProviderInfo
	HTTP       *http.Client
	Timeout    time.Duration
	Logger     Logger
}

// ConfigFor builds a SessionConfig for env.
func ConfigFor(env config.Environment) SessionConfig {
	return SessionConfig{
		RelayURL:   env.RelayURL,
		DialogHost: env.DialogHost(),
		Info:       env.ProviderInfo(),
	}
}

// HTTPFactory returns a Factory producing HTTPSessions for cfg.
func HTTPFactory(cfg SessionConfig) Factory {
	return func(ctx context.Context) (Session, error) {
		return NewHTTPSession(ctx, cfg)
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64           `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *bridge.RPCError `json:"error"`
}

// HTTPSession posts every call to the relay endpoint and derives provider
// events from the answers to account and chain queries.
type HTTPSession struct {
	cfg     SessionConfig
	client  *http.Client
	emitter *events.Emitter
	ctx     context.Context
	cancel  context.CancelFunc
	seq     atomic.Uint64

	notify chan struct{}

	mu        sync.Mutex
	queue     []queuedCall
	destroyed bool
	connected bool
	chainID   string
	accounts  []string
}

type queuedCall struct {
	ctx context.Context
	req rpcRequest
	out chan Result
}

// NewHTTPSession validates cfg. No network traffic happens until the first call.
func NewHTTPSession(ctx context.Context, cfg SessionConfig) (*HTTPSession, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("wallet: relay url required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := cfg.HTTP
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &HTTPSession{
		cfg:     cfg,
		client:  client,
		emitter: events.NewEmitter(cfg.Logger),
		ctx:     sctx,
		cancel:  cancel,
		notify:  make(chan struct{}, 1),
	}
	go s.run()
	s.logf("wallet session for %s via %s", cfg.Info.Name, cfg.RelayURL)
	return s, nil
}

// Request implements Session. Calls are queued and posted one at a time, each
// after the previous one has been answered.
func (s *HTTPSession) Request(ctx context.Context, payload bridge.RequestPayload) <-chan Result {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return Resolved(Result{Err: ErrDestroyed})
	}
	out := make(chan Result, 1)
	s.queue = append(s.queue, queuedCall{
		ctx: ctx,
		req: rpcRequest{JSONRPC: "2.0", ID: s.seq.Add(1), Method: payload.Method, Params: payload.Params},
		out: out,
	})
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return out
}

func (s *HTTPSession) run() {
	for {
		c, ok := s.next()
		if !ok {
			return
		}
		if err := c.ctx.Err(); err != nil {
			c.out <- Result{Err: err}
			continue
		}
		value, err := s.call(c.ctx, c.req)
		if err == nil {
			s.observe(c.req.Method, value)
		}
		c.out <- Result{Value: value, Err: err}
	}
}

// next pops the oldest call. Once destroyed it fails everything still queued
// and reports false.
func (s *HTTPSession) next() (queuedCall, bool) {
	for {
		s.mu.Lock()
		if s.destroyed {
			pending := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, c := range pending {
				c.out <- Result{Err: ErrDestroyed}
			}
			return queuedCall{}, false
		}
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue[0] = queuedCall{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return c, true
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-s.ctx.Done():
		}
	}
}

func (s *HTTPSession) call(ctx context.Context, in rpcRequest) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RelayURL, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Info.RDNS != "" {
		req.Header.Set("X-Provider-Rdns", s.cfg.Info.RDNS)
	}
	if s.cfg.DialogHost != "" {
		req.Header.Set("X-Dialog-Host", s.cfg.DialogHost)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, ErrDestroyed
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("relay post %s: %s", in.Method, resp.Status)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("relay decode %s: %w", in.Method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if len(out.Result) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(out.Result, &value); err != nil {
		return nil, fmt.Errorf("relay decode %s: %w", in.Method, err)
	}
	return value, nil
}

func (s *HTTPSession) observe(method string, value any) {
	switch method {
	case "eth_chainId":
		chainID, ok := value.(string)
		if !ok {
			return
		}
		s.mu.Lock()
		first := !s.connected
		changed := s.connected && s.chainID != chainID
		s.connected = true
		s.chainID = chainID
		s.mu.Unlock()
		if first {
			s.emitter.Emit(bridge.EventConnect, map[string]any{"chainId": chainID})
		} else if changed {
			s.emitter.Emit(bridge.EventChainChanged, chainID)
		}
	case "eth_accounts", "eth_requestAccounts":
		list, ok := value.([]any)
		if !ok {
			return
		}
		accounts := make([]string, 0, len(list))
		for _, v := range list {
			if a, ok := v.(string); ok {
				accounts = append(accounts, a)
			}
		}
		s.mu.Lock()
		changed := !reflect.DeepEqual(s.accounts, accounts)
		s.accounts = accounts
		s.mu.Unlock()
		if changed {
			s.emitter.Emit(bridge.EventAccountsChanged, accounts)
		}
	}
}

// On implements Session.
func (s *HTTPSession) On(event string, fn events.Listener) func() {
	id := s.emitter.On(event, fn)
	return func() { s.emitter.Remove(event, id) }
}

// Destroy aborts the in-flight call, fails queued ones and drops all
// listeners. It is idempotent.
func (s *HTTPSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()
	s.cancel()
	s.emitter.RemoveAll()
}

func (s *HTTPSession) logf(format string, v ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, v...)
	}
}

var _ Session = (*HTTPSession)(nil)
