package provider

import (
	"context"
	"time"

	"github.com/rexliu/splitsconnect/pkg/bridge"
	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/events"
)

// Page events and globals the provider installs.
const (
	EventRequestProvider  = "eip6963:requestProvider"
	EventAnnounceProvider = "eip6963:announceProvider"
	EventInitialized      = "ethereum#initialized"

	GlobalEthereum       = "ethereum"
	GlobalSplitsEthereum = "splitsEthereum"
)

// Host is the page the provider is injected into; window.Window satisfies it.
type Host interface {
	AddEventListener(name string, fn events.Listener) (remove func())
	DispatchEvent(name string, detail any)
	SetGlobal(name string, v any) bool
	Global(name string) (any, bool)
}

// Announcement is the detail of an eip6963:announceProvider event.
type Announcement struct {
	Info     config.ProviderInfo
	Provider *Provider
}

// Start subscribes to the port, begins the ReadyRequest handshake and, when
// host is non-nil, installs the provider into the page. The handshake stops
// once the bridge is ready, ctx ends, or the provider is closed.
func (p *Provider) Start(ctx context.Context, host Host) {
	p.mu.Lock()
	if p.closed || p.handshakeOn {
		p.mu.Unlock()
		return
	}
	p.handshakeOn = true
	p.cleanup = append(p.cleanup, p.port.Subscribe(p.handle))
	p.mu.Unlock()

	if host != nil {
		remove := host.AddEventListener(EventRequestProvider, func(any) { p.announce(host) })
		p.mu.Lock()
		p.cleanup = append(p.cleanup, remove)
		p.mu.Unlock()
	}

	p.requestReady()
	go p.handshake(ctx)

	if host != nil {
		p.inject(host)
	}
}

func (p *Provider) inject(host Host) {
	if _, bound := host.Global(GlobalEthereum); bound {
		p.logf("splits-connect: %s already defined, overriding", GlobalEthereum)
	}
	host.SetGlobal(GlobalEthereum, p)
	host.SetGlobal(GlobalSplitsEthereum, p)
	host.DispatchEvent(EventInitialized, nil)
	p.announce(host)
}

func (p *Provider) announce(host Host) {
	host.DispatchEvent(EventAnnounceProvider, Announcement{Info: p.info, Provider: p})
}

func (p *Provider) requestReady() {
	if err := p.port.Post(bridge.NewReadyRequest()); err != nil {
		p.logf("ready request: %v", err)
	}
}

func (p *Provider) handshake(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if p.IsReady() {
				return
			}
			p.requestReady()
		}
	}
}

func (p *Provider) handle(msg bridge.Message) {
	switch {
	case bridge.IsReady(msg):
		p.markReady()
	case bridge.IsResponse(msg):
		p.handleResponse(msg)
	case bridge.IsEvent(msg):
		p.handleEvent(msg)
	case bridge.IsTriggerReload(msg):
		if p.onReload != nil {
			p.onReload()
		} else {
			p.logf("bridge requested a reload")
		}
	}
}

func (p *Provider) markReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready || p.closed {
		return
	}
	p.ready = true
	queue := p.queue
	p.queue = nil
	for _, msg := range queue {
		if err := p.port.Post(msg); err != nil {
			if ch, ok := p.pending[msg.ID]; ok {
				delete(p.pending, msg.ID)
				ch <- reply{err: err}
			}
		}
	}
}

func (p *Provider) handleResponse(msg bridge.Message) {
	p.mu.Lock()
	ch, ok := p.pending[msg.ID]
	delete(p.pending, msg.ID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- reply{err: msg.Error}
		return
	}
	ch <- reply{value: msg.Result}
}

func (p *Provider) handleEvent(msg bridge.Message) {
	switch msg.Event {
	case bridge.EventAccountsChanged:
		selected := ""
		if accounts := stringList(msg.Payload); len(accounts) > 0 {
			selected = accounts[0]
		}
		p.mu.Lock()
		p.selected = selected
		p.mu.Unlock()
	case bridge.EventChainChanged:
		chainID, _ := msg.Payload.(string)
		p.mu.Lock()
		p.chainID = chainID
		p.mu.Unlock()
	}
	if bridge.IsProviderEvent(msg.Event) {
		p.emitter.Emit(msg.Event, msg.Payload)
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
