package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/kv/sqlite"
	"github.com/rexliu/splitsconnect/pkg/logging"
	"github.com/rexliu/splitsconnect/pkg/provider"
	"github.com/rexliu/splitsconnect/pkg/rpcstore"
	"github.com/rexliu/splitsconnect/pkg/storagerelay"
	"github.com/rexliu/splitsconnect/pkg/window"
)

func newTestDaemon(t *testing.T, mutate func(*config.ProfileConfig)) *daemon {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(ctx, sqlite.Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg := config.DefaultProfile("test")
	if mutate != nil {
		mutate(cfg)
	}
	d := newDaemon(ctx, cfg, store, logging.Discard())
	t.Cleanup(d.Close)
	return d
}

func TestSetEnvMovesTrustAndBroadcasts(t *testing.T) {
	d := newTestDaemon(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events := d.hub.Subscribe(ctx)

	if got := d.redeem.TrustedOrigin(); got != "https://teams.splits.org" {
		t.Fatalf("unexpected initial origin %s", got)
	}
	res, rpcErr := d.handleSetEnv(ctx, json.RawMessage(`{"mode":"dev"}`))
	if rpcErr != nil {
		t.Fatalf("set_env: %v", rpcErr)
	}
	if view := res.(envView); view.Mode != "dev" || view.Host != "http://localhost:3001" {
		t.Fatalf("unexpected env %+v", view)
	}
	if got := d.redeem.TrustedOrigin(); got != "http://localhost:3001" {
		t.Fatalf("trusted origin not updated: %s", got)
	}
	select {
	case frame := <-events:
		if !strings.Contains(string(frame), `"event":"env_changed"`) {
			t.Fatalf("unexpected event %s", frame)
		}
	case <-ctx.Done():
		t.Fatal("no env_changed event")
	}

	if _, rpcErr := d.handleSetEnv(ctx, json.RawMessage(`{"mode":"evil.example/x"}`)); rpcErr == nil {
		t.Fatal("expected rejection of a host-like mode")
	}
	res, rpcErr = d.handleSetEnv(ctx, json.RawMessage(`{"mode":""}`))
	if rpcErr != nil || res.(envView).Mode != config.ModeProduction {
		t.Fatalf("clearing env should fall back to the profile: %+v %v", res, rpcErr)
	}
}

func TestRedeemOverIPC(t *testing.T) {
	d := newTestDaemon(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	socket := filepath.Join(t.TempDir(), "ipc.sock")
	srv := ipc.NewServer(nil)
	d.registerHandlers(srv)
	if err := srv.Start(ctx, socket); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	token, err := d.payloads.Put(ctx, "0xfeed")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	params, _ := json.Marshal(storagerelay.Request{Type: storagerelay.MessageType, Token: token})
	redeem := func(origin string) storagerelay.Reply {
		t.Helper()
		resp, err := ipc.Call(ctx, socket, ipc.Request{Type: storagerelay.MessageType, Origin: origin, Params: params})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		var reply storagerelay.Reply
		if err := json.Unmarshal(resp.Result, &reply); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return reply
	}

	if reply := redeem("https://evil.example"); reply.OK {
		t.Fatal("foreign origin redeemed")
	}
	if reply := redeem("https://teams.splits.org"); !reply.OK || reply.Value != "0xfeed" {
		t.Fatalf("trusted origin denied: %+v", reply)
	}
	if reply := redeem("https://teams.splits.org"); reply.OK {
		t.Fatal("token redeemed twice")
	}
}

// walletRelay answers JSON-RPC calls the way the hosted relay would.
func walletRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64           `json:"id"`
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result any = "0x1"
		if req.Method == "eth_sendTransaction" && len(req.Params) > 0 {
			result = req.Params[0]["data"]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBridgeEndToEnd(t *testing.T) {
	wr := walletRelay(t)
	d := newTestDaemon(t, func(cfg *config.ProfileConfig) { cfg.RelayURL = wr.URL })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := httptest.NewServer(d.httpHandler())
	t.Cleanup(srv.Close)

	sock, err := window.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	p := provider.New(sock, provider.WithHandshakeInterval(10*time.Millisecond))
	p.Start(ctx, nil)
	t.Cleanup(p.Close)

	chainID, err := p.Request(ctx, provider.RequestArgs{Method: "eth_chainId"})
	if err != nil || chainID != "0x1" {
		t.Fatalf("eth_chainId = %v, %v", chainID, err)
	}

	data := "0x" + strings.Repeat("cd", 2499)
	echoed, err := p.Request(ctx, provider.RequestArgs{
		Method: "eth_sendTransaction",
		Params: []any{map[string]any{"to": "0x2", "data": data}},
	})
	if err != nil {
		t.Fatalf("eth_sendTransaction: %v", err)
	}
	placeholder, _ := echoed.(string)
	_, token, ok := rpcstore.DecodePlaceholder(placeholder)
	if !ok {
		t.Fatalf("wallet saw inline data instead of a placeholder: %.40s", placeholder)
	}

	body := strings.NewReader(`{"type":"` + storagerelay.MessageType + `","token":"` + token + `"}`)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/rpc-payload", body)
	req.Header.Set("Origin", "https://teams.splits.org")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	defer resp.Body.Close()
	var reply storagerelay.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reply.OK || reply.Value != data {
		t.Fatalf("redemption failed: ok=%v len=%d", reply.OK, len(reply.Value))
	}
}
