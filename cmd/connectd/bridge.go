package main

import (
	"encoding/json"
	"net/http"

	"github.com/rexliu/splitsconnect/pkg/relay"
	"github.com/rexliu/splitsconnect/pkg/window"
)

func (d *daemon) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", d.serveBridge)
	mux.Handle("/rpc-payload", d.redeem.HTTPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "mode": d.environment(r.Context()).Mode})
	})
	return mux
}

// serveBridge runs one bridge relay for the lifetime of one page connection.
func (d *daemon) serveBridge(w http.ResponseWriter, r *http.Request) {
	sock, err := window.Upgrade(w, r, d.logger)
	if err != nil {
		d.logger.Warnf("bridge upgrade: %v", err)
		return
	}
	defer sock.Close()

	env := d.environment(r.Context())
	rl := relay.New(sock, d.newFactory(env),
		relay.WithStore(d.store),
		relay.WithPolicy(d.policy),
		relay.WithLogger(d.logger.With("relay")),
	)
	rl.Start(r.Context())
	defer rl.Close()
	d.logger.Debugf("page attached from %s (%s)", r.RemoteAddr, env.Mode)

	select {
	case <-sock.Done():
	case <-r.Context().Done():
	}
	d.logger.Debugf("page detached from %s", r.RemoteAddr)
}
