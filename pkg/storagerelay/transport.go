package storagerelay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rexliu/splitsconnect/pkg/ipc"
)

const maxRequestBytes = 16 << 10

// IPCHandler serves MessageType over the daemon socket. The sender origin is
// the one carried in the IPC envelope.
func (r *Relay) IPCHandler() ipc.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
		return r.HandleRaw(ctx, params, Sender{Origin: ipc.OriginFrom(ctx)}), nil
	}
}

// HTTPHandler serves redemption to browsers. The sender origin is the
// request's Origin header; only the trusted origin gets CORS headers.
func (r *Relay) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		sender := Sender{Origin: origin}
		if r.Allowed(sender) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}
		switch req.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBytes))
		reply := Reply{}
		if err == nil {
			reply = r.HandleRaw(req.Context(), body, sender)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(reply)
	})
}
