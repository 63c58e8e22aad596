package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/relay"
	"github.com/rexliu/splitsconnect/pkg/storagerelay"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", pingHandler(d.logger))
	srv.Register("get_env", d.handleGetEnv)
	srv.Register("set_env", d.handleSetEnv)
	srv.Register("sweep", d.handleSweep)
	srv.Register(storagerelay.MessageType, d.redeem.IPCHandler())
	srv.RegisterStream("subscribe_events", d.hub.Stream())
}

func pingHandler(logger ipc.Logger) ipc.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
		now := time.Now().UnixMilli()
		if logger != nil {
			logger.Printf("received ping at %d", now)
		}
		return map[string]any{"now": now}, nil
	}
}

func (d *daemon) handleGetEnv(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	return describe(d.environment(ctx)), nil
}

func (d *daemon) handleSetEnv(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, ipc.Errorf("INVALID_REQUEST", "invalid params", nil)
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		if err := d.store.Remove(ctx, relay.EnvKey); err != nil {
			return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
		}
		return describe(d.environment(ctx)), nil
	}
	if strings.ContainsAny(mode, "/:. ") {
		return nil, ipc.Errorf("INVALID_REQUEST", "mode must be a bare name", map[string]any{"mode": mode})
	}
	if err := d.store.Set(ctx, relay.EnvKey, []byte(mode)); err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	return describe(d.environment(ctx)), nil
}

func (d *daemon) handleSweep(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	removed, err := d.payloads.SweepExpired(ctx, d.payloads.Now())
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	return map[string]any{"removed": removed}, nil
}
