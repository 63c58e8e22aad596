package main

import (
	"context"

	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/kv"
	"github.com/rexliu/splitsconnect/pkg/logging"
	"github.com/rexliu/splitsconnect/pkg/offload"
	"github.com/rexliu/splitsconnect/pkg/relay"
	"github.com/rexliu/splitsconnect/pkg/rpcstore"
	"github.com/rexliu/splitsconnect/pkg/storagerelay"
	"github.com/rexliu/splitsconnect/pkg/wallet"
)

// daemon is the privileged context: it owns the store and serves every page
// bridge and every redemption.
type daemon struct {
	cfg      *config.ProfileConfig
	store    kv.Store
	payloads *rpcstore.Store
	policy   *offload.Policy
	redeem   *storagerelay.Relay
	hub      *ipc.Hub
	logger   *logging.Logger
	unwatch  func()

	// newFactory builds the wallet session factory for one page.
	newFactory func(env config.Environment) wallet.Factory
}

func newDaemon(ctx context.Context, cfg *config.ProfileConfig, store kv.Store, logger *logging.Logger) *daemon {
	payloads := rpcstore.New(store, rpcstore.WithTTL(cfg.RPCStore.TTLDuration()))
	d := &daemon{
		cfg:      cfg,
		store:    store,
		payloads: payloads,
		hub:      ipc.NewHub(logger),
		logger:   logger,
	}
	opts := []offload.Option{offload.WithLogger(logger.With("offload"))}
	if cfg.Offload.InlineLimit > 0 {
		opts = append(opts, offload.WithInlineLimit(cfg.Offload.InlineLimit))
	}
	if len(cfg.Offload.Methods) > 0 {
		opts = append(opts, offload.WithMethods(cfg.Offload.Methods...))
	}
	d.policy = offload.New(payloads, cfg.ExtensionID, opts...)
	d.redeem = storagerelay.New(payloads, d.environment(ctx).TrustedOrigin, logger.With("storage"))
	d.newFactory = func(env config.Environment) wallet.Factory {
		sc := wallet.ConfigFor(env)
		sc.Logger = logger.With("wallet")
		return wallet.HTTPFactory(sc)
	}
	d.unwatch = store.Watch(d.onChange)
	return d
}

// mode is the stored environment override, falling back to the profile.
func (d *daemon) mode(ctx context.Context) string {
	v, ok, err := d.store.Get(ctx, relay.EnvKey)
	if err != nil {
		d.logger.Warnf("read %s: %v", relay.EnvKey, err)
	}
	if err != nil || !ok || len(v) == 0 {
		return d.cfg.Mode
	}
	return string(v)
}

func (d *daemon) environment(ctx context.Context) config.Environment {
	return d.cfg.EnvironmentFor(d.mode(ctx))
}

func (d *daemon) onChange(c kv.Change) {
	if c.Key != relay.EnvKey {
		return
	}
	mode := string(c.Value)
	if c.Deleted || mode == "" {
		mode = d.cfg.Mode
	}
	env := d.cfg.EnvironmentFor(mode)
	d.redeem.SetTrustedOrigin(env.TrustedOrigin)
	d.logger.Printf("environment changed to %s; trusting %s", env.Mode, env.TrustedOrigin)
	d.hub.Broadcast(envEvent{Event: "env_changed", Environment: describe(env)})
}

func (d *daemon) Close() {
	if d.unwatch != nil {
		d.unwatch()
	}
}

type envView struct {
	Mode          string              `json:"mode"`
	Host          string              `json:"host"`
	Name          string              `json:"name"`
	RelayURL      string              `json:"relayUrl"`
	TrustedOrigin string              `json:"trustedOrigin"`
	Provider      config.ProviderInfo `json:"provider"`
}

type envEvent struct {
	Event       string  `json:"event"`
	Environment envView `json:"environment"`
}

func describe(env config.Environment) envView {
	info := env.ProviderInfo()
	info.Icon = ""
	return envView{
		Mode:          env.Mode,
		Host:          env.Host,
		Name:          env.Name,
		RelayURL:      env.RelayURL,
		TrustedOrigin: env.TrustedOrigin,
		Provider:      info,
	}
}
