package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/splitsconnect/pkg/logging"
	"github.com/rexliu/splitsconnect/pkg/provider"
	"github.com/rexliu/splitsconnect/pkg/window"
)

func callCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Send one EIP-1193 request through the daemon's page bridge",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params: %w", err)
				}
			}
			cfg, err := loadProfile()
			if err != nil {
				return err
			}
			if url == "" {
				url = "ws://" + cfg.HTTP.Addr + "/bridge"
			}
			if timeout == 0 {
				timeout = cfg.Bridge.Timeout()
			}

			ctx := cmd.Context()
			logger := logging.New("connect")
			logCfg := cfg.Logging
			logCfg.FilePath = ""
			if err := logger.Configure(logCfg); err != nil {
				return err
			}
			sock, err := window.Dial(ctx, url, logger)
			if err != nil {
				return err
			}
			defer sock.Close()

			p := provider.New(sock,
				provider.WithInfo(cfg.Environment().ProviderInfo()),
				provider.WithHandshakeInterval(cfg.Bridge.HandshakeEvery()),
				provider.WithRequestTimeout(timeout),
				provider.WithLogger(logger),
				provider.WithReloadHandler(func() {
					logger.Warnf("environment changed; rerun to use the new one")
				}),
			)
			p.Start(ctx, nil)
			defer p.Close()

			result, err := p.Request(ctx, provider.RequestArgs{Method: args[0], Params: params})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "bridge websocket url (default from profile http.addr)")
	cmd.Flags().DurationVar(&timeout, "wait", 0, "request timeout (default from profile bridge.requestTimeout)")
	return cmd
}
