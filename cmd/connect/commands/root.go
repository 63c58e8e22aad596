// Package commands implements the connect CLI.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/ipc"
)

var (
	profile        string
	socketOverride string
	callTimeout    time.Duration
)

// Execute runs the root command until it finishes or the user interrupts it.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRoot().ExecuteContext(ctx)
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "connect",
		Short:        "Operate the Splits Connect daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&profile, "profile", "./_dev_profile", "profile directory")
	root.PersistentFlags().StringVar(&socketOverride, "socket", "", "override socket path")
	root.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second, "daemon call timeout")

	root.AddCommand(
		initCmd(),
		diagCmd(),
		pingCmd(),
		envCmd(),
		redeemCmd(),
		sweepCmd(),
		watchCmd(),
		callCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "connect", version)
		},
	}
}

const version = "0.1.0"

func resolveSocketPath() (string, error) {
	if socketOverride != "" {
		return socketOverride, nil
	}
	cfg, err := loadProfile()
	if err != nil {
		return "", err
	}
	return config.ResolvePath(profile, cfg.IPC.SocketPath), nil
}

func loadProfile() (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config not found in %s (run 'connect init --profile %s')", profile, profile)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func rpcCall(ctx context.Context, req ipc.Request) (*ipc.Response, error) {
	socketPath, err := resolveSocketPath()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := ipc.Call(ctx, socketPath, req)
	if err != nil {
		var ipcErr *ipc.Error
		if errors.As(err, &ipcErr) {
			return nil, fmt.Errorf("daemon error: %s (%s)", ipcErr.Message, ipcErr.Code)
		}
		return nil, err
	}
	return resp, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
