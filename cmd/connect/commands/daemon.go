package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/storagerelay"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Call the daemon ping endpoint via IPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), ipc.Request{Type: "ping"})
			if err != nil {
				return err
			}
			var data struct {
				Now int64 `json:"now"`
			}
			if err := json.Unmarshal(resp.Result, &data); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon responded: now=%d\n", data.Now)
			return nil
		},
	}
}

func envCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show or switch the active environment",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the environment the daemon serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), ipc.Request{Type: "get_env"})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp.Result)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <mode>",
		Short: "Switch the environment; attached pages reload",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ""
			if len(args) == 1 {
				mode = args[0]
			}
			params, err := json.Marshal(map[string]string{"mode": mode})
			if err != nil {
				return err
			}
			resp, err := rpcCall(cmd.Context(), ipc.Request{Type: "set_env", Params: params})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp.Result)
		},
	})
	return cmd
}

func redeemCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "redeem <token>",
		Short: "Redeem a staged payload as the given web origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin == "" {
				return errors.New("--origin is required")
			}
			params, err := json.Marshal(storagerelay.Request{Type: storagerelay.MessageType, Token: args[0]})
			if err != nil {
				return err
			}
			resp, err := rpcCall(cmd.Context(), ipc.Request{Type: storagerelay.MessageType, Origin: origin, Params: params})
			if err != nil {
				return err
			}
			var reply storagerelay.Reply
			if err := json.Unmarshal(resp.Result, &reply); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			if !reply.OK {
				return errors.New("payload not available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "web origin to redeem as")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired staged payloads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := rpcCall(cmd.Context(), ipc.Request{Type: "sweep"})
			if err != nil {
				return err
			}
			var data struct {
				Removed int `json:"removed"`
			}
			if err := json.Unmarshal(resp.Result, &data); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired payloads\n", data.Removed)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events (Ctrl+C to exit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			socketPath, err := resolveSocketPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Subscribed to daemon events (Ctrl+C to exit)")
			return ipc.Stream(cmd.Context(), socketPath, ipc.Request{Type: "subscribe_events"}, func(frame []byte) error {
				fmt.Fprintln(cmd.OutOrStdout(), string(frame))
				return nil
			})
		},
	}
}
