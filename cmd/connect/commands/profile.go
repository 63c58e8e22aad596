package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rexliu/splitsconnect/pkg/config"
)

func initCmd() *cobra.Command {
	var (
		name  string
		mode  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a local profile (writes config.toml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(profile, 0o700); err != nil {
				return err
			}
			configPath := filepath.Join(profile, "config.toml")
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}
			cfg := config.DefaultProfile(name)
			if mode != "" {
				cfg.Mode = mode
			}
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized profile %s (%s) at %s\n", cfg.ProfileName, cfg.Mode, profile)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "dev", "profile name")
	cmd.Flags().StringVar(&mode, "mode", "", "environment mode (production, dev, or a staging name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config if present")
	return cmd
}

func diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print profile configuration paths and the derived environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProfile()
			if err != nil {
				return err
			}
			env := cfg.Environment()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s\n", cfg.ProfileName)
			fmt.Fprintf(out, "Config: %s\n", filepath.Join(profile, "config.toml"))
			fmt.Fprintf(out, "DB Path: %s\n", config.ResolvePath(profile, cfg.Storage.DBPath))
			fmt.Fprintf(out, "Socket: %s\n", config.ResolvePath(profile, cfg.IPC.SocketPath))
			if cfg.HTTP.Addr != "" {
				fmt.Fprintf(out, "Bridge: ws://%s/bridge\n", cfg.HTTP.Addr)
			}
			if cfg.Logging.FilePath != "" {
				fmt.Fprintf(out, "Log File: %s\n", config.ResolvePath(profile, cfg.Logging.FilePath))
			}
			fmt.Fprintf(out, "Extension ID: %s\n", cfg.ExtensionID)
			fmt.Fprintf(out, "Mode: %s (%s)\n", env.Mode, env.Name)
			fmt.Fprintf(out, "Host: %s\n", env.Host)
			fmt.Fprintf(out, "Wallet Relay: %s\n", env.RelayURL)
			fmt.Fprintf(out, "Trusted Origin: %s\n", env.TrustedOrigin)
			fmt.Fprintf(out, "Provider UUID: %s\n", env.ProviderUUID)
			fmt.Fprintf(out, "Payload TTL: %s (sweep %q)\n", cfg.RPCStore.TTLDuration(), cfg.RPCStore.SweepSchedule)
			return nil
		},
	}
}
