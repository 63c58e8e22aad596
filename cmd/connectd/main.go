package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rexliu/splitsconnect/pkg/config"
	"github.com/rexliu/splitsconnect/pkg/ipc"
	"github.com/rexliu/splitsconnect/pkg/kv/sqlite"
	"github.com/rexliu/splitsconnect/pkg/logging"
	"github.com/rexliu/splitsconnect/pkg/rpcstore"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	logger := logging.New("connectd")
	logger.Printf("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Errorf("fatal error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(profileDir string, logger *logging.Logger) (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profileDir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warnf("no config.toml in %s; using defaults", profileDir)
		return config.DefaultProfile(filepath.Base(profileDir)), nil
	}
	return cfg, err
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	cfg, err := loadConfig(profileDir, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.FilePath = config.ResolvePath(profileDir, cfg.Logging.FilePath)
	if err := logger.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Storage.DBPath))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx, sqlite.Options{JournalMode: cfg.Storage.JournalMode, Synchronous: cfg.Storage.Synchronous}); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	d := newDaemon(ctx, cfg, store, logger)
	defer d.Close()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.IPC.SocketPath)
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}
	srv := ipc.NewServer(logger.With("ipc"))
	d.registerHandlers(srv)
	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		cleanupSocket(socketPath)
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Addr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           d.httpHandler(),
			BaseContext:       func(net.Listener) context.Context { return gctx },
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Printf("http listening on %s", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	if schedule := cfg.RPCStore.SweepSchedule; schedule != "" {
		sweeper, err := rpcstore.NewSweeper(d.payloads, schedule, logger.With("sweeper"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Printf("daemon ready; socket at %s, mode %s", socketPath, d.environment(ctx).Mode)
	err = g.Wait()
	logger.Printf("shutting down")
	return err
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
