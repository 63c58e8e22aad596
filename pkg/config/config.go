package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "CONNECT_"

// IPCConfig defines the daemon's unix socket.
type IPCConfig struct {
	SocketPath string `toml:"socketPath" env:"SOCKET"`
}

// HTTPConfig defines the bridge websocket and redemption listener.
type HTTPConfig struct {
	Addr string `toml:"addr" env:"HTTP_ADDR"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath      string `toml:"dbPath" env:"DB_PATH"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level" env:"LOG_LEVEL"`
	FilePath    string `toml:"filePath" env:"LOG_FILE"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// RPCStoreConfig tunes the payload store.
type RPCStoreConfig struct {
	TTL           string `toml:"ttl"`
	SweepSchedule string `toml:"sweepSchedule"`
}

// OffloadConfig tunes which payloads are staged.
type OffloadConfig struct {
	InlineLimit int      `toml:"inlineLimit"`
	Methods     []string `toml:"methods"`
}

// BridgeConfig tunes the page-side handshake.
type BridgeConfig struct {
	HandshakeInterval string `toml:"handshakeInterval"`
	RequestTimeout    string `toml:"requestTimeout"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string         `toml:"profileName"`
	Mode        string         `toml:"mode" env:"MODE"`
	ExtensionID string         `toml:"extensionId" env:"EXTENSION_ID"`
	RelayURL    string         `toml:"relayURL" env:"RELAY_URL"`
	Storage     StorageConfig  `toml:"storage"`
	IPC         IPCConfig      `toml:"ipc"`
	HTTP        HTTPConfig     `toml:"http"`
	Logging     LoggingConfig  `toml:"logging"`
	RPCStore    RPCStoreConfig `toml:"rpcStore"`
	Offload     OffloadConfig  `toml:"offload"`
	Bridge      BridgeConfig   `toml:"bridge"`
}

// DefaultProfile returns a config with every required field filled in.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Mode:        ModeProduction,
		ExtensionID: "splits-connect",
		Storage:     StorageConfig{DBPath: "state.db", JournalMode: "WAL", Synchronous: "NORMAL"},
		IPC:         IPCConfig{SocketPath: "ipc.sock"},
		HTTP:        HTTPConfig{Addr: "127.0.0.1:8787"},
		Logging:     LoggingConfig{Level: "info"},
		RPCStore:    RPCStoreConfig{TTL: "5m", SweepSchedule: "*/5 * * * *"},
		Offload:     OffloadConfig{InlineLimit: 1024, Methods: []string{"eth_sendTransaction", "wallet_sendCalls"}},
		Bridge:      BridgeConfig{HandshakeInterval: "250ms"},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads config.toml inside profileDir.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, "config.toml"))
}

// Save writes cfg as TOML.
func Save(path string, cfg *ProfileConfig) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath joins relative paths onto the profile directory.
func ResolvePath(profileDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(profileDir, p)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeProduction
	}
	if cfg.ExtensionID == "" {
		return fmt.Errorf("extensionId required")
	}
	if cfg.RPCStore.TTL == "" {
		cfg.RPCStore.TTL = "5m"
	}
	if cfg.Bridge.HandshakeInterval == "" {
		cfg.Bridge.HandshakeInterval = "250ms"
	}
	for field, value := range map[string]string{
		"rpcStore.ttl":             cfg.RPCStore.TTL,
		"bridge.handshakeInterval": cfg.Bridge.HandshakeInterval,
		"bridge.requestTimeout":    cfg.Bridge.RequestTimeout,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", field, value)
		}
	}
	if cfg.Offload.InlineLimit < 0 {
		return fmt.Errorf("offload.inlineLimit must not be negative")
	}
	return nil
}

// TTLDuration returns the payload lifetime.
func (c RPCStoreConfig) TTLDuration() time.Duration {
	return mustDuration(c.TTL, 5*time.Minute)
}

// HandshakeEvery returns the ready-request resend interval.
func (c BridgeConfig) HandshakeEvery() time.Duration {
	return mustDuration(c.HandshakeInterval, 250*time.Millisecond)
}

// Timeout returns the per-request timeout; zero disables it.
func (c BridgeConfig) Timeout() time.Duration {
	return mustDuration(c.RequestTimeout, 0)
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
