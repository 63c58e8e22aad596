package config

import (
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	ModeProduction = "production"
	ModeDev        = "dev"

	// ProviderRDNS is the reverse-domain identifier announced to pages.
	ProviderRDNS = "org.splits.teams.connect"
)

var providerNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(ProviderRDNS))

// Environment is everything derived from the mode string.
type Environment struct {
	Mode          string
	Host          string
	Name          string
	RelayURL      string
	TrustedOrigin string
	ProviderUUID  string
}

// Host returns the web-app host for mode.
func Host(mode string) string {
	switch mode {
	case ModeProduction:
		return "https://teams.splits.org"
	case ModeDev:
		return "http://localhost:3001"
	default:
		return "https://teams." + mode + ".splits.org"
	}
}

// Name returns the provider display name for mode.
func Name(mode string) string {
	if mode == ModeProduction {
		return "Splits Connect"
	}
	return "Splits Connect-" + mode
}

// RelayURL returns the default wallet relay endpoint for mode.
func RelayURL(mode string) string {
	return Host(mode) + "/api/relay"
}

// ProviderUUID derives a stable provider uuid from mode.
func ProviderUUID(mode string) string {
	return uuid.NewSHA1(providerNamespace, []byte(mode)).String()
}

// Origin reduces a URL to scheme://host[:port], dropping the scheme's default
// port. It returns "" when raw has no scheme or host.
func Origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

// EnvironmentFor resolves mode into an Environment.
func EnvironmentFor(mode string) Environment {
	host := Host(mode)
	return Environment{
		Mode:          mode,
		Host:          host,
		Name:          Name(mode),
		RelayURL:      RelayURL(mode),
		TrustedOrigin: Origin(host),
		ProviderUUID:  ProviderUUID(mode),
	}
}

// Environment resolves the profile's mode, honouring a relay override.
func (cfg *ProfileConfig) Environment() Environment {
	return cfg.EnvironmentFor(cfg.Mode)
}

// EnvironmentFor resolves mode, honouring the profile's relay override.
func (cfg *ProfileConfig) EnvironmentFor(mode string) Environment {
	e := EnvironmentFor(mode)
	if cfg.RelayURL != "" {
		e.RelayURL = cfg.RelayURL
	}
	return e
}

// ProviderIcon is the data URI announced alongside the provider.
const ProviderIcon = "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHZpZXdCb3g9IjAgMCAzMiAzMiI+PHJlY3Qgd2lkdGg9IjMyIiBoZWlnaHQ9IjMyIiByeD0iOCIgZmlsbD0iIzExMSIvPjxwYXRoIGQ9Ik05IDE2aDE0TTE2IDl2MTQiIHN0cm9rZT0iI2ZmZiIgc3Ryb2tlLXdpZHRoPSIzIi8+PC9zdmc+"

// ProviderInfo is the EIP-6963 descriptor for the provider.
type ProviderInfo struct {
	UUID string `json:"uuid" msgpack:"uuid"`
	Name string `json:"name" msgpack:"name"`
	Icon string `json:"icon" msgpack:"icon"`
	RDNS string `json:"rdns" msgpack:"rdns"`
}

// ProviderInfo returns the descriptor announced in this environment.
func (e Environment) ProviderInfo() ProviderInfo {
	return ProviderInfo{
		UUID: e.ProviderUUID,
		Name: e.Name,
		Icon: ProviderIcon,
		RDNS: ProviderRDNS,
	}
}

// DialogHost is where the wallet session opens its approval dialog.
func (e Environment) DialogHost() string {
	return e.Host + "/connect/"
}
