// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package config loads and validates RealmGate configuration from a YAML
// file with optional command-line overrides. All tunables are plain numeric
// or string settings; durations are expressed in milliseconds.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/realmgate/realmgate/internal/gate"
)

// ServerConfig configures the client-facing listener and observability.
type ServerConfig struct {
	// ListenAddr is the auth front-end listen address.
	ListenAddr string `koanf:"listen_addr" json:"listen_addr,omitempty"`

	// MetricsAddr is the metrics/health HTTP address. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format" json:"log_format,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level" json:"log_level,omitempty"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	URL string `koanf:"url" json:"url,omitempty"`

	// ConnectAttempts is how many times the startup ping is retried.
	ConnectAttempts uint64 `koanf:"connect_attempts" json:"connect_attempts,omitempty"`
}

// AuthConfig configures cache lifetimes and per-connection throttling.
type AuthConfig struct {
	// ExistenceCacheTTLMillis is the lifetime of username-existence cache
	// entries, in milliseconds.
	ExistenceCacheTTLMillis int64 `koanf:"existence_cache_ttl_ms" json:"existence_cache_ttl_ms,omitempty"`

	// LoginCacheTTLMillis is the lifetime of cached login outcomes, in
	// milliseconds.
	LoginCacheTTLMillis int64 `koanf:"login_cache_ttl_ms" json:"login_cache_ttl_ms,omitempty"`

	// MinRequestIntervalMillis is the minimum spacing between requests on a
	// single unauthenticated connection, in milliseconds.
	MinRequestIntervalMillis int64 `koanf:"min_request_interval_ms" json:"min_request_interval_ms,omitempty"`

	// IdleSessionTimeoutMillis tears down a connection idle for this long,
	// in milliseconds.
	IdleSessionTimeoutMillis int64 `koanf:"idle_session_timeout_ms" json:"idle_session_timeout_ms,omitempty"`

	// ReservedUsernames lists glob patterns that cannot be registered.
	ReservedUsernames []string `koanf:"reserved_usernames" json:"reserved_usernames,omitempty"`
}

// GatewayEndpoint is one entry of the gateway list clients are sharded onto.
type GatewayEndpoint struct {
	Host string `koanf:"host" json:"host,omitempty"`
	Port int    `koanf:"port" json:"port,omitempty"`
}

// Config is the root RealmGate configuration.
type Config struct {
	Server   ServerConfig      `koanf:"server" json:"server,omitempty"`
	Database DatabaseConfig    `koanf:"database" json:"database,omitempty"`
	Auth     AuthConfig        `koanf:"auth" json:"auth,omitempty"`
	Gateways []GatewayEndpoint `koanf:"gateways" json:"gateways,omitempty"`
}

// Default returns the compiled-in defaults. The gateway list has no default:
// it is deployment topology and must be configured.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":4300",
			MetricsAddr: "127.0.0.1:9100",
			LogFormat:   "json",
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
		},
		Auth: AuthConfig{
			ExistenceCacheTTLMillis:  4000,
			LoginCacheTTLMillis:      5000,
			MinRequestIntervalMillis: 200,
			IdleSessionTimeoutMillis: 60000,
		},
	}
}

// Load reads configuration from path (optional) and flags (optional),
// layered over the defaults, then validates the result. The file, when
// present, is checked against the generated JSON schema before
// unmarshalling so typos surface as schema errors rather than silently
// ignored keys.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := ValidateFile(path); err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "merge command-line flags").
				Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies the fail-fast startup checks. An empty gateway list is a
// configuration error: selection must never fail per-call.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if len(c.Gateways) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("at least one gateway endpoint is required")
	}
	for i, gw := range c.Gateways {
		if gw.Host == "" {
			return oops.Code("CONFIG_INVALID").
				With("index", i).
				Errorf("gateway host cannot be empty")
		}
		if gw.Port <= 0 || gw.Port > 65535 {
			return oops.Code("CONFIG_INVALID").
				With("index", i).
				With("port", gw.Port).
				Errorf("gateway port out of range")
		}
	}
	if c.Auth.ExistenceCacheTTLMillis <= 0 || c.Auth.LoginCacheTTLMillis <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("cache TTLs must be positive")
	}
	if c.Auth.MinRequestIntervalMillis < 0 || c.Auth.IdleSessionTimeoutMillis <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("throttle settings must be positive")
	}
	return nil
}

// ExistenceTTL returns the existence-cache TTL as a duration.
func (c AuthConfig) ExistenceTTL() time.Duration {
	return time.Duration(c.ExistenceCacheTTLMillis) * time.Millisecond
}

// LoginTTL returns the login-cache TTL as a duration.
func (c AuthConfig) LoginTTL() time.Duration {
	return time.Duration(c.LoginCacheTTLMillis) * time.Millisecond
}

// MinRequestInterval returns the request spacing as a duration.
func (c AuthConfig) MinRequestInterval() time.Duration {
	return time.Duration(c.MinRequestIntervalMillis) * time.Millisecond
}

// IdleSessionTimeout returns the idle teardown deadline as a duration.
func (c AuthConfig) IdleSessionTimeout() time.Duration {
	return time.Duration(c.IdleSessionTimeoutMillis) * time.Millisecond
}

// GateEndpoints converts the configured gateway list to gate endpoints.
func (c Config) GateEndpoints() []gate.Endpoint {
	eps := make([]gate.Endpoint, len(c.Gateways))
	for i, gw := range c.Gateways {
		eps[i] = gate.Endpoint{Host: gw.Host, Port: gw.Port}
	}
	return eps
}
