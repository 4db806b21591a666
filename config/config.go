// Package config loads gateway settings from a YAML file and the
// environment. Environment variables use the ACORLE_ prefix with
// underscores for nesting, e.g. ACORLE_ETCD_ENDPOINTS.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `mapstructure:"listen"`

	Etcd struct {
		// Endpoints empty selects the in-memory store, for single-node
		// and test deployments.
		Endpoints []string `mapstructure:"endpoints"`
	} `mapstructure:"etcd"`

	// SyncIntervalSeconds is how often the registry is reconciled against
	// the store. Zero disables the sync loop.
	SyncIntervalSeconds uint `mapstructure:"sync_interval_seconds"`

	// AntiReplaySeconds bounds the accepted clock skew of signed
	// control-plane timestamps.
	AntiReplaySeconds uint `mapstructure:"anti_replay_seconds"`

	// DefaultWeight replaces a zero weight submitted at registration.
	DefaultWeight int `mapstructure:"default_weight"`

	// MaxBodyBytes caps inbound request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// EnableStatistics exposes the registry dump at GET /.
	EnableStatistics bool `mapstructure:"enable_statistics"`

	// UserAgent is stamped on forwarded requests.
	UserAgent string `mapstructure:"user_agent"`

	RateLimit struct {
		Enabled   bool    `mapstructure:"enabled"`
		PerSecond float64 `mapstructure:"per_second"`
		Burst     int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	// Development switches the logger to console encoding.
	Development bool `mapstructure:"development"`
}

// Load reads the named config file, or the default search path when path is
// empty. A missing file is fine; defaults and environment apply either way.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", ":7000")
	v.SetDefault("sync_interval_seconds", 30)
	v.SetDefault("anti_replay_seconds", 600)
	v.SetDefault("default_weight", 1)
	v.SetDefault("max_body_bytes", 4<<20)
	v.SetDefault("enable_statistics", false)
	v.SetDefault("user_agent", "acorle-gateway")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.per_second", 1000.0)
	v.SetDefault("rate_limit.burst", 2000)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("acorle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/acorle")
	}
	v.SetEnvPrefix("acorle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading %q: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return &cfg, nil
}
