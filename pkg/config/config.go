// Package config provides a reusable loader for calimerod configuration
// files and environment variables, following the same viper load/merge
// shape used across the node tooling so every binary shares one set of
// override semantics.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/calimero-network/core/pkg/utils"
)

// Config is the unified configuration surface for a calimerod node (§6).
// Each section corresponds to a recognized configuration option named in
// the spec's "Configuration surface".
type Config struct {
	Node struct {
		DataDir      string `mapstructure:"data_dir" json:"data_dir"`
		IdentityFile string `mapstructure:"identity_file" json:"identity_file"`
	} `mapstructure:"node" json:"node"`

	Swarm struct {
		Listen []string `mapstructure:"listen" json:"listen"`
	} `mapstructure:"swarm" json:"swarm"`

	Bootstrap struct {
		Peers []string `mapstructure:"peers" json:"peers"`
	} `mapstructure:"bootstrap" json:"bootstrap"`

	Discovery struct {
		MDNS       bool `mapstructure:"mdns" json:"mdns"`
		Rendezvous struct {
			Namespace string `mapstructure:"namespace" json:"namespace"`
		} `mapstructure:"rendezvous" json:"rendezvous"`
		Relay struct {
			Enabled bool `mapstructure:"enabled" json:"enabled"`
		} `mapstructure:"relay" json:"relay"`
	} `mapstructure:"discovery" json:"discovery"`

	Sync struct {
		IntervalSeconds        int `mapstructure:"interval_seconds" json:"interval_seconds"`
		MinBetweenSyncsSeconds int `mapstructure:"min_between_syncs_seconds" json:"min_between_syncs_seconds"`
		TimeoutSeconds         int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	} `mapstructure:"sync" json:"sync"`

	BlobCache struct {
		MaxCount   int   `mapstructure:"max_count" json:"max_count"`
		MaxBytes   int64 `mapstructure:"max_bytes" json:"max_bytes"`
		TTLSeconds int   `mapstructure:"ttl_seconds" json:"ttl_seconds"`
	} `mapstructure:"blob_cache" json:"blob_cache"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// setDefaults mirrors the spec's recognized-option defaults (§6, §4.10)
// so a node started with no config file still gets a sane sync cadence
// and blob cache sizing.
func setDefaults() {
	viper.SetDefault("node.data_dir", "./data")
	viper.SetDefault("discovery.mdns", true)
	viper.SetDefault("sync.interval_seconds", 30)
	viper.SetDefault("sync.min_between_syncs_seconds", 10)
	viper.SetDefault("sync.timeout_seconds", 15)
	viper.SetDefault("blob_cache.max_count", 100)
	viper.SetDefault("blob_cache.max_bytes", 500*1024*1024)
	viper.SetDefault("blob_cache.ttl_seconds", 300)
	viper.SetDefault("logging.level", "info")
}

// Load reads the base configuration file, merges an optional environment
// overlay over it, then layers environment variables on top. The result
// is stored in AppConfig and returned.
//
// env selects an overlay file name (e.g. "bootstrap" merges
// cmd/config/bootstrap.yaml over default.yaml); pass "" to load only the
// default file.
func Load(env string) (*Config, error) {
	viper.Reset()
	setDefaults()
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("calimero")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CALIMERO_ENV environment
// variable to select the overlay.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CALIMERO_ENV", ""))
}

// SyncInterval returns the configured sync cadence as a time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// SyncMinBetween returns the configured per-context sync cooldown.
func (c *Config) SyncMinBetween() time.Duration {
	return time.Duration(c.Sync.MinBetweenSyncsSeconds) * time.Second
}

// SyncTimeout returns the configured per-attempt sync deadline.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// BlobTTL returns the configured blob cache entry lifetime.
func (c *Config) BlobTTL() time.Duration {
	return time.Duration(c.BlobCache.TTLSeconds) * time.Second
}
