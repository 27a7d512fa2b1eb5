// Package config provides a reusable loader for chirald configuration
// files and environment variables, layered the way the teacher's
// pkg/config package loads Synnergy node configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/envutil"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a chirald node. Field names and
// defaults mirror spec §6 exactly.
type Config struct {
	DataDir string `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`

	Network struct {
		DHTPort           uint16   `mapstructure:"dht_port" json:"dht_port" yaml:"dht_port"`
		BootstrapPeers    []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers" yaml:"bootstrap_peers"`
		DiscoveryTag      string   `mapstructure:"discovery_tag" json:"discovery_tag" yaml:"discovery_tag"`
		EnableAutoNAT     bool     `mapstructure:"enable_autonat" json:"enable_autonat" yaml:"enable_autonat"`
		AutoNATProbeS     uint32   `mapstructure:"autonat_probe_interval_s" json:"autonat_probe_interval_s" yaml:"autonat_probe_interval_s"`
		AutoRelay         bool     `mapstructure:"autorelay" json:"autorelay" yaml:"autorelay"`
		PreferredRelays   []string `mapstructure:"preferred_relays" json:"preferred_relays" yaml:"preferred_relays"`
		RelayServer       bool     `mapstructure:"relay_server" json:"relay_server" yaml:"relay_server"`
		MaxReservations   uint32   `mapstructure:"max_reservations" json:"max_reservations" yaml:"max_reservations"`
		BootstrapTimeoutMs uint32  `mapstructure:"bootstrap_timeout_ms" json:"bootstrap_timeout_ms" yaml:"bootstrap_timeout_ms"`
		HealthCheckIntervalS uint32 `mapstructure:"health_check_interval_s" json:"health_check_interval_s" yaml:"health_check_interval_s"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Chunking struct {
		ChunkSizeBytes       uint32 `mapstructure:"chunk_size_bytes" json:"chunk_size_bytes" yaml:"chunk_size_bytes"`
		EncryptChunks        bool   `mapstructure:"encrypt_chunks" json:"encrypt_chunks" yaml:"encrypt_chunks"`
		MaxParallelPerFile   uint8  `mapstructure:"max_parallel_chunks_per_file" json:"max_parallel_chunks_per_file" yaml:"max_parallel_chunks_per_file"`
	} `mapstructure:"chunking" json:"chunking" yaml:"chunking"`

	Reputation struct {
		VerdictTTLS                  uint32  `mapstructure:"verdict_ttl_s" json:"verdict_ttl_s" yaml:"verdict_ttl_s"`
		BlacklistScoreThreshold      float32 `mapstructure:"blacklist_score_threshold" json:"blacklist_score_threshold" yaml:"blacklist_score_threshold"`
		BlacklistBadVerdictsThreshold uint32 `mapstructure:"blacklist_bad_verdicts_threshold" json:"blacklist_bad_verdicts_threshold" yaml:"blacklist_bad_verdicts_threshold"`
		BlacklistRetentionDays       uint32  `mapstructure:"blacklist_retention_days" json:"blacklist_retention_days" yaml:"blacklist_retention_days"`
	} `mapstructure:"reputation" json:"reputation" yaml:"reputation"`

	Payment struct {
		RetryDelaysMs []uint32 `mapstructure:"payment_retry_delays_ms" json:"payment_retry_delays_ms" yaml:"payment_retry_delays_ms"`
		PendingGCS    uint32   `mapstructure:"payment_pending_gc_s" json:"payment_pending_gc_s" yaml:"payment_pending_gc_s"`
	} `mapstructure:"payment" json:"payment" yaml:"payment"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Defaults returns a Config populated with the default values enumerated
// in spec §6.
func Defaults() Config {
	var c Config
	c.DataDir = "./data"
	c.Network.DHTPort = 4001
	c.Network.DiscoveryTag = "chiral-network"
	c.Network.EnableAutoNAT = true
	c.Network.AutoNATProbeS = 60
	c.Network.AutoRelay = true
	c.Network.MaxReservations = 4
	c.Network.BootstrapTimeoutMs = 10_000
	c.Network.HealthCheckIntervalS = 30
	c.Chunking.ChunkSizeBytes = 262_144
	c.Chunking.EncryptChunks = false
	c.Chunking.MaxParallelPerFile = 4
	c.Reputation.VerdictTTLS = 24 * 60 * 60
	c.Reputation.BlacklistScoreThreshold = 0.2
	c.Reputation.BlacklistBadVerdictsThreshold = 3
	c.Reputation.BlacklistRetentionDays = 30
	c.Payment.RetryDelaysMs = []uint32{0, 5000, 15000}
	c.Payment.PendingGCS = 3600
	c.Logging.Level = "info"
	return c
}

// BootstrapTimeout returns Network.BootstrapTimeoutMs as a time.Duration.
func (c *Config) BootstrapTimeout() time.Duration {
	return time.Duration(c.Network.BootstrapTimeoutMs) * time.Millisecond
}

// HealthCheckInterval returns Network.HealthCheckIntervalS as a time.Duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Network.HealthCheckIntervalS) * time.Second
}

// VerdictTTL returns Reputation.VerdictTTLS as a time.Duration.
func (c *Config) VerdictTTL() time.Duration {
	return time.Duration(c.Reputation.VerdictTTLS) * time.Second
}

// PaymentRetryDelays returns Payment.RetryDelaysMs as time.Durations.
func (c *Config) PaymentRetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.Payment.RetryDelaysMs))
	for i, ms := range c.Payment.RetryDelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// Validate rejects configuration that would otherwise fail later in a
// confusing way (spec §7: ConfigurationError aborts start-up).
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errs.New(errs.KindConfigurationError, "data_dir must not be empty")
	}
	if c.Chunking.ChunkSizeBytes == 0 {
		return errs.New(errs.KindConfigurationError, "chunk_size_bytes must be > 0")
	}
	if c.Chunking.MaxParallelPerFile == 0 {
		return errs.New(errs.KindConfigurationError, "max_parallel_chunks_per_file must be > 0")
	}
	for _, addr := range c.Network.BootstrapPeers {
		if addr == "" {
			return errs.New(errs.KindConfigurationError, "bootstrap_peers contains an empty address")
		}
	}
	return nil
}

// Load reads configuration files (YAML, name "default" plus an optional
// env-named overlay) from the given search paths, merges CHIRAL_*
// environment overrides, and stores the result in AppConfig.
func Load(env string, searchPaths ...string) (*Config, error) {
	_ = godotenv.Load() // best-effort; .env is optional

	cfg := Defaults()
	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errs.Wrapf(errs.KindConfigurationError, err, "load default config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errs.Wrapf(errs.KindConfigurationError, err, "merge %s config", env)
			}
		}
	}

	v.SetEnvPrefix("CHIRAL")
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	AppConfig = cfg
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHIRAL_ENV environment
// variable to select an overlay, falling back to defaults-only.
func LoadFromEnv(searchPaths ...string) (*Config, error) {
	return Load(envutil.OrDefault("CHIRAL_ENV", ""), searchPaths...)
}

// String renders a short summary, useful for start-up logging.
func (c *Config) String() string {
	return fmt.Sprintf("dht_port=%d bootstrap_peers=%d chunk_size=%d encrypt=%v",
		c.Network.DHTPort, len(c.Network.BootstrapPeers), c.Chunking.ChunkSizeBytes, c.Chunking.EncryptChunks)
}

// YAML renders the effective configuration back to YAML, independent of
// viper, for the `chirald config print` diagnostic and for on-disk
// fixtures in tests.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errs.Wrap(err, "marshal config to yaml")
	}
	return data, nil
}

// LoadYAMLFile decodes path directly with yaml.v3, bypassing viper's
// search-path and env-merge machinery entirely. Used when a caller already
// has one exact file in hand (a single fixture or an operator-supplied
// override) rather than a directory to search.
func LoadYAMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "read %s", path)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "decode %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
