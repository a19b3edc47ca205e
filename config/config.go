// Package config loads the typed configuration every other package's
// Config struct is built from, via spf13/viper (spec §6).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable this binary
// reads, e.g. HNS_CHECKPOINT_HEIGHT.
const EnvPrefix = "HNS"

// Config carries every knob named in spec §6, plus the Open Question
// decision to gate PoW enforcement behind a flag.
type Config struct {
	CheckpointHeight     uint32 `mapstructure:"checkpoint_height"`
	CheckpointPath       string `mapstructure:"checkpoint_path"`
	CheckpointFirstNonce uint32 `mapstructure:"checkpoint_first_nonce"`
	CheckpointLastNonce  uint32 `mapstructure:"checkpoint_last_nonce"`

	MaxInMemoryHeaders         uint32 `mapstructure:"max_in_memory_headers"`
	HeaderSaveCheckpointWindow uint32 `mapstructure:"header_save_checkpoint_window"`
	EnforceDifficulty          bool   `mapstructure:"enforce_difficulty"`

	P2PConnectTimeoutMS int `mapstructure:"p2p_connect_timeout_ms"`
	P2PSocketTimeoutMS  int `mapstructure:"p2p_socket_timeout_ms"`
	P2PMaxRetries       int `mapstructure:"p2p_max_retries"`
	P2PRetryBaseDelayMS int `mapstructure:"p2p_retry_base_delay_ms"`

	NameQueryThreads int `mapstructure:"name_query_threads"`
	MaxMessageSize   int `mapstructure:"max_message_size"`

	DNSCacheTTLSeconds int `mapstructure:"dns_cache_ttl_seconds"`
	MaxRecursionDepth  int `mapstructure:"max_recursion_depth"`

	PeerMaxErrors int      `mapstructure:"peer_max_errors"`
	Bootstrap     []string `mapstructure:"bootstrap"`

	HeaderStorePath string `mapstructure:"header_store_path"`
	RPCSocketPath   string `mapstructure:"rpc_socket_path"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	LogLevel        string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("checkpoint_height", 0)
	v.SetDefault("checkpoint_path", "checkpoint.bin")
	v.SetDefault("checkpoint_first_nonce", 0)
	v.SetDefault("checkpoint_last_nonce", 0)
	v.SetDefault("max_in_memory_headers", 5000)
	v.SetDefault("header_save_checkpoint_window", 2000)
	v.SetDefault("enforce_difficulty", false)
	v.SetDefault("p2p_connect_timeout_ms", 5000)
	v.SetDefault("p2p_socket_timeout_ms", 30000)
	v.SetDefault("p2p_max_retries", 0) // not read: engine.MaintainPeer retries indefinitely with backoff
	v.SetDefault("p2p_retry_base_delay_ms", 500)
	v.SetDefault("name_query_threads", 4)
	v.SetDefault("max_message_size", 8*1024*1024)
	v.SetDefault("dns_cache_ttl_seconds", 300)
	v.SetDefault("max_recursion_depth", 10)
	v.SetDefault("peer_max_errors", 10)
	v.SetDefault("header_store_path", "headers.store")
	v.SetDefault("rpc_socket_path", "/tmp/spvd.sock")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from, in ascending priority: built-in
// defaults, an optional file at path (if non-empty), then environment
// variables prefixed HNS_ (e.g. HNS_MAX_IN_MEMORY_HEADERS).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// P2PConnectTimeout is P2PConnectTimeoutMS as a time.Duration.
func (c Config) P2PConnectTimeout() time.Duration {
	return time.Duration(c.P2PConnectTimeoutMS) * time.Millisecond
}

// P2PSocketTimeout is P2PSocketTimeoutMS as a time.Duration.
func (c Config) P2PSocketTimeout() time.Duration {
	return time.Duration(c.P2PSocketTimeoutMS) * time.Millisecond
}

// P2PRetryBaseDelay is P2PRetryBaseDelayMS as a time.Duration.
func (c Config) P2PRetryBaseDelay() time.Duration {
	return time.Duration(c.P2PRetryBaseDelayMS) * time.Millisecond
}

// DNSCacheTTL is DNSCacheTTLSeconds as a time.Duration.
func (c Config) DNSCacheTTL() time.Duration {
	return time.Duration(c.DNSCacheTTLSeconds) * time.Second
}
