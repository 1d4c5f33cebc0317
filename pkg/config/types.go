package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a swarm storage node.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Store     StoreConfig       `yaml:"store"`
	Network   NetworkConfig     `yaml:"network"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Monitor   MonitorConfig     `yaml:"monitor"`
	Cleanup   CleanupConfig     `yaml:"cleanup"`
	Swarm     SwarmConfig       `yaml:"swarm"`
	Retention []RetentionClass  `yaml:"retention"`
	Logging   LoggingConfig     `yaml:"logging"`
	Identity  IdentityConfig    `yaml:"identity"`
}

// IdentityConfig holds the node's static onion-routing key (C6). It peels
// one layer of an inter-node onion envelope; it is unrelated to the
// ed25519 account keys authenticated requests carry.
type IdentityConfig struct {
	OnionPrivateKey string `yaml:"onion_private_key"` // hex-encoded 32-byte X25519 scalar
}

// ServerConfig holds the two wire-transport listen addresses and TLS.
type ServerConfig struct {
	HTTPAddr string    `yaml:"http_addr"`
	MQAddr   string    `yaml:"mq_addr"`
	DBPath   string    `yaml:"db_path"`
	TLS      TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration for the HTTP transport.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig holds MessageStore capacity settings.
type StoreConfig struct {
	PageLimit int64 `yaml:"page_limit"`
}

// NetworkConfig replaces the is_mainnet global: network-dependent checks
// consult this value instead.
type NetworkConfig struct {
	Mainnet    bool `yaml:"mainnet"`
	PubkeySize int  `yaml:"pubkey_size"`
}

// RateLimitConfig holds the two token-bucket pool rates (requests/minute).
type RateLimitConfig struct {
	PublicPerMinute        int `yaml:"public_per_minute"`
	AuthenticatedPerMinute int `yaml:"authenticated_per_minute"`
}

// MonitorConfig holds push-subscription lifetime settings.
type MonitorConfig struct {
	SubscriptionTTL Duration `yaml:"subscription_ttl"`
}

// CleanupConfig controls the periodic expiry-sweep scheduler.
type CleanupConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Period  Duration `yaml:"period"`
}

// SwarmConfig holds this node's swarm identity and membership-oracle polling.
type SwarmConfig struct {
	LocalNodeID      string   `yaml:"local_node_id"`
	LocalSwarmID     uint64   `yaml:"local_swarm_id"`
	OracleURL        string   `yaml:"oracle_url"`
	RefreshInterval  Duration `yaml:"refresh_interval"`
	LivenessInterval Duration `yaml:"liveness_interval"`
}

// RetentionClass maps a namespace range to a maximum TTL, the injected
// table referenced by spec.md §9 Open Question (b).
type RetentionClass struct {
	NamespaceMin int      `yaml:"namespace_min"`
	NamespaceMax int      `yaml:"namespace_max"`
	MaxTTL       Duration `yaml:"max_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration to support YAML parsing from strings like
// "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Defaults fills zero-valued fields with the defaults named throughout
// the component design.
func (c *Config) Defaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.MQAddr == "" {
		c.Server.MQAddr = ":8090"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "./.swarmstore"
	}
	if c.Store.PageLimit <= 0 {
		c.Store.PageLimit = 917504
	}
	if c.Network.PubkeySize <= 0 {
		c.Network.PubkeySize = 32
	}
	if c.RateLimit.PublicPerMinute <= 0 {
		c.RateLimit.PublicPerMinute = 600
	}
	if c.RateLimit.AuthenticatedPerMinute <= 0 {
		c.RateLimit.AuthenticatedPerMinute = 300
	}
	if c.Monitor.SubscriptionTTL <= 0 {
		c.Monitor.SubscriptionTTL = Duration(65 * time.Minute)
	}
	if c.Cleanup.Period <= 0 {
		c.Cleanup.Period = Duration(10 * time.Second)
	}
	if c.Swarm.RefreshInterval <= 0 {
		c.Swarm.RefreshInterval = Duration(30 * time.Second)
	}
	if c.Swarm.LivenessInterval <= 0 {
		c.Swarm.LivenessInterval = Duration(60 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
