package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a YAML config file at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides mutates cfg in place from SWARMSTORE_* environment
// variables and reports whether any were present.
func applyEnvOverrides(cfg *Config) bool {
	used := false
	str := func(key string) (string, bool) {
		v := os.Getenv(key)
		if v == "" {
			return "", false
		}
		used = true
		return v, true
	}

	if v, ok := str("SWARMSTORE_HTTP_ADDR"); ok {
		cfg.Server.HTTPAddr = v
	}
	if v, ok := str("SWARMSTORE_MQ_ADDR"); ok {
		cfg.Server.MQAddr = v
	}
	if v, ok := str("SWARMSTORE_DB_PATH"); ok {
		cfg.Server.DBPath = v
	}
	if v, ok := str("SWARMSTORE_TLS_CERT"); ok {
		cfg.Server.TLS.CertFile = v
	}
	if v, ok := str("SWARMSTORE_TLS_KEY"); ok {
		cfg.Server.TLS.KeyFile = v
	}
	if v, ok := str("SWARMSTORE_PAGE_LIMIT"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Store.PageLimit = n
		}
	}
	if v, ok := str("SWARMSTORE_MAINNET"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Network.Mainnet = true
		default:
			cfg.Network.Mainnet = false
		}
	}
	if v, ok := str("SWARMSTORE_PUBLIC_RATE_PER_MIN"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimit.PublicPerMinute = n
		}
	}
	if v, ok := str("SWARMSTORE_AUTH_RATE_PER_MIN"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimit.AuthenticatedPerMinute = n
		}
	}
	if v, ok := str("SWARMSTORE_SWARM_ORACLE_URL"); ok {
		cfg.Swarm.OracleURL = v
	}
	if v, ok := str("SWARMSTORE_SWARM_LOCAL_ID"); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Swarm.LocalSwarmID = n
		}
	}
	if v, ok := str("SWARMSTORE_SWARM_NODE_ID"); ok {
		cfg.Swarm.LocalNodeID = v
	}
	if v, ok := str("SWARMSTORE_CLEANUP_CRON"); ok {
		cfg.Cleanup.Cron = v
		cfg.Cleanup.Enabled = true
	}
	if v, ok := str("SWARMSTORE_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := str("SWARMSTORE_LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if v, ok := str("SWARMSTORE_ONION_PRIVKEY"); ok {
		cfg.Identity.OnionPrivateKey = v
	}
	return used
}
