package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	HTTPAddr string
	DB       string
	Config   string
	Set      map[string]bool
}

// ParseFlags parses command-line flags and returns them as a Flags struct.
func ParseFlags() Flags {
	httpPtr := flag.String("http-addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.swarmstore", "pebble DB path")
	cfgPtr := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{HTTPAddr: *httpPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the SWARMSTORE_CONFIG environment variable when the flag was
// not explicitly set.
func ResolveConfigPath(flags Flags) string {
	if flags.Set["config"] {
		return flags.Config
	}
	if p := os.Getenv("SWARMSTORE_CONFIG"); p != "" {
		return p
	}
	return flags.Config
}

// Effective is the fully resolved configuration plus provenance, used for
// the startup banner and diagnostics.
type Effective struct {
	Config *Config
	DBPath string
	Source string // "flags", "config", or "env"
}

// Load resolves flags, an optional config file, and environment overrides
// into one Effective configuration. Precedence: an explicit --config file
// wins outright; otherwise explicit --http-addr/--db flags win; otherwise
// a config file found at the default path is used; otherwise environment
// variables alone apply. Defaults fill whatever remains unset.
func Load(flags Flags) (Effective, error) {
	cfgPath := ResolveConfigPath(flags)
	fileCfg, fileErr := LoadFile(cfgPath)
	fileExists := fileErr == nil

	var eff Effective
	switch {
	case flags.Set["config"]:
		if !fileExists {
			return eff, fmt.Errorf("config file %s not found: %w", cfgPath, fileErr)
		}
		eff = Effective{Config: fileCfg, DBPath: fileCfg.Server.DBPath, Source: "config"}

	case flags.Set["http-addr"] || flags.Set["db"]:
		cfg := &Config{}
		if flags.Set["http-addr"] {
			cfg.Server.HTTPAddr = flags.HTTPAddr
		}
		if flags.Set["db"] {
			cfg.Server.DBPath = flags.DB
		}
		applyEnvOverrides(cfg)
		eff = Effective{Config: cfg, DBPath: cfg.Server.DBPath, Source: "flags"}

	case fileExists:
		applyEnvOverrides(fileCfg)
		eff = Effective{Config: fileCfg, DBPath: fileCfg.Server.DBPath, Source: "config"}

	default:
		cfg := &Config{}
		applyEnvOverrides(cfg)
		eff = Effective{Config: cfg, DBPath: cfg.Server.DBPath, Source: "env"}
	}

	eff.Config.Defaults()
	if eff.DBPath == "" {
		eff.DBPath = eff.Config.Server.DBPath
	}
	return eff, nil
}
