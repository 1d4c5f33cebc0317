package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadExplicitConfigFileWins(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_addr: \":9001\"\n  db_path: /tmp/a\n")
	flags := Flags{Config: path, Set: map[string]bool{"config": true}}

	eff, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, ":9001", eff.Config.Server.HTTPAddr)
	require.Equal(t, "/tmp/a", eff.DBPath)
	require.Equal(t, "config", eff.Source)
}

func TestLoadExplicitConfigFileMissingErrors(t *testing.T) {
	flags := Flags{Config: "/no/such/file.yaml", Set: map[string]bool{"config": true}}
	_, err := Load(flags)
	require.Error(t, err)
}

func TestLoadExplicitFlagsWinOverDiscoveredConfig(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_addr: \":9001\"\n  db_path: /tmp/a\n")
	flags := Flags{HTTPAddr: ":9100", DB: "/tmp/flagdb", Config: path, Set: map[string]bool{"http-addr": true, "db": true}}
	eff, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, ":9100", eff.Config.Server.HTTPAddr)
	require.Equal(t, "/tmp/flagdb", eff.DBPath)
	require.Equal(t, "flags", eff.Source)
}

func TestLoadFallsBackToDefaultsWhenNothingSet(t *testing.T) {
	flags := Flags{Config: "/no/such/file.yaml", Set: map[string]bool{}}
	eff, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, "env", eff.Source)
	require.Equal(t, ":8080", eff.Config.Server.HTTPAddr)
	require.Equal(t, int64(917504), eff.Config.Store.PageLimit)
}

func TestLoadEnvOverridesApplyToDiscoveredConfig(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_addr: \":9001\"\n")
	t.Setenv("SWARMSTORE_HTTP_ADDR", ":9999")
	flags := Flags{Config: path, Set: map[string]bool{}}

	eff, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, ":9999", eff.Config.Server.HTTPAddr)
}

func TestRetentionClassYAML(t *testing.T) {
	path := writeConfigFile(t, "retention:\n  - namespace_min: 0\n    namespace_max: 5\n    max_ttl: 48h\n")
	flags := Flags{Config: path, Set: map[string]bool{"config": true}}

	eff, err := Load(flags)
	require.NoError(t, err)
	require.Len(t, eff.Config.Retention, 1)
	require.Equal(t, 0, eff.Config.Retention[0].NamespaceMin)
	require.Equal(t, 5, eff.Config.Retention[0].NamespaceMax)
}
