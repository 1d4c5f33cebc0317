package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureStateDirsCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureStateDirs(dir))

	for _, p := range []string{PathsVar.Store, PathsVar.Cleanup, PathsVar.Tmp} {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
	require.Equal(t, filepath.Join(dir, "store"), PathsVar.Store)
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real-store")
	require.NoError(t, os.Mkdir(real, 0o700))
	link := filepath.Join(dir, "store")
	require.NoError(t, os.Symlink(real, link))

	err := EnsureStateDirs(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "symlink")
}

func TestEnsureStateDirsRejectsPermissiveMode(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	require.NoError(t, os.Mkdir(store, 0o777))
	require.NoError(t, os.Chmod(store, 0o777)) // Mkdir's mode is subject to umask; force it

	err := EnsureStateDirs(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "writable by group or other")
}

func TestArtifactRootEmptyWhenUnset(t *testing.T) {
	t.Setenv("SWARMSTORE_ARTIFACT_ROOT", "")
	t.Setenv("TEST_ARTIFACTS_ROOT", "")
	artifactOnce = sync.Once{}
	artifactRoot = ""
	require.Equal(t, "", ArtifactRoot())
}

func TestArtifactRootResolvesAbsolute(t *testing.T) {
	t.Setenv("SWARMSTORE_ARTIFACT_ROOT", "relative/path")
	t.Setenv("TEST_ARTIFACTS_ROOT", "")
	artifactOnce = sync.Once{}
	artifactRoot = ""

	got := ArtifactRoot()
	require.True(t, filepath.IsAbs(got))
	require.Equal(t, "path", filepath.Base(got))
}
