// Package state manages the on-disk runtime directory layout the service
// uses alongside the pebble store itself.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved runtime directory layout under a DB path.
type Paths struct {
	Store   string // pebble database directory
	Cleanup string // scratch space for the cleanup scheduler
	Tmp     string // scratch space for short-lived files
}

// PathsVar is the process-wide resolved layout, set by EnsureStateDirs.
var PathsVar Paths

// EnsureStateDirs creates the store, cleanup, and tmp directories under
// dbPath if missing, and refuses to run against any of them if they
// already exist as a symlink or with group/other write permission — the
// store directory holds every account's message data.
func EnsureStateDirs(dbPath string) error {
	paths := Paths{
		Store:   filepath.Join(dbPath, "store"),
		Cleanup: filepath.Join(dbPath, "state", "cleanup"),
		Tmp:     filepath.Join(dbPath, "state", "tmp"),
	}
	for _, dir := range []string{paths.Store, paths.Cleanup, paths.Tmp} {
		if err := securize(dir); err != nil {
			return err
		}
	}
	PathsVar = paths
	return nil
}

// securize ensures dir exists at mode 0700, or validates it if it already
// does, then probes that the process can actually write into it.
func securize(dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return fmt.Errorf("state: create parent of %s: %w", dir, err)
	}

	fi, err := os.Lstat(dir)
	switch {
	case err == nil:
		if verr := checkSecure(dir, fi); verr != nil {
			return verr
		}
	case os.IsNotExist(err):
		if err := os.Mkdir(dir, 0o700); err != nil {
			return fmt.Errorf("state: create %s: %w", dir, err)
		}
	default:
		return fmt.Errorf("state: stat %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("state: %s is not writable: %w", dir, err)
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return nil
}

// checkSecure rejects a pre-existing path that isn't a plain, owner-only
// directory.
func checkSecure(dir string, fi os.FileInfo) error {
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("state: %s is a symlink, refusing to use it", dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("state: %s exists and is not a directory", dir)
	}
	if fi.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("state: %s is writable by group or other", dir)
	}
	return nil
}
