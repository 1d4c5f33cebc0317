package state

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	artifactOnce sync.Once
	artifactRoot string
)

// artifactRootVars lists the environment variables consulted for
// ArtifactRoot, in priority order: the service's own override first, then
// the generic test-harness convention a CI runner might already set.
var artifactRootVars = []string{"SWARMSTORE_ARTIFACT_ROOT", "TEST_ARTIFACTS_ROOT"}

// ArtifactRoot returns the directory a test harness or CI job wants this
// node's on-disk state isolated under, so repeated runs of the built
// binary don't collide on a shared default ./.swarmstore. Empty means no
// override was requested; callers keep their own default in that case.
func ArtifactRoot() string {
	artifactOnce.Do(func() {
		for _, name := range artifactRootVars {
			v, ok := os.LookupEnv(name)
			if !ok || v == "" {
				continue
			}
			if abs, err := filepath.Abs(v); err == nil {
				artifactRoot = abs
			} else {
				artifactRoot = v
			}
			return
		}
	})
	return artifactRoot
}
