// Command swarmstore runs a single decentralized, per-account
// store-and-forward message node.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"swarmstore/internal/app"
	"swarmstore/pkg/config"
	"swarmstore/pkg/shutdown"
	"swarmstore/pkg/state"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	flags := config.ParseFlags()
	if !flags.Set["db"] {
		if root := state.ArtifactRoot(); root != "" {
			flags.DB = filepath.Join(root, "database")
			flags.Set["db"] = true
		}
	}

	eff, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmstore: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort(zap.NewNop(), "startup", err, eff.DBPath)
		return
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background(), a.Logger())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort(a.Logger(), "run", err, eff.DBPath)
	}
}
