// Command aligner runs the latent preference aligner against a synthetic user
// or a remote scorer, and replays, exports and inspects recorded runs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/latent-aligner/internal/config"
	"github.com/danielpatrickdp/latent-aligner/internal/logging"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
)

// #region main
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags bind to per-invocation option
// structs so the tree can be executed more than once in a process.
func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "aligner",
		Short:         "Learn a hidden preference direction from scalar feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "aligner.yaml", "path to the YAML config (created with defaults when missing)")
	root.AddCommand(
		newSimulateCmd(&configPath),
		newControllerCmd(&configPath),
		newReplayCmd(),
		newExportCmd(),
		newInspectCmd(),
	)
	return root
}

// #endregion main

// #region runtime
// runtime is what every run-type command needs: config, logger and an
// optional store.
type runtime struct {
	cfg    *config.Config
	log    zerolog.Logger
	store  *state.Store
	closer io.Closer
}

func newRuntime(configPath string, withStore bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(cfg.LoggingConfig(), os.Stderr)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: logger, closer: closer}
	if withStore && cfg.Store.Path != "" {
		store, err := state.NewStore(cfg.Store.Path)
		if err != nil {
			closer.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.store = store
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		rt.store.Close()
	}
	rt.closer.Close()
}

// #endregion runtime
