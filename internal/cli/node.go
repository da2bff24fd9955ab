package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/store"
)

func (o *RootOptions) nodeOptions() node.Options {
	return node.Options{
		Logger:             o.Logger(),
		CheckpointInterval: o.Config.CheckpointInterval,
		SyncInterval:       o.Config.SyncInterval,
		PairingTimeout:     o.Config.PairingTimeout,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.Config.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// withNode opens the replica in the configured database without any
// network, runs fn and closes everything. Offline commands use it.
func withNode(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, n *node.Node) error) error {
	ctx := commandContext(cmd)
	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := node.Open(ctx, st, opts.nodeOptions())
	if errors.Is(err, node.ErrNotInitialized) {
		return WrapExitError(ExitCommandError, "database not initialized (run braid init or braid join)", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open replica", err)
	}

	runErr := fn(ctx, n)
	if err := n.Close(ctx); err != nil && runErr == nil {
		runErr = WrapExitError(ExitCommandError, "failed to close replica", err)
	}
	return runErr
}
