package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/transport/gossip"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Replicate the log and answer pairing requests",
		Long: `Start the gossip member, replicate with peers and admit devices that
present valid invites. Runs until interrupted.

The listen address and seeds come from BRAID_BIND_ADDR, BRAID_BIND_PORT
and BRAID_JOIN.

Example:
  BRAID_BIND_PORT=7946 braid serve --db ./alice.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

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

	net, err := openGossip(opts, n.Engine.DiscoveryID())
	if err != nil {
		_ = n.Close(context.WithoutCancel(ctx))
		return err
	}
	defer closeGossip(net, opts.Logger())

	if err := n.Start(net); err != nil {
		_ = n.Close(context.WithoutCancel(ctx))
		return WrapExitError(ExitFailure, "failed to start replica", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving log %s on %s. Press Ctrl-C to stop.\n", n.Engine.LogKey().Short(), net.Addr())
	<-ctx.Done()

	return stopNode(n, opts.Logger())
}

// openGossip starts the gossip member described by the configuration.
func openGossip(opts *RootOptions, discovery string) (*gossip.Node, error) {
	net, err := gossip.New(gossip.Config{
		Name:      opts.Config.Name,
		BindAddr:  opts.Config.BindAddr,
		BindPort:  opts.Config.BindPort,
		Seeds:     opts.Config.Join,
		Discovery: discovery,
	}, gossip.WithLogger(opts.Logger()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start gossip", err)
	}
	return net, nil
}

func closeGossip(net *gossip.Node, logger *slog.Logger) {
	if err := net.Close(); err != nil {
		logger.Error("error leaving cluster", "error", err)
	}
}

func stopNode(n *node.Node, logger *slog.Logger) error {
	if err := n.Close(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "replica stopped with error", err)
	}
	logger.Info("replica stopped gracefully")
	return nil
}

// signalContext returns a context cancelled on SIGINT, SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
