package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	Detach bool
}

// JoinResult describes the log a device joined.
type JoinResult struct {
	DB        string `json:"db"`
	LogKey    string `json:"log_key"`
	Writer    string `json:"writer"`
	Discovery string `json:"discovery"`
}

// Text implements texter.
func (r JoinResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Joined log %s as writer %s\n", ir.WriterKey(r.LogKey).Short(), ir.WriterKey(r.Writer).Short())
	fmt.Fprintf(w, "  database:  %s\n", r.DB)
	fmt.Fprintf(w, "  discovery: %s\n", r.Discovery)
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <token>",
		Short: "Join an existing log with an invite token",
		Long: `Pair with a member of an existing log using an invite token, then keep
replicating until interrupted. The database must be empty. BRAID_JOIN
must name at least one reachable member.

Exit codes:
  0 - Joined
  1 - Pairing failed (invite rejected, timed out, etc.)
  2 - Command error (database already initialized, etc.)

Examples:
  BRAID_JOIN=10.0.0.2:7946 braid join braid1... --db ./bob.db
  braid join braid1... --detach`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Detach, "detach", false, "exit once the device is writable")

	return cmd
}

func runJoin(opts *JoinOptions, token string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	out := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, ok, err := st.LoadIdentity(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load identity", err)
	} else if ok {
		return WrapExitError(ExitCommandError, "database already holds a log", node.ErrInitialized)
	}

	net, err := openGossip(opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer closeGossip(net, opts.Logger())

	n, err := node.Join(ctx, st, net, token, opts.nodeOptions())
	if errors.Is(err, node.ErrInitialized) {
		return WrapExitError(ExitCommandError, "database already holds a log", err)
	}
	if err != nil {
		return out.Fail("failed to join", err)
	}

	res := JoinResult{
		DB:        opts.Config.DB,
		LogKey:    string(n.Engine.LogKey()),
		Writer:    string(n.Writer()),
		Discovery: n.Engine.DiscoveryID(),
	}
	if err := out.Success(res); err != nil {
		_ = n.Close(context.WithoutCancel(ctx))
		return err
	}

	if !opts.Detach {
		<-ctx.Done()
	}
	return stopNode(n, opts.Logger())
}
