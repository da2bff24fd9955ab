package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
)

// InitResult describes a newly created log.
type InitResult struct {
	DB        string `json:"db"`
	LogKey    string `json:"log_key"`
	Discovery string `json:"discovery"`
}

// Text implements texter.
func (r InitResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Created log %s in %s\n", r.LogKey, r.DB)
	fmt.Fprintf(w, "  Discovery: %s\n", r.Discovery)
	fmt.Fprintln(w, "  This device is the bootstrap writer.")
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new log on this device",
		Long: `Create a new log. The local writer key becomes the log key and the
only writer until others are invited.

Examples:
  braid init --db ./alice.db
  BRAID_DB=./alice.db braid init --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := node.Init(commandContext(cmd), st)
	if errors.Is(err, node.ErrInitialized) {
		return WrapExitError(ExitCommandError, "database already holds a log", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}

	return newFormatter(opts, cmd).Success(InitResult{
		DB:        opts.Config.DB,
		LogKey:    string(id.LogKey),
		Discovery: ir.DiscoveryID(id.LogKey),
	})
}
