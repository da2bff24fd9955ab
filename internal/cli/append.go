package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
)

// AppendResult describes one appended entry.
type AppendResult struct {
	Writer  string `json:"writer"`
	Seq     uint64 `json:"seq"`
	Command string `json:"command"`
	EntryID string `json:"entry_id"`
}

// Text implements texter.
func (r AppendResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Appended %s as %s/%d\n", r.Command, ir.WriterKey(r.Writer).Short(), r.Seq)
	fmt.Fprintf(w, "  Entry: %s\n", r.EntryID)
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <command> [payload-json]",
		Short: "Append a command to the local writer's log",
		Long: `Append one command, signed by the local writer. The payload is a JSON
object checked against the command's schema; floats and null are rejected.

The entry reaches other replicas the next time this one serves.

Examples:
  braid append create-room '{"id":"r1","name":"Test"}'
  braid append create-channel '{"name":"general"}'
  braid append add-writer '{"key":"<64 hex chars>"}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := "{}"
			if len(args) == 2 {
				payload = args[1]
			}
			return runAppend(rootOpts, args[0], payload, cmd)
		},
	}
}

func runAppend(opts *RootOptions, name, rawPayload string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	ct, err := ir.ParseCommandType(name)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid command", err)
	}
	payload, err := ir.ParseDoc([]byte(rawPayload))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload JSON", err)
	}

	return withNode(cmd, opts, func(ctx context.Context, n *node.Node) error {
		entry, err := n.Engine.Append(ctx, ct, payload)
		if err != nil {
			return out.Fail("append failed", err)
		}
		id, err := ir.EntryID(entry)
		if err != nil {
			return err
		}
		out.VerboseLog("clock: %v", entry.Clock)
		return out.Success(AppendResult{
			Writer:  string(entry.Writer),
			Seq:     entry.Seq,
			Command: entry.Command.String(),
			EntryID: id,
		})
	})
}
