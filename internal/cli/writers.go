package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/writerset"
)

// WriterInfo is one member of the writer set.
type WriterInfo struct {
	Key     string `json:"key"`
	Active  bool   `json:"active"`
	AddedBy string `json:"added_by,omitempty"`
	Local   bool   `json:"local"`
}

// WritersResult is the writer set as seen by this replica.
type WritersResult struct {
	LogKey   string       `json:"log_key"`
	Writers  []WriterInfo `json:"writers"`
	Writable bool         `json:"writable"`
	Pending  int          `json:"pending"`
}

// Text implements texter.
func (r WritersResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Log %s\n", ir.WriterKey(r.LogKey).Short())
	for _, wr := range r.Writers {
		state := "active"
		if !wr.Active {
			state = "removed"
		}
		local := ""
		if wr.Local {
			local = " (this device)"
		}
		fmt.Fprintf(w, "  %s %s%s\n", wr.Key, state, local)
	}
	if !r.Writable {
		fmt.Fprintln(w, "This device is not writable yet.")
	}
	if r.Pending > 0 {
		fmt.Fprintf(w, "%d entries wait for missing dependencies.\n", r.Pending)
	}
}

// NewWritersCommand creates the writers command.
func NewWritersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "writers",
		Short: "List the writer set",
		Long: `List every writer the view knows, active or removed, and whether
this device may append.

Example:
  braid writers --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWriters(rootOpts, cmd)
		},
	}
}

func runWriters(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	return withNode(cmd, opts, func(_ context.Context, n *node.Node) error {
		v := n.Engine.View()
		res := WritersResult{
			LogKey:   string(n.Engine.LogKey()),
			Writable: n.Engine.Writable(n.Writer()),
			Pending:  len(n.Engine.Pending()),
		}
		for _, rec := range v.Query(writerset.Collection, nil) {
			active, _ := rec.Doc.Bool("active")
			addedBy, _ := rec.Doc.Str("added_by")
			res.Writers = append(res.Writers, WriterInfo{
				Key:     rec.ID,
				Active:  active,
				AddedBy: addedBy,
				Local:   ir.WriterKey(rec.ID) == n.Writer(),
			})
		}
		return out.Success(res)
	})
}
