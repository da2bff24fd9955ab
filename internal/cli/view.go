package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/view"
)

// DocResult is one view document.
type DocResult struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Doc        ir.Doc `json:"doc"`
}

// Text implements texter.
func (r DocResult) Text(w io.Writer) {
	data, err := ir.MarshalCanonical(r.Doc)
	if err != nil {
		fmt.Fprintf(w, "%s/%s: %v\n", r.Collection, r.ID, err)
		return
	}
	fmt.Fprintf(w, "%s/%s %s\n", r.Collection, r.ID, data)
}

// QueryResult lists matching documents in id order.
type QueryResult struct {
	Collection string      `json:"collection"`
	Docs       []DocResult `json:"docs"`
	Version    uint64      `json:"version"`
}

// Text implements texter.
func (r QueryResult) Text(w io.Writer) {
	for _, d := range r.Docs {
		d.Text(w)
	}
	fmt.Fprintf(w, "%d document(s) at view version %d\n", len(r.Docs), r.Version)
}

// ViewOptions holds flags for the view commands.
type ViewOptions struct {
	*RootOptions
	Where []string
}

// NewViewCommand creates the view command and its subcommands.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Read the materialized view",
	}

	get := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one document",
		Long: `Print one document of the view.

Examples:
  braid view get room r1
  braid view get writers <writer key> --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewGet(opts, args[0], args[1], cmd)
		},
	}

	query := &cobra.Command{
		Use:   "query <collection>",
		Short: "List documents of a collection",
		Long: `List the documents of a collection, optionally filtered by field
equality. Values are parsed as JSON when possible and as strings otherwise.

Examples:
  braid view query channel
  braid view query message --where channel=general
  braid view query invites --where revoked=false`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewQuery(opts, args[0], cmd)
		},
	}
	query.Flags().StringArrayVar(&opts.Where, "where", nil, "field=value equality filter (repeatable)")

	cmd.AddCommand(get, query)
	return cmd
}

func runViewGet(opts *ViewOptions, collection, id string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	return withNode(cmd, opts.RootOptions, func(_ context.Context, n *node.Node) error {
		doc, ok := n.Engine.Get(collection, id)
		if !ok {
			if err := out.Error("NOT_FOUND", fmt.Sprintf("%s/%s does not exist", collection, id), nil); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "document not found")
		}
		return out.Success(DocResult{Collection: collection, ID: id, Doc: doc})
	})
}

func runViewQuery(opts *ViewOptions, collection string, cmd *cobra.Command) error {
	pred, err := parseWhere(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}

	out := newFormatter(opts.RootOptions, cmd)
	return withNode(cmd, opts.RootOptions, func(_ context.Context, n *node.Node) error {
		recs := n.Engine.Query(collection, pred)
		res := QueryResult{
			Collection: collection,
			Docs:       make([]DocResult, len(recs)),
			Version:    n.Engine.Version(),
		}
		for i, rec := range recs {
			res.Docs[i] = DocResult{Collection: collection, ID: rec.ID, Doc: rec.Doc}
		}
		return out.Success(res)
	})
}

// parseWhere turns field=value pairs into an equality predicate.
func parseWhere(pairs []string) (view.Predicate, error) {
	if len(pairs) == 0 {
		return view.All(), nil
	}
	eq := make(map[string]ir.Value, len(pairs))
	for _, p := range pairs {
		field, raw, ok := strings.Cut(p, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("%q is not field=value", p)
		}
		eq[field] = parseValue(raw)
	}
	return view.Fields(eq), nil
}

// parseValue reads raw as a JSON scalar, falling back to a string.
func parseValue(raw string) ir.Value {
	doc, err := ir.ParseDoc([]byte(`{"v":` + raw + `}`))
	if err != nil {
		return ir.Str(raw)
	}
	return doc["v"]
}
