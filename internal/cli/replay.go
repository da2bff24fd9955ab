package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-metrics"
	"github.com/spf13/cobra"

	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/node"
	"github.com/roach88/braid/internal/store"
)

// Snapshot states reported by replay.
const (
	SnapshotAbsent   = "absent"
	SnapshotStale    = "stale"
	SnapshotMatch    = "match"
	SnapshotMismatch = "mismatch"
)

// ReplayResult holds the outcome of replaying a database.
type ReplayResult struct {
	LogKey        string        `json:"log_key"`
	Entries       int           `json:"entries"`
	Ordered       int           `json:"ordered"`
	Pending       int           `json:"pending"`
	Writers       int           `json:"writers"`
	Skips         []engine.Skip `json:"skips"`
	Hash          string        `json:"hash"`
	Deterministic bool          `json:"deterministic"`
	Snapshot      string        `json:"snapshot"`
}

// Text implements texter.
func (r ReplayResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Log %s\n", ir.WriterKey(r.LogKey).Short())
	fmt.Fprintf(w, "  entries:  %d (%d ordered, %d pending)\n", r.Entries, r.Ordered, r.Pending)
	fmt.Fprintf(w, "  writers:  %d active\n", r.Writers)
	fmt.Fprintf(w, "  view:     %s\n", r.Hash)
	fmt.Fprintf(w, "  snapshot: %s\n", r.Snapshot)
	if len(r.Skips) > 0 {
		fmt.Fprintf(w, "  skipped:  %d\n", len(r.Skips))
		for _, s := range r.Skips {
			fmt.Fprintf(w, "    #%d %s %s: %s\n", s.Position, s.Ref, s.Command, s.Reason)
		}
	}
	if r.Deterministic {
		fmt.Fprintln(w, "✓ Replay is deterministic")
	} else {
		fmt.Fprintln(w, "✗ Replay is NOT deterministic")
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the stored log and verify determinism",
		Long: `Rebuild the view from the stored entries twice, feeding them in
opposite orders, and check that both runs agree. The stored view snapshot,
if any, is compared as well.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, not initialized, etc.)

Examples:
  braid replay --db ./braid.db
  braid replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	id, ok, err := st.LoadIdentity(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load identity", err)
	}
	if !ok {
		return WrapExitError(ExitCommandError, "database not initialized (run braid init or braid join)", node.ErrNotInitialized)
	}

	entries, err := st.LoadAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load entries", err)
	}
	out.VerboseLog("loaded %d entries", len(entries))

	first, err := replayEntries(ctx, id.LogKey, entries)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	reversed := slices.Clone(entries)
	slices.Reverse(reversed)
	second, err := replayEntries(ctx, id.LogKey, reversed)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}

	hash := first.View().Hash()
	res := ReplayResult{
		LogKey:  string(id.LogKey),
		Entries: len(entries),
		Ordered: len(first.Order()),
		Pending: len(first.Pending()),
		Writers: len(first.Writers()),
		Skips:   first.Skips(),
		Hash:    hash,
		Deterministic: hash == second.View().Hash() &&
			ir.OrderDigest(first.Order()) == ir.OrderDigest(second.Order()),
	}
	if res.Skips == nil {
		res.Skips = []engine.Skip{}
	}

	res.Snapshot, err = compareSnapshot(ctx, st, first)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	if res.Snapshot == SnapshotMismatch {
		res.Deterministic = false
	}

	if err := out.Success(res); err != nil {
		return err
	}
	if !res.Deterministic {
		return NewExitError(ExitFailure, "replay is not deterministic")
	}
	return nil
}

// replayEntries builds a detached engine from entries. Nothing is
// persisted.
func replayEntries(ctx context.Context, logKey ir.WriterKey, entries []ir.Entry) (*engine.Engine, error) {
	registry, err := node.Registry()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(logKey, registry,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithMetricSink(&metrics.BlackholeSink{}),
	)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Ingest(ctx, entries); err != nil {
		return nil, err
	}
	return eng, nil
}

// compareSnapshot checks the stored snapshot against a replayed engine.
// A snapshot taken at a different order is stale, not wrong.
func compareSnapshot(ctx context.Context, st *store.Store, eng *engine.Engine) (string, error) {
	snap, ok, err := st.LoadViewSnapshot(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return SnapshotAbsent, nil
	}
	order := eng.Order()
	if snap.EngineVersion != ir.EngineVersion || snap.Length != len(order) || snap.Digest != ir.OrderDigest(order) {
		return SnapshotStale, nil
	}
	v, err := snap.Decode()
	if err != nil {
		return SnapshotMismatch, nil
	}
	if v.Hash() != eng.View().Hash() {
		return SnapshotMismatch, nil
	}
	return SnapshotMatch, nil
}
