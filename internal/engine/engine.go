package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/hashicorp/go-metrics"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// DefaultCheckpointInterval is the number of replay positions between view
// checkpoints.
const DefaultCheckpointInterval = 64

// Store is the persistence the engine consumes. Snapshots are a cache;
// correctness never depends on them.
type Store interface {
	LoadAll(ctx context.Context) ([]ir.Entry, error)
	AppendLocal(ctx context.Context, writer ir.WriterKey, e ir.Entry) error
	AppendRemote(ctx context.Context, entries []ir.Entry) error
	SaveViewSnapshot(ctx context.Context, snap view.Snapshot) error
	LoadViewSnapshot(ctx context.Context) (view.Snapshot, bool, error)
}

// Engine is one replica of one log: its entries, order, writer set and
// view. There are no process-wide singletons; every collaborator receives
// the Engine it works on.
type Engine struct {
	logKey   ir.WriterKey
	registry *dispatch.Registry
	signer   keys.Signer
	verifier keys.Verifier
	store    Store
	logger   *slog.Logger
	msink    metrics.MetricSink

	checkpointInterval int
	parallelism        int

	// appendMu serializes Append: one seq counter per local writer.
	appendMu sync.Mutex

	// mu guards ordering and replay state.
	mu          sync.Mutex
	entries     map[ir.EntryRef]ir.Entry
	pending     map[ir.EntryRef]struct{}
	waiting     map[ir.EntryRef][]ir.EntryRef // missing dependency -> dependents
	unresolved  []ir.EntryRef                 // admitted since the last resolve
	heights     map[ir.EntryRef]int
	lastSeq     map[ir.WriterKey]uint64 // highest known seq, pending included
	heads       ir.VectorClock          // highest ordered seq
	order       []ir.EntryRef
	checkpoints map[int]*view.View
	skips       []Skip

	// excluded holds entries of removed writers that sit before their
	// removal in the order but past its removal point, mapped to the
	// removal's position. rescan forces the next replay to start at 0.
	excluded map[ir.EntryRef]int
	rescan   bool

	// readMu guards what readers see.
	readMu  sync.RWMutex
	current *view.View
	version uint64
	ready   chan struct{}
	clock   *Clock

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// Option configures an Engine.
type Option func(*Engine)

// WithSigner sets the local writer. Without one the engine is a read-only
// replica and Append fails with NotWritableError.
func WithSigner(s keys.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithVerifier overrides the signature verifier.
func WithVerifier(v keys.Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithStore persists entries and snapshots.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetricSink sets the metrics sink. Defaults to metrics.Default().
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(e *Engine) {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		e.msink = ms
	}
}

// WithCheckpointInterval sets the distance between checkpoints.
func WithCheckpointInterval(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.checkpointInterval = n
		}
	}
}

// WithParallelism bounds concurrent signature verification.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// New creates an empty engine for the log identified by logKey. The log key
// is a writer from position 0.
func New(logKey ir.WriterKey, registry *dispatch.Registry, opts ...Option) (*Engine, error) {
	if _, err := keys.PublicKeyBytes(logKey); err != nil {
		return nil, fmt.Errorf("new engine: log key: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("new engine: registry is required")
	}

	e := &Engine{
		logKey:             logKey,
		registry:           registry,
		verifier:           keys.Ed25519Verifier{},
		logger:             slog.Default(),
		checkpointInterval: DefaultCheckpointInterval,
		parallelism:        runtime.GOMAXPROCS(0),
		entries:            make(map[ir.EntryRef]ir.Entry),
		pending:            make(map[ir.EntryRef]struct{}),
		waiting:            make(map[ir.EntryRef][]ir.EntryRef),
		excluded:           make(map[ir.EntryRef]int),
		heights:            make(map[ir.EntryRef]int),
		lastSeq:            make(map[ir.WriterKey]uint64),
		heads:              make(ir.VectorClock),
		checkpoints:        make(map[int]*view.View),
		ready:              make(chan struct{}),
		clock:              NewClock(),
		subs:               make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.msink == nil {
		e.msink = metrics.Default()
	}

	genesis := view.Empty().Begin()
	if err := writerset.Bootstrap(genesis, logKey); err != nil {
		return nil, fmt.Errorf("new engine: bootstrap: %w", err)
	}
	e.checkpoints[0] = genesis.Commit()
	e.current = e.checkpoints[0]

	return e, nil
}

// Open creates an engine and loads every persisted entry from its store.
// A stored snapshot is used instead of replay when it matches the loaded
// entry set.
func Open(ctx context.Context, logKey ir.WriterKey, registry *dispatch.Registry, opts ...Option) (*Engine, error) {
	e, err := New(logKey, registry, opts...)
	if err != nil {
		return nil, err
	}
	if e.store == nil {
		return e, nil
	}

	stored, err := e.store.LoadAll(ctx)
	if err != nil {
		return nil, ir.StorageError("load entries", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, entry := range stored {
		e.admit(entry)
	}
	e.resolve()

	order := e.computeOrder()
	if v, ok := e.usableSnapshot(ctx, order); ok {
		e.order = order
		if len(order) > 0 {
			e.checkpoints[len(order)] = v
		}
		// Exclusions behind the snapshot are unknown.
		e.rescan = writerset.HasRemovals(v)
		e.publish(v)
		e.logger.Info("engine opened from snapshot",
			"log", logKey.Short(),
			"entries", len(order),
		)
		return e, nil
	}

	e.replay(order)
	e.logger.Info("engine opened",
		"log", logKey.Short(),
		"entries", len(e.order),
		"pending", len(e.pending),
	)
	return e, nil
}

func (e *Engine) usableSnapshot(ctx context.Context, order []ir.EntryRef) (*view.View, bool) {
	snap, ok, err := e.store.LoadViewSnapshot(ctx)
	if err != nil {
		e.logger.Warn("snapshot unreadable, replaying", "error", err)
		return nil, false
	}
	if !ok || snap.EngineVersion != ir.EngineVersion || snap.Length != len(order) || snap.Digest != ir.OrderDigest(order) {
		return nil, false
	}
	v, err := snap.Decode()
	if err != nil {
		e.logger.Warn("snapshot corrupt, replaying", "error", err)
		return nil, false
	}
	return v, true
}

// SaveSnapshot persists the current view with its order digest.
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.mu.Lock()
	order := slices.Clone(e.order)
	e.mu.Unlock()

	v := e.View()
	data, err := v.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	snap := view.Snapshot{
		Digest:        ir.OrderDigest(order),
		Length:        len(order),
		EngineVersion: ir.EngineVersion,
		Data:          data,
	}
	if err := e.store.SaveViewSnapshot(ctx, snap); err != nil {
		return ir.StorageError("save snapshot", err)
	}
	return nil
}

// Close saves a snapshot and ends every subscription.
func (e *Engine) Close(ctx context.Context) error {
	err := e.SaveSnapshot(ctx)

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()

	return err
}

// LogKey returns the log's bootstrap writer key.
func (e *Engine) LogKey() ir.WriterKey {
	return e.logKey
}

// DiscoveryID returns the log's public discovery identifier.
func (e *Engine) DiscoveryID() string {
	return ir.DiscoveryID(e.logKey)
}

// Local returns the local writer key, or "" for a read-only replica.
func (e *Engine) Local() ir.WriterKey {
	if e.signer == nil {
		return ""
	}
	return e.signer.Public()
}

// Registry returns the command registry.
func (e *Engine) Registry() *dispatch.Registry {
	return e.registry
}

// View returns the last committed view.
func (e *Engine) View() *view.View {
	e.readMu.RLock()
	defer e.readMu.RUnlock()
	return e.current
}

// Version returns the version of the last committed view.
func (e *Engine) Version() uint64 {
	e.readMu.RLock()
	defer e.readMu.RUnlock()
	return e.version
}

// Get reads one document from the last committed view.
func (e *Engine) Get(collection, id string) (ir.Doc, bool) {
	return e.View().Get(collection, id)
}

// Query reads matching documents from the last committed view.
func (e *Engine) Query(collection string, pred view.Predicate) []view.Record {
	return e.View().Query(collection, pred)
}

// Writers returns the active writer keys.
func (e *Engine) Writers() []ir.WriterKey {
	return writerset.Active(e.View())
}

// Writable reports whether key is in the current writer set.
func (e *Engine) Writable(key ir.WriterKey) bool {
	return writerset.IsActive(e.View(), key)
}

// Skips returns the skips of the current order. After Open restores a
// snapshot, skips inside the snapshot are not known until a replay passes
// over them again.
func (e *Engine) Skips() []Skip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.skips)
}

// Order returns the current replay order.
func (e *Engine) Order() []ir.EntryRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.order)
}

// Pending returns entries held back because a dependency is missing.
func (e *Engine) Pending() []ir.EntryRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ir.EntryRef, 0, len(e.pending))
	for ref := range e.pending {
		out = append(out, ref)
	}
	slices.SortFunc(out, compareRefs)
	return out
}

// Heads returns, per writer, the highest seq whose entry is ordered.
// Ordered entries of a writer are always contiguous from seq 1.
func (e *Engine) Heads() ir.VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heads.Clone()
}

// Known returns, per writer, the highest seq held, pending included.
func (e *Engine) Known() ir.VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(ir.VectorClock, len(e.lastSeq))
	for w, s := range e.lastSeq {
		out[w] = s
	}
	return out
}

// Entry returns one accepted entry.
func (e *Engine) Entry(ref ir.EntryRef) (ir.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[ref]
	return entry, ok
}

// EntriesSince returns writer's entries with seq above cursor, in seq
// order, stopping at the first gap.
func (e *Engine) EntriesSince(writer ir.WriterKey, cursor uint64) []ir.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ir.Entry
	for seq := cursor + 1; ; seq++ {
		entry, ok := e.entries[ir.EntryRef{Writer: writer, Seq: seq}]
		if !ok {
			return out
		}
		out = append(out, entry)
	}
}
