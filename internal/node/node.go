// Package node assembles one braid replica: its store, engine,
// replicator and pairing responder.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/braid/internal/chat"
	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/invite"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
	"github.com/roach88/braid/internal/pairing"
	"github.com/roach88/braid/internal/replication"
	"github.com/roach88/braid/internal/store"
	"github.com/roach88/braid/internal/transport"
	"github.com/roach88/braid/internal/writerset"
)

var (
	// ErrInitialized is returned by Init on a store that already holds an
	// identity.
	ErrInitialized = errors.New("node: store already initialized")

	// ErrNotInitialized is returned by Open on an empty store.
	ErrNotInitialized = errors.New("node: store not initialized")
)

// encryptionKeySize is the size of the log encryption key handed to new
// writers.
const encryptionKeySize = 32

// Network is what a node needs from its transport.
type Network interface {
	transport.Network
	transport.Rendezvous
}

// discoverable is implemented by networks that advertise the log they
// replicate.
type discoverable interface {
	SetDiscovery(discovery string) error
}

// Registry returns the command registry every braid replica runs.
func Registry() (*dispatch.Registry, error) {
	return dispatch.NewRegistry(writerset.Module{}, invite.Module{}, chat.Module{})
}

// Options tunes a node.
type Options struct {
	Logger             *slog.Logger
	MetricSink         metrics.MetricSink
	CheckpointInterval int
	SyncInterval       time.Duration
	PairingTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MetricSink == nil {
		o.MetricSink = metrics.Default()
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = engine.DefaultCheckpointInterval
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = replication.DefaultSyncInterval
	}
	if o.PairingTimeout <= 0 {
		o.PairingTimeout = pairing.DefaultTimeout
	}
	return o
}

// Node is one running replica.
type Node struct {
	Engine   *engine.Engine
	Identity store.Identity

	store  *store.Store
	writer *keys.KeyPair
	opts   Options

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Init creates a new log whose bootstrap writer is a fresh local key.
func Init(ctx context.Context, s *store.Store) (store.Identity, error) {
	if _, ok, err := s.LoadIdentity(ctx); err != nil {
		return store.Identity{}, ir.StorageError("load identity", err)
	} else if ok {
		return store.Identity{}, ErrInitialized
	}

	writer, err := keys.Generate()
	if err != nil {
		return store.Identity{}, err
	}
	encKey, err := keys.RandomBytes(encryptionKeySize)
	if err != nil {
		return store.Identity{}, err
	}
	id := store.Identity{
		WriterSeed:    writer.Seed(),
		LogKey:        writer.Public(),
		EncryptionKey: encKey,
	}
	if err := s.SaveIdentity(ctx, id); err != nil {
		return store.Identity{}, ir.StorageError("save identity", err)
	}
	return id, nil
}

// Open loads the identity stored in s and replays the stored entries.
func Open(ctx context.Context, s *store.Store, opts Options) (*Node, error) {
	id, ok, err := s.LoadIdentity(ctx)
	if err != nil {
		return nil, ir.StorageError("load identity", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return open(ctx, s, id, opts.withDefaults())
}

func open(ctx context.Context, s *store.Store, id store.Identity, opts Options) (*Node, error) {
	writer, err := keys.FromSeed(id.WriterSeed)
	if err != nil {
		return nil, fmt.Errorf("writer seed: %w", err)
	}
	reg, err := Registry()
	if err != nil {
		return nil, err
	}
	eng, err := engine.Open(ctx, id.LogKey, reg,
		engine.WithSigner(writer),
		engine.WithStore(s),
		engine.WithLogger(opts.Logger),
		engine.WithMetricSink(opts.MetricSink),
		engine.WithCheckpointInterval(opts.CheckpointInterval),
	)
	if err != nil {
		return nil, err
	}
	return &Node{
		Engine:   eng,
		Identity: id,
		store:    s,
		writer:   writer,
		opts:     opts,
	}, nil
}

// Join redeems token over net, records the joined log in s and starts
// replicating. It returns once the local writer is writable.
func Join(ctx context.Context, s *store.Store, net Network, token string, opts Options) (*Node, error) {
	if _, ok, err := s.LoadIdentity(ctx); err != nil {
		return nil, ir.StorageError("load identity", err)
	} else if ok {
		return nil, ErrInitialized
	}
	opts = opts.withDefaults()

	cand := pairing.NewCandidate(net,
		pairing.WithTimeout(opts.PairingTimeout),
		pairing.WithCandidateLogger(opts.Logger),
		pairing.WithCandidateMetricSink(opts.MetricSink),
	)

	var n *Node
	openJoined := func(ctx context.Context, joined pairing.JoinedLog) (*engine.Engine, error) {
		id := store.Identity{
			WriterSeed:    joined.Writer.Seed(),
			LogKey:        joined.LogKey,
			EncryptionKey: joined.EncryptionKey,
		}
		if err := s.SaveIdentity(ctx, id); err != nil {
			return nil, ir.StorageError("save identity", err)
		}
		var err error
		if n, err = open(ctx, s, id, opts); err != nil {
			return nil, err
		}
		if err := n.Start(net); err != nil {
			return nil, err
		}
		return n.Engine, nil
	}

	if _, _, err := cand.Join(ctx, token, nil, openJoined); err != nil {
		if n != nil {
			_ = n.Close(context.WithoutCancel(ctx))
		}
		return nil, err
	}
	return n, nil
}

// Writer returns the local writer key.
func (n *Node) Writer() ir.WriterKey { return n.writer.Public() }

// Start replicates over net and answers pairing requests until Close.
func (n *Node) Start(net Network) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.group != nil {
		return errors.New("node: already started")
	}

	if d, ok := net.(discoverable); ok {
		if err := d.SetDiscovery(n.Engine.DiscoveryID()); err != nil {
			return fmt.Errorf("advertise discovery: %w", err)
		}
	}

	resp, err := pairing.NewResponder(n.Engine, net,
		pairing.WithResponderLogger(n.opts.Logger),
		pairing.WithResponderMetricSink(n.opts.MetricSink),
		pairing.WithEncryptionKey(n.Identity.EncryptionKey),
	)
	if err != nil {
		return err
	}
	rep := replication.New(n.Engine, net,
		replication.WithLogger(n.opts.Logger),
		replication.WithMetricSink(n.opts.MetricSink),
		replication.WithSyncInterval(n.opts.SyncInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rep.Run(ctx) })
	g.Go(func() error { return resp.Run(ctx) })
	n.cancel, n.group = cancel, g

	n.opts.Logger.Info("node started",
		"log", n.Engine.LogKey().Short(),
		"writer", n.Writer().Short(),
		"peer_id", net.LocalID(),
	)
	return nil
}

// Close stops replication and saves a view snapshot. The store stays
// open; it belongs to the caller.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel, g := n.cancel, n.group
	n.cancel, n.group = nil, nil
	n.mu.Unlock()

	var errs []error
	if g != nil {
		cancel()
		errs = append(errs, g.Wait())
	}
	errs = append(errs, n.Engine.Close(ctx))
	return errors.Join(errs...)
}

// CreateInvite appends an invite and returns its encoded token.
func (n *Node) CreateInvite(ctx context.Context, opts invite.Options) (string, error) {
	tok, err := invite.Create(ctx, n.Engine, n.Engine.DiscoveryID(), opts, time.Now())
	if err != nil {
		return "", err
	}
	return tok.Encode()
}
