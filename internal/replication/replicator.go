// Package replication moves entries between the replicas of one log.
//
// Each replica pushes its own new entries to every peer as soon as they
// are appended, and periodically pulls from every peer whatever lies
// beyond its heads. Inbound frames are handled by one task per peer, which
// only ever calls Ingest: replication never touches the view.
//
// Delivery is at-least-once. Duplicates are harmless because Ingest is
// idempotent.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/sethvargo/go-retry"

	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/transport"
	"github.com/roach88/braid/internal/wire"
)

const (
	// DefaultSyncInterval is the anti-entropy period.
	DefaultSyncInterval = 5 * time.Second

	// DefaultSendRetries bounds retries of one frame to one peer.
	DefaultSendRetries = 3

	// DefaultSendRetryDelay is the delay between send retries.
	DefaultSendRetryDelay = 50 * time.Millisecond
)

var (
	MetricFramesIn  = []string{"braid", "replication", "frames", "in"}
	MetricFramesOut = []string{"braid", "replication", "frames", "out"}
	MetricSendError = []string{"braid", "replication", "send", "error"}
	MetricPeerTasks = []string{"braid", "replication", "peer", "tasks"}
	MetricDropped   = []string{"braid", "replication", "frames", "dropped"}
	MetricInboxLen  = []string{"braid", "replication", "inbox", "len"}
)

// Replica is the engine side of replication. *engine.Engine implements it.
type Replica interface {
	Local() ir.WriterKey
	Heads() ir.VectorClock
	Known() ir.VectorClock
	EntriesSince(writer ir.WriterKey, cursor uint64) []ir.Entry
	Ingest(ctx context.Context, entries []ir.Entry) (engine.IngestResult, error)
	Subscribe(buffer int) (<-chan engine.Change, func())
}

// Replicator runs replication for one replica over one network.
type Replicator struct {
	replica Replica
	net     transport.Network
	logger  *slog.Logger
	msink   metrics.MetricSink

	syncInterval   time.Duration
	sendRetries    uint64
	sendRetryDelay time.Duration

	mu     sync.Mutex
	peers  map[string]*inbox
	pushed uint64
	wg     sync.WaitGroup
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replicator) { r.logger = l }
}

// WithMetricSink sets the metrics sink.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(r *Replicator) { r.msink = ms }
}

// WithSyncInterval sets the anti-entropy period.
func WithSyncInterval(d time.Duration) Option {
	return func(r *Replicator) {
		if d > 0 {
			r.syncInterval = d
		}
	}
}

// WithSendRetry sets how often and how fast a failed send is retried.
func WithSendRetry(retries uint64, delay time.Duration) Option {
	return func(r *Replicator) {
		r.sendRetries, r.sendRetryDelay = retries, delay
	}
}

// New creates a replicator.
func New(replica Replica, net transport.Network, opts ...Option) *Replicator {
	r := &Replicator{
		replica:        replica,
		net:            net,
		logger:         slog.Default(),
		msink:          metrics.Default(),
		syncInterval:   DefaultSyncInterval,
		sendRetries:    DefaultSendRetries,
		sendRetryDelay: DefaultSendRetryDelay,
		peers:          make(map[string]*inbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run replicates until ctx ends. It pulls from every peer once at start.
func (r *Replicator) Run(ctx context.Context) error {
	changes, unsubscribe := r.replica.Subscribe(16)
	defer unsubscribe()

	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	defer r.stopPeers()

	r.Sync(ctx)
	r.Push(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.net.Messages():
			r.route(ctx, msg)
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			r.Push(ctx)
		case <-ticker.C:
			r.Sync(ctx)
		}
	}
}

// Sync asks every peer for the entries beyond this replica's heads.
func (r *Replicator) Sync(ctx context.Context) {
	frame, err := wire.Encode(&wire.Pull{Heads: r.replica.Heads()})
	if err != nil {
		r.logger.Error("encode pull", "error", err)
		return
	}
	for _, peer := range r.net.Peers() {
		r.send(ctx, peer, frame)
	}
}

// Push sends the local writer's entries not yet pushed to every peer.
func (r *Replicator) Push(ctx context.Context) {
	local := r.replica.Local()
	if local == "" {
		return
	}
	r.mu.Lock()
	from := r.pushed
	r.mu.Unlock()

	entries := r.replica.EntriesSince(local, from)
	if len(entries) == 0 {
		return
	}
	frame, err := wire.Encode(&wire.Push{Entries: entries})
	if err != nil {
		r.logger.Error("encode push", "error", err)
		return
	}
	for _, peer := range r.net.Peers() {
		r.send(ctx, peer, frame)
	}

	r.mu.Lock()
	r.pushed = max(r.pushed, entries[len(entries)-1].Seq)
	r.mu.Unlock()
}

func (r *Replicator) send(ctx context.Context, peer string, frame []byte) {
	backoff := retry.WithMaxRetries(r.sendRetries, retry.NewConstant(r.sendRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.net.Send(ctx, peer, frame)
		if errors.Is(err, transport.ErrUnknownPeer) || errors.Is(err, transport.ErrClosed) {
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		r.msink.IncrCounter(MetricSendError, 1)
		r.logger.Debug("send failed", "peer", peer, "error", err)
		return
	}
	r.msink.IncrCounter(MetricFramesOut, 1)
}

// route hands msg to the task of its peer, starting one if needed.
func (r *Replicator) route(ctx context.Context, msg transport.Message) {
	r.msink.IncrCounter(MetricFramesIn, 1)

	r.mu.Lock()
	q, ok := r.peers[msg.From]
	if !ok {
		q = newInbox()
		r.peers[msg.From] = q
		r.wg.Add(1)
		go r.peerTask(ctx, msg.From, q)
		r.msink.SetGauge(MetricPeerTasks, float32(len(r.peers)))
	}
	r.mu.Unlock()

	if !q.Enqueue(msg) {
		// The peer task has stopped.
		r.msink.IncrCounter(MetricDropped, 1)
		r.logger.Debug("frame dropped", "peer", msg.From)
		return
	}
	r.msink.SetGaugeWithLabels(MetricInboxLen, float32(q.Len()), []metrics.Label{{Name: "peer", Value: msg.From}})
}

func (r *Replicator) stopPeers() {
	r.mu.Lock()
	for _, q := range r.peers {
		q.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Replicator) peerTask(ctx context.Context, peer string, q *inbox) {
	defer r.wg.Done()
	lg := r.logger.With("peer", peer)
	for {
		for {
			msg, ok := q.TryDequeue()
			if !ok {
				break
			}
			if err := r.handle(ctx, peer, msg.Data); err != nil {
				lg.Warn("frame failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case _, open := <-q.Wait():
			if !open {
				return
			}
		}
	}
}

func (r *Replicator) handle(ctx context.Context, peer string, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *wire.Push:
		res, err := r.replica.Ingest(ctx, m.Entries)
		if err != nil {
			return fmt.Errorf("ingest from %s: %w", peer, err)
		}
		if res.Accepted > 0 || res.Invalid > 0 || res.Conflicts > 0 {
			r.logger.Debug("ingested",
				"peer", peer,
				"accepted", res.Accepted,
				"duplicates", res.Duplicates,
				"invalid", res.Invalid,
				"conflicts", res.Conflicts,
				"pending", res.Pending,
			)
		}
	case *wire.Pull:
		entries := r.missing(m.Heads)
		if len(entries) == 0 {
			return nil
		}
		frame, err := wire.Encode(&wire.Push{Entries: entries})
		if err != nil {
			return err
		}
		r.send(ctx, peer, frame)
	}
	return nil
}

// missing returns every entry held beyond heads.
func (r *Replicator) missing(heads ir.VectorClock) []ir.Entry {
	var out []ir.Entry
	for _, w := range r.replica.Known().Writers() {
		out = append(out, r.replica.EntriesSince(w, heads[w])...)
	}
	return out
}
