// Package gossip is the production transport: a memberlist cluster in
// which every node advertises the discovery id of the log it replicates.
// Peers of a log are the members advertising the same discovery id.
// Rendezvous topics are flooded to every member, since a pairing
// candidate does not replicate anything yet.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"

	"github.com/roach88/braid/internal/transport"
)

const (
	defaultBuffer       = 256
	defaultLeaveTimeout = 2 * time.Second
)

var (
	MetricFramesSent    = []string{"braid", "gossip", "frames", "sent"}
	MetricFramesDropped = []string{"braid", "gossip", "frames", "dropped"}
	MetricBadFrames     = []string{"braid", "gossip", "frames", "invalid"}
)

// ErrJoinCluster is returned when none of the seed addresses answered.
var ErrJoinCluster = errors.New("gossip: could not join cluster")

// Config describes one gossip node.
type Config struct {
	// Name must be unique in the cluster. Empty means the hostname.
	Name string

	BindAddr string
	BindPort int

	// Seeds are host:port addresses of existing members.
	Seeds []string

	// Discovery is the discovery id of the replicated log, if any.
	Discovery string
}

// Option tunes a Node.
type Option func(*Node)

// WithLogger sets the logger. memberlist logs through it at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetricSink sets the metric sink.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(n *Node) {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		n.msink = ms
	}
}

// WithMemberlistConfig replaces the memberlist base profile, which
// defaults to memberlist.DefaultLANConfig. Name, bind address and
// delegates are always overwritten.
func WithMemberlistConfig(c *memberlist.Config) Option {
	return func(n *Node) { n.mlCfg = c }
}

// Node implements transport.Network and transport.Rendezvous.
type Node struct {
	ml     *memberlist.Memberlist
	mlCfg  *memberlist.Config
	logger *slog.Logger
	msink  metrics.MetricSink
	inbox  chan transport.Message

	mu        sync.Mutex
	discovery string
	topics    map[string]map[*topic]struct{}
	closed    bool
}

// New creates the local member and joins the seeds, if any.
func New(cfg Config, opts ...Option) (*Node, error) {
	n := &Node{
		inbox:     make(chan transport.Message, defaultBuffer),
		discovery: cfg.Discovery,
		topics:    make(map[string]map[*topic]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.msink == nil {
		n.msink = metrics.Default()
	}
	if n.mlCfg == nil {
		n.mlCfg = memberlist.DefaultLANConfig()
	}

	if cfg.Name != "" {
		n.mlCfg.Name = cfg.Name
	}
	if cfg.BindAddr != "" {
		n.mlCfg.BindAddr = cfg.BindAddr
		n.mlCfg.AdvertiseAddr = cfg.BindAddr
	}
	n.mlCfg.BindPort = cfg.BindPort
	n.mlCfg.AdvertisePort = cfg.BindPort
	n.mlCfg.Delegate = &delegate{node: n}
	n.mlCfg.Events = &events{logger: n.logger}
	n.mlCfg.LogOutput = nil
	n.mlCfg.Logger = slog.NewLogLogger(n.logger.Handler(), slog.LevelDebug)

	ml, err := memberlist.Create(n.mlCfg)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	n.ml = ml

	if len(cfg.Seeds) > 0 {
		joined, err := ml.Join(cfg.Seeds)
		if err != nil {
			_ = ml.Shutdown()
			return nil, fmt.Errorf("%w: %w", ErrJoinCluster, err)
		}
		n.logger.Info("cluster joined")
		if joined != len(cfg.Seeds) {
			n.logger.Warn(
				"not all seeds are reachable",
				"joined", joined,
				"expected", len(cfg.Seeds),
			)
		}
	}
	return n, nil
}

// Addr returns the advertised host:port of the local member.
func (n *Node) Addr() string {
	return n.ml.LocalNode().Address()
}

// SetDiscovery changes the advertised discovery id, for example once a
// pairing candidate has joined a log.
func (n *Node) SetDiscovery(discovery string) error {
	n.mu.Lock()
	n.discovery = discovery
	n.mu.Unlock()
	return n.ml.UpdateNode(defaultLeaveTimeout)
}

func (n *Node) currentDiscovery() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.discovery
}

// LocalID implements transport.Network.
func (n *Node) LocalID() string { return n.ml.LocalNode().Name }

// Peers implements transport.Network.
func (n *Node) Peers() []string {
	disco := n.currentDiscovery()
	if disco == "" {
		return nil
	}
	local := n.LocalID()
	var out []string
	for _, m := range n.ml.Members() {
		if m.Name == local || decodeMeta(m.Meta) != disco {
			continue
		}
		out = append(out, m.Name)
	}
	slices.Sort(out)
	return out
}

func (n *Node) member(name string) *memberlist.Node {
	for _, m := range n.ml.Members() {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Send implements transport.Network.
func (n *Node) Send(ctx context.Context, peer string, data []byte) error {
	if n.isClosed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := n.member(peer)
	if m == nil || decodeMeta(m.Meta) != n.currentDiscovery() {
		return transport.ErrUnknownPeer
	}
	frame, err := envelope{Kind: kindDirect, From: n.LocalID(), Data: data}.encode()
	if err != nil {
		return err
	}
	if err := n.ml.SendReliable(m, frame); err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	n.msink.IncrCounter(MetricFramesSent, 1)
	return nil
}

// Messages implements transport.Network.
func (n *Node) Messages() <-chan transport.Message { return n.inbox }

// Join implements transport.Rendezvous.
func (n *Node) Join(name string) (transport.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, transport.ErrClosed
	}
	t := &topic{node: n, name: name, inbox: make(chan transport.Message, defaultBuffer)}
	if n.topics[name] == nil {
		n.topics[name] = make(map[*topic]struct{})
	}
	n.topics[name][t] = struct{}{}
	return t, nil
}

// Close leaves the cluster and releases the memberlist resources.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.logger.Info("shutdown: leave cluster")
	if err := n.ml.Leave(defaultLeaveTimeout); err != nil {
		n.logger.Warn("leave failed", "error", err)
	}
	return n.ml.Shutdown()
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// deliver routes one inbound frame. It never blocks: memberlist calls it
// from its packet handler.
func (n *Node) deliver(e envelope) {
	msg := transport.Message{From: e.From, Data: e.Data}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if e.Kind == kindDirect {
		select {
		case n.inbox <- msg:
		default:
			n.msink.IncrCounter(MetricFramesDropped, 1)
		}
		return
	}
	for sub := range n.topics[e.Topic] {
		select {
		case sub.inbox <- msg:
		default:
			n.msink.IncrCounter(MetricFramesDropped, 1)
		}
	}
}

type topic struct {
	node  *Node
	name  string
	inbox chan transport.Message
	once  sync.Once
}

// Publish floods data to every other member. Local subscribers other
// than t also receive it.
func (t *topic) Publish(ctx context.Context, data []byte) error {
	n := t.node
	n.mu.Lock()
	_, ok := n.topics[t.name][t]
	n.mu.Unlock()
	if !ok {
		return transport.ErrClosed
	}
	frame, err := envelope{Kind: kindTopic, Topic: t.name, From: n.LocalID(), Data: data}.encode()
	if err != nil {
		return err
	}

	n.mu.Lock()
	for sub := range n.topics[t.name] {
		if sub == t {
			continue
		}
		select {
		case sub.inbox <- transport.Message{From: n.LocalID(), Data: slices.Clone(data)}:
		default:
		}
	}
	n.mu.Unlock()

	local := n.LocalID()
	var errs []error
	for _, m := range n.ml.Members() {
		if m.Name == local {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.ml.SendReliable(m, frame); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", m.Name, err))
			continue
		}
		n.msink.IncrCounter(MetricFramesSent, 1)
	}
	return errors.Join(errs...)
}

func (t *topic) Messages() <-chan transport.Message { return t.inbox }

func (t *topic) Close() error {
	t.once.Do(func() {
		n := t.node
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.topics[t.name], t)
		if len(n.topics[t.name]) == 0 {
			delete(n.topics, t.name)
		}
	})
	return nil
}

// delegate hooks the node into memberlist.
type delegate struct {
	node *Node
}

func (d *delegate) NodeMeta(limit int) []byte {
	b := encodeMeta(d.node.currentDiscovery())
	if len(b) > limit {
		return nil
	}
	return b
}

// NotifyMsg must copy buf: memberlist reuses it.
func (d *delegate) NotifyMsg(buf []byte) {
	e, err := decodeEnvelope(slices.Clone(buf))
	if err != nil {
		d.node.msink.IncrCounter(MetricBadFrames, 1)
		d.node.logger.Debug("dropping gossip frame", "error", err)
		return
	}
	d.node.deliver(e)
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *delegate) LocalState(join bool) []byte { return nil }

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

type events struct {
	logger *slog.Logger
}

func (e *events) NotifyJoin(node *memberlist.Node) {
	withLogNode(e.logger, node).Info("peer joined cluster")
}

func (e *events) NotifyLeave(node *memberlist.Node) {
	withLogNode(e.logger, node).Info("peer left cluster")
}

func (e *events) NotifyUpdate(node *memberlist.Node) {
	withLogNode(e.logger, node).Info("peer updated")
}

func withLogNode(l *slog.Logger, node *memberlist.Node) *slog.Logger {
	return l.With("peer", node.Name, "addr", node.Address(), "discovery", decodeMeta(node.Meta))
}
