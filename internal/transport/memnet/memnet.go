// Package memnet is an in-process transport. Every Node attached to a Hub
// can reach every other Node, unless the hub has been told to drop its
// traffic.
package memnet

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/braid/internal/transport"
)

const defaultBuffer = 256

// Hub connects Nodes.
type Hub struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	topics map[string]map[*topic]struct{}
	down   map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		nodes:  make(map[string]*Node),
		topics: make(map[string]map[*topic]struct{}),
		down:   make(map[string]bool),
	}
}

// Node attaches a new node with the given id. Attaching an id twice
// returns the existing node.
func (h *Hub) Node(id string) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.nodes[id]; ok {
		return n
	}
	n := &Node{hub: h, id: id, inbox: make(chan transport.Message, defaultBuffer)}
	h.nodes[id] = n
	return n
}

// SetDown makes the hub drop all traffic to and from id.
func (h *Hub) SetDown(id string, down bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down[id] = down
}

func (h *Hub) reachable(from, to string) (*Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down[from] || h.down[to] {
		return nil, false
	}
	n, ok := h.nodes[to]
	if !ok || n.closed {
		return nil, false
	}
	return n, true
}

// Node is one endpoint. It implements transport.Network and
// transport.Rendezvous.
type Node struct {
	hub    *Hub
	id     string
	inbox  chan transport.Message
	closed bool
}

// LocalID implements transport.Network.
func (n *Node) LocalID() string { return n.id }

// Peers implements transport.Network.
func (n *Node) Peers() []string {
	h := n.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down[n.id] {
		return nil
	}
	out := make([]string, 0, len(h.nodes))
	for id, peer := range h.nodes {
		if id == n.id || peer.closed || h.down[id] {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Send implements transport.Network. Traffic to a down node is dropped
// silently, like a lossy link.
func (n *Node) Send(ctx context.Context, peer string, data []byte) error {
	if n.isClosed() {
		return transport.ErrClosed
	}
	h := n.hub
	h.mu.Lock()
	_, known := h.nodes[peer]
	h.mu.Unlock()
	if !known {
		return transport.ErrUnknownPeer
	}
	dst, ok := h.reachable(n.id, peer)
	if !ok {
		return nil
	}
	msg := transport.Message{From: n.id, Data: slices.Clone(data)}
	select {
	case dst.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages implements transport.Network.
func (n *Node) Messages() <-chan transport.Message { return n.inbox }

// Close detaches the node. Its inbox is not closed so late senders
// never panic.
func (n *Node) Close() {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	n.closed = true
}

func (n *Node) isClosed() bool {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	return n.closed
}

// Join implements transport.Rendezvous.
func (n *Node) Join(name string) (transport.Topic, error) {
	if n.isClosed() {
		return nil, transport.ErrClosed
	}
	t := &topic{node: n, name: name, inbox: make(chan transport.Message, defaultBuffer)}
	h := n.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[name] == nil {
		h.topics[name] = make(map[*topic]struct{})
	}
	h.topics[name][t] = struct{}{}
	return t, nil
}

type topic struct {
	node  *Node
	name  string
	inbox chan transport.Message
	once  sync.Once
}

// Publish delivers data to every other subscriber without blocking. A
// full subscriber loses the message.
func (t *topic) Publish(_ context.Context, data []byte) error {
	h := t.node.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[t.name]
	if !ok {
		return transport.ErrClosed
	}
	if _, ok := subs[t]; !ok {
		return transport.ErrClosed
	}
	if h.down[t.node.id] {
		return nil
	}
	for sub := range subs {
		if sub == t || h.down[sub.node.id] {
			continue
		}
		select {
		case sub.inbox <- transport.Message{From: t.node.id, Data: slices.Clone(data)}:
		default:
		}
	}
	return nil
}

func (t *topic) Messages() <-chan transport.Message { return t.inbox }

func (t *topic) Close() error {
	t.once.Do(func() {
		h := t.node.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.topics[t.name], t)
		if len(h.topics[t.name]) == 0 {
			delete(h.topics, t.name)
		}
	})
	return nil
}

// Subscribers reports how many subscriptions topic currently has.
func (h *Hub) Subscribers(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[name])
}
