// Package transport defines what braid consumes from the network.
//
// A Network moves opaque frames between the replicas of one log. A
// Rendezvous is a best-effort broadcast channel keyed by topic, used only
// for pairing. Neither guarantees delivery; callers retry.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed network or topic.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownPeer is returned by Send for peers that are not reachable.
	ErrUnknownPeer = errors.New("transport: unknown peer")
)

// Message is one frame received from a peer.
type Message struct {
	From string
	Data []byte
}

// Network connects the replicas of one log.
type Network interface {
	// LocalID is the identifier peers see in Message.From.
	LocalID() string

	// Peers returns the currently reachable peers.
	Peers() []string

	// Send delivers data to one peer.
	Send(ctx context.Context, peer string, data []byte) error

	// Messages returns the inbound frame channel.
	Messages() <-chan Message
}

// Rendezvous opens topic subscriptions.
type Rendezvous interface {
	Join(topic string) (Topic, error)
}

// Topic is one rendezvous subscription. Publish reaches every other
// subscriber of the topic; Close releases the subscription.
type Topic interface {
	Publish(ctx context.Context, data []byte) error
	Messages() <-chan Message
	Close() error
}
