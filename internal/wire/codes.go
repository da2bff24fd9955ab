// Package wire encodes the frames braid nodes exchange: a one-byte message
// code followed by the CBOR encoding of the message.
package wire

import (
	"fmt"

	"github.com/roach88/braid/internal/ir"
)

const (
	CodeMin uint8 = iota

	// pairing
	CodeHello
	CodeWelcome

	// replication
	CodePush
	CodePull

	CodeMax
)

// Hello is sent by a candidate on the rendezvous topic.
type Hello struct {
	Session  string `cbor:"1,keyasint"`
	InviteID string `cbor:"2,keyasint"`
	Proof    string `cbor:"3,keyasint"`
}

// Welcome answers a Hello. Sealed is encrypted to the candidate's X25519
// seal key.
type Welcome struct {
	Session string `cbor:"1,keyasint"`
	Sealed  []byte `cbor:"2,keyasint"`
}

// Push carries entries to a peer.
type Push struct {
	Entries []ir.Entry `cbor:"1,keyasint"`
}

// Pull asks a peer for every entry past heads.
type Pull struct {
	Heads ir.VectorClock `cbor:"1,keyasint"`
}

func codeOf(v any) (uint8, string, error) {
	switch v.(type) {
	case *Hello:
		return CodeHello, "CodeHello", nil
	case *Welcome:
		return CodeWelcome, "CodeWelcome", nil
	case *Push:
		return CodePush, "CodePush", nil
	case *Pull:
		return CodePull, "CodePull", nil
	default:
		return 0, "", fmt.Errorf("invalid encode type (%T)", v)
	}
}

func messageFor(code uint8) (any, error) {
	switch code {
	case CodeHello:
		return &Hello{}, nil
	case CodeWelcome:
		return &Welcome{}, nil
	case CodePush:
		return &Push{}, nil
	case CodePull:
		return &Pull{}, nil
	default:
		return nil, fmt.Errorf("invalid message code (%d)", code)
	}
}
