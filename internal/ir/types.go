package ir

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
)

// WriterKey identifies a writer: lowercase hex of its Ed25519 public key.
// Plain string order on WriterKey is the tie-break order for concurrent
// entries.
type WriterKey string

// Short returns a log-friendly prefix of the key.
func (k WriterKey) Short() string {
	if len(k) <= 8 {
		return string(k)
	}
	return string(k[:8])
}

// CommandType is the canonical enumerated command set shared by all writers.
// Values are wire identifiers and must never be renumbered.
type CommandType uint16

const (
	CmdAddWriter    CommandType = 1
	CmdRemoveWriter CommandType = 2
	CmdCreateInvite CommandType = 3
	CmdRedeemInvite CommandType = 4
	CmdRevokeInvite CommandType = 5

	// Domain commands start at 100.
	CmdCreateRoom    CommandType = 100
	CmdRenameRoom    CommandType = 101
	CmdCreateChannel CommandType = 102
	CmdPostMessage   CommandType = 103
	CmdReact         CommandType = 104
)

var commandNames = map[CommandType]string{
	CmdAddWriter:     "add-writer",
	CmdRemoveWriter:  "remove-writer",
	CmdCreateInvite:  "create-invite",
	CmdRedeemInvite:  "redeem-invite",
	CmdRevokeInvite:  "revoke-invite",
	CmdCreateRoom:    "create-room",
	CmdRenameRoom:    "rename-room",
	CmdCreateChannel: "create-channel",
	CmdPostMessage:   "post-message",
	CmdReact:         "react",
}

// String returns the command's canonical name, or "command(N)" for values
// this build does not know.
func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint16(c))
}

// Known reports whether this build knows the command type.
func (c CommandType) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Governance reports whether the command changes who may write. Governance
// commands sort before domain commands at the same causal height.
func (c CommandType) Governance() bool {
	return c < 100
}

// ParseCommandType resolves a canonical command name.
func ParseCommandType(name string) (CommandType, error) {
	name = strings.TrimSpace(name)
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

// CommandTypes returns every known command type in ascending order.
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandNames))
	for c := range commandNames {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// VectorClock maps a writer to the highest seq of that writer an appender
// had ingested. It is the set of causal dependencies of an entry.
type VectorClock map[WriterKey]uint64

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Writers returns the clock's writers in key order.
func (vc VectorClock) Writers() []WriterKey {
	keys := make([]WriterKey, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Covers reports whether vc has seen (w, seq).
func (vc VectorClock) Covers(w WriterKey, seq uint64) bool {
	return vc[w] >= seq
}

// EntryRef addresses one entry: a writer and a sequence number.
type EntryRef struct {
	Writer WriterKey `json:"writer"`
	Seq    uint64    `json:"seq"`
}

func (r EntryRef) String() string {
	return fmt.Sprintf("%s/%d", r.Writer.Short(), r.Seq)
}

// Entry is one signed, sequenced unit of replicated state change.
// Immutable once signed.
type Entry struct {
	Writer    WriterKey   `json:"writer" cbor:"1,keyasint"`
	Seq       uint64      `json:"seq" cbor:"2,keyasint"`
	Command   CommandType `json:"command" cbor:"3,keyasint"`
	Payload   []byte      `json:"payload" cbor:"4,keyasint"`
	Clock     VectorClock `json:"clock" cbor:"5,keyasint"`
	Signature []byte      `json:"signature" cbor:"6,keyasint"`
}

// Ref returns the entry's address.
func (e Entry) Ref() EntryRef {
	return EntryRef{Writer: e.Writer, Seq: e.Seq}
}

// Deps returns the entry's direct causal dependencies: its own previous
// entry plus every clock pair except the writer's own, in key order.
func (e Entry) Deps() []EntryRef {
	deps := make([]EntryRef, 0, len(e.Clock)+1)
	if e.Seq > 1 {
		deps = append(deps, EntryRef{Writer: e.Writer, Seq: e.Seq - 1})
	}
	for _, w := range e.Clock.Writers() {
		if w == e.Writer {
			continue
		}
		if seq := e.Clock[w]; seq > 0 {
			deps = append(deps, EntryRef{Writer: w, Seq: seq})
		}
	}
	return deps
}

// SignedDoc is the document covered by the entry signature and the entry ID.
func (e Entry) SignedDoc() Doc {
	clock := make(Doc, len(e.Clock))
	for w, seq := range e.Clock {
		clock[string(w)] = Int(seq)
	}
	return Doc{
		"writer":  Str(e.Writer),
		"seq":     Int(e.Seq),
		"command": Int(e.Command),
		"payload": Str(base64.RawURLEncoding.EncodeToString(e.Payload)),
		"clock":   clock,
	}
}

// SameContent reports whether two entries carry identical signed fields.
func (e Entry) SameContent(other Entry) bool {
	return Equal(e.SignedDoc(), other.SignedDoc())
}
