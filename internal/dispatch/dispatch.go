// Package dispatch maps command types to replay handlers.
//
// The registry is populated once, before the engine starts, by the modules
// that own each command (writerset, invite, chat). Dispatch is a pure table
// lookup keyed by ir.CommandType: the same entry always reaches the same
// handler on every replica.
package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
)

// ErrUnknownCommand is returned by Decode for command types with no
// registered handler. The engine skips such entries.
var ErrUnknownCommand = errors.New("unknown command")

// Input is what a handler sees of one entry.
type Input struct {
	Entry ir.Entry

	// Position is the entry's 1-based index in the replay order.
	Position int

	// Payload is the decoded, schema-checked payload.
	Payload ir.Doc
}

// Handler applies one entry to the view. Returning an error discards every
// write the handler made; replay continues with the next entry.
type Handler func(in Input, tx *view.Tx) error

// Command binds a command type to its schema and handler.
type Command struct {
	Type   ir.CommandType
	Schema *schema.Schema // optional
	Handle Handler
}

// Module is implemented by packages that own a set of commands.
type Module interface {
	Commands() []Command
}

// Registry is the command table.
type Registry struct {
	cmds map[ir.CommandType]Command
}

// NewRegistry creates a registry and registers the given modules.
func NewRegistry(mods ...Module) (*Registry, error) {
	r := &Registry{cmds: make(map[ir.CommandType]Command)}
	for _, m := range mods {
		if err := r.RegisterModule(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one command. Registering a type twice is an error.
func (r *Registry) Register(c Command) error {
	if c.Handle == nil {
		return fmt.Errorf("register %s: nil handler", c.Type)
	}
	if _, dup := r.cmds[c.Type]; dup {
		return fmt.Errorf("register %s: already registered", c.Type)
	}
	r.cmds[c.Type] = c
	return nil
}

// RegisterModule registers every command of m.
func (r *Registry) RegisterModule(m Module) error {
	for _, c := range m.Commands() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the command registered for t.
func (r *Registry) Lookup(t ir.CommandType) (Command, bool) {
	c, ok := r.cmds[t]
	return c, ok
}

// Types returns the registered command types in ascending order.
func (r *Registry) Types() []ir.CommandType {
	out := make([]ir.CommandType, 0, len(r.cmds))
	for t := range r.cmds {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Decode resolves the entry's command and checks its payload.
// Returns ErrUnknownCommand or a ValidationError.
func (r *Registry) Decode(e ir.Entry) (Command, ir.Doc, error) {
	c, ok := r.cmds[e.Command]
	if !ok {
		return Command{}, nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if err := r.Validate(e.Command, e.Payload); err != nil {
		return Command{}, nil, err
	}
	doc, err := ir.ParseDoc(e.Payload)
	if err != nil {
		return Command{}, nil, ir.WrapError(ir.CodeValidation, e.Command.String()+" payload", err)
	}
	return c, doc, nil
}

// Validate checks a payload for command type t without decoding it. Used
// by Append to reject bad payloads before they are signed.
func (r *Registry) Validate(t ir.CommandType, payload []byte) error {
	c, ok := r.cmds[t]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, t)
	}
	if _, err := ir.ParseDoc(payload); err != nil {
		return ir.WrapError(ir.CodeValidation, t.String()+" payload", err)
	}
	if c.Schema != nil {
		return c.Schema.Validate(payload)
	}
	return nil
}

// Dispatch decodes the entry and runs its handler.
func (r *Registry) Dispatch(e ir.Entry, position int, tx *view.Tx) error {
	c, doc, err := r.Decode(e)
	if err != nil {
		return err
	}
	return c.Handle(Input{Entry: e, Position: position, Payload: doc}, tx)
}
