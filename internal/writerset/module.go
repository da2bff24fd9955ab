package writerset

import (
	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
)

const keySchema = `#Payload: {key: =~"^[0-9a-f]{64}$"}`

// Module registers add-writer and remove-writer.
type Module struct{}

// Commands implements dispatch.Module.
func (Module) Commands() []dispatch.Command {
	return []dispatch.Command{
		{
			Type:   ir.CmdAddWriter,
			Schema: schema.MustCompile(ir.CmdAddWriter.String(), keySchema),
			Handle: handleAdd,
		},
		{
			Type:   ir.CmdRemoveWriter,
			Schema: schema.MustCompile(ir.CmdRemoveWriter.String(), keySchema),
			Handle: handleRemove,
		},
	}
}

// AddPayload builds an add-writer payload.
func AddPayload(key ir.WriterKey) ir.Doc {
	return ir.Doc{"key": ir.Str(key)}
}

// RemovePayload builds a remove-writer payload.
func RemovePayload(key ir.WriterKey) ir.Doc {
	return ir.Doc{"key": ir.Str(key)}
}

func handleAdd(in dispatch.Input, tx *view.Tx) error {
	if !IsActive(tx, in.Entry.Writer) {
		return ir.NewError(ir.CodeAuthorization, "add-writer: issuer is not active")
	}
	key, _ := in.Payload.Str("key")
	_, err := Activate(tx, ir.WriterKey(key), in.Entry.Writer, in.Position)
	return err
}

func handleRemove(in dispatch.Input, tx *view.Tx) error {
	if !IsActive(tx, in.Entry.Writer) {
		return ir.NewError(ir.CodeAuthorization, "remove-writer: issuer is not active")
	}
	s, _ := in.Payload.Str("key")
	target := ir.WriterKey(s)
	if !IsActive(tx, target) {
		return ir.Validationf("remove-writer: %s is not active", target.Short())
	}
	if !Removable(tx, target) {
		return ir.Validationf("remove-writer: %s is the last writer", target.Short())
	}

	// Entries of target the issuer had seen stay applied.
	afterSeq := in.Entry.Clock[target]
	if target == in.Entry.Writer {
		afterSeq = in.Entry.Seq
	}
	return Deactivate(tx, target, in.Entry.Writer, in.Position, afterSeq)
}
