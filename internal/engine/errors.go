package engine

import (
	"errors"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
)

// SkipReason says why replay did not apply an entry.
type SkipReason string

const (
	// SkipUnauthorized: the writer was not in the writer set at the
	// entry's position.
	SkipUnauthorized SkipReason = "unauthorized"

	// SkipUnknownCommand: no handler is registered for the command type.
	SkipUnknownCommand SkipReason = "unknown-command"

	// SkipInvalidPayload: the payload failed decoding or its schema.
	SkipInvalidPayload SkipReason = "invalid-payload"

	// SkipHandlerError: the handler rejected the entry.
	SkipHandlerError SkipReason = "handler-error"
)

// Skip records one entry that replay did not apply.
type Skip struct {
	Position int            `json:"position"`
	Ref      ir.EntryRef    `json:"ref"`
	EntryID  string         `json:"entry_id"`
	Command  ir.CommandType `json:"command"`
	Reason   SkipReason     `json:"reason"`
	Error    string         `json:"error,omitempty"`
}

// classifyDecode maps a dispatch.Decode failure to a skip reason.
func classifyDecode(err error) SkipReason {
	if errors.Is(err, dispatch.ErrUnknownCommand) {
		return SkipUnknownCommand
	}
	return SkipInvalidPayload
}

func notWritable(key ir.WriterKey) error {
	return &ir.Error{
		Code:    ir.CodeNotWritable,
		Message: "writer " + key.Short() + " is not in the writer set",
		Details: map[string]string{"writer": string(key)},
	}
}
