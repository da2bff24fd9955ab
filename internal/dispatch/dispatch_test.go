package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
)

type roomModule struct{}

func (roomModule) Commands() []Command {
	return []Command{{
		Type:   ir.CmdCreateRoom,
		Schema: schema.MustCompile("create-room", `#Payload: {id: string, name: string}`),
		Handle: func(in Input, tx *view.Tx) error {
			id, _ := in.Payload.Str("id")
			return tx.Put("room", id, ir.Doc{"name": in.Payload["name"], "at": ir.Int(in.Position)})
		},
	}}
}

func TestDispatchRunsHandler(t *testing.T) {
	r, err := NewRegistry(roomModule{})
	require.NoError(t, err)

	tx := view.Empty().Begin()
	e := ir.Entry{Writer: "aa", Seq: 1, Command: ir.CmdCreateRoom, Payload: []byte(`{"id":"r1","name":"Test"}`)}
	require.NoError(t, r.Dispatch(e, 7, tx))

	doc, ok := tx.Commit().Get("room", "r1")
	require.True(t, ok)
	assert.Equal(t, ir.Doc{"name": ir.Str("Test"), "at": ir.Int(7)}, doc)
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, err := NewRegistry(roomModule{})
	require.NoError(t, err)

	e := ir.Entry{Writer: "aa", Seq: 1, Command: ir.CommandType(4242), Payload: []byte(`{}`)}
	err = r.Dispatch(e, 1, view.Empty().Begin())
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestDispatchRejectsBadPayload(t *testing.T) {
	r, err := NewRegistry(roomModule{})
	require.NoError(t, err)

	for _, payload := range []string{`{"id":"r1"}`, `{"id":"r1","name":1.5}`, `not json`} {
		e := ir.Entry{Writer: "aa", Seq: 1, Command: ir.CmdCreateRoom, Payload: []byte(payload)}
		err := r.Dispatch(e, 1, view.Empty().Begin())
		assert.True(t, ir.IsValidation(err), payload)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(roomModule{})
	require.NoError(t, err)

	assert.Error(t, r.RegisterModule(roomModule{}))
	assert.Error(t, r.Register(Command{Type: ir.CmdReact}))
	assert.Equal(t, []ir.CommandType{ir.CmdCreateRoom}, r.Types())
}
