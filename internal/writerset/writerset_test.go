package writerset

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
)

var (
	keyX = ir.WriterKey(strings.Repeat("a", 64))
	keyY = ir.WriterKey(strings.Repeat("b", 64))
	keyZ = ir.WriterKey(strings.Repeat("c", 64))
)

func newRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	r, err := dispatch.NewRegistry(Module{})
	require.NoError(t, err)
	return r
}

func entry(t *testing.T, writer ir.WriterKey, seq uint64, cmd ir.CommandType, payload ir.Doc, clock ir.VectorClock) ir.Entry {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return ir.Entry{Writer: writer, Seq: seq, Command: cmd, Payload: data, Clock: clock}
}

func bootstrapped(t *testing.T) *view.Tx {
	t.Helper()
	tx := view.Empty().Begin()
	require.NoError(t, Bootstrap(tx, keyX))
	return tx
}

func TestBootstrapActivatesLogKey(t *testing.T) {
	tx := bootstrapped(t)

	assert.True(t, IsActive(tx, keyX))
	assert.False(t, IsActive(tx, keyY))
	assert.Equal(t, []ir.WriterKey{keyX}, Active(tx))
	assert.False(t, Removable(tx, keyX), "sole writer is never removable")
}

func TestAddWriter(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)

	require.NoError(t, r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, AddPayload(keyY), nil), 1, tx))
	assert.True(t, IsActive(tx, keyY))
	assert.Equal(t, []ir.WriterKey{keyX, keyY}, Active(tx))

	doc, ok := tx.Get(Collection, string(keyY))
	require.True(t, ok)
	assert.Equal(t, ir.Str(keyX), doc["added_by"])
	assert.Equal(t, ir.Int(1), doc["added_at"])

	// Adding again is a no-op.
	require.NoError(t, r.Dispatch(entry(t, keyX, 2, ir.CmdAddWriter, AddPayload(keyY), nil), 2, tx))
	doc, _ = tx.Get(Collection, string(keyY))
	assert.Equal(t, ir.Int(1), doc["added_at"])
}

func TestAddWriterRequiresActiveIssuer(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)

	err := r.Dispatch(entry(t, keyY, 1, ir.CmdAddWriter, AddPayload(keyZ), nil), 1, tx)
	assert.True(t, ir.IsAuthorization(err))
	assert.False(t, IsActive(tx, keyZ))
}

func TestAddWriterRejectsMalformedKey(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)

	err := r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, ir.Doc{"key": ir.Str("nope")}, nil), 1, tx)
	assert.True(t, ir.IsValidation(err))
}

func TestRemoveWriter(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)
	require.NoError(t, r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, AddPayload(keyY), nil), 1, tx))

	remove := entry(t, keyX, 2, ir.CmdRemoveWriter, RemovePayload(keyY), ir.VectorClock{keyY: 3})
	require.NoError(t, r.Dispatch(remove, 6, tx))

	assert.False(t, IsActive(tx, keyY))
	doc, _ := tx.Get(Collection, string(keyY))
	assert.Equal(t, ir.Int(3), doc["removed_after_seq"])
	assert.Equal(t, ir.Int(6), doc["removed_at"])

	assert.True(t, IsAuthorized(tx, ir.Entry{Writer: keyY, Seq: 3}), "seen entries stay authorized")
	assert.False(t, IsAuthorized(tx, ir.Entry{Writer: keyY, Seq: 4}))
	assert.False(t, IsAuthorized(tx, ir.Entry{Writer: keyZ, Seq: 1}), "never added")
}

func TestRemoveLastWriterIsRejected(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)

	err := r.Dispatch(entry(t, keyX, 1, ir.CmdRemoveWriter, RemovePayload(keyX), nil), 1, tx)
	require.Error(t, err)
	assert.True(t, IsActive(tx, keyX))
	assert.Len(t, Active(tx), 1)
}

func TestSelfRemoval(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)
	require.NoError(t, r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, AddPayload(keyY), nil), 1, tx))

	require.NoError(t, r.Dispatch(entry(t, keyY, 1, ir.CmdRemoveWriter, RemovePayload(keyY), ir.VectorClock{keyX: 1}), 2, tx))

	assert.Equal(t, []ir.WriterKey{keyX}, Active(tx))
	assert.True(t, IsAuthorized(tx, ir.Entry{Writer: keyY, Seq: 1}))
	assert.False(t, IsAuthorized(tx, ir.Entry{Writer: keyY, Seq: 2}))
}

func TestReAddClearsRemoval(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)
	require.NoError(t, r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, AddPayload(keyY), nil), 1, tx))
	require.NoError(t, r.Dispatch(entry(t, keyX, 2, ir.CmdRemoveWriter, RemovePayload(keyY), nil), 2, tx))
	require.NoError(t, r.Dispatch(entry(t, keyX, 3, ir.CmdAddWriter, AddPayload(keyY), nil), 3, tx))

	doc, _ := tx.Get(Collection, string(keyY))
	_, removed := doc["removed_after_seq"]
	assert.False(t, removed)
	assert.True(t, IsAuthorized(tx, ir.Entry{Writer: keyY, Seq: 10}))
}

func TestRemovedAt(t *testing.T) {
	r := newRegistry(t)
	tx := bootstrapped(t)
	require.NoError(t, r.Dispatch(entry(t, keyX, 1, ir.CmdAddWriter, AddPayload(keyY), nil), 1, tx))
	assert.False(t, HasRemovals(tx))

	require.NoError(t, r.Dispatch(entry(t, keyX, 2, ir.CmdRemoveWriter, RemovePayload(keyY), ir.VectorClock{keyY: 4}), 7, tx))

	key, after, ok := RemovedAt(tx, 7)
	require.True(t, ok)
	assert.Equal(t, keyY, key)
	assert.Equal(t, uint64(4), after)
	assert.True(t, HasRemovals(tx))

	_, _, ok = RemovedAt(tx, 2)
	assert.False(t, ok)
}
