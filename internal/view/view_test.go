package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/ir"
)

func TestTxCommitProducesNewView(t *testing.T) {
	base := Empty()
	tx := base.Begin()
	require.NoError(t, tx.Put("room", "r1", ir.Doc{"name": ir.Str("Test")}))

	v := tx.Commit()

	doc, ok := v.Get("room", "r1")
	require.True(t, ok)
	assert.Equal(t, ir.Str("Test"), doc["name"])

	_, ok = base.Get("room", "r1")
	assert.False(t, ok, "base view must not change")
}

func TestTxPutClonesInput(t *testing.T) {
	tx := Empty().Begin()
	doc := ir.Doc{"name": ir.Str("a")}
	require.NoError(t, tx.Put("room", "r1", doc))
	doc["name"] = ir.Str("b")

	got, _ := tx.Get("room", "r1")
	assert.Equal(t, ir.Str("a"), got["name"])
}

func TestTxPutValidates(t *testing.T) {
	tx := Empty().Begin()
	assert.True(t, ir.IsValidation(tx.Put("", "x", ir.Doc{})))
	assert.True(t, ir.IsValidation(tx.Put("room", "x", nil)))
	assert.True(t, ir.IsValidation(tx.Put("room", "x", ir.Doc{"bad": nil})))

	tx.Commit()
	assert.Error(t, tx.Put("room", "x", ir.Doc{}))
}

func TestSavepointRollback(t *testing.T) {
	tx := Empty().Begin()
	require.NoError(t, tx.Put("room", "keep", ir.Doc{"n": ir.Int(1)}))

	tx.Savepoint()
	require.NoError(t, tx.Put("room", "keep", ir.Doc{"n": ir.Int(2)}))
	require.NoError(t, tx.Put("room", "new", ir.Doc{"n": ir.Int(3)}))
	tx.Delete("room", "keep")
	tx.Rollback()

	v := tx.Commit()
	doc, ok := v.Get("room", "keep")
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), doc["n"])
	_, ok = v.Get("room", "new")
	assert.False(t, ok)
}

func TestSavepointRelease(t *testing.T) {
	tx := Empty().Begin()
	tx.Savepoint()
	require.NoError(t, tx.Put("room", "a", ir.Doc{}))
	tx.Release()

	// Rollback with no open savepoint is a no-op.
	tx.Rollback()

	_, ok := tx.Commit().Get("room", "a")
	assert.True(t, ok)
}

func TestNestedSavepoints(t *testing.T) {
	tx := Empty().Begin()
	tx.Savepoint()
	require.NoError(t, tx.Put("c", "outer", ir.Doc{}))
	tx.Savepoint()
	require.NoError(t, tx.Put("c", "inner", ir.Doc{}))
	tx.Rollback()
	tx.Release()

	v := tx.Commit()
	_, ok := v.Get("c", "outer")
	assert.True(t, ok)
	_, ok = v.Get("c", "inner")
	assert.False(t, ok)
}

func TestQueryOrdersByID(t *testing.T) {
	tx := Empty().Begin()
	require.NoError(t, tx.Put("channel", "b", ir.Doc{"room": ir.Str("r1")}))
	require.NoError(t, tx.Put("channel", "a", ir.Doc{"room": ir.Str("r1")}))
	require.NoError(t, tx.Put("channel", "c", ir.Doc{"room": ir.Str("r2")}))
	require.NoError(t, tx.Put("room", "r1", ir.Doc{}))
	v := tx.Commit()

	all := v.Query("channel", All())
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)

	r1 := v.Query("channel", Where("room", ir.Str("r1")))
	require.Len(t, r1, 2)
	assert.Equal(t, []string{"a", "b"}, []string{r1[0].ID, r1[1].ID})

	assert.Empty(t, v.Query("channel", Fields(map[string]ir.Value{"room": ir.Str("r1"), "x": ir.Int(1)})))
	assert.Len(t, v.Query("channel", Has("room")), 3)
}

func TestCheckpointIsIndependent(t *testing.T) {
	tx := Empty().Begin()
	require.NoError(t, tx.Put("c", "a", ir.Doc{"n": ir.Int(1)}))
	cp := tx.Checkpoint()
	require.NoError(t, tx.Put("c", "a", ir.Doc{"n": ir.Int(2)}))
	tx.Delete("c", "a")

	doc, ok := cp.Get("c", "a")
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), doc["n"])
}

func TestSnapshotRoundTripAndHash(t *testing.T) {
	tx := Empty().Begin()
	require.NoError(t, tx.Put("room", "r1", ir.Doc{"name": ir.Str("Test")}))
	require.NoError(t, tx.Put("writers", "aa", ir.Doc{"active": ir.Bool(true)}))
	v := tx.Commit()

	data, err := v.MarshalSnapshot()
	require.NoError(t, err)
	assert.Equal(t, `{"room":{"r1":{"name":"Test"}},"writers":{"aa":{"active":true}}}`, string(data))

	back, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, v.Hash(), back.Hash())
	assert.Equal(t, []string{"room", "writers"}, back.Collections())

	_, err = UnmarshalSnapshot([]byte(`{"room":1}`))
	assert.Error(t, err)
}

func TestHashIgnoresInsertionOrder(t *testing.T) {
	a := Empty().Begin()
	require.NoError(t, a.Put("c", "1", ir.Doc{"x": ir.Int(1)}))
	require.NoError(t, a.Put("c", "2", ir.Doc{"x": ir.Int(2)}))

	b := Empty().Begin()
	require.NoError(t, b.Put("c", "2", ir.Doc{"x": ir.Int(2)}))
	require.NoError(t, b.Put("c", "1", ir.Doc{"x": ir.Int(1)}))

	av := a.Commit()
	assert.Equal(t, av.Hash(), b.Commit().Hash())
	assert.NotEqual(t, Empty().Hash(), av.Hash())
}

func TestDiff(t *testing.T) {
	tx := Empty().Begin()
	require.NoError(t, tx.Put("c", "same", ir.Doc{}))
	require.NoError(t, tx.Put("c", "changed", ir.Doc{"n": ir.Int(1)}))
	require.NoError(t, tx.Put("c", "removed", ir.Doc{}))
	before := tx.Commit()

	tx = before.Begin()
	require.NoError(t, tx.Put("c", "changed", ir.Doc{"n": ir.Int(2)}))
	tx.Delete("c", "removed")
	require.NoError(t, tx.Put("c", "added", ir.Doc{}))
	after := tx.Commit()

	assert.Equal(t, []Key{{"c", "added"}, {"c", "changed"}, {"c", "removed"}}, Diff(before, after))
	assert.Empty(t, Diff(after, after))
}
