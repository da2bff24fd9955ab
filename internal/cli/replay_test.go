package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/store"
)

func TestReplay_Deterministic(t *testing.T) {
	db, initRes := initDB(t)
	for _, args := range [][]string{
		{"create-room", `{"id":"r1","name":"Test"}`},
		{"create-channel", `{"name":"general","room":"r1"}`},
		{"post-message", `{"id":"m1","channel":"general","text":"hi"}`},
		{"create-channel", `{"name":"general"}`},
	} {
		_, err := execute(t, "append", args[0], args[1], "--db", db)
		require.NoError(t, err)
	}

	var res ReplayResult
	_, err := executeJSON(t, &res, "replay", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, initRes.LogKey, res.LogKey)
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 4, res.Ordered)
	assert.Equal(t, 0, res.Pending)
	assert.Equal(t, 1, res.Writers)
	assert.True(t, res.Deterministic)
	assert.Equal(t, SnapshotMatch, res.Snapshot)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, 4, res.Skips[0].Position)
	assert.Equal(t, "create-channel", res.Skips[0].Command.String())
	assert.NotEmpty(t, res.Hash)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Replay is deterministic")
	assert.Contains(t, out, "skipped:  1")
}

func TestReplay_EmptyLog(t *testing.T) {
	db, _ := initDB(t)

	var res ReplayResult
	_, err := executeJSON(t, &res, "replay", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Entries)
	assert.Empty(t, res.Skips)
	assert.True(t, res.Deterministic)
}

func TestReplay_WithoutSnapshot(t *testing.T) {
	db, _ := initDB(t)
	_, err := execute(t, "append", "create-channel", `{"name":"general"}`, "--db", db)
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.DropViewSnapshot(context.Background()))
	require.NoError(t, st.Close())

	var res ReplayResult
	_, err = executeJSON(t, &res, "replay", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, SnapshotAbsent, res.Snapshot)
	assert.True(t, res.Deterministic)
}

func TestReplayHelpText(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)
	assert.Contains(t, replayCmd.Long, "Exit codes:")
	assert.Contains(t, replayCmd.Long, "opposite orders")
}

func TestReplay_MissingDirectory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "no", "such", "dir", "braid.db")
	_, err := execute(t, "replay", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
