package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// response mirrors CLIResponse with raw data for typed decoding.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func executeJSON(t *testing.T, dst any, args ...string) (response, error) {
	t.Helper()
	out, err := execute(t, append(args, "--format", "json")...)
	var resp response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if dst != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, dst))
	}
	return resp, err
}

func initDB(t *testing.T) (string, InitResult) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "braid.db")
	var res InitResult
	_, err := executeJSON(t, &res, "init", "--db", db)
	require.NoError(t, err)
	return db, res
}

func TestInit(t *testing.T) {
	db, res := initDB(t)
	assert.Equal(t, db, res.DB)
	assert.Len(t, res.LogKey, 64)
	assert.NotEmpty(t, res.Discovery)
	assert.NotEqual(t, res.LogKey, res.Discovery)

	_, err := execute(t, "init", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already holds a log")
}

func TestCommands_NotInitialized(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	for _, args := range [][]string{
		{"append", "create-channel", `{"name":"general"}`},
		{"view", "query", "channel"},
		{"writers"},
		{"invite", "list"},
		{"replay"},
	} {
		t.Run(args[0], func(t *testing.T) {
			_, err := execute(t, append(args, "--db", db)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "not initialized")
		})
	}
}

func TestAppendAndView(t *testing.T) {
	db, _ := initDB(t)

	var appended AppendResult
	_, err := executeJSON(t, &appended, "append", "create-room", `{"id":"r1","name":"Test"}`, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "create-room", appended.Command)
	assert.Equal(t, uint64(1), appended.Seq)
	assert.NotEmpty(t, appended.EntryID)

	_, err = execute(t, "append", "create-channel", `{"name":"general"}`, "--db", db)
	require.NoError(t, err)
	_, err = execute(t, "append", "create-channel", `{"name":"random"}`, "--db", db)
	require.NoError(t, err)

	var doc DocResult
	_, err = executeJSON(t, &doc, "view", "get", "room", "r1", "--db", db)
	require.NoError(t, err)
	name, ok := doc.Doc.Str("name")
	require.True(t, ok)
	assert.Equal(t, "Test", name)

	out, err := execute(t, "view", "get", "room", "r1", "--db", db)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "room/r1 {"), out)

	var all QueryResult
	_, err = executeJSON(t, &all, "view", "query", "channel", "--db", db)
	require.NoError(t, err)
	require.Len(t, all.Docs, 2)
	assert.Equal(t, "general", all.Docs[0].ID)
	assert.Equal(t, "random", all.Docs[1].ID)

	var filtered QueryResult
	_, err = executeJSON(t, &filtered, "view", "query", "channel", "--where", "name=random", "--db", db)
	require.NoError(t, err)
	require.Len(t, filtered.Docs, 1)
	assert.Equal(t, "random", filtered.Docs[0].ID)
}

func TestAppend_Rejections(t *testing.T) {
	db, _ := initDB(t)

	_, err := execute(t, "append", "create-thing", "{}", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "append", "create-room", `{"id":`, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid payload JSON")

	resp, err := executeJSON(t, nil, "append", "create-room", `{"id":"r1"}`, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}

func TestViewGet_NotFound(t *testing.T) {
	db, _ := initDB(t)

	resp, err := executeJSON(t, nil, "view", "get", "room", "nope", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestViewQuery_BadWhere(t *testing.T) {
	db, _ := initDB(t)

	_, err := execute(t, "view", "query", "channel", "--where", "novalue", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWriters(t *testing.T) {
	db, initRes := initDB(t)

	var res WritersResult
	_, err := executeJSON(t, &res, "writers", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, initRes.LogKey, res.LogKey)
	assert.True(t, res.Writable)
	require.Len(t, res.Writers, 1)
	assert.Equal(t, initRes.LogKey, res.Writers[0].Key)
	assert.True(t, res.Writers[0].Active)
	assert.True(t, res.Writers[0].Local)

	out, err := execute(t, "writers", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(this device)")
	assert.NotContains(t, out, "not writable")
}

func TestInviteLifecycle(t *testing.T) {
	db, _ := initDB(t)

	var created InviteCreated
	_, err := executeJSON(t, &created, "invite", "create", "--max-uses", "2", "--expires-in", "1h", "--db", db)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, strings.HasPrefix(created.Token, "braid"), created.Token)
	assert.Equal(t, int64(2), created.MaxUses)

	var list InviteList
	_, err = executeJSON(t, &list, "invite", "list", "--db", db)
	require.NoError(t, err)
	require.Len(t, list.Invites, 1)
	assert.Equal(t, created.ID, list.Invites[0].ID)
	assert.Equal(t, "open", list.Invites[0].State)
	assert.Equal(t, int64(0), list.Invites[0].UseCount)
	assert.Equal(t, int64(2), list.Invites[0].MaxUses)

	var revoked InviteRevoked
	_, err = executeJSON(t, &revoked, "invite", "revoke", created.ID, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, created.ID, revoked.ID)

	out, err := execute(t, "invite", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)
	assert.Contains(t, out, "revoked")
}

func TestInviteCreate_InvalidFlags(t *testing.T) {
	db, _ := initDB(t)

	_, err := execute(t, "invite", "create", "--max-uses", "0", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInviteRevoke_Unknown(t *testing.T) {
	db, _ := initDB(t)

	resp, err := executeJSON(t, nil, "invite", "revoke", "missing", "--db", db)
	require.Error(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestJoin_AlreadyInitialized(t *testing.T) {
	db, _ := initDB(t)
	_, err := execute(t, "join", "braid1notatoken", "--db", db, "--detach")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already holds a log")
}
