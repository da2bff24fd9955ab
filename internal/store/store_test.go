package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/chat"
	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/engine"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func signed(t *testing.T, kp *keys.KeyPair, seq uint64, clock ir.VectorClock, payload string) ir.Entry {
	t.Helper()
	e := ir.Entry{
		Writer:  kp.Public(),
		Seq:     seq,
		Command: ir.CmdCreateRoom,
		Payload: []byte(payload),
		Clock:   clock,
	}
	require.NoError(t, keys.SignEntry(kp, &e))
	return e
}

func assertSameEntries(t *testing.T, want, got []ir.Entry) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].SameContent(got[i]), "entry %d differs", i)
		assert.Equal(t, want[i].Signature, got[i].Signature)
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_MigratesEntriesWithoutLocalColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE entries (
		arrival INTEGER PRIMARY KEY AUTOINCREMENT,
		writer TEXT NOT NULL, seq INTEGER NOT NULL, id TEXT NOT NULL,
		command INTEGER NOT NULL, payload BLOB NOT NULL, clock TEXT NOT NULL,
		signature BLOB NOT NULL, UNIQUE (writer, seq))`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('entries') WHERE name = 'local'`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestAppendLocal_LoadLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	kp, err := keys.Generate()
	require.NoError(t, err)

	e1 := signed(t, kp, 1, ir.VectorClock{}, `{"id":"r1","name":"a"}`)
	e2 := signed(t, kp, 2, ir.VectorClock{kp.Public(): 1}, `{"id":"r2","name":"b"}`)
	require.NoError(t, s.AppendLocal(ctx, kp.Public(), e2))
	require.NoError(t, s.AppendLocal(ctx, kp.Public(), e1))

	got, err := s.LoadLog(ctx, kp.Public())
	require.NoError(t, err)
	assertSameEntries(t, []ir.Entry{e1, e2}, got)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assertSameEntries(t, []ir.Entry{e2, e1}, all)
}

func TestAppendLocal_SameEntryTwice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	kp, err := keys.Generate()
	require.NoError(t, err)

	e := signed(t, kp, 1, ir.VectorClock{}, `{"id":"r1","name":"a"}`)
	require.NoError(t, s.AppendLocal(ctx, kp.Public(), e))
	require.NoError(t, s.AppendLocal(ctx, kp.Public(), e))

	got, err := s.LoadLog(ctx, kp.Public())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppendLocal_Equivocation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	kp, err := keys.Generate()
	require.NoError(t, err)

	require.NoError(t, s.AppendLocal(ctx, kp.Public(), signed(t, kp, 1, ir.VectorClock{}, `{"id":"r1","name":"a"}`)))
	err = s.AppendLocal(ctx, kp.Public(), signed(t, kp, 1, ir.VectorClock{}, `{"id":"r1","name":"b"}`))
	assert.ErrorIs(t, err, ErrEquivocation)
}

func TestAppendLocal_ForeignWriter(t *testing.T) {
	s := createTestStore(t)
	kp, err := keys.Generate()
	require.NoError(t, err)
	other, err := keys.Generate()
	require.NoError(t, err)

	err = s.AppendLocal(context.Background(), other.Public(), signed(t, kp, 1, ir.VectorClock{}, `{}`))
	assert.Error(t, err)
}

func TestAppendRemote_IgnoresDuplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a, err := keys.Generate()
	require.NoError(t, err)
	b, err := keys.Generate()
	require.NoError(t, err)

	a1 := signed(t, a, 1, ir.VectorClock{}, `{"id":"r1","name":"a"}`)
	b1 := signed(t, b, 1, ir.VectorClock{a.Public(): 1}, `{"id":"r2","name":"b"}`)
	require.NoError(t, s.AppendRemote(ctx, []ir.Entry{a1, b1}))
	require.NoError(t, s.AppendRemote(ctx, []ir.Entry{b1}))
	require.NoError(t, s.AppendRemote(ctx, nil))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assertSameEntries(t, []ir.Entry{a1, b1}, all)
	assert.Equal(t, uint64(1), all[1].Clock[a.Public()])

	heads, err := s.Writers(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.VectorClock{a.Public(): 1, b.Public(): 1}, heads)
}

func TestLoadLog_Empty(t *testing.T) {
	s := createTestStore(t)

	got, err := s.LoadLog(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestViewSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadViewSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := view.Snapshot{Digest: "d1", Length: 3, EngineVersion: "v", Data: []byte(`{}`)}
	second := view.Snapshot{Digest: "d2", Length: 4, EngineVersion: "v", Data: []byte(`{"a":{}}`)}
	require.NoError(t, s.SaveViewSnapshot(ctx, first))
	require.NoError(t, s.SaveViewSnapshot(ctx, second))

	got, ok, err := s.LoadViewSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got)

	require.NoError(t, s.DropViewSnapshot(ctx))
	_, ok, err = s.LoadViewSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.SaveIdentity(ctx, Identity{}))

	want := Identity{WriterSeed: []byte("seed-seed-seed-seed-seed-seed-32"), LogKey: "abcd"}
	require.NoError(t, s.SaveIdentity(ctx, want))
	got, ok, err := s.LoadIdentity(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	want.EncryptionKey = []byte("k")
	require.NoError(t, s.SaveIdentity(ctx, want))
	got, _, err = s.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_EngineReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	ctx := context.Background()
	reg, err := dispatch.NewRegistry(writerset.Module{}, chat.Module{})
	require.NoError(t, err)
	kp, err := keys.Generate()
	require.NoError(t, err)

	open := func() (*Store, *engine.Engine) {
		s, err := Open(path)
		require.NoError(t, err)
		e, err := engine.Open(ctx, kp.Public(), reg,
			engine.WithSigner(kp),
			engine.WithStore(s),
			engine.WithMetricSink(&metrics.BlackholeSink{}),
		)
		require.NoError(t, err)
		return s, e
	}

	s, e := open()
	_, err = e.Append(ctx, ir.CmdCreateRoom, chat.CreateRoom("r1", "Test"))
	require.NoError(t, err)
	_, err = e.Append(ctx, ir.CmdCreateChannel, chat.CreateChannel("general"))
	require.NoError(t, err)
	hash := e.View().Hash()
	require.NoError(t, e.Close(ctx))
	require.NoError(t, s.Close())

	s, e = open()
	assert.Equal(t, hash, e.View().Hash())
	doc, ok := e.Get(chat.Rooms, "r1")
	require.True(t, ok)
	assert.Equal(t, ir.Str("Test"), doc["name"])

	// The snapshot is only a cache.
	require.NoError(t, s.DropViewSnapshot(ctx))
	require.NoError(t, e.Close(ctx))
	require.NoError(t, s.Close())
	s, e = open()
	t.Cleanup(func() { s.Close() })
	assert.Equal(t, hash, e.View().Hash())
}
