package engine

import (
	"context"
	"testing"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
	"github.com/roach88/braid/internal/schema"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// testModule is a minimal domain module: rooms and channels.
type testModule struct{}

func (testModule) Commands() []dispatch.Command {
	return []dispatch.Command{
		{
			Type:   ir.CmdCreateRoom,
			Schema: schema.MustCompile("create-room", `#Payload: {id: string, name: string}`),
			Handle: func(in dispatch.Input, tx *view.Tx) error {
				id, _ := in.Payload.Str("id")
				if _, exists := tx.Get("room", id); exists {
					return ir.Validationf("room %s exists", id)
				}
				return tx.Put("room", id, ir.Doc{"name": in.Payload["name"], "by": ir.Str(in.Entry.Writer)})
			},
		},
		{
			Type:   ir.CmdCreateChannel,
			Schema: schema.MustCompile("create-channel", `#Payload: {name: string}`),
			Handle: func(in dispatch.Input, tx *view.Tx) error {
				name, _ := in.Payload.Str("name")
				return tx.Put("channel", name, ir.Doc{"position": ir.Int(in.Position)})
			},
		},
	}
}

func testRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	r, err := dispatch.NewRegistry(writerset.Module{}, testModule{})
	require.NoError(t, err)
	return r
}

func newKey(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp
}

func newNode(t *testing.T, logKey ir.WriterKey, signer keys.Signer, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithMetricSink(&metrics.BlackholeSink{})}
	if signer != nil {
		base = append(base, WithSigner(signer))
	}
	e, err := New(logKey, testRegistry(t), append(base, opts...)...)
	require.NoError(t, err)
	return e
}

// allEntries returns every entry e holds, writer by writer.
func allEntries(e *Engine) []ir.Entry {
	var out []ir.Entry
	for _, w := range e.Known().Writers() {
		out = append(out, e.EntriesSince(w, 0)...)
	}
	return out
}

// syncFrom copies every entry of src into dst.
func syncFrom(t *testing.T, dst, src *Engine) {
	t.Helper()
	_, err := dst.Ingest(context.Background(), allEntries(src))
	require.NoError(t, err)
}

func mustAppend(t *testing.T, e *Engine, cmd ir.CommandType, payload ir.Doc) ir.Entry {
	t.Helper()
	entry, err := e.Append(context.Background(), cmd, payload)
	require.NoError(t, err)
	return entry
}

func room(id, name string) ir.Doc {
	return ir.Doc{"id": ir.Str(id), "name": ir.Str(name)}
}

func channel(name string) ir.Doc {
	return ir.Doc{"name": ir.Str(name)}
}

// memStore is an in-memory Store.
type memStore struct {
	entries []ir.Entry
	snap    *view.Snapshot
}

func (m *memStore) LoadAll(context.Context) ([]ir.Entry, error) {
	return append([]ir.Entry(nil), m.entries...), nil
}

func (m *memStore) AppendLocal(_ context.Context, _ ir.WriterKey, e ir.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) AppendRemote(_ context.Context, entries []ir.Entry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memStore) SaveViewSnapshot(_ context.Context, s view.Snapshot) error {
	m.snap = &s
	return nil
}

func (m *memStore) LoadViewSnapshot(context.Context) (view.Snapshot, bool, error) {
	if m.snap == nil {
		return view.Snapshot{}, false, nil
	}
	return *m.snap, true, nil
}
