package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
)

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("store: not found")

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `writer, seq, command, payload, clock, signature`

// LoadLog returns one writer's entries ordered by seq.
//
// Returns an empty slice (not nil) if the writer has no entries.
func (s *Store) LoadLog(ctx context.Context, writer ir.WriterKey) ([]ir.Entry, error) {
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE writer = ?
		ORDER BY seq ASC
	`, string(writer))
}

// LoadAll returns every stored entry in arrival order.
//
// Returns an empty slice (not nil) if nothing is stored.
func (s *Store) LoadAll(ctx context.Context) ([]ir.Entry, error) {
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+`
		FROM entries
		ORDER BY arrival ASC
	`)
}

// Writers returns every writer with stored entries and its highest stored
// seq. Gaps are not detected here.
func (s *Store) Writers(ctx context.Context) (ir.VectorClock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT writer, MAX(seq)
		FROM entries
		GROUP BY writer
		ORDER BY writer COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query writers: %w", err)
	}
	defer rows.Close()

	out := ir.VectorClock{}
	for rows.Next() {
		var (
			w   string
			seq int64
		)
		if err := rows.Scan(&w, &seq); err != nil {
			return nil, fmt.Errorf("scan writer: %w", err)
		}
		out[ir.WriterKey(w)] = uint64(seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate writers: %w", err)
	}
	return out, nil
}

// LoadViewSnapshot returns the stored snapshot, if any.
func (s *Store) LoadViewSnapshot(ctx context.Context) (view.Snapshot, bool, error) {
	var snap view.Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, length, engine_version, data
		FROM view_snapshot
		WHERE slot = 1
	`).Scan(&snap.Digest, &snap.Length, &snap.EngineVersion, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return view.Snapshot{}, false, nil
	}
	if err != nil {
		return view.Snapshot{}, false, fmt.Errorf("load view snapshot: %w", err)
	}
	return snap, true, nil
}

func readEntry(ctx context.Context, q queryer, writer ir.WriterKey, seq uint64) (ir.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE writer = ? AND seq = ?
	`, string(writer), int64(seq))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Entry{}, fmt.Errorf("entry %s/%d: %w", writer.Short(), seq, ErrNotFound)
	}
	return e, err
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]ir.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ir.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (ir.Entry, error) {
	var (
		writer  string
		seq     int64
		command int64
		payload []byte
		clock   string
		sig     []byte
	)
	if err := row.Scan(&writer, &seq, &command, &payload, &clock, &sig); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Entry{}, err
		}
		return ir.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	vc, err := unmarshalClock(clock)
	if err != nil {
		return ir.Entry{}, err
	}
	return ir.Entry{
		Writer:    ir.WriterKey(writer),
		Seq:       uint64(seq),
		Command:   ir.CommandType(command),
		Payload:   payload,
		Clock:     vc,
		Signature: sig,
	}, nil
}
