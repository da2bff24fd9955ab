package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
)

// ErrEquivocation is returned by AppendLocal when a different entry is
// already stored at the same (writer, seq).
var ErrEquivocation = errors.New("store: different entry already stored at this position")

// AppendLocal stores an entry appended by the local writer.
// Writing the same entry twice is a no-op; writing a different entry at an
// occupied (writer, seq) fails with ErrEquivocation.
func (s *Store) AppendLocal(ctx context.Context, writer ir.WriterKey, e ir.Entry) error {
	if e.Writer != writer {
		return fmt.Errorf("append local: entry writer %s is not %s", e.Writer.Short(), writer.Short())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append local: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted, err := insertEntry(ctx, tx, e, true)
	if err != nil {
		return fmt.Errorf("append local: %w", err)
	}
	if !inserted {
		existing, err := readEntry(ctx, tx, e.Writer, e.Seq)
		if err != nil {
			return fmt.Errorf("append local: %w", err)
		}
		if !existing.SameContent(e) {
			return fmt.Errorf("append local %s: %w", e.Ref(), ErrEquivocation)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append local: commit: %w", err)
	}
	return nil
}

// AppendRemote stores entries received from peers in one transaction.
// Entries whose (writer, seq) is already stored are silently ignored.
func (s *Store) AppendRemote(ctx context.Context, entries []ir.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append remote: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range entries {
		if _, err := insertEntry(ctx, tx, e, false); err != nil {
			return fmt.Errorf("append remote %s: %w", e.Ref(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append remote: commit: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e ir.Entry, local bool) (bool, error) {
	id, err := ir.EntryID(e)
	if err != nil {
		return false, err
	}
	clock, err := marshalClock(e.Clock)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO entries
		(writer, seq, id, command, payload, clock, signature, local)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(writer, seq) DO NOTHING
	`,
		string(e.Writer),
		int64(e.Seq),
		id,
		int64(e.Command),
		nonNil(e.Payload),
		clock,
		nonNil(e.Signature),
		local,
	)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert entry: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// nonNil keeps NOT NULL blob columns satisfied for empty payloads.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// SaveViewSnapshot replaces the stored view snapshot.
func (s *Store) SaveViewSnapshot(ctx context.Context, snap view.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO view_snapshot (slot, digest, length, engine_version, data)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			digest = excluded.digest,
			length = excluded.length,
			engine_version = excluded.engine_version,
			data = excluded.data
	`,
		snap.Digest,
		snap.Length,
		snap.EngineVersion,
		nonNil(snap.Data),
	)
	if err != nil {
		return fmt.Errorf("save view snapshot: %w", err)
	}
	return nil
}

// DropViewSnapshot removes the stored snapshot, forcing a full replay on
// the next open.
func (s *Store) DropViewSnapshot(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM view_snapshot`); err != nil {
		return fmt.Errorf("drop view snapshot: %w", err)
	}
	return nil
}
