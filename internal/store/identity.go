package store

import (
	"context"
	"fmt"

	"github.com/roach88/braid/internal/ir"
)

const (
	identityWriterSeed    = "writer_seed"
	identityLogKey        = "log_key"
	identityEncryptionKey = "encryption_key"
)

// Identity is the local replica's durable identity: the writer key seed
// and the log the replica belongs to.
type Identity struct {
	WriterSeed    []byte
	LogKey        ir.WriterKey
	EncryptionKey []byte
}

// SaveIdentity writes the identity, replacing any previous one.
func (s *Store) SaveIdentity(ctx context.Context, id Identity) error {
	if len(id.WriterSeed) == 0 || id.LogKey == "" {
		return fmt.Errorf("save identity: writer seed and log key are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save identity: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	values := map[string][]byte{
		identityWriterSeed:    id.WriterSeed,
		identityLogKey:        []byte(id.LogKey),
		identityEncryptionKey: nonNil(id.EncryptionKey),
	}
	for name, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identity (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value
		`, name, value)
		if err != nil {
			return fmt.Errorf("save identity %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save identity: commit: %w", err)
	}
	return nil
}

// LoadIdentity returns the stored identity. ok is false for a store that
// has never been initialized.
func (s *Store) LoadIdentity(ctx context.Context) (id Identity, ok bool, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM identity`)
	if err != nil {
		return Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			value []byte
		)
		if err := rows.Scan(&name, &value); err != nil {
			return Identity{}, false, fmt.Errorf("load identity: scan: %w", err)
		}
		switch name {
		case identityWriterSeed:
			id.WriterSeed = value
		case identityLogKey:
			id.LogKey = ir.WriterKey(value)
		case identityEncryptionKey:
			if len(value) > 0 {
				id.EncryptionKey = value
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Identity{}, false, fmt.Errorf("load identity: iterate: %w", err)
	}

	if len(id.WriterSeed) == 0 || id.LogKey == "" {
		return Identity{}, false, nil
	}
	return id, true, nil
}
