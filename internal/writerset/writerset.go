// Package writerset tracks which writer keys may contribute entries.
//
// The writer set lives in the view, in the "writers" collection, one
// document per key ever admitted:
//
//	{key, active, added_by, added_at, removed_by, removed_at, removed_after_seq}
//
// It changes only through replayed add-writer, remove-writer and
// redeem-invite entries, so every replica derives the same set.
package writerset

import (
	"slices"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
)

// Collection is the view collection holding writer documents.
const Collection = "writers"

// Reader is the read side of a view or transaction.
type Reader interface {
	Get(collection, id string) (ir.Doc, bool)
	Query(collection string, pred view.Predicate) []view.Record
}

// Bootstrap admits the log key at position 0. The log key needs no entry
// to become a writer.
func Bootstrap(tx *view.Tx, logKey ir.WriterKey) error {
	return tx.Put(Collection, string(logKey), ir.Doc{
		"key":      ir.Str(logKey),
		"active":   ir.Bool(true),
		"added_by": ir.Str(""),
		"added_at": ir.Int(0),
	})
}

// IsActive reports whether key is currently in the writer set.
func IsActive(r Reader, key ir.WriterKey) bool {
	doc, ok := r.Get(Collection, string(key))
	if !ok {
		return false
	}
	active, _ := doc.Bool("active")
	return active
}

// IsAuthorized reports whether e may be applied given the writer set in r,
// which must be the state immediately before e's position.
//
// A removed writer's entries up to the removal point stay authorized.
func IsAuthorized(r Reader, e ir.Entry) bool {
	doc, ok := r.Get(Collection, string(e.Writer))
	if !ok {
		return false
	}
	if active, _ := doc.Bool("active"); active {
		return true
	}
	after, ok := doc.Int("removed_after_seq")
	return ok && e.Seq <= uint64(after)
}

// Active returns the active writer keys in key order.
func Active(r Reader) []ir.WriterKey {
	recs := r.Query(Collection, view.Where("active", ir.Bool(true)))
	out := make([]ir.WriterKey, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ir.WriterKey(rec.ID))
	}
	slices.Sort(out)
	return out
}

// Removable reports whether key can be removed without emptying the set.
func Removable(r Reader, key ir.WriterKey) bool {
	if !IsActive(r, key) {
		return false
	}
	return len(Active(r)) > 1
}

// Activate admits key at position. It is a no-op for an active key and
// reports whether anything changed. Re-admitting a removed key clears its
// removal fields.
func Activate(tx *view.Tx, key, by ir.WriterKey, position int) (bool, error) {
	if IsActive(tx, key) {
		return false, nil
	}
	err := tx.Put(Collection, string(key), ir.Doc{
		"key":      ir.Str(key),
		"active":   ir.Bool(true),
		"added_by": ir.Str(by),
		"added_at": ir.Int(position),
	})
	return err == nil, err
}

// Deactivate removes key at position. Entries of key with seq above
// afterSeq are no longer authorized.
func Deactivate(tx *view.Tx, key, by ir.WriterKey, position int, afterSeq uint64) error {
	doc, ok := tx.Get(Collection, string(key))
	if !ok {
		return ir.Validationf("remove %s: not a writer", key.Short())
	}
	doc["active"] = ir.Bool(false)
	doc["removed_by"] = ir.Str(by)
	doc["removed_at"] = ir.Int(position)
	doc["removed_after_seq"] = ir.Int(afterSeq)
	return tx.Put(Collection, string(key), doc)
}

// RemovedAt returns the writer whose removal was applied at position and
// its removal point.
func RemovedAt(r Reader, position int) (ir.WriterKey, uint64, bool) {
	recs := r.Query(Collection, view.Where("removed_at", ir.Int(position)))
	if len(recs) == 0 {
		return "", 0, false
	}
	after, _ := recs[0].Doc.Int("removed_after_seq")
	return ir.WriterKey(recs[0].ID), uint64(after), true
}

// HasRemovals reports whether any admitted writer is currently removed.
func HasRemovals(r Reader) bool {
	return len(r.Query(Collection, view.Where("active", ir.Bool(false)))) > 0
}
