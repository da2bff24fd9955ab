package view

import (
	"fmt"

	"github.com/roach88/braid/internal/ir"
)

// Tx is a view transaction. It is not safe for concurrent use; the engine
// owns exactly one at a time.
//
// Writes are journaled while a savepoint is open so Rollback can restore
// the state at the savepoint. Put stores a private clone, so callers may
// keep mutating the doc they passed in.
type Tx struct {
	state      map[Key]ir.Doc
	journal    []undo
	savepoints []int
	done       bool
}

type undo struct {
	key     Key
	prev    ir.Doc
	existed bool
}

// Get returns a copy of the document at (collection, id).
func (t *Tx) Get(collection, id string) (ir.Doc, bool) {
	doc, ok := t.state[Key{collection, id}]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Query returns copies of matching documents, ordered by id.
func (t *Tx) Query(collection string, pred Predicate) []Record {
	return query(t.state, collection, pred)
}

// Put stores doc at (collection, id), replacing any previous document.
func (t *Tx) Put(collection, id string, doc ir.Doc) error {
	if t.done {
		return fmt.Errorf("put %s/%s: transaction finished", collection, id)
	}
	if collection == "" || id == "" {
		return ir.Validationf("put: collection and id are required")
	}
	if doc == nil {
		return ir.Validationf("put %s/%s: nil document", collection, id)
	}
	if _, err := ir.MarshalCanonical(doc); err != nil {
		return ir.WrapError(ir.CodeValidation, fmt.Sprintf("put %s/%s", collection, id), err)
	}
	k := Key{collection, id}
	t.record(k)
	t.state[k] = doc.Clone()
	return nil
}

// Delete removes the document at (collection, id). Missing is a no-op.
func (t *Tx) Delete(collection, id string) {
	k := Key{collection, id}
	if _, ok := t.state[k]; !ok {
		return
	}
	t.record(k)
	delete(t.state, k)
}

func (t *Tx) record(k Key) {
	if len(t.savepoints) == 0 {
		return
	}
	prev, existed := t.state[k]
	t.journal = append(t.journal, undo{key: k, prev: prev, existed: existed})
}

// Savepoint opens a nested rollback point.
func (t *Tx) Savepoint() {
	t.savepoints = append(t.savepoints, len(t.journal))
}

// Rollback undoes every write since the innermost savepoint and closes it.
func (t *Tx) Rollback() {
	if len(t.savepoints) == 0 {
		return
	}
	mark := t.savepoints[len(t.savepoints)-1]
	t.savepoints = t.savepoints[:len(t.savepoints)-1]
	for i := len(t.journal) - 1; i >= mark; i-- {
		u := t.journal[i]
		if u.existed {
			t.state[u.key] = u.prev
		} else {
			delete(t.state, u.key)
		}
	}
	t.journal = t.journal[:mark]
}

// Release closes the innermost savepoint, keeping its writes.
func (t *Tx) Release() {
	if len(t.savepoints) == 0 {
		return
	}
	t.savepoints = t.savepoints[:len(t.savepoints)-1]
	if len(t.savepoints) == 0 {
		t.journal = t.journal[:0]
	}
}

// Checkpoint returns the current state as a View without ending the
// transaction.
func (t *Tx) Checkpoint() *View {
	return &View{docs: cloneDocs(t.state)}
}

// Commit ends the transaction and returns the resulting view.
func (t *Tx) Commit() *View {
	t.done = true
	t.journal = nil
	t.savepoints = nil
	v := &View{docs: t.state}
	t.state = nil
	return v
}
