// Package view is the materialized key/document store produced by replay.
//
// A View is immutable once committed. All mutation goes through a Tx, which
// journals writes so a single entry's effects can be rolled back without
// touching the rest of the batch. Checkpoints are plain View values.
package view

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/braid/internal/ir"
)

// Key addresses one document.
type Key struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Collection, b.Collection); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Record is a document with its key.
type Record struct {
	Key
	Doc ir.Doc `json:"doc"`
}

// View is a committed, read-only document set.
type View struct {
	docs map[Key]ir.Doc
}

// Empty returns a view with no documents.
func Empty() *View {
	return &View{docs: map[Key]ir.Doc{}}
}

// Get returns a copy of the document at (collection, id).
func (v *View) Get(collection, id string) (ir.Doc, bool) {
	doc, ok := v.docs[Key{collection, id}]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Query returns copies of the documents in collection matching pred,
// ordered by id. A nil pred matches everything.
func (v *View) Query(collection string, pred Predicate) []Record {
	return query(v.docs, collection, pred)
}

// Len returns the number of documents.
func (v *View) Len() int {
	return len(v.docs)
}

// Keys returns all document keys in (collection, id) order.
func (v *View) Keys() []Key {
	keys := make([]Key, 0, len(v.docs))
	for k := range v.docs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Collections returns the collection names present, sorted.
func (v *View) Collections() []string {
	seen := map[string]struct{}{}
	for k := range v.docs {
		seen[k.Collection] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Begin starts a transaction on top of v. v itself is never modified.
func (v *View) Begin() *Tx {
	return &Tx{state: cloneDocs(v.docs)}
}

// Doc renders the view as one nested document: collection -> id -> doc.
func (v *View) Doc() ir.Doc {
	out := ir.Doc{}
	for k, doc := range v.docs {
		coll, ok := out[k.Collection].(ir.Doc)
		if !ok {
			coll = ir.Doc{}
			out[k.Collection] = coll
		}
		coll[k.ID] = doc
	}
	return out
}

// Hash is the content hash of the view. Two replicas with equal hashes
// hold byte-identical views.
func (v *View) Hash() string {
	canonical, err := v.MarshalSnapshot()
	if err != nil {
		// Documents are validated on Put, so this cannot happen.
		panic(fmt.Sprintf("view hash: %v", err))
	}
	return ir.HashWithDomain(ir.DomainView, canonical)
}

// MarshalSnapshot encodes the view as canonical JSON.
func (v *View) MarshalSnapshot() ([]byte, error) {
	return ir.MarshalCanonical(v.Doc())
}

// UnmarshalSnapshot decodes a view produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*View, error) {
	root, err := ir.ParseDoc(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	v := Empty()
	for coll, raw := range root {
		docs, ok := raw.(ir.Doc)
		if !ok {
			return nil, fmt.Errorf("unmarshal snapshot: collection %q is not a document", coll)
		}
		for id, rawDoc := range docs {
			doc, ok := rawDoc.(ir.Doc)
			if !ok {
				return nil, fmt.Errorf("unmarshal snapshot: %s/%s is not a document", coll, id)
			}
			v.docs[Key{coll, id}] = doc
		}
	}
	return v, nil
}

// Diff returns the keys whose documents differ between a and b, sorted.
func Diff(a, b *View) []Key {
	var out []Key
	for k, doc := range a.docs {
		other, ok := b.docs[k]
		if !ok || !ir.Equal(doc, other) {
			out = append(out, k)
		}
	}
	for k := range b.docs {
		if _, ok := a.docs[k]; !ok {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, compareKeys)
	return out
}

func cloneDocs(in map[Key]ir.Doc) map[Key]ir.Doc {
	out := make(map[Key]ir.Doc, len(in))
	for k, doc := range in {
		// Committed docs are never mutated in place, so sharing is safe.
		out[k] = doc
	}
	return out
}

func query(docs map[Key]ir.Doc, collection string, pred Predicate) []Record {
	var out []Record
	for k, doc := range docs {
		if k.Collection != collection {
			continue
		}
		if pred != nil && !pred(doc) {
			continue
		}
		out = append(out, Record{Key: k, Doc: doc.Clone()})
	}
	slices.SortFunc(out, func(a, b Record) int { return compareKeys(a.Key, b.Key) })
	return out
}
