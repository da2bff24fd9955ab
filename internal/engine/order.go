package engine

import (
	"cmp"
	"slices"

	"github.com/roach88/braid/internal/ir"
)

// admit records an entry as held and pending. Callers hold e.mu.
func (e *Engine) admit(entry ir.Entry) {
	ref := entry.Ref()
	if _, ok := e.entries[ref]; ok {
		return
	}
	e.entries[ref] = entry
	e.pending[ref] = struct{}{}
	e.unresolved = append(e.unresolved, ref)
	if entry.Seq > e.lastSeq[entry.Writer] {
		e.lastSeq[entry.Writer] = entry.Seq
	}
}

// resolve assigns a height to every pending entry whose dependencies are
// all ordered. An entry with a missing dependency waits on it and is
// looked at again only once that dependency is ordered. Callers hold e.mu.
func (e *Engine) resolve() {
	queue := e.unresolved
	e.unresolved = nil
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, ok := e.pending[ref]; !ok {
			continue
		}
		h, missing, ok := e.readyHeight(e.entries[ref])
		if !ok {
			e.waiting[missing] = append(e.waiting[missing], ref)
			continue
		}
		e.heights[ref] = h
		delete(e.pending, ref)
		if ref.Seq > e.heads[ref.Writer] {
			e.heads[ref.Writer] = ref.Seq
		}
		if deps := e.waiting[ref]; len(deps) > 0 {
			queue = append(queue, deps...)
			delete(e.waiting, ref)
		}
	}
}

// readyHeight returns the entry's height if every dependency is ordered,
// or the first dependency that is not.
func (e *Engine) readyHeight(entry ir.Entry) (int, ir.EntryRef, bool) {
	h := 0
	for _, dep := range entry.Deps() {
		dh, ok := e.heights[dep]
		if !ok {
			return 0, dep, false
		}
		h = max(h, dh)
	}
	return h + 1, ir.EntryRef{}, true
}

// computeOrder sorts every ordered entry by (height, class, writer, seq).
// Callers hold e.mu.
func (e *Engine) computeOrder() []ir.EntryRef {
	order := make([]ir.EntryRef, 0, len(e.heights))
	for ref := range e.heights {
		order = append(order, ref)
	}
	slices.SortFunc(order, func(a, b ir.EntryRef) int {
		if c := cmp.Compare(e.heights[a], e.heights[b]); c != 0 {
			return c
		}
		if c := cmp.Compare(class(e.entries[a].Command), class(e.entries[b].Command)); c != 0 {
			return c
		}
		return compareRefs(a, b)
	})
	return order
}

// class puts governance commands before domain commands at equal height,
// so authorization changes take effect before concurrent domain effects.
func class(c ir.CommandType) int {
	if c.Governance() {
		return 0
	}
	return 1
}

func compareRefs(a, b ir.EntryRef) int {
	if c := cmp.Compare(a.Writer, b.Writer); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// commonPrefix returns the length of the longest shared prefix.
func commonPrefix(a, b []ir.EntryRef) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
