package engine

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/roach88/braid/internal/dispatch"
	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// replay brings the view up to date with order. Only the suffix after the
// longest prefix shared with the previous order is replayed, starting from
// the latest checkpoint inside that prefix. Callers hold e.mu.
//
// The whole suffix runs in one view transaction; readers see either the
// previous view or the new one.
//
// When a remove-writer applies, entries of the removed writer that sit
// earlier in the order but past the removal point are excluded and replay
// resumes before the first of them. Exclusions caused by a removal past
// the shared prefix may not hold for the new order, so their presence
// forces a replay from position 0.
func (e *Engine) replay(order []ir.EntryRef) {
	p := commonPrefix(e.order, order)
	if p == len(order) && p == len(e.order) {
		return
	}
	start := time.Now()

	if e.rescan || e.excludedPast(p) {
		p = 0
		clear(e.excluded)
		e.rescan = false
	}

	index := make(map[ir.EntryRef]int, len(order))
	for i, ref := range order {
		index[ref] = i + 1
	}

	from, skips := e.rewind(p, e.skips)
	tx := e.checkpoints[from].Begin()
	applied, rewinds := 0, 0
	for i := from; i < len(order); i++ {
		pos := i + 1
		entry := e.entries[order[i]]
		skip, ok := e.apply(tx, entry, pos)
		if !ok {
			skips = append(skips, skip)
		} else {
			applied++
			if first := e.retract(tx, entry, pos, index); first > 0 {
				rewinds++
				from, skips = e.rewind(first-1, skips)
				tx = e.checkpoints[from].Begin()
				i = from - 1
				continue
			}
		}
		if pos%e.checkpointInterval == 0 {
			e.checkpoints[pos] = tx.Checkpoint()
		}
	}
	next := tx.Commit()

	e.order = order
	e.skips = skips
	e.publish(next)

	e.msink.IncrCounter(MetricReplayApplied, float32(applied))
	e.msink.AddSample(MetricReplayDuration, float32(time.Since(start).Milliseconds()))
	e.logger.Debug("replay complete",
		"stable_prefix", p,
		"length", len(order),
		"applied", applied,
		"skipped", len(skips),
		"excluded", len(e.excluded),
		"rewinds", rewinds,
	)
}

// excludedPast reports whether any exclusion was caused after position p.
func (e *Engine) excludedPast(p int) bool {
	for _, at := range e.excluded {
		if at > p {
			return true
		}
	}
	return false
}

// rewind drops checkpoints past pos and returns the latest remaining one
// with the skips recorded up to it.
func (e *Engine) rewind(pos int, skips []Skip) (int, []Skip) {
	from := 0
	for cp := range e.checkpoints {
		if cp > pos {
			delete(e.checkpoints, cp)
			continue
		}
		from = max(from, cp)
	}
	kept := skips[:0:0]
	for _, s := range skips {
		if s.Position <= from {
			kept = append(kept, s)
		}
	}
	return from, kept
}

// retract handles a remove-writer just applied at pos: entries of the
// removed writer placed before pos with seq past the removal point become
// excluded. It returns the earliest newly excluded position, or 0.
func (e *Engine) retract(tx *view.Tx, entry ir.Entry, pos int, index map[ir.EntryRef]int) int {
	if entry.Command != ir.CmdRemoveWriter {
		return 0
	}
	target, after, ok := writerset.RemovedAt(tx, pos)
	if !ok {
		return 0
	}
	// A writer's entries sit in the order by increasing seq.
	first := 0
	for seq := after + 1; ; seq++ {
		ref := ir.EntryRef{Writer: target, Seq: seq}
		at, ok := index[ref]
		if !ok || at >= pos {
			break
		}
		if _, done := e.excluded[ref]; done {
			continue
		}
		e.excluded[ref] = pos
		if first == 0 {
			first = at
		}
	}
	if first > 0 {
		e.logger.Debug("removal excludes earlier entries",
			LabelWriter.L(target.Short()),
			"removed_after_seq", after,
			"position", pos,
			"first", first,
		)
	}
	return first
}

// apply runs one entry at pos. It returns ok=false and the skip record
// when the entry is not applied.
func (e *Engine) apply(tx *view.Tx, entry ir.Entry, pos int) (Skip, bool) {
	skip := Skip{
		Position: pos,
		Ref:      entry.Ref(),
		Command:  entry.Command,
	}

	if at, ok := e.excluded[entry.Ref()]; ok {
		return e.skipped(skip, entry, SkipUnauthorized, fmt.Errorf("writer removed at position %d", at)), false
	}
	if !writerset.IsAuthorized(tx, entry) {
		return e.skipped(skip, entry, SkipUnauthorized, nil), false
	}

	cmd, payload, err := e.registry.Decode(entry)
	if err != nil {
		return e.skipped(skip, entry, classifyDecode(err), err), false
	}

	tx.Savepoint()
	if err := cmd.Handle(dispatch.Input{Entry: entry, Position: pos, Payload: payload}, tx); err != nil {
		tx.Rollback()
		return e.skipped(skip, entry, SkipHandlerError, err), false
	}
	tx.Release()
	return Skip{}, true
}

func (e *Engine) skipped(s Skip, entry ir.Entry, reason SkipReason, err error) Skip {
	s.Reason = reason
	s.EntryID, _ = ir.EntryID(entry)
	if err != nil {
		s.Error = err.Error()
	}
	e.msink.IncrCounterWithLabels(MetricReplaySkipped, 1, []metrics.Label{LabelReason.M(string(reason))})
	e.logger.Debug("entry skipped",
		"ref", s.Ref.String(),
		"position", s.Position,
		LabelReason.L(reason),
		LabelCommand.L(entry.Command.String()),
		"error", s.Error,
	)
	return s
}
