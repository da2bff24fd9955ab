package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/keys"
)

// IngestResult counts what one Ingest call did with its entries.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Conflicts  int `json:"conflicts"`
	Invalid    int `json:"invalid"`
	Pending    int `json:"pending"`
}

// Ingest accepts entries from any source. Each is checked for shape and
// signature; bad entries are dropped and counted, never returned as
// errors. Entries already held are discarded, so ingesting the same entry
// twice changes nothing.
//
// A different entry under an already-held (writer, seq) is dropped: the
// first one seen wins.
//
// New entries are persisted before replay. Only storage failures and
// context cancellation are returned.
func (e *Engine) Ingest(ctx context.Context, entries []ir.Entry) (IngestResult, error) {
	var res IngestResult
	if len(entries) == 0 {
		return res, nil
	}

	valid, err := e.verify(ctx, entries)
	if err != nil {
		return res, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make([]ir.Entry, 0, len(entries))
	seen := make(map[ir.EntryRef]struct{}, len(entries))
	for i, entry := range entries {
		if !valid[i] {
			res.Invalid++
			continue
		}
		ref := entry.Ref()
		if held, ok := e.entries[ref]; ok {
			if held.SameContent(entry) {
				res.Duplicates++
			} else {
				res.Conflicts++
				e.logger.Warn("conflicting entry dropped",
					"ref", ref.String(),
					LabelWriter.L(entry.Writer.Short()),
				)
			}
			continue
		}
		if _, dup := seen[ref]; dup {
			res.Duplicates++
			continue
		}
		seen[ref] = struct{}{}
		fresh = append(fresh, entry)
	}

	e.msink.IncrCounter(MetricIngestDuplicates, float32(res.Duplicates))
	e.msink.IncrCounter(MetricIngestConflicts, float32(res.Conflicts))
	e.msink.IncrCounter(MetricIngestInvalid, float32(res.Invalid))

	if len(fresh) == 0 {
		return res, nil
	}

	if e.store != nil {
		if err := e.store.AppendRemote(ctx, fresh); err != nil {
			return res, ir.StorageError("persist remote entries", err)
		}
	}

	for _, entry := range fresh {
		e.admit(entry)
	}
	res.Accepted = len(fresh)
	e.msink.IncrCounter(MetricIngestEntries, float32(res.Accepted))

	e.resolve()
	res.Pending = len(e.pending)
	e.msink.SetGauge(MetricPendingEntries, float32(res.Pending))

	e.replay(e.computeOrder())
	return res, nil
}

// verify checks entries in parallel. valid[i] reports entry i.
func (e *Engine) verify(ctx context.Context, entries []ir.Entry) ([]bool, error) {
	valid := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := keys.VerifyEntry(e.verifier, entries[i]); err != nil {
				e.logger.Debug("entry rejected",
					"ref", entries[i].Ref().String(),
					"error", err,
				)
				return nil
			}
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verify entries: %w", err)
	}
	return valid, nil
}

// Append signs a new entry for the local writer, persists it and replays.
//
// Fails with NotWritableError unless the local writer is in the writer set
// of the last committed view, and with ValidationError if the payload does
// not satisfy the command's schema.
func (e *Engine) Append(ctx context.Context, cmd ir.CommandType, payload ir.Doc) (ir.Entry, error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.signer == nil {
		return ir.Entry{}, notWritable("")
	}
	me := e.signer.Public()
	if !e.Writable(me) {
		return ir.Entry{}, notWritable(me)
	}

	if payload == nil {
		payload = ir.Doc{}
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return ir.Entry{}, ir.WrapError(ir.CodeValidation, "encode payload", err)
	}
	if err := e.registry.Validate(cmd, data); err != nil {
		return ir.Entry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	clock := e.heads.Clone()
	delete(clock, me)
	entry := ir.Entry{
		Writer:  me,
		Seq:     e.lastSeq[me] + 1,
		Command: cmd,
		Payload: data,
		Clock:   clock,
	}
	if err := keys.SignEntry(e.signer, &entry); err != nil {
		return ir.Entry{}, err
	}

	if e.store != nil {
		if err := e.store.AppendLocal(ctx, me, entry); err != nil {
			return ir.Entry{}, ir.StorageError("append local entry", err)
		}
	}

	e.admit(entry)
	e.resolve()
	e.msink.IncrCounter(MetricIngestEntries, 1)

	start := time.Now()
	e.replay(e.computeOrder())
	e.logger.Debug("entry appended",
		"ref", entry.Ref().String(),
		LabelCommand.L(cmd.String()),
		"took", time.Since(start),
	)
	return entry, nil
}
