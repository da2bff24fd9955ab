package engine

import (
	"context"

	"github.com/roach88/braid/internal/ir"
	"github.com/roach88/braid/internal/view"
	"github.com/roach88/braid/internal/writerset"
)

// Change describes one committed view: its version and the documents that
// differ from the previous view.
type Change struct {
	Version uint64
	Keys    []view.Key
}

// publish swaps in next, wakes waiters and notifies subscribers.
// Callers hold e.mu.
func (e *Engine) publish(next *view.View) {
	e.readMu.Lock()
	prev := e.current
	e.current = next
	e.version = e.clock.Next()
	version := e.version
	close(e.ready)
	e.ready = make(chan struct{})
	e.readMu.Unlock()

	changed := view.Diff(prev, next)
	if len(changed) == 0 {
		return
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		deliver(ch, Change{Version: version, Keys: changed})
	}
}

// deliver never blocks. A full channel loses its oldest change so the
// subscriber always ends up holding the latest one.
func deliver(ch chan Change, c Change) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel of view changes and a cancel function. A slow
// subscriber misses intermediate changes but always receives a later one.
func (e *Engine) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// WaitFor blocks until pred holds for the committed view or ctx ends.
// pred is evaluated once now and then after every replay.
func (e *Engine) WaitFor(ctx context.Context, pred func(*view.View) bool) error {
	for {
		e.readMu.RLock()
		v, ready := e.current, e.ready
		e.readMu.RUnlock()

		if pred(v) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

// WaitWritable blocks until key is in the writer set.
func (e *Engine) WaitWritable(ctx context.Context, key ir.WriterKey) error {
	return e.WaitFor(ctx, func(v *view.View) bool {
		return writerset.IsActive(v, key)
	})
}
