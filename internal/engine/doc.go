// Package engine implements the braid merge and view engine.
//
// The engine holds every entry it has accepted from any writer log, local
// or remote, derives one linear order over them, and replays that order
// through the command dispatcher to build the view.
//
// ORDERING:
//
// An entry depends on its writer's previous entry and on every pair in its
// vector clock. It is held pending until all of those are present. A ready
// entry's height is one more than the highest height among its
// dependencies. The replay order sorts ready entries by
//
//	(height, class, writer, seq)
//
// where class is 0 for governance commands and 1 for domain commands. The
// order is a linear extension of causal order and depends only on the
// entry set, never on arrival order.
//
// REPLAY:
//
// Late entries can land anywhere in the order. After each ingest the
// engine finds the longest prefix shared with the previous order, restores
// the latest checkpoint inside that prefix and replays forward in one view
// transaction. Each entry runs inside a savepoint so a failing handler
// discards only its own writes. Checkpoints are taken every
// CheckpointInterval positions.
//
// Before each entry the writer set as of that position is consulted:
// unauthorized entries are skipped and recorded, never fatal. Skipped
// entries are kept, so a later replay may apply them if the order changes.
//
// CONCURRENCY:
//
//   - Append is serialized by its own mutex (one seq counter per writer).
//   - Ingest verifies signatures in parallel, then orders and replays under
//     one lock per engine.
//   - Readers see the last committed view; they never block replay for
//     longer than a pointer swap.
//   - WaitFor and Subscribe are driven by replay completion, not polling.
package engine
