// Package store provides SQLite-backed durable storage for one braid
// replica.
//
// The store holds:
//   - Entries: every entry the replica has accepted, local or remote, in
//     arrival order, unique by (writer, seq)
//   - View snapshot: the last saved view with the order digest that
//     produced it
//   - Identity: the local writer seed and the log it belongs to
//
// Entries are never updated or deleted. Replaying them is always enough
// to rebuild the view; the snapshot only saves time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Clocks are stored as RFC 8785 canonical JSON produced by internal/ir.
package store
