// Package ir holds the foundational types shared by every braid package:
// entries, writer keys, the canonical command enum, constrained document
// values, canonical JSON and domain-separated hashing.
//
// ir imports nothing internal, so it stays the bottom layer with no cycles.
//
// Constraints:
//   - no floats and no null in documents; numbers are int64
//   - every byte that is signed or hashed comes from MarshalCanonical
//   - ordering uses per-writer seq and vector clocks, never wall time
package ir
