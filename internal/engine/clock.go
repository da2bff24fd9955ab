package engine

import "sync/atomic"

// Clock numbers committed views. Every replay that changes the order
// stamps the new view with the next value, so a view version is strictly
// increasing within one engine.
//
// Versions are local: two replicas with the same view may have different
// versions. Use View().Hash() to compare replicas.
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next version.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last version handed out.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
