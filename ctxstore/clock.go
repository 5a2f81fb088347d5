// Package ctxstore implements the per-peer JSON context CRDT: a vector
// clock keyed by peer id, a deterministic recursive JSON merge, and
// dotted-path get/delete helpers (spec §3 "VectorClock"/"AviContext",
// §4.3 "Context CRDT").
package ctxstore

// VectorClock maps a peer id to a monotone counter. The zero value is
// the empty clock (every peer implicitly at 0).
type VectorClock map[string]uint64

// Clone returns an independent copy of c.
func (c VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns the pointwise maximum of a and b.
func Merge(a, b VectorClock) VectorClock {
	out := make(VectorClock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Dominates reports whether a dominates b: every component of a is >= the
// corresponding component of b, and at least one is strictly greater.
func (a VectorClock) Dominates(b VectorClock) bool {
	strictlyGreater := false
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		av, bv := a[k], b[k]
		if av < bv {
			return false
		}
		if av > bv {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// LessOrEqual reports whether a is pointwise <= b (a does not dominate b
// and is not concurrent with it in b's favor — used to detect stale
// updates: clock <= local.clock and not strictly greater).
func (a VectorClock) LessOrEqual(b VectorClock) bool {
	for k, av := range a {
		if av > b[k] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have identical components.
func (a VectorClock) Equal(b VectorClock) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither clock dominates the other and the
// two are not equal; equal clocks are not concurrent.
func Concurrent(a, b VectorClock) bool {
	return !a.Dominates(b) && !b.Dominates(a) && !a.Equal(b)
}

// Increment returns a clone of c with peer's component incremented by 1.
func (c VectorClock) Increment(peer string) VectorClock {
	out := c.Clone()
	out[peer] = out[peer] + 1
	return out
}
