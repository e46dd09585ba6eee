package sync

import (
	"github.com/homegraph/homegraph/domain/graph"
)

// VectorClock maps a writer id to the greatest version string seen from that
// writer. Version strings order lexicographically, so per-key maximum is a
// plain string comparison.
type VectorClock map[string]string

// Observe bumps the entry for the version's writer if v is newer.
func (c VectorClock) Observe(v string) {
	w := graph.VersionWriter(v)
	if w == "" {
		return
	}
	if cur, ok := c[w]; !ok || graph.CompareVersions(v, cur) > 0 {
		c[w] = v
	}
}

// Merge folds another clock in by per-key maximum.
func (c VectorClock) Merge(other VectorClock) {
	for w, v := range other {
		if cur, ok := c[w]; !ok || graph.CompareVersions(v, cur) > 0 {
			c[w] = v
		}
	}
}

// Clone returns an independent copy.
func (c VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(c))
	for w, v := range c {
		out[w] = v
	}
	return out
}

// Equal reports whether two clocks hold identical entries.
func (c VectorClock) Equal(other VectorClock) bool {
	if len(c) != len(other) {
		return false
	}
	for w, v := range c {
		if other[w] != v {
			return false
		}
	}
	return true
}
