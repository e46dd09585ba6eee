package sync

import (
	"sort"

	"github.com/homegraph/homegraph/domain/graph"
)

// availabilityFields are boolean device-state fields that OR together when
// merging divergent versions: if either side saw the device up, it is up.
var availabilityFields = map[string]bool{
	"is_reachable": true,
	"is_active":    true,
	"is_enabled":   true,
}

// Relation classifies an incoming version against the local latest.
type Relation int

const (
	// RelationLinear means the local latest is an ancestor of the incoming
	// version; accept it as a plain update.
	RelationLinear Relation = iota

	// RelationSubsumed means the incoming version is an ancestor of the
	// local latest; it carries nothing new.
	RelationSubsumed

	// RelationDiverged means neither descends from the other: a conflict.
	RelationDiverged
)

// Classify relates incoming version R to local latest L given the entity's
// full local history plus the incoming record.
func Classify(history []*graph.Entity, local, incoming *graph.Entity) Relation {
	switch {
	case incoming.Version == local.Version:
		return RelationSubsumed
	case isAncestor(history, incoming, local.Version, incoming.Version):
		return RelationLinear
	case isAncestor(history, incoming, incoming.Version, local.Version):
		return RelationSubsumed
	default:
		return RelationDiverged
	}
}

// isAncestor walks parent_versions transitively and reports whether anc is
// reachable from desc.
func isAncestor(history []*graph.Entity, incoming *graph.Entity, anc, desc string) bool {
	parents := make(map[string][]string, len(history)+1)
	for _, e := range history {
		parents[e.Version] = e.ParentVersions
	}
	parents[incoming.Version] = incoming.ParentVersions

	seen := map[string]bool{desc: true}
	frontier := []string{desc}
	for len(frontier) > 0 {
		var next []string
		for _, v := range frontier {
			for _, p := range parents[v] {
				if p == anc {
					return true
				}
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return false
}

// Winner picks the surviving version of a divergence: greater version string
// wins (timestamp first, writer id breaks ties), except that a tombstone on
// either side always wins.
func Winner(local, incoming *graph.Entity) *graph.Entity {
	switch {
	case local.IsTombstone() && !incoming.IsTombstone():
		return local
	case incoming.IsTombstone() && !local.IsTombstone():
		return incoming
	case graph.CompareVersions(incoming.Version, local.Version) > 0:
		return incoming
	default:
		return local
	}
}

// MergeEntities produces the content of a merged record from two divergent
// versions. Field rules: longer name wins, availability booleans OR, lists
// union, deletion wins outright; any other key takes the winner's value and
// falls back to the loser's when the winner lacks it.
func MergeEntities(local, incoming *graph.Entity) (name string, content map[string]any) {
	winner := Winner(local, incoming)
	loser := local
	if winner == local {
		loser = incoming
	}

	if winner.IsTombstone() || loser.IsTombstone() {
		return winner.Name, graph.Tombstone()
	}

	name = winner.Name
	if len(loser.Name) > len(winner.Name) {
		name = loser.Name
	}

	content = make(map[string]any, len(winner.Content)+len(loser.Content))
	for k, v := range loser.Content {
		content[k] = v
	}
	for k, v := range winner.Content {
		content[k] = v
	}

	for k := range availabilityFields {
		wv, wok := boolField(winner.Content, k)
		lv, lok := boolField(loser.Content, k)
		if wok || lok {
			content[k] = wv || lv
		}
	}

	for k, wv := range winner.Content {
		wl, wok := wv.([]any)
		ll, lok := loser.Content[k].([]any)
		if wok && lok {
			content[k] = unionList(wl, ll)
		}
	}

	return name, content
}

func boolField(m map[string]any, k string) (bool, bool) {
	v, ok := m[k]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// unionList appends the elements of b missing from a, preserving a's order
// and sorting only the appended tail for determinism.
func unionList(a, b []any) []any {
	out := append([]any(nil), a...)
	have := make(map[string]bool, len(a))
	for _, v := range a {
		have[stringKey(v)] = true
	}

	var tail []any
	for _, v := range b {
		if !have[stringKey(v)] {
			have[stringKey(v)] = true
			tail = append(tail, v)
		}
	}
	sort.Slice(tail, func(i, j int) bool { return stringKey(tail[i]) < stringKey(tail[j]) })
	return append(out, tail...)
}

func stringKey(v any) string {
	return graph.StringifyValue(v)
}
