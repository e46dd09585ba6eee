package graph

import (
	"sort"
	"sync"
)

// Direction selects which edges Neighbors follows.
type Direction string

const (
	DirOutgoing Direction = "outgoing"
	DirIncoming Direction = "incoming"
	DirBoth     Direction = "both"
)

// Index is the in-memory adjacency index over latest entity versions.
// It is a cache: the store stays the source of truth and the index is
// rebuilt from it on startup, then updated in the same critical section
// as every store commit.
type Index struct {
	mu     sync.RWMutex
	latest map[string]*Entity
	out    map[string][]*EntityRelationship // from_entity_id -> edges, insertion order
	in     map[string][]*EntityRelationship // to_entity_id -> edges, insertion order
	rels   map[string]*EntityRelationship
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		latest: make(map[string]*Entity),
		out:    make(map[string][]*EntityRelationship),
		in:     make(map[string][]*EntityRelationship),
		rels:   make(map[string]*EntityRelationship),
	}
}

// Rebuild replaces the whole index from a store snapshot.
func (ix *Index) Rebuild(entities []*Entity, rels []*EntityRelationship) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.latest = make(map[string]*Entity, len(entities))
	ix.out = make(map[string][]*EntityRelationship)
	ix.in = make(map[string][]*EntityRelationship)
	ix.rels = make(map[string]*EntityRelationship, len(rels))

	for _, e := range entities {
		cur, ok := ix.latest[e.ID]
		if !ok || CompareVersions(e.Version, cur.Version) > 0 {
			ix.latest[e.ID] = e
		}
	}
	for _, r := range rels {
		ix.applyRelLocked(r)
	}
}

// UpsertEntity installs a version as latest if it is greater than the cached one.
func (ix *Index) UpsertEntity(e *Entity) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur, ok := ix.latest[e.ID]
	if !ok || CompareVersions(e.Version, cur.Version) > 0 {
		ix.latest[e.ID] = e
	}
}

// ApplyRelationship adds or replaces an edge.
func (ix *Index) ApplyRelationship(r *EntityRelationship) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.rels[r.ID]; ok {
		ix.removeRelLocked(r.ID)
	}
	ix.applyRelLocked(r)
}

// RemoveRelationship drops an edge.
func (ix *Index) RemoveRelationship(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeRelLocked(id)
}

func (ix *Index) applyRelLocked(r *EntityRelationship) {
	ix.rels[r.ID] = r
	ix.out[r.FromEntityID] = append(ix.out[r.FromEntityID], r)
	ix.in[r.ToEntityID] = append(ix.in[r.ToEntityID], r)
}

func (ix *Index) removeRelLocked(id string) {
	r, ok := ix.rels[id]
	if !ok {
		return
	}
	delete(ix.rels, id)
	ix.out[r.FromEntityID] = dropRel(ix.out[r.FromEntityID], id)
	ix.in[r.ToEntityID] = dropRel(ix.in[r.ToEntityID], id)
}

func dropRel(rels []*EntityRelationship, id string) []*EntityRelationship {
	for i, r := range rels {
		if r.ID == id {
			return append(rels[:i:i], rels[i+1:]...)
		}
	}
	return rels
}

// Latest returns the cached latest version of id, or nil. Tombstoned
// entities are returned; traversal methods skip them.
func (ix *Index) Latest(id string) *Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.latest[id]
}

// AllLatest returns every live latest version ordered by id.
func (ix *Index) AllLatest() []*Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*Entity, 0, len(ix.latest))
	for _, e := range ix.latest {
		if !e.IsTombstone() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ix *Index) alive(id string) bool {
	e, ok := ix.latest[id]
	return ok && !e.IsTombstone()
}

// Path returns the unweighted shortest path from one entity to another
// following outgoing edges, ties broken by edge insertion order. It returns
// [from] when from == to and nil when no path exists within maxDepth hops.
func (ix *Index) Path(fromID, toID string, maxDepth int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.alive(fromID) || !ix.alive(toID) {
		return nil
	}
	if fromID == toID {
		return []string{fromID}
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	parent := map[string]string{fromID: ""}
	frontier := []string{fromID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, r := range ix.out[id] {
				nb := r.ToEntityID
				if _, seen := parent[nb]; seen || !ix.alive(nb) {
					continue
				}
				parent[nb] = id
				if nb == toID {
					return rebuildPath(parent, fromID, toID)
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil
}

func rebuildPath(parent map[string]string, fromID, toID string) []string {
	var rev []string
	for id := toID; id != ""; id = parent[id] {
		rev = append(rev, id)
		if id == fromID {
			break
		}
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// Neighbors returns the entities adjacent to id, optionally filtered by
// relationship type.
func (ix *Index) Neighbors(id string, dir Direction, relType *RelationshipType) []*Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*Entity

	collect := func(rels []*EntityRelationship, pick func(*EntityRelationship) string) {
		for _, r := range rels {
			if relType != nil && r.RelationshipType != *relType {
				continue
			}
			nb := pick(r)
			if seen[nb] || !ix.alive(nb) {
				continue
			}
			seen[nb] = true
			out = append(out, ix.latest[nb])
		}
	}

	if dir == DirOutgoing || dir == DirBoth {
		collect(ix.out[id], func(r *EntityRelationship) string { return r.ToEntityID })
	}
	if dir == DirIncoming || dir == DirBoth {
		collect(ix.in[id], func(r *EntityRelationship) string { return r.FromEntityID })
	}
	return out
}

// Subgraph returns the entities reachable within radius hops of id in either
// direction, plus the relationships among them.
func (ix *Index) Subgraph(id string, radius int) ([]*Entity, []*EntityRelationship) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.alive(id) {
		return nil, nil
	}
	if radius <= 0 {
		radius = 1
	}

	reached := map[string]bool{id: true}
	frontier := []string{id}
	for depth := 0; depth < radius && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, r := range ix.out[cur] {
				if !reached[r.ToEntityID] && ix.alive(r.ToEntityID) {
					reached[r.ToEntityID] = true
					next = append(next, r.ToEntityID)
				}
			}
			for _, r := range ix.in[cur] {
				if !reached[r.FromEntityID] && ix.alive(r.FromEntityID) {
					reached[r.FromEntityID] = true
					next = append(next, r.FromEntityID)
				}
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(reached))
	for eid := range reached {
		ids = append(ids, eid)
	}
	sort.Strings(ids)

	entities := make([]*Entity, 0, len(ids))
	for _, eid := range ids {
		entities = append(entities, ix.latest[eid])
	}

	var rels []*EntityRelationship
	for _, eid := range ids {
		for _, r := range ix.out[eid] {
			if reached[r.ToEntityID] {
				rels = append(rels, r)
			}
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })

	return entities, rels
}

// SimilarResult is one FindSimilar hit.
type SimilarResult struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score"`
}

// FindSimilar returns up to topK entities of the same type ranked by content
// overlap: Jaccard similarity over content keys plus a bonus per key whose
// values are equal. Ties break on id for determinism.
func (ix *Index) FindSimilar(id string, topK int) []SimilarResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ref, ok := ix.latest[id]
	if !ok || ref.IsTombstone() {
		return nil
	}
	if topK <= 0 {
		topK = 5
	}

	var results []SimilarResult
	for _, cand := range ix.latest {
		if cand.ID == id || cand.IsTombstone() || cand.EntityType != ref.EntityType {
			continue
		}
		score := similarity(ref.Content, cand.Content)
		if score > 0 {
			results = append(results, SimilarResult{Entity: cand, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// similarity is Jaccard over content keys plus 0.1 per shared key with an
// equal stringified value.
func similarity(a, b map[string]any) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	union := make(map[string]bool, len(a)+len(b))
	for k := range a {
		union[k] = true
	}
	for k := range b {
		union[k] = true
	}

	shared, equal := 0, 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		shared++
		if StringifyValue(av) == StringifyValue(bv) {
			equal++
		}
	}

	return float64(shared)/float64(len(union)) + 0.1*float64(equal)
}
