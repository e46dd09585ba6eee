package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexFixture struct {
	ix   *Index
	seq  time.Duration
	base time.Time
}

func newIndexFixture() *indexFixture {
	return &indexFixture{
		ix:   NewIndex(),
		base: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *indexFixture) entity(id string, t EntityType, content map[string]any) *Entity {
	f.seq += time.Second
	e := &Entity{
		ID:         id,
		Version:    NewVersion(f.base.Add(f.seq), "w"),
		EntityType: t,
		Name:       id,
		Content:    content,
		UserID:     "user-1",
	}
	f.ix.UpsertEntity(e)
	return e
}

func (f *indexFixture) edge(id, from, to string, t RelationshipType) {
	f.ix.ApplyRelationship(&EntityRelationship{
		ID:               id,
		FromEntityID:     from,
		ToEntityID:       to,
		RelationshipType: t,
	})
}

func TestIndexLatestWins(t *testing.T) {
	ix := NewIndex()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	v1 := NewVersion(base, "w")
	v2 := NewVersion(base.Add(time.Second), "w")

	ix.UpsertEntity(&Entity{ID: "e", Version: v2, EntityType: TypeDevice, Name: "new"})
	// A stale version arriving later must not displace the newer one.
	ix.UpsertEntity(&Entity{ID: "e", Version: v1, EntityType: TypeDevice, Name: "old"})

	assert.Equal(t, "new", ix.Latest("e").Name)
}

func TestPathShortest(t *testing.T) {
	f := newIndexFixture()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.entity(id, TypeRoom, nil)
	}
	// a -> b -> d and the shortcut a -> d.
	f.edge("r1", "a", "b", RelConnectsTo)
	f.edge("r2", "b", "d", RelConnectsTo)
	f.edge("r3", "a", "d", RelConnectsTo)

	assert.Equal(t, []string{"a", "d"}, f.ix.Path("a", "d", 0))
	assert.Equal(t, []string{"a"}, f.ix.Path("a", "a", 0))
	assert.Nil(t, f.ix.Path("d", "a", 0), "edges are directed")
	assert.Nil(t, f.ix.Path("a", "c", 0))
}

func TestPathInsertionOrderTieBreak(t *testing.T) {
	f := newIndexFixture()
	for _, id := range []string{"a", "b1", "b2", "c"} {
		f.entity(id, TypeRoom, nil)
	}
	// Two equal-length paths a->b1->c and a->b2->c; the first-inserted edge wins.
	f.edge("r1", "a", "b1", RelConnectsTo)
	f.edge("r2", "a", "b2", RelConnectsTo)
	f.edge("r3", "b2", "c", RelConnectsTo)
	f.edge("r4", "b1", "c", RelConnectsTo)

	assert.Equal(t, []string{"a", "b1", "c"}, f.ix.Path("a", "c", 0))
}

func TestPathRespectsMaxDepth(t *testing.T) {
	f := newIndexFixture()
	for _, id := range []string{"a", "b", "c"} {
		f.entity(id, TypeRoom, nil)
	}
	f.edge("r1", "a", "b", RelConnectsTo)
	f.edge("r2", "b", "c", RelConnectsTo)

	assert.Nil(t, f.ix.Path("a", "c", 1))
	assert.Equal(t, []string{"a", "b", "c"}, f.ix.Path("a", "c", 2))
}

func TestPathSkipsTombstones(t *testing.T) {
	f := newIndexFixture()
	f.entity("a", TypeRoom, nil)
	f.entity("b", TypeRoom, nil)
	f.entity("c", TypeRoom, nil)
	f.edge("r1", "a", "b", RelConnectsTo)
	f.edge("r2", "b", "c", RelConnectsTo)

	f.entity("b", TypeRoom, Tombstone())
	assert.Nil(t, f.ix.Path("a", "c", 0))
}

func TestNeighborsDirectionAndType(t *testing.T) {
	f := newIndexFixture()
	f.entity("room", TypeRoom, nil)
	f.entity("lamp", TypeDevice, nil)
	f.entity("sensor", TypeDevice, nil)
	f.edge("r1", "lamp", "room", RelLocatedIn)
	f.edge("r2", "room", "sensor", RelMonitoredBy)

	out := f.ix.Neighbors("room", DirOutgoing, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "sensor", out[0].ID)

	in := f.ix.Neighbors("room", DirIncoming, nil)
	require.Len(t, in, 1)
	assert.Equal(t, "lamp", in[0].ID)

	both := f.ix.Neighbors("room", DirBoth, nil)
	assert.Len(t, both, 2)

	located := RelLocatedIn
	filtered := f.ix.Neighbors("room", DirBoth, &located)
	require.Len(t, filtered, 1)
	assert.Equal(t, "lamp", filtered[0].ID)
}

func TestSubgraphRadius(t *testing.T) {
	f := newIndexFixture()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.entity(id, TypeRoom, nil)
	}
	f.edge("r1", "a", "b", RelConnectsTo)
	f.edge("r2", "c", "b", RelConnectsTo) // reachable via incoming edge
	f.edge("r3", "c", "d", RelConnectsTo)

	entities, rels := f.ix.Subgraph("a", 2)
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	relIDs := make([]string, len(rels))
	for i, r := range rels {
		relIDs[i] = r.ID
	}
	// r3 leads outside the reached set and is excluded.
	assert.Equal(t, []string{"r1", "r2"}, relIDs)
}

func TestFindSimilar(t *testing.T) {
	f := newIndexFixture()
	f.entity("ref", TypeDevice, map[string]any{"manufacturer": "Philips", "protocol": "zigbee", "watts": 9})
	f.entity("close", TypeDevice, map[string]any{"manufacturer": "Philips", "protocol": "zigbee"})
	f.entity("far", TypeDevice, map[string]any{"manufacturer": "IKEA"})
	f.entity("other-type", TypeRoom, map[string]any{"manufacturer": "Philips", "protocol": "zigbee"})
	f.entity("disjoint", TypeDevice, map[string]any{"firmware": "2.1"})

	results := f.ix.FindSimilar("ref", 0)
	require.Len(t, results, 2, "same-type entities with key overlap only")
	assert.Equal(t, "close", results[0].Entity.ID)
	assert.Equal(t, "far", results[1].Entity.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestFindSimilarTieBreaksOnID(t *testing.T) {
	f := newIndexFixture()
	f.entity("ref", TypeDevice, map[string]any{"k": "v"})
	f.entity("b", TypeDevice, map[string]any{"k": "v"})
	f.entity("a", TypeDevice, map[string]any{"k": "v"})

	results := f.ix.FindSimilar("ref", 0)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Entity.ID)
	assert.Equal(t, "b", results[1].Entity.ID)
}

func TestRemoveRelationship(t *testing.T) {
	f := newIndexFixture()
	f.entity("a", TypeRoom, nil)
	f.entity("b", TypeRoom, nil)
	f.edge("r1", "a", "b", RelConnectsTo)

	f.ix.RemoveRelationship("r1")
	assert.Empty(t, f.ix.Neighbors("a", DirBoth, nil))
	assert.Nil(t, f.ix.Path("a", "b", 0))
}
