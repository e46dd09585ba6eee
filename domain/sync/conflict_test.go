package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/homegraph/homegraph/domain/graph"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func version(offset time.Duration, writer string) string {
	return graph.NewVersion(t0.Add(offset), writer)
}

func testVersion(id, v string, parents []string, content map[string]any) *graph.Entity {
	if content == nil {
		content = map[string]any{}
	}
	return &graph.Entity{
		ID:             id,
		Version:        v,
		EntityType:     graph.TypeDevice,
		Name:           "Device",
		Content:        content,
		SourceType:     graph.SourceManual,
		UserID:         graph.VersionWriter(v),
		ParentVersions: parents,
	}
}

func TestClassifyLinear(t *testing.T) {
	v1 := version(0, "a")
	v2 := version(time.Second, "b")

	local := testVersion("e1", v1, nil, nil)
	incoming := testVersion("e1", v2, []string{v1}, nil)

	rel := Classify([]*graph.Entity{local}, local, incoming)
	assert.Equal(t, RelationLinear, rel)
}

func TestClassifySubsumed(t *testing.T) {
	v1 := version(0, "a")
	v2 := version(time.Second, "a")

	e1 := testVersion("e1", v1, nil, nil)
	e2 := testVersion("e1", v2, []string{v1}, nil)
	history := []*graph.Entity{e1, e2}

	// Incoming version the server already has.
	assert.Equal(t, RelationSubsumed, Classify(history, e2, e1))
	// Identical to the latest.
	assert.Equal(t, RelationSubsumed, Classify(history, e2, e2))
}

func TestClassifyDiverged(t *testing.T) {
	base := version(0, "a")
	v2a := version(time.Second, "a")
	v2b := version(2*time.Second, "b")

	e1 := testVersion("e1", base, nil, nil)
	e2a := testVersion("e1", v2a, []string{base}, nil)
	e2b := testVersion("e1", v2b, []string{base}, nil)

	rel := Classify([]*graph.Entity{e1, e2a}, e2a, e2b)
	assert.Equal(t, RelationDiverged, rel)
}

func TestClassifyLinearAcrossGap(t *testing.T) {
	// Incoming descends from the local latest through a version the server
	// has not stored yet; ancestry still resolves through the incoming record.
	v1 := version(0, "a")
	v3 := version(3*time.Second, "b")

	local := testVersion("e1", v1, nil, nil)
	incoming := testVersion("e1", v3, []string{v1}, nil)

	assert.Equal(t, RelationLinear, Classify([]*graph.Entity{local}, local, incoming))
}

func TestWinnerByVersion(t *testing.T) {
	older := testVersion("e1", version(0, "a"), nil, nil)
	newer := testVersion("e1", version(time.Second, "b"), nil, nil)

	assert.Same(t, newer, Winner(older, newer))
	assert.Same(t, newer, Winner(newer, older))
}

func TestWinnerWriterTieBreak(t *testing.T) {
	a := testVersion("e1", version(0, "alpha"), nil, nil)
	b := testVersion("e1", version(0, "beta"), nil, nil)

	assert.Same(t, b, Winner(a, b))
}

func TestWinnerTombstoneBeatsNewerEdit(t *testing.T) {
	tomb := testVersion("e1", version(0, "a"), nil, graph.Tombstone())
	edit := testVersion("e1", version(time.Minute, "b"), nil, map[string]any{"x": 1})

	assert.Same(t, tomb, Winner(tomb, edit))
	assert.Same(t, tomb, Winner(edit, tomb))
}

func TestMergeEntitiesFieldRules(t *testing.T) {
	loser := testVersion("e1", version(0, "a"), nil, map[string]any{
		"is_reachable": true,
		"brightness":   30,
		"tags":         []any{"kitchen", "dimmable"},
		"loser_only":   "kept",
	})
	loser.Name = "Kitchen Ceiling Light"

	winner := testVersion("e1", version(time.Second, "b"), nil, map[string]any{
		"is_reachable": false,
		"brightness":   80,
		"tags":         []any{"dimmable", "smart"},
	})
	winner.Name = "Light"

	name, content := MergeEntities(loser, winner)

	assert.Equal(t, "Kitchen Ceiling Light", name)
	assert.Equal(t, true, content["is_reachable"])
	assert.Equal(t, 80, content["brightness"])
	assert.Equal(t, "kept", content["loser_only"])
	// Winner order first, then the loser's new elements.
	assert.Equal(t, []any{"dimmable", "smart", "kitchen"}, content["tags"])
}

func TestMergeEntitiesDeletionWins(t *testing.T) {
	tomb := testVersion("e1", version(0, "a"), nil, graph.Tombstone())
	edit := testVersion("e1", version(time.Second, "b"), nil, map[string]any{"x": 1})

	_, content := MergeEntities(tomb, edit)
	assert.Equal(t, graph.Tombstone(), content)
}

func TestVectorClockObserveMerge(t *testing.T) {
	c := VectorClock{}
	c.Observe(version(0, "a"))
	c.Observe(version(time.Second, "a"))
	c.Observe(version(0, "b"))
	// Older version does not regress the entry.
	c.Observe(version(-time.Second, "a"))

	assert.Equal(t, version(time.Second, "a"), c["a"])
	assert.Equal(t, version(0, "b"), c["b"])

	other := VectorClock{
		"a": version(2*time.Second, "a"),
		"c": version(0, "c"),
	}
	c.Merge(other)
	assert.Equal(t, version(2*time.Second, "a"), c["a"])
	assert.Equal(t, version(0, "b"), c["b"])
	assert.Equal(t, version(0, "c"), c["c"])

	assert.True(t, c.Equal(c.Clone()))
	assert.False(t, c.Equal(other))
}

func TestVectorClockIgnoresMalformed(t *testing.T) {
	c := VectorClock{}
	c.Observe("not-a-version")
	assert.Empty(t, c)
}
