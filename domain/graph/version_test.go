package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)
	v := NewVersion(ts, "server-1")

	gotTS, gotWriter, err := ParseVersion(v)
	require.NoError(t, err)
	assert.Equal(t, ts, gotTS)
	assert.Equal(t, "server-1", gotWriter)
	assert.Equal(t, "server-1", VersionWriter(v))
}

func TestVersionWriterMayContainDashes(t *testing.T) {
	v := NewVersion(time.Now(), "ios-client-a7f3")
	assert.Equal(t, "ios-client-a7f3", VersionWriter(v))
}

func TestParseVersionRejectsMalformed(t *testing.T) {
	for _, v := range []string{
		"",
		"not-a-version",
		"2025-03-14T09:26:53.589793238Z",  // no writer
		"2025-03-14T09:26:53.589793238Z-", // empty writer
		"2025-03-14T09:26:53.5Z-w",        // trimmed fraction
	} {
		_, _, err := ParseVersion(v)
		assert.Error(t, err, "version %q", v)
	}
}

func TestCompareVersionsOrdersByTimestampThenWriter(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Nanosecond)

	early := NewVersion(t1, "b")
	late := NewVersion(t2, "a")
	assert.Negative(t, CompareVersions(early, late), "timestamp dominates writer")

	a := NewVersion(t1, "a")
	b := NewVersion(t1, "b")
	assert.Negative(t, CompareVersions(a, b), "writer breaks timestamp ties")
	assert.Zero(t, CompareVersions(a, a))
}

func TestVersionClockMonotonicPerWriter(t *testing.T) {
	clock := NewVersionClock()

	prev := clock.Next("w")
	for i := 0; i < 1000; i++ {
		next := clock.Next("w")
		require.Positive(t, CompareVersions(next, prev))
		prev = next
	}
}

func TestVersionClockSurvivesBackwardsTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewVersionClockAt(func() time.Time { return now })

	v1 := clock.Next("w")
	now = now.Add(-time.Hour)
	v2 := clock.Next("w")

	assert.Positive(t, CompareVersions(v2, v1))
}

func TestVersionClockObserve(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewVersionClockAt(func() time.Time { return now })

	remote := NewVersion(now.Add(time.Minute), "w")
	clock.Observe(remote)

	assert.Positive(t, CompareVersions(clock.Next("w"), remote))
}
