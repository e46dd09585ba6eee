package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// versionTimeLayout is fixed width so version strings order lexicographically
// by timestamp. time.RFC3339Nano trims trailing zeros and would break that.
const versionTimeLayout = "2006-01-02T15:04:05.000000000Z"

// NewVersion builds a version string from a wall-clock instant and a writer id.
// Timestamp dominates the ordering; the writer id breaks ties.
func NewVersion(t time.Time, writer string) string {
	return t.UTC().Format(versionTimeLayout) + "-" + writer
}

// ParseVersion splits a version string into its timestamp and writer id.
func ParseVersion(v string) (time.Time, string, error) {
	if len(v) < len(versionTimeLayout)+1 {
		return time.Time{}, "", fmt.Errorf("malformed version %q", v)
	}
	ts, err := time.Parse(versionTimeLayout, v[:len(versionTimeLayout)])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed version %q: %w", v, err)
	}
	writer := v[len(versionTimeLayout)+1:]
	if writer == "" || v[len(versionTimeLayout)] != '-' {
		return time.Time{}, "", fmt.Errorf("malformed version %q: missing writer", v)
	}
	return ts, writer, nil
}

// VersionWriter returns the writer id embedded in a version string, or ""
// if the version is malformed.
func VersionWriter(v string) string {
	_, writer, err := ParseVersion(v)
	if err != nil {
		return ""
	}
	return writer
}

// CompareVersions orders version strings: timestamp first, writer id as
// tie-break. Plain lexicographic comparison is correct because the timestamp
// prefix is fixed width.
func CompareVersions(a, b string) int {
	return strings.Compare(a, b)
}

// VersionClock mints per-writer monotonic versions. If the host clock runs
// backwards the next version still advances by one nanosecond past the last
// one handed out.
type VersionClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewVersionClock creates a version clock backed by the system clock.
func NewVersionClock() *VersionClock {
	return &VersionClock{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// NewVersionClockAt creates a version clock with an injectable time source.
func NewVersionClockAt(now func() time.Time) *VersionClock {
	return &VersionClock{
		last: make(map[string]time.Time),
		now:  now,
	}
}

// Next returns a fresh version for the writer, strictly greater than any
// version it previously handed out for that writer.
func (c *VersionClock) Next(writer string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if last, ok := c.last[writer]; ok && !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	c.last[writer] = t
	return NewVersion(t, writer)
}

// Observe records an externally minted version so locally minted versions for
// the same writer stay ahead of it.
func (c *VersionClock) Observe(version string) {
	ts, writer, err := ParseVersion(version)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[writer]; !ok || ts.After(last) {
		c.last[writer] = ts
	}
}
