package graph

import (
	"context"
	"reflect"
	"time"

	"github.com/homegraph/homegraph/pkg/apperror"
)

// ListFilter narrows ListEntities. Zero value lists every live latest version.
type ListFilter struct {
	EntityType     *EntityType
	NameSubstring  string
	ModifiedSince  *time.Time
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Store is the persistence contract for the versioned graph. The server backs
// it with PostgreSQL (Repository); client replicas and tests use MemStore.
type Store interface {
	// PutEntity appends a version. It fails with ErrParentUnknown,
	// ErrTypeImmutable or ErrConflict on invariant violations and succeeds
	// silently when an identical (id, version) is replayed.
	PutEntity(ctx context.Context, e *Entity) error

	// GetEntity returns a specific version, or the latest when version is "".
	GetEntity(ctx context.Context, id, version string) (*Entity, error)

	// ListEntities returns latest-per-id versions matching the filter.
	ListEntities(ctx context.Context, f ListFilter) ([]*Entity, error)

	// GetHistory returns all versions of id ordered by version.
	GetHistory(ctx context.Context, id string) ([]*Entity, error)

	PutRelationship(ctx context.Context, r *EntityRelationship) error
	DeleteRelationship(ctx context.Context, id string) error
	GetRelationship(ctx context.Context, id string) (*EntityRelationship, error)
	ListRelationshipsFrom(ctx context.Context, entityID string) ([]*EntityRelationship, error)
	ListRelationshipsTo(ctx context.Context, entityID string) ([]*EntityRelationship, error)
	ListRelationshipsByType(ctx context.Context, t RelationshipType) ([]*EntityRelationship, error)
	ListRelationships(ctx context.Context) ([]*EntityRelationship, error)

	// ChangesSince returns every entity version a peer with the given vector
	// clock has not observed, ordered by version.
	ChangesSince(ctx context.Context, clock map[string]string) ([]*Entity, error)

	// ListRelationshipsSince returns relationships touched at or after t,
	// deleted rows included.
	ListRelationshipsSince(ctx context.Context, t time.Time) ([]*EntityRelationship, error)
}

// Unobserved reports whether a peer holding the given vector clock has not
// yet seen version v: the writer is absent from the clock, or the clock entry
// is lexicographically less than v.
func Unobserved(clock map[string]string, v string) bool {
	w := VersionWriter(v)
	seen, ok := clock[w]
	if !ok {
		return true
	}
	return CompareVersions(seen, v) < 0
}

// validatePut enforces the write invariants against the entity's stored
// history. It returns errReplay when the identical version is already stored.
func validatePut(history []*Entity, e *Entity) error {
	if e.ID == "" || e.Version == "" {
		return apperror.NewInvalidArgument("entity id and version are required")
	}
	if !ValidEntityType(e.EntityType) {
		return apperror.NewInvalidArgument("unknown entity_type " + string(e.EntityType))
	}

	known := make(map[string]*Entity, len(history))
	for _, h := range history {
		known[h.Version] = h
	}

	if prior, ok := known[e.Version]; ok {
		if entitiesEquivalent(prior, e) {
			return errReplay
		}
		return apperror.ErrConflict.WithMessage("version " + e.Version + " already exists for entity " + e.ID)
	}

	if len(history) > 0 && history[0].EntityType != e.EntityType {
		return apperror.ErrTypeImmutable.WithDetails(map[string]any{
			"entity_id": e.ID,
			"stored":    history[0].EntityType,
			"incoming":  e.EntityType,
		})
	}

	for _, p := range e.ParentVersions {
		if _, ok := known[p]; !ok {
			return apperror.ErrParentUnknown.WithDetails(map[string]any{
				"entity_id": e.ID,
				"parent":    p,
			})
		}
	}

	return nil
}

// errReplay signals an idempotent replay of an identical version; callers
// treat it as silent success.
var errReplay = apperror.New(200, "replay", "identical version already stored")

// entitiesEquivalent compares the fields a replay must match. Timestamps are
// excluded: a retried request carries fresh wall-clock times.
func entitiesEquivalent(a, b *Entity) bool {
	return a.ID == b.ID &&
		a.Version == b.Version &&
		a.EntityType == b.EntityType &&
		a.Name == b.Name &&
		a.UserID == b.UserID &&
		reflect.DeepEqual(normalizeContent(a.Content), normalizeContent(b.Content)) &&
		reflect.DeepEqual(normalizeParents(a.ParentVersions), normalizeParents(b.ParentVersions))
}

// normalizeContent maps nil to empty so a round-trip through JSON compares equal.
func normalizeContent(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func normalizeParents(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

// latestOf returns the version with the greatest version string, or nil.
func latestOf(history []*Entity) *Entity {
	var latest *Entity
	for _, e := range history {
		if latest == nil || CompareVersions(e.Version, latest.Version) > 0 {
			latest = e
		}
	}
	return latest
}

// matchesFilter applies ListFilter to a latest version.
func matchesFilter(e *Entity, f ListFilter) bool {
	if !f.IncludeDeleted && e.IsTombstone() {
		return false
	}
	if f.EntityType != nil && e.EntityType != *f.EntityType {
		return false
	}
	if f.NameSubstring != "" && !containsFold(e.Name, f.NameSubstring) {
		return false
	}
	if f.ModifiedSince != nil && e.UpdatedAt.Before(*f.ModifiedSince) {
		return false
	}
	return true
}
