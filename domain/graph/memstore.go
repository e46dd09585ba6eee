package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/homegraph/homegraph/pkg/apperror"
)

// MemStore is an in-memory Store. It backs client replicas in the sync
// engine and doubles as the test stand-in for the PostgreSQL repository;
// both implementations share the same invariant checks.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string][]*Entity // id -> versions, sorted ascending
	rels     map[string]*EntityRelationship
	relOrder []string // insertion order for deterministic iteration
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string][]*Entity),
		rels:     make(map[string]*EntityRelationship),
	}
}

func (s *MemStore) PutEntity(ctx context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.entities[e.ID]
	if err := validatePut(history, e); err != nil {
		if err == errReplay {
			return nil
		}
		return err
	}

	cp := e.Clone()
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}

	history = append(history, cp)
	sort.Slice(history, func(i, j int) bool {
		return CompareVersions(history[i].Version, history[j].Version) < 0
	})
	s.entities[e.ID] = history
	return nil
}

func (s *MemStore) GetEntity(ctx context.Context, id, version string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.entities[id]
	if len(history) == 0 {
		return nil, apperror.NewNotFound("entity", id)
	}
	if version == "" {
		return latestOf(history).Clone(), nil
	}
	for _, e := range history {
		if e.Version == version {
			return e.Clone(), nil
		}
	}
	return nil, apperror.NewNotFound("entity version", id+"@"+version)
}

func (s *MemStore) ListEntities(ctx context.Context, f ListFilter) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*Entity
	for _, id := range ids {
		latest := latestOf(s.entities[id])
		if latest != nil && matchesFilter(latest, f) {
			out = append(out, latest.Clone())
		}
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) GetHistory(ctx context.Context, id string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.entities[id]
	if len(history) == 0 {
		return nil, apperror.NewNotFound("entity", id)
	}
	out := make([]*Entity, len(history))
	for i, e := range history {
		out[i] = e.Clone()
	}
	return out, nil
}

func (s *MemStore) PutRelationship(ctx context.Context, r *EntityRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		return apperror.NewInvalidArgument("relationship id is required")
	}
	if _, ok := s.rels[r.ID]; !ok {
		s.relOrder = append(s.relOrder, r.ID)
	}
	cp := r.Clone()
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.rels[r.ID] = cp
	return nil
}

func (s *MemStore) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rels[id]
	if !ok || r.DeletedAt != nil {
		// Delete is idempotent: removing a missing edge is a no-op.
		return nil
	}
	// Soft delete: the row survives so ListRelationshipsSince can hand the
	// deletion to replicas that already hold the edge.
	now := time.Now().UTC()
	r.DeletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (s *MemStore) GetRelationship(ctx context.Context, id string) (*EntityRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rels[id]
	if !ok || r.DeletedAt != nil {
		return nil, apperror.NewNotFound("relationship", id)
	}
	return r.Clone(), nil
}

func (s *MemStore) ListRelationshipsFrom(ctx context.Context, entityID string) ([]*EntityRelationship, error) {
	return s.filterRels(func(r *EntityRelationship) bool {
		return r.DeletedAt == nil && r.FromEntityID == entityID
	}), nil
}

func (s *MemStore) ListRelationshipsTo(ctx context.Context, entityID string) ([]*EntityRelationship, error) {
	return s.filterRels(func(r *EntityRelationship) bool {
		return r.DeletedAt == nil && r.ToEntityID == entityID
	}), nil
}

func (s *MemStore) ListRelationshipsByType(ctx context.Context, t RelationshipType) ([]*EntityRelationship, error) {
	return s.filterRels(func(r *EntityRelationship) bool {
		return r.DeletedAt == nil && r.RelationshipType == t
	}), nil
}

func (s *MemStore) ListRelationships(ctx context.Context) ([]*EntityRelationship, error) {
	return s.filterRels(func(r *EntityRelationship) bool { return r.DeletedAt == nil }), nil
}

func (s *MemStore) ChangesSince(ctx context.Context, clock map[string]string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entity
	for _, history := range s.entities {
		for _, e := range history {
			if Unobserved(clock, e.Version) {
				out = append(out, e.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out, nil
}

func (s *MemStore) ListRelationshipsSince(ctx context.Context, t time.Time) ([]*EntityRelationship, error) {
	return s.filterRels(func(r *EntityRelationship) bool {
		return !r.UpdatedAt.Before(t)
	}), nil
}

func (s *MemStore) filterRels(keep func(*EntityRelationship) bool) []*EntityRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityRelationship
	for _, id := range s.relOrder {
		if r := s.rels[id]; keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}
