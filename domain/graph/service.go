package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// Service owns graph writes and traversal. All writes funnel through the
// per-id locks so the parent-must-exist invariant and the latest-per-id
// projection hold under concurrency; the index is updated inside the same
// critical section as the store commit.
type Service struct {
	store    Store
	index    *Index
	locks    *idLocks
	versions *VersionClock
	log      *slog.Logger
}

// NewService creates a graph service over a store. Call RebuildIndex before
// serving traversal queries.
func NewService(store Store, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		index:    NewIndex(),
		locks:    newIDLocks(),
		versions: NewVersionClock(),
		log:      log.With(logger.Scope("graph.svc")),
	}
}

// Store exposes the underlying store to collaborating domains (sync).
func (s *Service) Store() Store { return s.store }

// Index exposes the traversal index.
func (s *Service) Index() *Index { return s.index }

// RebuildIndex reloads the adjacency index from the store.
func (s *Service) RebuildIndex(ctx context.Context) error {
	var (
		entities []*Entity
		rels     []*EntityRelationship
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = s.store.ListEntities(gctx, ListFilter{IncludeDeleted: true})
		return err
	})
	g.Go(func() error {
		var err error
		rels, err = s.store.ListRelationships(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.index.Rebuild(entities, rels)
	for _, e := range entities {
		s.versions.Observe(e.Version)
	}
	s.log.Info("index rebuilt",
		slog.Int("entities", len(entities)),
		slog.Int("relationships", len(rels)),
	)
	return nil
}

// CreateEntityInput carries the fields of a new entity.
type CreateEntityInput struct {
	EntityType EntityType
	Name       string
	Content    map[string]any
	SourceType SourceType
	UserID     string
}

// CreateEntity writes the initial version of a new entity.
func (s *Service) CreateEntity(ctx context.Context, in CreateEntityInput) (*Entity, error) {
	if !ValidEntityType(in.EntityType) {
		return nil, apperror.NewInvalidArgument("unknown entity_type " + string(in.EntityType))
	}
	if in.UserID == "" {
		return nil, apperror.NewInvalidArgument("user_id is required")
	}
	if in.SourceType == "" {
		in.SourceType = SourceManual
	}
	if in.Content == nil {
		in.Content = map[string]any{}
	}

	e := &Entity{
		ID:             uuid.NewString(),
		Version:        s.versions.Next(in.UserID),
		EntityType:     in.EntityType,
		Name:           in.Name,
		Content:        in.Content,
		SourceType:     in.SourceType,
		UserID:         in.UserID,
		ParentVersions: []string{},
	}

	release := s.locks.Acquire(e.ID)
	defer release()

	if err := s.store.PutEntity(ctx, e); err != nil {
		return nil, err
	}
	s.index.UpsertEntity(e)
	return e, nil
}

// UpdateEntityInput carries a partial update. Content keys merge over the
// current version; a nil value removes the key.
type UpdateEntityInput struct {
	Name    *string
	Content map[string]any
	UserID  string
}

// UpdateEntity appends a new version whose parent is the current latest.
func (s *Service) UpdateEntity(ctx context.Context, id string, in UpdateEntityInput) (*Entity, error) {
	if in.UserID == "" {
		return nil, apperror.NewInvalidArgument("user_id is required")
	}

	release := s.locks.Acquire(id)
	defer release()

	latest, err := s.store.GetEntity(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if latest.IsTombstone() {
		return nil, apperror.NewNotFound("entity", id)
	}

	next := latest.Clone()
	next.Version = s.versions.Next(in.UserID)
	next.UserID = in.UserID
	next.ParentVersions = []string{latest.Version}
	if in.Name != nil {
		next.Name = *in.Name
	}
	for k, v := range in.Content {
		if v == nil {
			delete(next.Content, k)
		} else {
			next.Content[k] = v
		}
	}

	if err := s.store.PutEntity(ctx, next); err != nil {
		return nil, err
	}
	s.index.UpsertEntity(next)
	return next, nil
}

// DeleteEntity appends a tombstone version. Deleting an already tombstoned
// entity succeeds silently.
func (s *Service) DeleteEntity(ctx context.Context, id, userID string) error {
	release := s.locks.Acquire(id)
	defer release()

	latest, err := s.store.GetEntity(ctx, id, "")
	if err != nil {
		return err
	}
	if latest.IsTombstone() {
		return nil
	}

	tomb := &Entity{
		ID:             id,
		Version:        s.versions.Next(userID),
		EntityType:     latest.EntityType,
		Name:           latest.Name,
		Content:        Tombstone(),
		SourceType:     latest.SourceType,
		UserID:         userID,
		ParentVersions: []string{latest.Version},
	}

	if err := s.store.PutEntity(ctx, tomb); err != nil {
		return err
	}
	s.index.UpsertEntity(tomb)
	return nil
}

// GetEntity returns a version (latest when version is empty).
func (s *Service) GetEntity(ctx context.Context, id, version string) (*Entity, error) {
	return s.store.GetEntity(ctx, id, version)
}

// GetHistory returns all versions of an entity ordered by version.
func (s *Service) GetHistory(ctx context.Context, id string) ([]*Entity, error) {
	return s.store.GetHistory(ctx, id)
}

// ListEntities returns latest-per-id versions matching the filter.
func (s *Service) ListEntities(ctx context.Context, f ListFilter) ([]*Entity, error) {
	return s.store.ListEntities(ctx, f)
}

// CreateRelationshipInput carries the fields of a new relationship.
type CreateRelationshipInput struct {
	FromEntityID     string
	ToEntityID       string
	RelationshipType RelationshipType
	Properties       map[string]any
	UserID           string
}

// CreateRelationship links the latest versions of two entities. Edges of
// tree-shaped types (located_in, part_of) are rejected if they close a cycle.
func (s *Service) CreateRelationship(ctx context.Context, in CreateRelationshipInput) (*EntityRelationship, error) {
	if !ValidRelationshipType(in.RelationshipType) {
		return nil, apperror.NewInvalidArgument("unknown relationship_type " + string(in.RelationshipType))
	}
	if in.FromEntityID == in.ToEntityID {
		return nil, apperror.NewInvalidArgument("relationship endpoints must differ")
	}

	from, err := s.store.GetEntity(ctx, in.FromEntityID, "")
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetEntity(ctx, in.ToEntityID, "")
	if err != nil {
		return nil, err
	}

	if acyclicType(in.RelationshipType) && s.wouldCycle(in.RelationshipType, in.FromEntityID, in.ToEntityID) {
		return nil, apperror.NewInvalidArgument(string(in.RelationshipType) + " relationships must not form a cycle")
	}

	if in.Properties == nil {
		in.Properties = map[string]any{}
	}
	rel := &EntityRelationship{
		ID:                uuid.NewString(),
		FromEntityID:      from.ID,
		FromEntityVersion: from.Version,
		ToEntityID:        to.ID,
		ToEntityVersion:   to.Version,
		RelationshipType:  in.RelationshipType,
		Properties:        in.Properties,
		UserID:            in.UserID,
	}

	release := s.locks.Acquire(in.FromEntityID, in.ToEntityID)
	defer release()

	if err := s.store.PutRelationship(ctx, rel); err != nil {
		return nil, err
	}
	s.index.ApplyRelationship(rel)
	return rel, nil
}

// wouldCycle walks same-typed outgoing edges from `to` looking for `from`.
func (s *Service) wouldCycle(t RelationshipType, fromID, toID string) bool {
	seen := map[string]bool{toID: true}
	frontier := []string{toID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, e := range s.index.Neighbors(id, DirOutgoing, &t) {
				if e.ID == fromID {
					return true
				}
				if !seen[e.ID] {
					seen[e.ID] = true
					next = append(next, e.ID)
				}
			}
		}
		frontier = next
	}
	return false
}

// DeleteRelationship marks an edge deleted. The row survives so the deletion
// reaches replicas that already synced it.
func (s *Service) DeleteRelationship(ctx context.Context, id string) error {
	if err := s.store.DeleteRelationship(ctx, id); err != nil {
		return err
	}
	s.index.RemoveRelationship(id)
	return nil
}

// GetRelationship returns one relationship by id.
func (s *Service) GetRelationship(ctx context.Context, id string) (*EntityRelationship, error) {
	return s.store.GetRelationship(ctx, id)
}

// ListRelationshipsFrom returns outgoing edges of an entity.
func (s *Service) ListRelationshipsFrom(ctx context.Context, id string) ([]*EntityRelationship, error) {
	return s.store.ListRelationshipsFrom(ctx, id)
}

// ListRelationshipsTo returns incoming edges of an entity.
func (s *Service) ListRelationshipsTo(ctx context.Context, id string) ([]*EntityRelationship, error) {
	return s.store.ListRelationshipsTo(ctx, id)
}

// ListRelationshipsByType returns all edges of one type.
func (s *Service) ListRelationshipsByType(ctx context.Context, t RelationshipType) ([]*EntityRelationship, error) {
	return s.store.ListRelationshipsByType(ctx, t)
}

// ApplyRemoteEntity writes a version minted by another replica. The version
// clock observes it so local versions for the same writer stay ahead.
func (s *Service) ApplyRemoteEntity(ctx context.Context, e *Entity) error {
	release := s.locks.Acquire(e.ID)
	defer release()

	if err := s.store.PutEntity(ctx, e); err != nil {
		return err
	}
	s.versions.Observe(e.Version)
	s.index.UpsertEntity(e)
	return nil
}

// ApplyRemoteRelationship writes a relationship received from another replica.
func (s *Service) ApplyRemoteRelationship(ctx context.Context, r *EntityRelationship) error {
	release := s.locks.Acquire(r.FromEntityID, r.ToEntityID)
	defer release()

	if err := s.store.PutRelationship(ctx, r); err != nil {
		return err
	}
	s.index.ApplyRelationship(r)
	return nil
}

// NextVersion mints a fresh version string for a writer.
func (s *Service) NextVersion(writer string) string {
	return s.versions.Next(writer)
}

// ChangesSince returns entity versions unobserved by the given clock.
func (s *Service) ChangesSince(ctx context.Context, clock map[string]string) ([]*Entity, error) {
	return s.store.ChangesSince(ctx, clock)
}

// RelationshipsSince returns relationships touched at or after t.
func (s *Service) RelationshipsSince(ctx context.Context, t time.Time) ([]*EntityRelationship, error) {
	return s.store.ListRelationshipsSince(ctx, t)
}
