package graph

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repo")),
	}
}

// storeErr maps driver faults to the retryable store_unavailable kind.
// sql.ErrNoRows never reaches here; absence is handled per query.
func storeErr(err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.NewStoreUnavailable(err)
}

func (r *Repository) PutEntity(ctx context.Context, e *Entity) error {
	// Writes for one id are serialized by the service's per-id locks, so the
	// read-validate-insert sequence below is race-free within this process.
	history, err := r.historyLocked(ctx, e.ID)
	if err != nil {
		return err
	}

	if err := validatePut(history, e); err != nil {
		if err == errReplay {
			return nil
		}
		return err
	}

	row := e.Clone()
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Content == nil {
		row.Content = map[string]any{}
	}
	if row.ParentVersions == nil {
		row.ParentVersions = []string{}
	}

	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *Repository) historyLocked(ctx context.Context, id string) ([]*Entity, error) {
	var history []*Entity
	err := r.db.NewSelect().
		Model(&history).
		Where("id = ?", id).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return history, nil
}

func (r *Repository) GetEntity(ctx context.Context, id, version string) (*Entity, error) {
	e := new(Entity)
	q := r.db.NewSelect().Model(e).Where("id = ?", id)
	if version == "" {
		q = q.Order("version DESC").Limit(1)
	} else {
		q = q.Where("version = ?", version)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("entity", id)
		}
		return nil, storeErr(err)
	}
	return e, nil
}

func (r *Repository) ListEntities(ctx context.Context, f ListFilter) ([]*Entity, error) {
	var out []*Entity
	q := r.db.NewSelect().
		Model(&out).
		Where("(e.id, e.version) IN (SELECT id, max(version) FROM entities GROUP BY id)").
		Order("id ASC")

	if f.EntityType != nil {
		q = q.Where("entity_type = ?", *f.EntityType)
	}
	if f.NameSubstring != "" {
		q = q.Where("name ILIKE ?", "%"+f.NameSubstring+"%")
	}
	if f.ModifiedSince != nil {
		q = q.Where("updated_at >= ?", *f.ModifiedSince)
	}
	if !f.IncludeDeleted {
		q = q.Where("COALESCE((content->>'_deleted')::boolean, false) = false")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (r *Repository) GetHistory(ctx context.Context, id string) ([]*Entity, error) {
	history, err := r.historyLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, apperror.NewNotFound("entity", id)
	}
	return history, nil
}

func (r *Repository) PutRelationship(ctx context.Context, rel *EntityRelationship) error {
	if rel.ID == "" {
		return apperror.NewInvalidArgument("relationship id is required")
	}

	row := rel.Clone()
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.Properties == nil {
		row.Properties = map[string]any{}
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("properties = EXCLUDED.properties").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *Repository) DeleteRelationship(ctx context.Context, id string) error {
	// Soft delete: the row survives so ListRelationshipsSince can hand the
	// deletion to replicas that already hold the edge.
	if _, err := r.db.NewUpdate().
		Model((*EntityRelationship)(nil)).
		Set("deleted_at = now()").
		Set("updated_at = now()").
		Where("id = ? AND deleted_at IS NULL", id).
		Exec(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *Repository) GetRelationship(ctx context.Context, id string) (*EntityRelationship, error) {
	rel := new(EntityRelationship)
	err := r.db.NewSelect().Model(rel).Where("id = ? AND deleted_at IS NULL", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("relationship", id)
		}
		return nil, storeErr(err)
	}
	return rel, nil
}

func (r *Repository) ListRelationshipsFrom(ctx context.Context, entityID string) ([]*EntityRelationship, error) {
	return r.listRels(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("from_entity_id = ? AND deleted_at IS NULL", entityID)
	})
}

func (r *Repository) ListRelationshipsTo(ctx context.Context, entityID string) ([]*EntityRelationship, error) {
	return r.listRels(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("to_entity_id = ? AND deleted_at IS NULL", entityID)
	})
}

func (r *Repository) ListRelationshipsByType(ctx context.Context, t RelationshipType) ([]*EntityRelationship, error) {
	return r.listRels(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("relationship_type = ? AND deleted_at IS NULL", t)
	})
}

func (r *Repository) ListRelationships(ctx context.Context) ([]*EntityRelationship, error) {
	return r.listRels(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("deleted_at IS NULL")
	})
}

// ListRelationshipsSince keeps deleted rows: it feeds sync, where a deletion
// is a change like any other.
func (r *Repository) ListRelationshipsSince(ctx context.Context, t time.Time) ([]*EntityRelationship, error) {
	return r.listRels(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("updated_at >= ?", t)
	})
}

func (r *Repository) listRels(ctx context.Context, apply func(*bun.SelectQuery) *bun.SelectQuery) ([]*EntityRelationship, error) {
	var out []*EntityRelationship
	q := apply(r.db.NewSelect().Model(&out)).Order("created_at ASC", "id ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (r *Repository) ChangesSince(ctx context.Context, clock map[string]string) ([]*Entity, error) {
	// The writer id lives inside the version string, so the clock filter is
	// applied in Go after an ordered scan. Smart-home graphs are small enough
	// that this stays cheap; the batch cap lives a layer up in sync.
	var all []*Entity
	err := r.db.NewSelect().
		Model(&all).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeErr(err)
	}

	var out []*Entity
	for _, e := range all {
		if Unobserved(clock, e.Version) {
			out = append(out, e)
		}
	}
	return out, nil
}
