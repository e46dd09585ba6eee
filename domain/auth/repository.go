package auth

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

// AuthConfigRow is one key/value record in the auth_config table.
type AuthConfigRow struct {
	bun.BaseModel `bun:"table:auth_config,alias:ac"`

	Key       string         `bun:"key,pk"`
	Value     map[string]any `bun:"value,type:jsonb,notnull"`
	UpdatedAt time.Time      `bun:"updated_at,notnull,default:now()"`
}

const passwordRecordKey = "admin_password"

// PasswordRecord is the stored admin credential.
type PasswordRecord struct {
	Hash      string    `json:"hash"`
	Algorithm string    `json:"algorithm"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists auth configuration.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new auth repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("auth.repo")),
	}
}

// GetPasswordRecord loads the admin password record.
func (r *Repository) GetPasswordRecord(ctx context.Context) (*PasswordRecord, error) {
	row := new(AuthConfigRow)
	err := r.db.NewSelect().Model(row).Where("key = ?", passwordRecordKey).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("auth_config", passwordRecordKey)
		}
		return nil, apperror.NewStoreUnavailable(err)
	}

	rec := &PasswordRecord{}
	if h, ok := row.Value["hash"].(string); ok {
		rec.Hash = h
	}
	if a, ok := row.Value["algorithm"].(string); ok {
		rec.Algorithm = a
	}
	if c, ok := row.Value["created_at"].(string); ok {
		rec.CreatedAt, _ = time.Parse(time.RFC3339, c)
	}
	if rec.Hash == "" {
		return nil, apperror.NewInternal("admin password record is malformed", nil)
	}
	return rec, nil
}

// SetPasswordRecord stores or replaces the admin password record.
func (r *Repository) SetPasswordRecord(ctx context.Context, rec *PasswordRecord) error {
	row := &AuthConfigRow{
		Key: passwordRecordKey,
		Value: map[string]any{
			"hash":       rec.Hash,
			"algorithm":  rec.Algorithm,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		},
		UpdatedAt: time.Now().UTC(),
	}

	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return apperror.NewStoreUnavailable(err)
	}
	return nil
}
