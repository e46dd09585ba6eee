package sync

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

// schemaVersion is recorded per peer; a future migration can refuse or
// translate peers on older schemas.
const schemaVersion = "1"

// MetadataRow is one sync_metadata record keyed by device id.
type MetadataRow struct {
	bun.BaseModel `bun:"table:sync_metadata,alias:sm"`

	Key       string         `bun:"key,pk"`
	Value     map[string]any `bun:"value,type:jsonb,notnull"`
	UpdatedAt time.Time      `bun:"updated_at,notnull,default:now()"`
}

// PeerState is what the server remembers about one peer replica.
type PeerState struct {
	DeviceID      string
	UserID        string
	VectorClock   VectorClock
	LastSyncTime  time.Time
	SchemaVersion string
}

// MetadataStore persists per-peer sync state; *MetadataRepository in
// production, a map in the client engine and tests.
type MetadataStore interface {
	GetPeer(ctx context.Context, deviceID string) (*PeerState, error)
	PutPeer(ctx context.Context, state *PeerState) error
}

// MetadataRepository is the PostgreSQL-backed MetadataStore.
type MetadataRepository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ MetadataStore = (*MetadataRepository)(nil)

// NewMetadataRepository creates a new sync metadata repository.
func NewMetadataRepository(db bun.IDB, log *slog.Logger) *MetadataRepository {
	return &MetadataRepository{
		db:  db,
		log: log.With(logger.Scope("sync.repo")),
	}
}

// GetPeer loads a peer's saved state; a never-seen peer gets a zero clock.
func (r *MetadataRepository) GetPeer(ctx context.Context, deviceID string) (*PeerState, error) {
	row := new(MetadataRow)
	err := r.db.NewSelect().Model(row).Where("key = ?", deviceID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &PeerState{
				DeviceID:      deviceID,
				VectorClock:   VectorClock{},
				SchemaVersion: schemaVersion,
			}, nil
		}
		return nil, apperror.NewStoreUnavailable(err)
	}

	state := &PeerState{
		DeviceID:      deviceID,
		VectorClock:   VectorClock{},
		SchemaVersion: schemaVersion,
	}
	if u, ok := row.Value["user_id"].(string); ok {
		state.UserID = u
	}
	if sv, ok := row.Value["schema_version"].(string); ok {
		state.SchemaVersion = sv
	}
	if ts, ok := row.Value["last_sync_time"].(string); ok {
		state.LastSyncTime, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if clock, ok := row.Value["vector_clock"].(map[string]any); ok {
		for w, v := range clock {
			if s, ok := v.(string); ok {
				state.VectorClock[w] = s
			}
		}
	}
	return state, nil
}

// PutPeer saves a peer's state.
func (r *MetadataRepository) PutPeer(ctx context.Context, state *PeerState) error {
	clock := make(map[string]any, len(state.VectorClock))
	for w, v := range state.VectorClock {
		clock[w] = v
	}

	row := &MetadataRow{
		Key: state.DeviceID,
		Value: map[string]any{
			"device_id":      state.DeviceID,
			"user_id":        state.UserID,
			"vector_clock":   clock,
			"last_sync_time": state.LastSyncTime.UTC().Format(time.RFC3339Nano),
			"schema_version": state.SchemaVersion,
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

// memMetadataStore keeps peer state in memory; used by client replicas.
type memMetadataStore struct {
	peers map[string]*PeerState
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{peers: make(map[string]*PeerState)}
}

func (m *memMetadataStore) GetPeer(_ context.Context, deviceID string) (*PeerState, error) {
	if s, ok := m.peers[deviceID]; ok {
		return s, nil
	}
	return &PeerState{
		DeviceID:      deviceID,
		VectorClock:   VectorClock{},
		SchemaVersion: schemaVersion,
	}, nil
}

func (m *memMetadataStore) PutPeer(_ context.Context, state *PeerState) error {
	m.peers[state.DeviceID] = state
	return nil
}
