package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// State names one phase of the client sync cycle.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateSending    State = "sending"
	StateApplying   State = "applying"
	StateCommitting State = "committing"
	StateOffline    State = "offline"
)

// retrySchedule paces retryable failures; after it is exhausted the engine
// goes offline until the next explicit Sync call.
var retrySchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// Transport carries one sync phase to the server.
type Transport interface {
	Request(ctx context.Context, req *SyncRequest) (*SyncResponse, error)
	Push(ctx context.Context, req *SyncRequest) (*SyncResponse, error)
	Ack(ctx context.Context, req *AckRequest) error
}

// Engine is a client replica: a full in-memory copy of the graph, a log of
// local changes not yet pushed, and the cycle that exchanges both with the
// server. Local writes keep working while the server is unreachable.
type Engine struct {
	deviceID string
	userID   string
	replica  *graph.Service
	meta     MetadataStore
	tr       Transport
	mode     ResolutionMode
	log      *slog.Logger

	mu        sync.Mutex
	state     State
	clock     VectorClock
	pending   []Change
	conflicts []ConflictInfo

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a client replica for one device.
func NewEngine(deviceID, userID string, tr Transport, log *slog.Logger) *Engine {
	return &Engine{
		deviceID: deviceID,
		userID:   userID,
		replica:  graph.NewService(graph.NewMemStore(), log),
		meta:     newMemMetadataStore(),
		tr:       tr,
		mode:     ResolveLWW,
		log:      log.With(logger.Scope("sync.engine"), slog.String("device", deviceID)),
		state:    StateIdle,
		clock:    VectorClock{},
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetResolutionMode selects how the server resolves this replica's conflicts.
func (e *Engine) SetResolutionMode(m ResolutionMode) { e.mode = m }

// Replica exposes the local graph for reads.
func (e *Engine) Replica() *graph.Service { return e.replica }

// State reports the current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Conflicts returns the conflicts reported during the last completed cycle.
func (e *Engine) Conflicts() []ConflictInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ConflictInfo(nil), e.conflicts...)
}

// Clock returns a copy of the replica's committed vector clock.
func (e *Engine) Clock() VectorClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Clone()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// CreateEntity writes locally and stages the change for the next push.
func (e *Engine) CreateEntity(ctx context.Context, in graph.CreateEntityInput) (*graph.Entity, error) {
	if in.UserID == "" {
		in.UserID = e.userID
	}
	ent, err := e.replica.CreateEntity(ctx, in)
	if err != nil {
		return nil, err
	}
	e.stage(Change{Kind: ChangeCreate, Entity: ent})
	return ent, nil
}

// UpdateEntity writes locally and stages the change for the next push.
func (e *Engine) UpdateEntity(ctx context.Context, id string, in graph.UpdateEntityInput) (*graph.Entity, error) {
	if in.UserID == "" {
		in.UserID = e.userID
	}
	ent, err := e.replica.UpdateEntity(ctx, id, in)
	if err != nil {
		return nil, err
	}
	e.stage(Change{Kind: ChangeUpdate, Entity: ent})
	return ent, nil
}

// DeleteEntity tombstones locally and stages the change for the next push.
func (e *Engine) DeleteEntity(ctx context.Context, id string) error {
	if err := e.replica.DeleteEntity(ctx, id, e.userID); err != nil {
		return err
	}
	tomb, err := e.replica.GetEntity(ctx, id, "")
	if err != nil {
		return err
	}
	e.stage(Change{Kind: ChangeDelete, Entity: tomb})
	return nil
}

// CreateRelationship links locally and stages the change for the next push.
func (e *Engine) CreateRelationship(ctx context.Context, in graph.CreateRelationshipInput) (*graph.EntityRelationship, error) {
	if in.UserID == "" {
		in.UserID = e.userID
	}
	rel, err := e.replica.CreateRelationship(ctx, in)
	if err != nil {
		return nil, err
	}
	e.stage(Change{Kind: ChangeCreate, Relationship: rel})
	return rel, nil
}

// DeleteRelationship unlinks locally and stages the change for the next push.
func (e *Engine) DeleteRelationship(ctx context.Context, id string) error {
	rel, err := e.replica.GetRelationship(ctx, id)
	if err != nil {
		return err
	}
	if err := e.replica.DeleteRelationship(ctx, id); err != nil {
		return err
	}
	e.stage(Change{Kind: ChangeDelete, Relationship: rel})
	return nil
}

func (e *Engine) stage(c Change) {
	e.mu.Lock()
	e.pending = append(e.pending, c)
	if c.Entity != nil {
		e.clock.Observe(c.Entity.Version)
	}
	e.mu.Unlock()
}

// Sync runs one full exchange, retrying retryable failures on the backoff
// schedule. When the schedule is exhausted the engine goes offline; the next
// Sync call starts a fresh cycle.
func (e *Engine) Sync(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= len(retrySchedule); attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, retrySchedule[attempt-1]); err != nil {
				e.setState(StateIdle)
				return err
			}
		}

		err := e.cycle(ctx)
		if err == nil {
			e.setState(StateIdle)
			return nil
		}
		lastErr = err
		if !retryable(err) {
			e.setState(StateIdle)
			return err
		}
		e.log.Warn("sync attempt failed",
			slog.Int("attempt", attempt+1), logger.Error(err))
	}

	e.setState(StateOffline)
	e.log.Error("sync retries exhausted, replica offline", logger.Error(lastErr))
	return lastErr
}

func retryable(err error) bool {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	// Transport faults carry no app code; assume the server will come back.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// cycle is one pass through collect, send, apply, commit.
func (e *Engine) cycle(ctx context.Context) error {
	e.setState(StateCollecting)
	e.mu.Lock()
	outgoing := append([]Change(nil), e.pending...)
	clock := e.clock.Clone()
	e.conflicts = nil
	e.mu.Unlock()

	e.setState(StateSending)
	if len(outgoing) > 0 {
		pushResp, err := e.tr.Push(ctx, &SyncRequest{
			ProtocolVersion: ProtocolVersion,
			DeviceID:        e.deviceID,
			UserID:          e.userID,
			VectorClock:     clock,
			Changes:         outgoing,
			ResolutionMode:  e.mode,
		})
		if err != nil {
			return err
		}
		clock.Merge(pushResp.VectorClock)

		accepted := len(outgoing)
		if pushResp.Failed != nil {
			accepted = pushResp.Failed.Index
		}
		e.mu.Lock()
		e.pending = append([]Change(nil), e.pending[accepted:]...)
		e.conflicts = append(e.conflicts, pushResp.Conflicts...)
		e.mu.Unlock()

		if pushResp.Failed != nil {
			return apperror.New(http.StatusBadGateway, pushResp.Failed.Code, pushResp.Failed.Error)
		}
	}

	e.setState(StateApplying)
	cursor := ""
	for {
		resp, err := e.tr.Request(ctx, &SyncRequest{
			ProtocolVersion: ProtocolVersion,
			DeviceID:        e.deviceID,
			UserID:          e.userID,
			VectorClock:     clock,
			Cursor:          cursor,
		})
		if err != nil {
			return err
		}
		for _, c := range resp.Changes {
			if err := e.applyRemote(ctx, c); err != nil {
				return err
			}
		}
		clock.Merge(resp.VectorClock)
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	e.setState(StateCommitting)
	syncedAt := e.now().UTC()
	if err := e.tr.Ack(ctx, &AckRequest{
		ProtocolVersion: ProtocolVersion,
		DeviceID:        e.deviceID,
		VectorClock:     clock,
		SyncedAt:        syncedAt,
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.clock = clock
	e.mu.Unlock()
	return e.meta.PutPeer(ctx, &PeerState{
		DeviceID:      e.deviceID,
		UserID:        e.userID,
		VectorClock:   clock.Clone(),
		LastSyncTime:  syncedAt,
		SchemaVersion: schemaVersion,
	})
}

func (e *Engine) applyRemote(ctx context.Context, c Change) error {
	switch {
	case c.Entity != nil:
		return e.replica.ApplyRemoteEntity(ctx, c.Entity)
	case c.Relationship != nil:
		if c.Kind == ChangeDelete {
			return e.replica.DeleteRelationship(ctx, c.Relationship.ID)
		}
		return e.replica.ApplyRemoteRelationship(ctx, c.Relationship)
	default:
		return apperror.NewInvalidArgument("change carries neither entity nor relationship")
	}
}
