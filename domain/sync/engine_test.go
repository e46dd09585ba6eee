package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// loopbackTransport calls the server service directly, optionally injecting
// failures before letting calls through.
type loopbackTransport struct {
	svc      *Service
	fail     error
	failures int
	pushes   int
}

func (t *loopbackTransport) intercept() error {
	if t.failures != 0 && t.fail != nil {
		if t.failures > 0 {
			t.failures--
		}
		return t.fail
	}
	return nil
}

func (t *loopbackTransport) Request(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if err := t.intercept(); err != nil {
		return nil, err
	}
	return t.svc.HandleRequest(ctx, req)
}

func (t *loopbackTransport) Push(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if err := t.intercept(); err != nil {
		return nil, err
	}
	t.pushes++
	return t.svc.HandlePush(ctx, req)
}

func (t *loopbackTransport) Ack(ctx context.Context, req *AckRequest) error {
	if err := t.intercept(); err != nil {
		return err
	}
	return t.svc.HandleAck(ctx, req)
}

type engineFixture struct {
	server *syncFixture
	tr     *loopbackTransport
	eng    *Engine
	sleeps []time.Duration
}

func newEngineFixture(t *testing.T, deviceID string) *engineFixture {
	t.Helper()
	f := &engineFixture{server: newSyncFixture(t, 100)}
	f.tr = &loopbackTransport{svc: f.server.svc}
	f.eng = NewEngine(deviceID, deviceID, f.tr, logger.NewLogger())
	f.eng.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func TestEngineFullCycle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")

	local, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeDevice,
		Name:       "Thermostat",
	})
	require.NoError(t, err)

	// A change made directly on the server before the exchange.
	remote, err := f.server.graph.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeRoom,
		Name:       "Kitchen",
		UserID:     "server",
	})
	require.NoError(t, err)

	require.NoError(t, f.eng.Sync(ctx))
	assert.Equal(t, StateIdle, f.eng.State())

	// The server received the local entity.
	got, err := f.server.graph.GetEntity(ctx, local.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Thermostat", got.Name)

	// The replica received the server entity.
	gotRemote, err := f.eng.Replica().GetEntity(ctx, remote.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", gotRemote.Name)

	// Both sides agree on the clock after the exchange.
	clock := f.eng.Clock()
	assert.Equal(t, local.Version, clock["tablet"])
	assert.Equal(t, remote.Version, clock["server"])

	peer, err := f.server.meta.GetPeer(ctx, "tablet")
	require.NoError(t, err)
	assert.True(t, peer.VectorClock.Equal(clock))

	// Nothing left to push on the next cycle.
	pushesBefore := f.tr.pushes
	require.NoError(t, f.eng.Sync(ctx))
	assert.Equal(t, pushesBefore, f.tr.pushes)
}

func TestEngineReportsConflicts(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")

	created, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeDevice,
		Name:       "Lamp",
	})
	require.NoError(t, err)
	require.NoError(t, f.eng.Sync(ctx))

	// Both sides edit the same entity while apart.
	_, err = f.eng.UpdateEntity(ctx, created.ID, graph.UpdateEntityInput{
		Content: map[string]any{"level": 20},
	})
	require.NoError(t, err)

	serverEdit := created.Clone()
	serverEdit.Version = graph.NewVersion(time.Now().Add(time.Hour), "wall-panel")
	serverEdit.UserID = "wall-panel"
	serverEdit.Content = map[string]any{"level": 90}
	serverEdit.ParentVersions = []string{created.Version}
	require.NoError(t, f.server.graph.ApplyRemoteEntity(ctx, serverEdit))

	require.NoError(t, f.eng.Sync(ctx))

	conflicts := f.eng.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, created.ID, conflicts[0].EntityID)
	assert.Equal(t, serverEdit.Version, conflicts[0].Winner)

	// The replica converged on the winning version pulled back down.
	latest, err := f.eng.Replica().GetEntity(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, serverEdit.Version, latest.Version)
}

func TestEngineAppliesRelationshipDeleteFromServer(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")

	lamp, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeDevice,
		Name:       "Lamp",
	})
	require.NoError(t, err)
	room, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeRoom,
		Name:       "Study",
	})
	require.NoError(t, err)
	rel, err := f.eng.CreateRelationship(ctx, graph.CreateRelationshipInput{
		FromEntityID:     lamp.ID,
		ToEntityID:       room.ID,
		RelationshipType: graph.RelLocatedIn,
	})
	require.NoError(t, err)
	require.NoError(t, f.eng.Sync(ctx))

	// The server unlinks the lamp while the replica is apart.
	require.NoError(t, f.server.graph.DeleteRelationship(ctx, rel.ID))

	require.NoError(t, f.eng.Sync(ctx))

	_, err = f.eng.Replica().GetRelationship(ctx, rel.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestEngineRetriesThenOffline(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")
	f.tr.fail = apperror.ErrStoreUnavailable
	f.tr.failures = -1 // never recover

	err := f.eng.Sync(ctx)
	assert.True(t, errors.Is(err, apperror.ErrStoreUnavailable))
	assert.Equal(t, StateOffline, f.eng.State())
	assert.Equal(t, retrySchedule, f.sleeps)
}

func TestEngineRecoversWithinSchedule(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")
	f.tr.fail = apperror.ErrStoreUnavailable
	f.tr.failures = 3

	_, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeNote,
		Name:       "remember the milk",
	})
	require.NoError(t, err)

	require.NoError(t, f.eng.Sync(ctx))
	assert.Equal(t, StateIdle, f.eng.State())
	assert.Equal(t, retrySchedule[:3], f.sleeps)
}

func TestEngineDoesNotRetryProtocolMismatch(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")
	f.tr.fail = apperror.ErrProtocolMismatch
	f.tr.failures = -1

	err := f.eng.Sync(ctx)
	assert.True(t, errors.Is(err, apperror.ErrProtocolMismatch))
	assert.Equal(t, StateIdle, f.eng.State())
	assert.Empty(t, f.sleeps)
}

func TestEngineKeepsPendingAcrossFailedCycles(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, "tablet")
	f.tr.fail = apperror.ErrStoreUnavailable
	f.tr.failures = -1

	created, err := f.eng.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.TypeDevice,
		Name:       "Sensor",
	})
	require.NoError(t, err)

	require.Error(t, f.eng.Sync(ctx))
	assert.Equal(t, StateOffline, f.eng.State())

	// Connectivity returns; the queued change still goes out.
	f.tr.failures = 0
	f.sleeps = nil
	require.NoError(t, f.eng.Sync(ctx))

	got, err := f.server.graph.GetEntity(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Sensor", got.Name)
}
