package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// serverWriterID is the writer id stamped on versions the server itself
// mints while resolving conflicts.
const serverWriterID = "server"

// Service is the server side of the Inbetweenies protocol: it assembles
// deltas per peer, applies pushed changes through the graph write path, and
// detects and resolves divergence.
type Service struct {
	graph    *graph.Service
	meta     MetadataStore
	batchMax int
	writerID string
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates the sync service.
func NewService(g *graph.Service, meta MetadataStore, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		graph:    g,
		meta:     meta,
		batchMax: cfg.Sync.BatchMax,
		writerID: serverWriterID,
		log:      log.With(logger.Scope("sync.svc")),
		now:      time.Now,
	}
}

func checkProtocol(version string) error {
	if version != ProtocolVersion {
		return apperror.ErrProtocolMismatch.WithDetails(map[string]any{
			"supported": ProtocolVersion,
			"got":       version,
		})
	}
	return nil
}

// HandleRequest computes the delta a peer is missing. When the delta exceeds
// the batch cap the response carries a cursor; the peer repeats the request
// with it until the cursor comes back empty.
func (s *Service) HandleRequest(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if err := checkProtocol(req.ProtocolVersion); err != nil {
		return nil, err
	}
	if req.DeviceID == "" {
		return nil, apperror.NewInvalidArgument("device_id is required")
	}

	peer, err := s.meta.GetPeer(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	entities, err := s.graph.ChangesSince(ctx, req.VectorClock)
	if err != nil {
		return nil, err
	}
	// Resume after the cursor: ChangesSince orders by version.
	if req.Cursor != "" {
		kept := entities[:0:0]
		for _, e := range entities {
			if graph.CompareVersions(e.Version, req.Cursor) > 0 {
				kept = append(kept, e)
			}
		}
		entities = kept
	}

	resp := &SyncResponse{
		ProtocolVersion: ProtocolVersion,
		VectorClock:     VectorClock(req.VectorClock).Clone(),
	}

	n := len(entities)
	if n > s.batchMax {
		n = s.batchMax
		resp.Cursor = entities[n-1].Version
	}
	for _, e := range entities[:n] {
		resp.Changes = append(resp.Changes, entityChange(e))
		resp.VectorClock.Observe(e.Version)
	}

	// Relationships ride on the final page only; they carry no versions to
	// cursor over and peers apply them after the entities they reference.
	if resp.Cursor == "" {
		rels, err := s.graph.RelationshipsSince(ctx, peer.LastSyncTime)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			kind := ChangeUpdate
			if r.IsDeleted() {
				kind = ChangeDelete
			}
			resp.Changes = append(resp.Changes, Change{Kind: kind, Relationship: r})
		}
	}

	return resp, nil
}

// entityChange wraps an entity version in its wire change record.
func entityChange(e *graph.Entity) Change {
	kind := ChangeUpdate
	switch {
	case e.IsTombstone():
		kind = ChangeDelete
	case len(e.ParentVersions) == 0:
		kind = ChangeCreate
	}
	return Change{Kind: kind, Entity: e}
}

// HandlePush applies a peer's outgoing changes in order. Divergence is
// resolved per the request's resolution mode and reported in conflicts[];
// the first change that fails stops the batch and is named in the failure
// marker so the peer can retry from there.
func (s *Service) HandlePush(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	if err := checkProtocol(req.ProtocolVersion); err != nil {
		return nil, err
	}
	mode := req.ResolutionMode
	switch mode {
	case "":
		mode = ResolveLWW
	case ResolveLWW, ResolveMerge:
	default:
		return nil, apperror.NewInvalidArgument("unknown resolution_mode " + string(mode))
	}

	resp := &SyncResponse{
		ProtocolVersion: ProtocolVersion,
		VectorClock:     VectorClock(req.VectorClock).Clone(),
	}

	for i, change := range req.Changes {
		conflict, err := s.applyChange(ctx, mode, change)
		if err != nil {
			resp.Failed = &FailureMarker{
				Index: i,
				Code:  apperror.CodeOf(err),
				Error: err.Error(),
			}
			s.log.Warn("push stopped at failed change",
				slog.Int("index", i), logger.Error(err))
			break
		}
		if conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *conflict)
			if conflict.MergedVersion != "" {
				resp.VectorClock.Observe(conflict.MergedVersion)
			}
		}
		if change.Entity != nil {
			resp.VectorClock.Observe(change.Entity.Version)
		}
	}

	return resp, nil
}

func (s *Service) applyChange(ctx context.Context, mode ResolutionMode, change Change) (*ConflictInfo, error) {
	switch {
	case change.Entity != nil:
		return s.applyEntity(ctx, mode, change)
	case change.Relationship != nil:
		return nil, s.applyRelationship(ctx, change)
	default:
		return nil, apperror.NewInvalidArgument("change carries neither entity nor relationship")
	}
}

func (s *Service) applyRelationship(ctx context.Context, change Change) error {
	if change.Kind == ChangeDelete {
		return s.graph.DeleteRelationship(ctx, change.Relationship.ID)
	}
	return s.graph.ApplyRemoteRelationship(ctx, change.Relationship)
}

// applyEntity writes one incoming version, classifying it against the local
// history first. Identical replays are silent no-ops inside the store.
func (s *Service) applyEntity(ctx context.Context, mode ResolutionMode, change Change) (*ConflictInfo, error) {
	incoming := change.Entity

	history, err := s.graph.GetHistory(ctx, incoming.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// First sighting of this id; plain create.
			return nil, s.graph.ApplyRemoteEntity(ctx, incoming)
		}
		return nil, err
	}
	local := latest(history)

	switch Classify(history, local, incoming) {
	case RelationLinear:
		return nil, s.graph.ApplyRemoteEntity(ctx, incoming)
	case RelationSubsumed:
		return nil, nil
	}

	// Diverged. Store the incoming version regardless so both branches of
	// history survive, then reconcile.
	if err := s.graph.ApplyRemoteEntity(ctx, incoming); err != nil {
		return nil, err
	}

	winner := Winner(local, incoming)
	conflict := &ConflictInfo{
		EntityID:      incoming.ID,
		LocalVersion:  local.Version,
		RemoteVersion: incoming.Version,
		Winner:        winner.Version,
		Resolution:    mode,
	}

	if mode == ResolveMerge {
		name, content := MergeEntities(local, incoming)
		merged, err := s.mint(ctx, winner, []string{local.Version, incoming.Version}, name, content)
		if err != nil {
			return nil, err
		}
		conflict.MergedVersion = merged.Version
		return conflict, nil
	}

	// LWW: the latest-per-id projection already agrees with the winner by
	// version order, except when a tombstone outranks a newer edit. Then the
	// winner is reasserted as a new version so the projection matches.
	newest := local
	if graph.CompareVersions(incoming.Version, local.Version) > 0 {
		newest = incoming
	}
	if winner != newest {
		reasserted, err := s.mint(ctx, winner, []string{newest.Version}, winner.Name, winner.Content)
		if err != nil {
			return nil, err
		}
		conflict.MergedVersion = reasserted.Version
	}
	return conflict, nil
}

// mint writes a server-authored version derived from base.
func (s *Service) mint(ctx context.Context, base *graph.Entity, parents []string, name string, content map[string]any) (*graph.Entity, error) {
	e := base.Clone()
	e.Version = s.graph.NextVersion(s.writerID)
	e.Name = name
	e.Content = content
	e.UserID = s.writerID
	e.ParentVersions = parents
	e.CreatedAt = time.Time{}
	e.UpdatedAt = time.Time{}

	if err := s.graph.ApplyRemoteEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// HandleAck commits a peer's post-exchange state.
func (s *Service) HandleAck(ctx context.Context, req *AckRequest) error {
	if err := checkProtocol(req.ProtocolVersion); err != nil {
		return err
	}
	if req.DeviceID == "" {
		return apperror.NewInvalidArgument("device_id is required")
	}

	syncedAt := req.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now().UTC()
	}

	peer, err := s.meta.GetPeer(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	peer.VectorClock.Merge(req.VectorClock)
	peer.LastSyncTime = syncedAt

	return s.meta.PutPeer(ctx, peer)
}

func latest(history []*graph.Entity) *graph.Entity {
	best := history[0]
	for _, e := range history[1:] {
		if graph.CompareVersions(e.Version, best.Version) > 0 {
			best = e
		}
	}
	return best
}
