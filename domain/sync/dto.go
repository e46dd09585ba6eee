package sync

import (
	"time"

	"github.com/homegraph/homegraph/domain/graph"
)

// ProtocolVersion is the Inbetweenies wire version this server speaks. Any
// other value is refused with protocol_mismatch; there is no negotiation.
const ProtocolVersion = "inbetweenies-v2"

// ChangeKind tags one change record.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ResolutionMode selects how divergent versions are reconciled. The mode
// travels in the request so both sides resolve the same conflict the same
// way without coordination.
type ResolutionMode string

const (
	ResolveLWW   ResolutionMode = "lww"
	ResolveMerge ResolutionMode = "merge"
)

// Change is one entity or relationship mutation on the wire.
type Change struct {
	Kind         ChangeKind                `json:"kind"`
	Entity       *graph.Entity             `json:"entity,omitempty"`
	Relationship *graph.EntityRelationship `json:"relationship,omitempty"`
}

// SyncRequest is the body of both the request and push phases.
type SyncRequest struct {
	ProtocolVersion string         `json:"protocol_version"`
	DeviceID        string         `json:"device_id"`
	UserID          string         `json:"user_id"`
	VectorClock     VectorClock    `json:"vector_clock"`
	Changes         []Change       `json:"changes,omitempty"`
	ResolutionMode  ResolutionMode `json:"resolution_mode,omitempty"`

	// Cursor resumes a delta that exceeded the batch cap.
	Cursor string `json:"cursor,omitempty"`
}

// ConflictInfo names one divergence and how it was resolved. Conflicts are
// never errors; they ride along in the response.
type ConflictInfo struct {
	EntityID      string         `json:"entity_id"`
	LocalVersion  string         `json:"local_version"`
	RemoteVersion string         `json:"remote_version"`
	Winner        string         `json:"winner"`
	Resolution    ResolutionMode `json:"resolution"`

	// MergedVersion is set when resolution produced a new merged record.
	MergedVersion string `json:"merged_version,omitempty"`
}

// FailureMarker points at the first change of a push that could not be
// applied; the prefix before it was processed and committed.
type FailureMarker struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// SyncResponse is the body of every sync phase response.
type SyncResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	VectorClock     VectorClock    `json:"vector_clock"`
	Changes         []Change       `json:"changes,omitempty"`
	Conflicts       []ConflictInfo `json:"conflicts,omitempty"`

	// Cursor is non-empty when more changes remain beyond the batch cap.
	Cursor string `json:"cursor,omitempty"`

	Failed *FailureMarker `json:"failed,omitempty"`
}

// AckRequest closes one exchange: the client confirms the clock it committed.
type AckRequest struct {
	ProtocolVersion string      `json:"protocol_version"`
	DeviceID        string      `json:"device_id"`
	VectorClock     VectorClock `json:"vector_clock"`
	SyncedAt        time.Time   `json:"synced_at"`
}
