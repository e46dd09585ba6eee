package graph

import (
	"time"

	"github.com/uptrace/bun"
)

// EntityType enumerates the node kinds of the smart-home knowledge graph.
type EntityType string

const (
	TypeHome       EntityType = "home"
	TypeRoom       EntityType = "room"
	TypeDevice     EntityType = "device"
	TypeZone       EntityType = "zone"
	TypeDoor       EntityType = "door"
	TypeWindow     EntityType = "window"
	TypeProcedure  EntityType = "procedure"
	TypeManual     EntityType = "manual"
	TypeNote       EntityType = "note"
	TypeSchedule   EntityType = "schedule"
	TypeAutomation EntityType = "automation"
)

// SourceType tags the provenance of an entity version.
type SourceType string

const (
	SourceManual    SourceType = "manual"
	SourceImported  SourceType = "imported"
	SourceHomeKit   SourceType = "homekit"
	SourceMatter    SourceType = "matter"
	SourceGenerated SourceType = "generated"
)

// RelationshipType enumerates the typed edges between entities.
type RelationshipType string

const (
	RelLocatedIn    RelationshipType = "located_in"
	RelControls     RelationshipType = "controls"
	RelControlledBy RelationshipType = "controlled_by"
	RelConnectsTo   RelationshipType = "connects_to"
	RelPartOf       RelationshipType = "part_of"
	RelManages      RelationshipType = "manages"
	RelManagedBy    RelationshipType = "managed_by"
	RelDocumentedBy RelationshipType = "documented_by"
	RelProcedureFor RelationshipType = "procedure_for"
	RelTriggeredBy  RelationshipType = "triggered_by"
	RelDependsOn    RelationshipType = "depends_on"
	RelMonitors     RelationshipType = "monitors"
	RelMonitoredBy  RelationshipType = "monitored_by"
)

// tombstoneKey marks a version as a deletion. History is retained; the
// latest-per-id projection elides tombstoned entities unless asked.
const tombstoneKey = "_deleted"

// Entity is one immutable version of a knowledge graph node.
// (id, version) is unique; edits append new rows, never mutate.
type Entity struct {
	bun.BaseModel `bun:"table:entities,alias:e"`

	ID             string         `bun:"id,pk" json:"id"`
	Version        string         `bun:"version,pk" json:"version"`
	EntityType     EntityType     `bun:"entity_type,notnull" json:"entity_type"`
	Name           string         `bun:"name,notnull,default:''" json:"name"`
	Content        map[string]any `bun:"content,type:jsonb,notnull,default:'{}'" json:"content"`
	SourceType     SourceType     `bun:"source_type,notnull,default:'manual'" json:"source_type"`
	UserID         string         `bun:"user_id,notnull" json:"user_id"`
	ParentVersions []string       `bun:"parent_versions,type:jsonb,notnull,default:'[]'" json:"parent_versions"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// Writer returns the writer id embedded in this version.
func (e *Entity) Writer() string {
	return VersionWriter(e.Version)
}

// IsTombstone reports whether this version marks the entity deleted.
func (e *Entity) IsTombstone() bool {
	v, ok := e.Content[tombstoneKey]
	b, isBool := v.(bool)
	return ok && isBool && b
}

// Tombstone returns a content map that marks an entity deleted.
func Tombstone() map[string]any {
	return map[string]any{tombstoneKey: true}
}

// Clone returns a deep copy. Versions are immutable once stored, so every
// code path that might mutate Content works on a clone.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Content = cloneMap(e.Content)
	cp.ParentVersions = append([]string(nil), e.ParentVersions...)
	return &cp
}

// EntityRelationship is a typed directed edge between entity versions.
// Unlike entities, relationships are not versioned: deletion is hard.
type EntityRelationship struct {
	bun.BaseModel `bun:"table:entity_relationships,alias:r"`

	ID                string           `bun:"id,pk" json:"id"`
	FromEntityID      string           `bun:"from_entity_id,notnull" json:"from_entity_id"`
	FromEntityVersion string           `bun:"from_entity_version,notnull" json:"from_entity_version"`
	ToEntityID        string           `bun:"to_entity_id,notnull" json:"to_entity_id"`
	ToEntityVersion   string           `bun:"to_entity_version,notnull" json:"to_entity_version"`
	RelationshipType  RelationshipType `bun:"relationship_type,notnull" json:"relationship_type"`
	Properties        map[string]any   `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	UserID            string           `bun:"user_id,notnull" json:"user_id"`
	CreatedAt         time.Time        `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt         time.Time        `bun:"updated_at,notnull,default:now()" json:"updated_at"`

	// DeletedAt marks a removed edge. The row stays so the deletion can
	// propagate to replicas that already synced it.
	DeletedAt *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the edge has been removed.
func (r *EntityRelationship) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a deep copy of the relationship.
func (r *EntityRelationship) Clone() *EntityRelationship {
	cp := *r
	cp.Properties = cloneMap(r.Properties)
	if r.DeletedAt != nil {
		ts := *r.DeletedAt
		cp.DeletedAt = &ts
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ValidEntityType reports whether t names a known entity type.
func ValidEntityType(t EntityType) bool {
	switch t {
	case TypeHome, TypeRoom, TypeDevice, TypeZone, TypeDoor, TypeWindow,
		TypeProcedure, TypeManual, TypeNote, TypeSchedule, TypeAutomation:
		return true
	}
	return false
}

// ValidRelationshipType reports whether t names a known relationship type.
func ValidRelationshipType(t RelationshipType) bool {
	switch t {
	case RelLocatedIn, RelControls, RelControlledBy, RelConnectsTo, RelPartOf,
		RelManages, RelManagedBy, RelDocumentedBy, RelProcedureFor,
		RelTriggeredBy, RelDependsOn, RelMonitors, RelMonitoredBy:
		return true
	}
	return false
}

// acyclicTypes are relationship types that must form a forest; a new edge of
// one of these types is rejected if it would close a cycle.
func acyclicType(t RelationshipType) bool {
	return t == RelLocatedIn || t == RelPartOf
}
