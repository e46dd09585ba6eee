package graph

import (
	"time"
)

// CreateEntityRequest is the request body for creating an entity.
type CreateEntityRequest struct {
	EntityType string         `json:"entity_type"`
	Name       string         `json:"name"`
	Content    map[string]any `json:"content,omitempty"`
	SourceType string         `json:"source_type,omitempty"`
}

// UpdateEntityRequest is the request body for updating an entity. Updating
// creates a new version; content keys merge over the current version and a
// JSON null removes the key.
type UpdateEntityRequest struct {
	Name    *string        `json:"name,omitempty"`
	Content map[string]any `json:"content,omitempty"`
}

// CreateRelationshipRequest is the request body for creating a relationship.
type CreateRelationshipRequest struct {
	FromEntityID     string         `json:"from_entity_id"`
	ToEntityID       string         `json:"to_entity_id"`
	RelationshipType string         `json:"relationship_type"`
	Properties       map[string]any `json:"properties,omitempty"`
}

// EntityResponse is the API shape of one entity version.
type EntityResponse struct {
	ID             string         `json:"id"`
	Version        string         `json:"version"`
	EntityType     EntityType     `json:"entity_type"`
	Name           string         `json:"name"`
	Content        map[string]any `json:"content"`
	SourceType     SourceType     `json:"source_type"`
	UserID         string         `json:"user_id"`
	ParentVersions []string       `json:"parent_versions"`
	Deleted        bool           `json:"deleted,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ToResponse converts an entity to its API shape.
func (e *Entity) ToResponse() *EntityResponse {
	return &EntityResponse{
		ID:             e.ID,
		Version:        e.Version,
		EntityType:     e.EntityType,
		Name:           e.Name,
		Content:        e.Content,
		SourceType:     e.SourceType,
		UserID:         e.UserID,
		ParentVersions: e.ParentVersions,
		Deleted:        e.IsTombstone(),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// RelationshipResponse is the API shape of one relationship.
type RelationshipResponse struct {
	ID                string           `json:"id"`
	FromEntityID      string           `json:"from_entity_id"`
	FromEntityVersion string           `json:"from_entity_version"`
	ToEntityID        string           `json:"to_entity_id"`
	ToEntityVersion   string           `json:"to_entity_version"`
	RelationshipType  RelationshipType `json:"relationship_type"`
	Properties        map[string]any   `json:"properties"`
	UserID            string           `json:"user_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ToResponse converts a relationship to its API shape.
func (r *EntityRelationship) ToResponse() *RelationshipResponse {
	return &RelationshipResponse{
		ID:                r.ID,
		FromEntityID:      r.FromEntityID,
		FromEntityVersion: r.FromEntityVersion,
		ToEntityID:        r.ToEntityID,
		ToEntityVersion:   r.ToEntityVersion,
		RelationshipType:  r.RelationshipType,
		Properties:        r.Properties,
		UserID:            r.UserID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// EntityListResponse wraps a list of entities.
type EntityListResponse struct {
	Entities []*EntityResponse `json:"entities"`
	Total    int               `json:"total"`
}

// PathResponse is the result of a shortest-path query.
type PathResponse struct {
	Found bool     `json:"found"`
	Path  []string `json:"path"`
	Hops  int      `json:"hops"`
}

// SubgraphResponse is the result of a subgraph query.
type SubgraphResponse struct {
	Entities      []*EntityResponse       `json:"entities"`
	Relationships []*RelationshipResponse `json:"relationships"`
}

// SearchResponse wraps ranked search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// SimilarResponse wraps FindSimilar results.
type SimilarResponse struct {
	Results []SimilarResult `json:"results"`
}

func entityResponses(entities []*Entity) []*EntityResponse {
	out := make([]*EntityResponse, len(entities))
	for i, e := range entities {
		out[i] = e.ToResponse()
	}
	return out
}

func relationshipResponses(rels []*EntityRelationship) []*RelationshipResponse {
	out := make([]*RelationshipResponse, len(rels))
	for i, r := range rels {
		out[i] = r.ToResponse()
	}
	return out
}
