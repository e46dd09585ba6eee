package graph

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/pkg/apperror"
)

// Handler handles HTTP requests for graph operations.
type Handler struct {
	svc   *Service
	audit audit.Recorder
}

// NewHandler creates a new graph handler.
func NewHandler(svc *Service, auditLog audit.Recorder) *Handler {
	return &Handler{svc: svc, audit: auditLog}
}

// deny records the refusal and returns the permission error. Every authorized
// principal turned away from a graph operation lands here.
func (h *Handler) deny(c echo.Context, p *auth.Principal) error {
	h.audit.Record(audit.Event{
		Event:       audit.AccessDenied,
		ClientIP:    c.RealIP(),
		SubjectID:   p.UserID,
		RequestInfo: c.Request().Method + " " + c.Path(),
	})
	return apperror.ErrPermissionDenied
}

// CreateEntity creates the initial version of a new entity.
// POST /api/graph/entities
func (h *Handler) CreateEntity(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return h.deny(c, p)
	}

	var req CreateEntityRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}

	e, err := h.svc.CreateEntity(c.Request().Context(), CreateEntityInput{
		EntityType: EntityType(req.EntityType),
		Name:       req.Name,
		Content:    req.Content,
		SourceType: SourceType(req.SourceType),
		UserID:     p.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e.ToResponse())
}

// GetEntity returns one entity version, latest by default.
// GET /api/graph/entities/:id
func (h *Handler) GetEntity(c echo.Context) error {
	e, err := h.svc.GetEntity(c.Request().Context(), c.Param("id"), c.QueryParam("version"))
	if err != nil {
		return err
	}
	if err := h.requireReadable(c, e.EntityType); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e.ToResponse())
}

// GetHistory returns all versions of an entity, oldest first.
// GET /api/graph/entities/:id/history
func (h *Handler) GetHistory(c echo.Context) error {
	history, err := h.svc.GetHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.requireReadable(c, history[len(history)-1].EntityType); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EntityListResponse{
		Entities: entityResponses(history),
		Total:    len(history),
	})
}

// ListEntities returns latest entity versions matching query parameters.
// GET /api/graph/entities
func (h *Handler) ListEntities(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}

	f := ListFilter{
		NameSubstring:  c.QueryParam("name"),
		IncludeDeleted: c.QueryParam("include_deleted") == "true",
	}
	if t := c.QueryParam("entity_type"); t != "" {
		et := EntityType(t)
		if !ValidEntityType(et) {
			return apperror.NewInvalidArgument("unknown entity_type " + t)
		}
		f.EntityType = &et
	}
	if since := c.QueryParam("modified_since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return apperror.NewInvalidArgument("modified_since must be RFC 3339")
		}
		f.ModifiedSince = &ts
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return apperror.NewInvalidArgument("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if offset := c.QueryParam("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return apperror.NewInvalidArgument("offset must be a non-negative integer")
		}
		f.Offset = n
	}

	entities, err := h.svc.ListEntities(c.Request().Context(), f)
	if err != nil {
		return err
	}

	visible := entities[:0:0]
	for _, e := range entities {
		if p.CanRead(string(e.EntityType)) {
			visible = append(visible, e)
		}
	}
	return c.JSON(http.StatusOK, EntityListResponse{
		Entities: entityResponses(visible),
		Total:    len(visible),
	})
}

// UpdateEntity appends a new version of an entity.
// PATCH /api/graph/entities/:id
func (h *Handler) UpdateEntity(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return h.deny(c, p)
	}

	var req UpdateEntityRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}

	e, err := h.svc.UpdateEntity(c.Request().Context(), c.Param("id"), UpdateEntityInput{
		Name:    req.Name,
		Content: req.Content,
		UserID:  p.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e.ToResponse())
}

// DeleteEntity appends a tombstone version of an entity.
// DELETE /api/graph/entities/:id
func (h *Handler) DeleteEntity(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return h.deny(c, p)
	}

	if err := h.svc.DeleteEntity(c.Request().Context(), c.Param("id"), p.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateRelationship links the latest versions of two entities.
// POST /api/graph/relationships
func (h *Handler) CreateRelationship(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return h.deny(c, p)
	}

	var req CreateRelationshipRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}

	rel, err := h.svc.CreateRelationship(c.Request().Context(), CreateRelationshipInput{
		FromEntityID:     req.FromEntityID,
		ToEntityID:       req.ToEntityID,
		RelationshipType: RelationshipType(req.RelationshipType),
		Properties:       req.Properties,
		UserID:           p.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel.ToResponse())
}

// GetRelationship returns one relationship by id.
// GET /api/graph/relationships/:id
func (h *Handler) GetRelationship(c echo.Context) error {
	rel, err := h.svc.GetRelationship(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel.ToResponse())
}

// DeleteRelationship removes a relationship.
// DELETE /api/graph/relationships/:id
func (h *Handler) DeleteRelationship(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return h.deny(c, p)
	}

	if err := h.svc.DeleteRelationship(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Search ranks latest entities by substring match against a query.
// GET /api/graph/search
func (h *Handler) Search(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}

	query := c.QueryParam("q")
	if query == "" {
		return apperror.NewInvalidArgument("q is required")
	}

	var types []EntityType
	for _, t := range c.QueryParams()["entity_type"] {
		et := EntityType(t)
		if !ValidEntityType(et) {
			return apperror.NewInvalidArgument("unknown entity_type " + t)
		}
		types = append(types, et)
	}

	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return apperror.NewInvalidArgument("limit must be a positive integer")
		}
		limit = n
	}

	results := h.svc.Index().Search(query, types, limit)
	visible := results[:0:0]
	for _, r := range results {
		if p.CanRead(string(r.Entity.EntityType)) {
			visible = append(visible, r)
		}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: visible, Total: len(visible)})
}

// Path returns the shortest path between two entities over outgoing edges.
// GET /api/graph/path
func (h *Handler) Path(c echo.Context) error {
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" || to == "" {
		return apperror.NewInvalidArgument("from and to are required")
	}

	maxDepth := 0
	if d := c.QueryParam("max_depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			return apperror.NewInvalidArgument("max_depth must be a positive integer")
		}
		maxDepth = n
	}

	path := h.svc.Index().Path(from, to, maxDepth)
	resp := PathResponse{Found: path != nil, Path: path}
	if resp.Found {
		resp.Hops = len(path) - 1
	} else {
		// No path serializes as an empty array, never null.
		resp.Path = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

// Neighbors returns the entities adjacent to one entity.
// GET /api/graph/entities/:id/neighbors
func (h *Handler) Neighbors(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}

	dir := Direction(c.QueryParam("direction"))
	switch dir {
	case "":
		dir = DirBoth
	case DirOutgoing, DirIncoming, DirBoth:
	default:
		return apperror.NewInvalidArgument("direction must be outgoing, incoming or both")
	}

	var relType *RelationshipType
	if t := c.QueryParam("relationship_type"); t != "" {
		rt := RelationshipType(t)
		if !ValidRelationshipType(rt) {
			return apperror.NewInvalidArgument("unknown relationship_type " + t)
		}
		relType = &rt
	}

	neighbors := h.svc.Index().Neighbors(c.Param("id"), dir, relType)
	visible := neighbors[:0:0]
	for _, e := range neighbors {
		if p.CanRead(string(e.EntityType)) {
			visible = append(visible, e)
		}
	}
	return c.JSON(http.StatusOK, EntityListResponse{
		Entities: entityResponses(visible),
		Total:    len(visible),
	})
}

// Subgraph returns the neighborhood of an entity within a hop radius.
// GET /api/graph/entities/:id/subgraph
func (h *Handler) Subgraph(c echo.Context) error {
	radius := 0
	if r := c.QueryParam("radius"); r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n <= 0 {
			return apperror.NewInvalidArgument("radius must be a positive integer")
		}
		radius = n
	}

	entities, rels := h.svc.Index().Subgraph(c.Param("id"), radius)
	return c.JSON(http.StatusOK, SubgraphResponse{
		Entities:      entityResponses(entities),
		Relationships: relationshipResponses(rels),
	})
}

// Similar returns entities of the same type ranked by content overlap.
// GET /api/graph/entities/:id/similar
func (h *Handler) Similar(c echo.Context) error {
	topK := 0
	if k := c.QueryParam("top_k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 {
			return apperror.NewInvalidArgument("top_k must be a positive integer")
		}
		topK = n
	}

	return c.JSON(http.StatusOK, SimilarResponse{
		Results: h.svc.Index().FindSimilar(c.Param("id"), topK),
	})
}

func (h *Handler) requireReadable(c echo.Context, t EntityType) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanRead(string(t)) {
		return h.deny(c, p)
	}
	return nil
}
