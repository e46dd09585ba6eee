package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// Service executes named tools over the knowledge graph.
type Service struct {
	graph *graph.Service
	audit audit.Recorder
	log   *slog.Logger
}

// NewService creates a new MCP service.
func NewService(g *graph.Service, auditLog audit.Recorder, log *slog.Logger) *Service {
	return &Service{
		graph: g,
		audit: auditLog,
		log:   log.With(logger.Scope("mcp.svc")),
	}
}

// GetToolDefinitions returns all available tools.
func (s *Service) GetToolDefinitions() []ToolDefinition {
	idProp := func(desc string) PropertySchema {
		return PropertySchema{Type: "string", Description: desc}
	}
	return []ToolDefinition{
		{
			Name:        "get_devices_in_room",
			Description: "List the device entities located in a room.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"room_id": idProp("Room entity id")},
				Required:   []string{"room_id"},
			},
		},
		{
			Name:        "find_device_controls",
			Description: "List the capability descriptors a device exposes, taken from its content.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"device_id": idProp("Device entity id")},
				Required:   []string{"device_id"},
			},
		},
		{
			Name:        "get_room_connections",
			Description: "List the rooms reachable from a room through connects_to edges or shared doors.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"room_id": idProp("Room entity id")},
				Required:   []string{"room_id"},
			},
		},
		{
			Name:        "search_entities",
			Description: "Search entities by text query across name and content fields. Returns ranked results with scores.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"query": {Type: "string", Description: "Search query text"},
					"entity_types": {
						Type:        "array",
						Description: "Optional entity type filter (e.g. [\"device\", \"room\"])",
					},
					"limit": {
						Type:        "number",
						Description: "Maximum number of results (default: 10, max: 50)",
						Minimum:     intPtr(1),
						Maximum:     intPtr(50),
						Default:     10,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "create_entity",
			Description: "Create a new entity with an initial version.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"entity_type": {Type: "string", Description: "Entity type (home, room, device, ...)"},
					"name":        {Type: "string", Description: "Display name"},
					"content":     {Type: "object", Description: "Entity content"},
					"user_id":     {Type: "string", Description: "Writer id recorded in the version"},
				},
				Required: []string{"entity_type", "name"},
			},
		},
		{
			Name:        "create_relationship",
			Description: "Create a typed relationship between two entities.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"from_id":           idProp("Source entity id"),
					"to_id":             idProp("Target entity id"),
					"relationship_type": {Type: "string", Description: "Edge type (located_in, controls, ...)"},
					"properties":        {Type: "object", Description: "Optional edge properties"},
					"user_id":           {Type: "string", Description: "Writer id recorded on the edge"},
				},
				Required: []string{"from_id", "to_id", "relationship_type"},
			},
		},
		{
			Name:        "find_path",
			Description: "Find the shortest path between two entities following outgoing edges.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"from_id": idProp("Start entity id"),
					"to_id":   idProp("Destination entity id"),
					"max_depth": {
						Type:        "number",
						Description: "Maximum hops to explore (default: 10)",
						Minimum:     intPtr(1),
					},
				},
				Required: []string{"from_id", "to_id"},
			},
		},
		{
			Name:        "get_entity_details",
			Description: "Get an entity with its incoming and outgoing relationships.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"id": idProp("Entity id")},
				Required:   []string{"id"},
			},
		},
		{
			Name:        "find_similar_entities",
			Description: "Find entities of the same type with similar content, ranked by overlap.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"id": idProp("Entity id"),
					"top_k": {
						Type:        "number",
						Description: "Maximum number of results (default: 5)",
						Minimum:     intPtr(1),
						Maximum:     intPtr(50),
						Default:     5,
					},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "get_procedures_for_device",
			Description: "List the procedure entities linked to a device by procedure_for.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"device_id": idProp("Device entity id")},
				Required:   []string{"device_id"},
			},
		},
		{
			Name:        "get_automations_in_room",
			Description: "List the automation entities linked to a room.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"room_id": idProp("Room entity id")},
				Required:   []string{"room_id"},
			},
		},
		{
			Name:        "update_entity",
			Description: "Append a new version of an entity. Changes merge over the current content; a \"name\" key renames the entity.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"id":      idProp("Entity id"),
					"changes": {Type: "object", Description: "Content keys to set; null values remove keys"},
					"user_id": {Type: "string", Description: "Writer id recorded in the version"},
				},
				Required: []string{"id", "changes"},
			},
		},
	}
}

// Call executes a tool by name and wraps the outcome in the uniform envelope.
// Tool failures never surface as transport errors.
func (s *Service) Call(ctx context.Context, p *auth.Principal, clientIP string, req ToolCallRequest) Envelope {
	value, err := s.dispatch(ctx, p, req.Name, req.Arguments)
	if err != nil {
		if errors.Is(err, apperror.ErrPermissionDenied) {
			s.audit.Record(audit.Event{
				Event:       audit.AccessDenied,
				ClientIP:    clientIP,
				SubjectID:   subjectOf(p),
				RequestInfo: "tool " + req.Name,
			})
		}
		s.log.Debug("tool call failed",
			slog.String("tool", req.Name), logger.Error(err))
		return Envelope{OK: false, Error: &ToolError{
			Kind:    apperror.CodeOf(err),
			Message: err.Error(),
		}}
	}
	return Envelope{OK: true, Value: value}
}

func subjectOf(p *auth.Principal) string {
	if p == nil {
		return ""
	}
	return p.UserID
}

func (s *Service) dispatch(ctx context.Context, p *auth.Principal, name string, args map[string]any) (any, error) {
	switch name {
	case "get_devices_in_room":
		return s.getDevicesInRoom(ctx, p, args)
	case "find_device_controls":
		return s.findDeviceControls(ctx, p, args)
	case "get_room_connections":
		return s.getRoomConnections(ctx, p, args)
	case "search_entities":
		return s.searchEntities(p, args)
	case "create_entity":
		return s.createEntity(ctx, p, args)
	case "create_relationship":
		return s.createRelationship(ctx, p, args)
	case "find_path":
		return s.findPath(args)
	case "get_entity_details":
		return s.getEntityDetails(ctx, p, args)
	case "find_similar_entities":
		return s.findSimilarEntities(ctx, p, args)
	case "get_procedures_for_device":
		return s.getProceduresForDevice(ctx, p, args)
	case "get_automations_in_room":
		return s.getAutomationsInRoom(ctx, p, args)
	case "update_entity":
		return s.updateEntity(ctx, p, args)
	default:
		return nil, apperror.NewNotFound("tool", name)
	}
}

func requireWrite(p *auth.Principal) error {
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return apperror.ErrPermissionDenied
	}
	return nil
}

// readable filters entities down to what the principal may see.
func readable(p *auth.Principal, entities []*graph.Entity) []*graph.Entity {
	out := entities[:0:0]
	for _, e := range entities {
		if p == nil || p.CanRead(string(e.EntityType)) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Service) getDevicesInRoom(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	roomID, err := stringArg(args, "room_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.graph.GetEntity(ctx, roomID, ""); err != nil {
		return nil, err
	}

	rel := graph.RelLocatedIn
	var devices []*graph.Entity
	for _, e := range s.graph.Index().Neighbors(roomID, graph.DirIncoming, &rel) {
		if e.EntityType == graph.TypeDevice {
			devices = append(devices, e)
		}
	}
	return map[string]any{"devices": readable(p, devices)}, nil
}

func (s *Service) findDeviceControls(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return nil, err
	}
	device, err := s.graph.GetEntity(ctx, deviceID, "")
	if err != nil {
		return nil, err
	}
	if device.EntityType != graph.TypeDevice {
		return nil, apperror.NewInvalidArgument("entity " + deviceID + " is not a device")
	}
	if p != nil && !p.CanRead(string(device.EntityType)) {
		return nil, apperror.ErrPermissionDenied
	}

	// Controls live in the device content under "controls", with
	// "capabilities" as the importer's legacy key.
	var controls []any
	for _, key := range []string{"controls", "capabilities"} {
		if list, ok := device.Content[key].([]any); ok {
			controls = append(controls, list...)
		}
	}
	return map[string]any{"device_id": deviceID, "controls": controls}, nil
}

func (s *Service) getRoomConnections(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	roomID, err := stringArg(args, "room_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.graph.GetEntity(ctx, roomID, ""); err != nil {
		return nil, err
	}

	ix := s.graph.Index()
	connects := graph.RelConnectsTo
	seen := map[string]bool{roomID: true}
	var rooms []*graph.Entity

	add := func(e *graph.Entity) {
		if !seen[e.ID] && e.EntityType == graph.TypeRoom {
			seen[e.ID] = true
			rooms = append(rooms, e)
		}
	}

	for _, nb := range ix.Neighbors(roomID, graph.DirBoth, &connects) {
		switch nb.EntityType {
		case graph.TypeRoom:
			add(nb)
		case graph.TypeDoor:
			// A door connects rooms transitively.
			for _, far := range ix.Neighbors(nb.ID, graph.DirBoth, &connects) {
				add(far)
			}
		}
	}
	return map[string]any{"rooms": readable(p, rooms)}, nil
}

func (s *Service) searchEntities(p *auth.Principal, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	types, err := entityTypesArg(args, "entity_types")
	if err != nil {
		return nil, err
	}
	limit := intArg(args, "limit", 10)
	if limit > 50 {
		limit = 50
	}

	results := s.graph.Index().Search(query, types, limit)
	if p != nil {
		kept := results[:0:0]
		for _, r := range results {
			if p.CanRead(string(r.Entity.EntityType)) {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return map[string]any{"results": results, "total": len(results)}, nil
}

func (s *Service) createEntity(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	if err := requireWrite(p); err != nil {
		return nil, err
	}
	entityType, err := stringArg(args, "entity_type")
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	content, err := mapArg(args, "content")
	if err != nil {
		return nil, err
	}

	e, err := s.graph.CreateEntity(ctx, graph.CreateEntityInput{
		EntityType: graph.EntityType(entityType),
		Name:       name,
		Content:    content,
		UserID:     writerArg(args, p),
	})
	if err != nil {
		return nil, err
	}
	return e.ToResponse(), nil
}

func (s *Service) createRelationship(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	if err := requireWrite(p); err != nil {
		return nil, err
	}
	fromID, err := stringArg(args, "from_id")
	if err != nil {
		return nil, err
	}
	toID, err := stringArg(args, "to_id")
	if err != nil {
		return nil, err
	}
	relType, err := stringArg(args, "relationship_type")
	if err != nil {
		return nil, err
	}
	props, err := mapArg(args, "properties")
	if err != nil {
		return nil, err
	}

	rel, err := s.graph.CreateRelationship(ctx, graph.CreateRelationshipInput{
		FromEntityID:     fromID,
		ToEntityID:       toID,
		RelationshipType: graph.RelationshipType(relType),
		Properties:       props,
		UserID:           writerArg(args, p),
	})
	if err != nil {
		return nil, err
	}
	return rel.ToResponse(), nil
}

func (s *Service) findPath(args map[string]any) (any, error) {
	fromID, err := stringArg(args, "from_id")
	if err != nil {
		return nil, err
	}
	toID, err := stringArg(args, "to_id")
	if err != nil {
		return nil, err
	}
	maxDepth := intArg(args, "max_depth", 0)

	path := s.graph.Index().Path(fromID, toID, maxDepth)
	found := len(path) > 0
	hops := 0
	if found {
		hops = len(path) - 1
	}
	if path == nil {
		// No path serializes as an empty array, never null.
		path = []string{}
	}
	return map[string]any{
		"found": found,
		"path":  path,
		"hops":  hops,
	}, nil
}

func (s *Service) getEntityDetails(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	id, err := stringArg(args, "id")
	if err != nil {
		return nil, err
	}
	e, err := s.graph.GetEntity(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if p != nil && !p.CanRead(string(e.EntityType)) {
		return nil, apperror.ErrPermissionDenied
	}

	outgoing, err := s.graph.ListRelationshipsFrom(ctx, id)
	if err != nil {
		return nil, err
	}
	incoming, err := s.graph.ListRelationshipsTo(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity":   e.ToResponse(),
		"outgoing": outgoing,
		"incoming": incoming,
	}, nil
}

func (s *Service) findSimilarEntities(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	id, err := stringArg(args, "id")
	if err != nil {
		return nil, err
	}
	if _, err := s.graph.GetEntity(ctx, id, ""); err != nil {
		return nil, err
	}
	topK := intArg(args, "top_k", 5)
	if topK > 50 {
		topK = 50
	}

	results := s.graph.Index().FindSimilar(id, topK)
	if p != nil {
		kept := results[:0:0]
		for _, r := range results {
			if p.CanRead(string(r.Entity.EntityType)) {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return map[string]any{"results": results}, nil
}

func (s *Service) getProceduresForDevice(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.graph.GetEntity(ctx, deviceID, ""); err != nil {
		return nil, err
	}

	rel := graph.RelProcedureFor
	var procedures []*graph.Entity
	for _, e := range s.graph.Index().Neighbors(deviceID, graph.DirIncoming, &rel) {
		if e.EntityType == graph.TypeProcedure {
			procedures = append(procedures, e)
		}
	}
	return map[string]any{"procedures": readable(p, procedures)}, nil
}

func (s *Service) getAutomationsInRoom(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	roomID, err := stringArg(args, "room_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.graph.GetEntity(ctx, roomID, ""); err != nil {
		return nil, err
	}

	// Automations attach to rooms through edges of any type, in either
	// direction (triggered_by, controls, manages).
	var automations []*graph.Entity
	for _, e := range s.graph.Index().Neighbors(roomID, graph.DirBoth, nil) {
		if e.EntityType == graph.TypeAutomation {
			automations = append(automations, e)
		}
	}
	return map[string]any{"automations": readable(p, automations)}, nil
}

func (s *Service) updateEntity(ctx context.Context, p *auth.Principal, args map[string]any) (any, error) {
	if err := requireWrite(p); err != nil {
		return nil, err
	}
	id, err := stringArg(args, "id")
	if err != nil {
		return nil, err
	}
	changes, err := mapArg(args, "changes")
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, apperror.NewInvalidArgument("changes must not be empty")
	}

	in := graph.UpdateEntityInput{
		Content: make(map[string]any, len(changes)),
		UserID:  writerArg(args, p),
	}
	for k, v := range changes {
		if k == "name" {
			if name, ok := v.(string); ok {
				in.Name = &name
				continue
			}
		}
		in.Content[k] = v
	}

	e, err := s.graph.UpdateEntity(ctx, id, in)
	if err != nil {
		return nil, err
	}
	return e.ToResponse(), nil
}

// writerArg resolves the writer id: an explicit user_id argument wins, then
// the authenticated principal.
func writerArg(args map[string]any, p *auth.Principal) string {
	if v, ok := args["user_id"].(string); ok && v != "" {
		return v
	}
	if p != nil {
		return p.UserID
	}
	return ""
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", apperror.NewInvalidArgument(key + " is required")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apperror.NewInvalidArgument(key + " must be a non-empty string")
	}
	return s, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func mapArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, apperror.NewInvalidArgument(key + " must be an object")
	}
	return m, nil
}

func entityTypesArg(args map[string]any, key string) ([]graph.EntityType, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, apperror.NewInvalidArgument(key + " must be an array of strings")
	}
	out := make([]graph.EntityType, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, apperror.NewInvalidArgument(fmt.Sprintf("%s entries must be strings, got %T", key, item))
		}
		out = append(out, graph.EntityType(s))
	}
	return out, nil
}
