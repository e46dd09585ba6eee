package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/pkg/logger"
)

type memRecorder struct {
	events []audit.Event
}

func (m *memRecorder) Record(e audit.Event) {
	m.events = append(m.events, e)
}

type mcpFixture struct {
	svc   *Service
	graph *graph.Service
	audit *memRecorder
	ids   map[string]string
	admin *auth.Principal
	guest *auth.Principal
}

// newMCPFixture builds a small home: two rooms joined by a door plus a direct
// connection, a light in the living room with a maintenance procedure, and an
// automation triggered by the living room.
func newMCPFixture(t *testing.T) *mcpFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewLogger()
	g := graph.NewService(graph.NewMemStore(), log)

	rec := &memRecorder{}
	f := &mcpFixture{
		svc:   NewService(g, rec, log),
		graph: g,
		audit: rec,
		ids:   map[string]string{},
		admin: &auth.Principal{UserID: "admin", Role: auth.RoleAdmin},
		guest: &auth.Principal{
			UserID:        "guest-1",
			Role:          auth.RoleGuest,
			Permissions:   []string{auth.PermissionRead},
			ReadableTypes: map[string]bool{"room": true, "device": true},
		},
	}

	add := func(key string, et graph.EntityType, name string, content map[string]any) {
		e, err := f.graph.CreateEntity(ctx, graph.CreateEntityInput{
			EntityType: et,
			Name:       name,
			Content:    content,
			UserID:     "admin",
		})
		require.NoError(t, err)
		f.ids[key] = e.ID
	}
	link := func(from, to string, rt graph.RelationshipType) {
		_, err := f.graph.CreateRelationship(ctx, graph.CreateRelationshipInput{
			FromEntityID:     f.ids[from],
			ToEntityID:       f.ids[to],
			RelationshipType: rt,
			UserID:           "admin",
		})
		require.NoError(t, err)
	}

	add("living", graph.TypeRoom, "Living Room", nil)
	add("kitchen", graph.TypeRoom, "Kitchen", nil)
	add("hall", graph.TypeRoom, "Hallway", nil)
	add("door", graph.TypeDoor, "Kitchen Door", nil)
	add("light", graph.TypeDevice, "Ceiling Light", map[string]any{
		"controls": []any{
			map[string]any{"name": "power", "type": "toggle"},
			map[string]any{"name": "brightness", "type": "range"},
		},
	})
	add("sensor", graph.TypeDevice, "Motion Sensor", nil)
	add("procedure", graph.TypeProcedure, "Replace bulb", nil)
	add("automation", graph.TypeAutomation, "Evening lights", nil)

	link("light", "living", graph.RelLocatedIn)
	link("sensor", "living", graph.RelLocatedIn)
	link("living", "hall", graph.RelConnectsTo)
	link("living", "door", graph.RelConnectsTo)
	link("door", "kitchen", graph.RelConnectsTo)
	link("procedure", "light", graph.RelProcedureFor)
	link("automation", "living", graph.RelTriggeredBy)

	return f
}

const testClientIP = "203.0.113.9"

func (f *mcpFixture) call(t *testing.T, p *auth.Principal, name string, args map[string]any) Envelope {
	t.Helper()
	return f.svc.Call(context.Background(), p, testClientIP, ToolCallRequest{Name: name, Arguments: args})
}

func entityIDs(t *testing.T, value any, key string) []string {
	t.Helper()
	m, ok := value.(map[string]any)
	require.True(t, ok)
	list, ok := m[key].([]*graph.Entity)
	require.True(t, ok)
	var ids []string
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestGetDevicesInRoom(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "get_devices_in_room", map[string]any{"room_id": f.ids["living"]})
	require.True(t, env.OK)
	assert.ElementsMatch(t, []string{f.ids["light"], f.ids["sensor"]}, entityIDs(t, env.Value, "devices"))

	empty := f.call(t, f.admin, "get_devices_in_room", map[string]any{"room_id": f.ids["kitchen"]})
	require.True(t, empty.OK)
	assert.Empty(t, entityIDs(t, empty.Value, "devices"))
}

func TestFindDeviceControls(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "find_device_controls", map[string]any{"device_id": f.ids["light"]})
	require.True(t, env.OK)
	controls := env.Value.(map[string]any)["controls"].([]any)
	assert.Len(t, controls, 2)

	// Asking for controls of a non-device is refused with a stable kind.
	bad := f.call(t, f.admin, "find_device_controls", map[string]any{"device_id": f.ids["living"]})
	require.False(t, bad.OK)
	assert.Equal(t, "invalid_argument", bad.Error.Kind)
}

func TestGetRoomConnections(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "get_room_connections", map[string]any{"room_id": f.ids["living"]})
	require.True(t, env.OK)
	// Hallway directly, kitchen through the door; the door itself is not a room.
	assert.ElementsMatch(t, []string{f.ids["hall"], f.ids["kitchen"]}, entityIDs(t, env.Value, "rooms"))
}

func TestSearchEntitiesTool(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "search_entities", map[string]any{"query": "light"})
	require.True(t, env.OK)
	m := env.Value.(map[string]any)
	results := m["results"].([]graph.SearchResult)
	require.NotEmpty(t, results)
	assert.Equal(t, len(results), m["total"])

	missing := f.call(t, f.admin, "search_entities", map[string]any{})
	require.False(t, missing.OK)
	assert.Equal(t, "invalid_argument", missing.Error.Kind)
}

func TestCreateAndUpdateEntityTools(t *testing.T) {
	f := newMCPFixture(t)

	created := f.call(t, f.admin, "create_entity", map[string]any{
		"entity_type": "note",
		"name":        "Wifi password",
		"content":     map[string]any{"body": "hunter2"},
	})
	require.True(t, created.OK)
	resp := created.Value.(*graph.EntityResponse)
	assert.NotEmpty(t, resp.ID)

	updated := f.call(t, f.admin, "update_entity", map[string]any{
		"id": resp.ID,
		"changes": map[string]any{
			"name": "Wifi",
			"body": "correct horse",
		},
	})
	require.True(t, updated.OK)
	next := updated.Value.(*graph.EntityResponse)
	assert.Equal(t, "Wifi", next.Name)
	assert.Equal(t, "correct horse", next.Content["body"])
	assert.Equal(t, []string{resp.Version}, next.ParentVersions)
}

func TestWriteToolsRefuseGuests(t *testing.T) {
	f := newMCPFixture(t)

	for name, args := range map[string]map[string]any{
		"create_entity": {"entity_type": "note", "name": "x"},
		"update_entity": {"id": f.ids["light"], "changes": map[string]any{"a": 1}},
		"create_relationship": {
			"from_id": f.ids["light"], "to_id": f.ids["kitchen"],
			"relationship_type": "located_in",
		},
	} {
		env := f.call(t, f.guest, name, args)
		require.False(t, env.OK, name)
		assert.Equal(t, "permission_denied", env.Error.Kind, name)
	}
}

func TestGuestWriteRefusalRecordsAccessDenied(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.guest, "create_entity", map[string]any{
		"entity_type": "note",
		"name":        "scribble",
	})
	require.False(t, env.OK)
	assert.Equal(t, "permission_denied", env.Error.Kind)

	require.Len(t, f.audit.events, 1)
	e := f.audit.events[0]
	assert.Equal(t, audit.AccessDenied, e.Event)
	assert.Equal(t, testClientIP, e.ClientIP)
	assert.Equal(t, "guest-1", e.SubjectID)
	assert.Equal(t, "tool create_entity", e.RequestInfo)

	// A permitted call records nothing.
	ok := f.call(t, f.admin, "create_entity", map[string]any{
		"entity_type": "note",
		"name":        "scribble",
	})
	require.True(t, ok.OK)
	assert.Len(t, f.audit.events, 1)
}

func TestGuestReadFiltering(t *testing.T) {
	f := newMCPFixture(t)

	// Automations are outside the guest's readable types.
	env := f.call(t, f.guest, "get_automations_in_room", map[string]any{"room_id": f.ids["living"]})
	require.True(t, env.OK)
	assert.Empty(t, entityIDs(t, env.Value, "automations"))

	// Devices are readable.
	devices := f.call(t, f.guest, "get_devices_in_room", map[string]any{"room_id": f.ids["living"]})
	require.True(t, devices.OK)
	assert.Len(t, entityIDs(t, devices.Value, "devices"), 2)
}

func TestFindPathTool(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "find_path", map[string]any{
		"from_id": f.ids["living"],
		"to_id":   f.ids["kitchen"],
	})
	require.True(t, env.OK)
	m := env.Value.(map[string]any)
	assert.Equal(t, true, m["found"])
	assert.Equal(t, []string{f.ids["living"], f.ids["door"], f.ids["kitchen"]}, m["path"])
	assert.Equal(t, 2, m["hops"])

	none := f.call(t, f.admin, "find_path", map[string]any{
		"from_id": f.ids["kitchen"],
		"to_id":   f.ids["living"],
	})
	require.True(t, none.OK)
	miss := none.Value.(map[string]any)
	assert.Equal(t, false, miss["found"])
	// An empty path is an empty array, never null.
	assert.Equal(t, []string{}, miss["path"])
	assert.Equal(t, 0, miss["hops"])
}

func TestGetEntityDetails(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "get_entity_details", map[string]any{"id": f.ids["light"]})
	require.True(t, env.OK)
	m := env.Value.(map[string]any)
	assert.Equal(t, f.ids["light"], m["entity"].(*graph.EntityResponse).ID)
	assert.Len(t, m["outgoing"].([]*graph.EntityRelationship), 1)
	assert.Len(t, m["incoming"].([]*graph.EntityRelationship), 1)

	missing := f.call(t, f.admin, "get_entity_details", map[string]any{"id": "nope"})
	require.False(t, missing.OK)
	assert.Equal(t, "not_found", missing.Error.Kind)
}

func TestFindSimilarEntitiesTool(t *testing.T) {
	ctx := context.Background()
	f := newMCPFixture(t)

	for _, name := range []string{"Lamp A", "Lamp B"} {
		_, err := f.graph.CreateEntity(ctx, graph.CreateEntityInput{
			EntityType: graph.TypeDevice,
			Name:       name,
			Content: map[string]any{
				"controls":     []any{"power"},
				"manufacturer": "acme",
			},
			UserID: "admin",
		})
		require.NoError(t, err)
	}

	env := f.call(t, f.admin, "find_similar_entities", map[string]any{
		"id":    f.ids["light"],
		"top_k": float64(3),
	})
	require.True(t, env.OK)
	results := env.Value.(map[string]any)["results"].([]graph.SimilarResult)
	assert.NotEmpty(t, results)
}

func TestGetProceduresForDevice(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "get_procedures_for_device", map[string]any{"device_id": f.ids["light"]})
	require.True(t, env.OK)
	assert.Equal(t, []string{f.ids["procedure"]}, entityIDs(t, env.Value, "procedures"))
}

func TestGetAutomationsInRoom(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "get_automations_in_room", map[string]any{"room_id": f.ids["living"]})
	require.True(t, env.OK)
	assert.Equal(t, []string{f.ids["automation"]}, entityIDs(t, env.Value, "automations"))
}

func TestUnknownToolRefused(t *testing.T) {
	f := newMCPFixture(t)

	env := f.call(t, f.admin, "open_garage", nil)
	require.False(t, env.OK)
	assert.Equal(t, "not_found", env.Error.Kind)
}

func TestToolCatalogComplete(t *testing.T) {
	f := newMCPFixture(t)

	tools := f.svc.GetToolDefinitions()
	require.Len(t, tools, 12)
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
	}
	for _, want := range []string{
		"get_devices_in_room", "find_device_controls", "get_room_connections",
		"search_entities", "create_entity", "create_relationship", "find_path",
		"get_entity_details", "find_similar_entities", "get_procedures_for_device",
		"get_automations_in_room", "update_entity",
	} {
		assert.True(t, names[want], want)
	}
}
