package mcp

// ToolDefinition describes one named tool
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is a JSON schema for tool parameters
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes a single property in a JSON schema
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ToolsListResult is the result of listing tools
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallRequest is the body of a tool invocation
type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolError names a failure with a stable kind; messages are for humans,
// kinds are for programs.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope is the uniform tool result wrapper.
type Envelope struct {
	OK    bool       `json:"ok"`
	Value any        `json:"value,omitempty"`
	Error *ToolError `json:"error,omitempty"`
}

func intPtr(v int) *int { return &v }
