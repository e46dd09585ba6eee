package mcp

import (
	"go.uber.org/fx"
)

// Module provides MCP domain dependencies.
var Module = fx.Module("mcp",
	fx.Provide(NewService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
