// Package main provides the entry point for the HomeGraph server: a
// local-first smart-home knowledge graph with versioned entities, graph
// traversal tools and bidirectional replica sync.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/domain/graph"
	"github.com/homegraph/homegraph/domain/health"
	"github.com/homegraph/homegraph/domain/mcp"
	"github.com/homegraph/homegraph/domain/sync"
	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/internal/database"
	"github.com/homegraph/homegraph/internal/migrate"
	"github.com/homegraph/homegraph/internal/scheduler"
	"github.com/homegraph/homegraph/internal/server"
	"github.com/homegraph/homegraph/pkg/logger"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	// Load .env if present (for local development). Load() never overwrites
	// variables already set in the environment.
	_ = godotenv.Load()

	os.Exit(run())
}

func run() int {
	app := fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		scheduler.Module,
		server.Module,

		// Domain modules
		health.Module,
		audit.Module,
		auth.Module,
		graph.Module,
		sync.Module,
		mcp.Module,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return exitCode(err)
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return 1
	}
	return 0
}

// exitCode maps a startup failure to the process exit code: 2 for
// configuration errors, 3 for a database that cannot be reached, 1 otherwise.
func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalid):
		return 2
	case errors.Is(err, database.ErrStartupUnavailable):
		return 3
	default:
		return 1
	}
}
