// Package scheduler provides a shared cron runner for background sweeps.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/homegraph/homegraph/pkg/logger"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(Start),
)

// New creates the cron runner. Jobs are registered by domain modules
// before the fx OnStart hook fires.
func New() *cron.Cron {
	return cron.New()
}

// Start wires the cron runner into the fx lifecycle.
func Start(lc fx.Lifecycle, c *cron.Cron, log *slog.Logger) {
	log = log.With(logger.Scope("scheduler"))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting scheduler", slog.Int("jobs", len(c.Entries())))
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
