package audit

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/homegraph/homegraph/pkg/logger"
)

// Module provides the audit logger and its background sweep.
var Module = fx.Module("audit",
	fx.Provide(NewLogger),
	fx.Provide(func(l *Logger) Recorder { return l }),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, a *Logger, c *cron.Cron, log *slog.Logger) error {
	// Prune the pattern detector's window every minute.
	if _, err := c.AddFunc("* * * * *", a.Sweep); err != nil {
		return err
	}

	log = log.With(logger.Scope("audit"))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			a.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("flushing audit queue")
			return a.Flush(ctx)
		},
	})
	return nil
}
