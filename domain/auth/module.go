package auth

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
)

// Module provides auth domain dependencies.
var Module = fx.Module("auth",
	fx.Provide(NewRepository),
	fx.Provide(NewService),
	fx.Provide(NewMiddleware),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(registerJobs),
	fx.Invoke(seedPassword),
)

// registerJobs schedules the limiter and enrollment-code sweeps.
func registerJobs(c *cron.Cron, svc *Service) error {
	if _, err := c.AddFunc("*/5 * * * *", svc.Limiter().Sweep); err != nil {
		return err
	}
	_, err := c.AddFunc("*/5 * * * *", svc.Codes().Sweep)
	return err
}

func seedPassword(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.SeedPasswordRecord(ctx)
		},
	})
}
