package graph

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
)

// Module provides graph domain dependencies.
var Module = fx.Module("graph",
	fx.Provide(provideService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(warmIndex),
)

func provideService(db bun.IDB, log *slog.Logger) *Service {
	return NewService(NewRepository(db, log), log)
}

// warmIndex rebuilds the traversal index from the store before the server
// starts accepting requests.
func warmIndex(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.RebuildIndex(ctx)
		},
	})
}
