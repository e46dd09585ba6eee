package sync

import (
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
)

// Module provides sync domain dependencies.
var Module = fx.Module("sync",
	fx.Provide(provideMetadataStore),
	fx.Provide(NewService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

func provideMetadataStore(db bun.IDB, log *slog.Logger) MetadataStore {
	return NewMetadataRepository(db, log)
}
