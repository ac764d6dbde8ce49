//go:build wireinject
// +build wireinject

package di

import (
	"cloutdash/internal"
	"cloutdash/internal/backup"
	"cloutdash/internal/controllers"
	"cloutdash/internal/identity"
	"cloutdash/internal/localcache"
	"cloutdash/internal/migration"
	"cloutdash/internal/providers"
	"cloutdash/internal/services"
	"cloutdash/internal/structures"
	"cloutdash/internal/syncer"
	wire "github.com/google/wire"
)

func InitApp(cfg *structures.CliFlags) (*internal.App, error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLogProvider,
		providers.NewMetricsProvider,
		providers.NewInstrumentedCacheProvider,

		provideDocumentStore,
		localcache.NewZstdCompressor,
		provideLocalCache,
		provideLocalSource,
		provideShardOptions,
		provideWorker,

		identity.NewStoreProvider,
		wire.Bind(new(identity.Provider), new(*identity.StoreProvider)),
		migration.NewEngine,
		wire.Bind(new(migration.EngineInterface), new(*migration.Engine)),
		services.NewStatisticService,
		syncer.NewOrchestrator,
		wire.Bind(new(syncer.OrchestratorInterface), new(*syncer.Orchestrator)),
		wire.Bind(new(syncer.Paster), new(*syncer.Orchestrator)),
		syncer.NewImporter,
		wire.Bind(new(backup.Session), new(*syncer.Orchestrator)),
		backup.NewFileManager,
		backup.NewScheduler,

		controllers.NewApiController,
		controllers.NewAuthController,
		controllers.NewHealthController,
		controllers.NewBackupController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil
}
