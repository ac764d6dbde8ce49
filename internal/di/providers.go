package di

import (
	"cloutdash/internal/docstore"
	"cloutdash/internal/localcache"
	"cloutdash/internal/migration"
	"cloutdash/internal/providers"
	"cloutdash/internal/shards"
	"cloutdash/internal/structures"
	"cloutdash/internal/syncer"
)

func provideDocumentStore(conf *structures.Config, logger providers.Logger) (docstore.Store, error) {
	store, err := docstore.BuildStoreFromDSN(conf.Store.DSN)
	if err != nil {
		return nil, err
	}
	logger.Infof(providers.TypeApp, "Document store ready (%s)", docstore.Scheme(conf.Store.DSN))
	return store, nil
}

// provideLocalCache falls back to an in-memory cache when no path is configured.
func provideLocalCache(conf *structures.Config, compressor localcache.CompressorInterface) (localcache.Cache, error) {
	if conf.LocalCache.Path == "" {
		return localcache.NewMemoryCache(), nil
	}
	return localcache.Open(conf.LocalCache.Path, compressor)
}

func provideLocalSource(cache localcache.Cache) migration.LocalSource {
	return cache
}

func provideShardOptions(conf *structures.Config) shards.Options {
	return shards.Options{
		BatchSize:    conf.Store.BatchSize,
		CommitPause:  conf.Store.CommitPause,
		DeleteFanOut: conf.Sync.DeleteFanOut,
	}
}

func provideWorker(conf *structures.Config, logger providers.Logger) syncer.WorkerInterface {
	return syncer.NewWorker(logger, conf.Sync.QueueSize)
}
