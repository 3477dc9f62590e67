package providers

import (
	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/cache"
	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/lock"
	"github.com/revealrank/revealrank/internal/logger"
	"github.com/revealrank/revealrank/internal/metadata"
	"github.com/revealrank/revealrank/internal/pipeline"
	"github.com/revealrank/revealrank/internal/service"
)

// ProvideLockRegistry provides the named advisory locks.
func ProvideLockRegistry(i do.Injector) (*lock.Registry, error) {
	return lock.NewRegistry(), nil
}

// ProvideCollectorService provides the collection run service.
func ProvideCollectorService(i do.Injector) (*service.CollectorService, error) {
	p := do.MustInvoke[*pipeline.Pipeline](i)
	caches := do.MustInvoke[*cache.Registry](i)
	locks := do.MustInvoke[*lock.Registry](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	exporterHandle := do.MustInvoke[*ExporterHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	// Typed nils must not leak into the interfaces.
	var itemStore service.ItemStore
	if storeHandle.Store != nil {
		itemStore = storeHandle.Store
	}
	var exporter service.Exporter
	if exporterHandle.Exporter != nil {
		exporter = exporterHandle.Exporter
	}

	return service.NewCollectorService(p, caches, locks, itemStore, exporter, log.Logger), nil
}

// ProvideRunConfig translates the loaded configuration into a collection run.
func ProvideRunConfig(i do.Injector) (*service.RunConfig, error) {
	cfg := do.MustInvoke[*config.Config](i)

	rc := &service.RunConfig{
		ProjectKey:  cfg.Project.Key,
		FirstID:     cfg.Project.FirstID,
		LastID:      cfg.Project.LastID,
		URITemplate: cfg.Project.URITemplate,
		Concurrency: cfg.Fetch.Concurrency,
		Timeout:     cfg.Fetch.RequestTimeout,
		Retry: pipeline.RetryPolicy{
			RetryDelay:         cfg.Fetch.RetryDelay,
			RetryAfterFallback: cfg.Fetch.RetryAfterFallback,
			MaxAttempts:        cfg.Fetch.MaxAttempts,
			MaxElapsed:         cfg.Fetch.MaxElapsed,
		},
		UseCache:        cfg.Fetch.UseCache,
		CacheFile:       cfg.Storage.CacheFile,
		ScoreKey:        cfg.ScoreKey(),
		Metadata:        metadata.Options{IncludeNumeric: cfg.Rarity.IncludeNumeric},
		CheckpointEvery: cfg.Rarity.CheckpointEvery,
		Reset:           cfg.Storage.Reset,
	}
	if cfg.Reveal.Enabled {
		rc.Reveal = &service.RevealSettings{
			SampleIDs: cfg.Reveal.SampleIDs,
			Interval:  cfg.Reveal.Interval,
		}
	}
	return rc, nil
}
