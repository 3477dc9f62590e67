package providers

import (
	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/cache"
	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/export"
	"github.com/revealrank/revealrank/internal/logger"
	"github.com/revealrank/revealrank/internal/store"
)

// ProvideCacheRegistry provides the per-project cache stores.
func ProvideCacheRegistry(i do.Injector) (*cache.Registry, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return cache.NewRegistry(log.Logger), nil
}

// StoreHandle wraps the store with shutdown capability. Store is nil when no
// store path is configured.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	if h.Store == nil {
		return nil
	}
	return h.Close()
}

// ProvideStore provides the checkpoint store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Storage.StorePath == "" {
		log.Info("Checkpoint store disabled")
		return &StoreHandle{}, nil
	}

	db, err := store.New(cfg.Storage.StorePath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Checkpoint store initialized", "path", cfg.Storage.StorePath)
	return &StoreHandle{Store: db}, nil
}

// ExporterHandle wraps the SQLite exporter with shutdown capability. Exporter is
// nil when no export path is configured.
type ExporterHandle struct {
	*export.Exporter
}

// Shutdown implements do.Shutdownable.
func (h *ExporterHandle) Shutdown() error {
	if h.Exporter == nil {
		return nil
	}
	return h.Close()
}

// ProvideExporter provides the report exporter.
func ProvideExporter(i do.Injector) (*ExporterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Storage.ExportPath == "" {
		log.Info("Export disabled")
		return &ExporterHandle{}, nil
	}

	ex, err := export.Open(cfg.Storage.ExportPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Exporter initialized", "path", cfg.Storage.ExportPath)
	return &ExporterHandle{Exporter: ex}, nil
}
