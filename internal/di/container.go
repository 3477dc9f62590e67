// Package di provides dependency injection configuration for revealrank.
package di

import (
	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/di/providers"
	"github.com/revealrank/revealrank/internal/lock"
	"github.com/revealrank/revealrank/internal/logger"
	"github.com/revealrank/revealrank/internal/pipeline"
	"github.com/revealrank/revealrank/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer(args []string) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, providers.Args(args))
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideCacheRegistry)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideExporter)

	// Fetch layer
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideFetchClient)
	do.Provide(injector, providers.ProvideSerializer)
	do.Provide(injector, providers.ProvidePipeline)

	// Business services
	do.Provide(injector, providers.ProvideLockRegistry)
	do.Provide(injector, providers.ProvideCollectorService)
	do.Provide(injector, providers.ProvideRunConfig)

	return injector
}

// Bootstrap initializes all services, surfacing configuration and storage errors
// before any work starts.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.ExporterHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.RateLimiterHandle](injector)
	_ = do.MustInvoke[*lock.Serializer](injector)
	_ = do.MustInvoke[*pipeline.Pipeline](injector)
	_ = do.MustInvoke[*service.CollectorService](injector)
	if _, err := do.Invoke[*service.RunConfig](injector); err != nil {
		return err
	}
	return nil
}
