// Package providers contains dependency injection providers for revealrank.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	args := do.MustInvoke[Args](i)
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting revealrank",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"project", cfg.Project.Key,
		"first_id", cfg.Project.FirstID,
		"last_id", cfg.Project.LastID,
	)

	return log, nil
}
