package providers

import (
	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/fetch"
	"github.com/revealrank/revealrank/internal/lock"
	"github.com/revealrank/revealrank/internal/logger"
	"github.com/revealrank/revealrank/internal/pipeline"
	"github.com/revealrank/revealrank/internal/ratelimit"
)

// rateLimitBurst lets a host absorb a short burst above its steady rate.
const rateLimitBurst = 10

// RateLimiterHandle wraps the per-host limiter with shutdown capability.
type RateLimiterHandle struct {
	*ratelimit.HostLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideRateLimiter provides the outbound per-host limiter; unlimited when no rate
// is configured.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &RateLimiterHandle{HostLimiter: ratelimit.New(cfg.Fetch.RequestsPerSecond, rateLimitBurst)}, nil
}

// ProvideFetchClient provides the transient-fetch client.
func ProvideFetchClient(i do.Injector) (*fetch.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	limiter := do.MustInvoke[*RateLimiterHandle](i)

	return fetch.New(fetch.Options{
		Limiter:     limiter.HostLimiter,
		IPFSGateway: cfg.Fetch.IPFSGateway,
	}, log.Logger), nil
}

// ProvideSerializer provides the per-project pipeline serializer.
func ProvideSerializer(i do.Injector) (*lock.Serializer, error) {
	return lock.NewSerializer(), nil
}

// ProvidePipeline provides the fetch pipeline.
func ProvidePipeline(i do.Injector) (*pipeline.Pipeline, error) {
	client := do.MustInvoke[*fetch.Client](i)
	serializer := do.MustInvoke[*lock.Serializer](i)
	log := do.MustInvoke[*logger.Logger](i)

	return pipeline.New(client, serializer, log.Logger), nil
}
