package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/revealrank/revealrank/internal/cache"
	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/export"
	"github.com/revealrank/revealrank/internal/fetch"
	"github.com/revealrank/revealrank/internal/lock"
	"github.com/revealrank/revealrank/internal/metadata"
	"github.com/revealrank/revealrank/internal/metrics"
	"github.com/revealrank/revealrank/internal/pipeline"
	"github.com/revealrank/revealrank/internal/rarity"
	"github.com/revealrank/revealrank/internal/reveal"
	"github.com/revealrank/revealrank/internal/validation"
)

// ItemStore persists checkpoints. *store.Store satisfies it.
type ItemStore interface {
	SaveProject(ctx context.Context, p *domain.Project) error
	GetProject(ctx context.Context, key string) (*domain.Project, error)
	SaveItems(ctx context.Context, project string, items []*domain.Item) error
	ListItems(ctx context.Context, project string) ([]*domain.Item, error)
	SaveTraitTables(ctx context.Context, project string, tables map[string][]domain.TraitValueStat, counts []domain.TraitCountStat) error
	DeleteProject(ctx context.Context, key string) error
}

// Exporter writes report snapshots. *export.Exporter satisfies it.
type Exporter interface {
	Write(ctx context.Context, snap *export.Snapshot) error
}

// ErrRunInProgress is returned when a collection run for the project is already active.
var ErrRunInProgress = domainerrors.Validation("collection run already in progress")

// RevealSettings enables reveal polling before the bulk fetch.
type RevealSettings struct {
	SampleIDs []int
	Interval  time.Duration
	// Resolver supplies sample URIs; nil expands the run's URI template.
	Resolver reveal.Resolver
}

// RunConfig describes one collection run.
type RunConfig struct {
	ProjectKey  string
	FirstID     int
	LastID      int
	URITemplate string

	Concurrency int
	Timeout     time.Duration
	Retry       pipeline.RetryPolicy
	UseCache    bool
	CacheFile   string

	Reveal *RevealSettings

	ScoreKey        domain.ScoreKey
	Metadata        metadata.Options
	CheckpointEvery int

	// Reset forgets the stored project and the cache before fetching.
	Reset bool
}

// Report is the outcome of a collection run.
type Report struct {
	Project    *domain.Project
	Collection *rarity.Collection
	Stats      pipeline.Stats
	Reveal     *reveal.Result
}

// CollectorService runs reveal detection, the bulk fetch and rarity ranking for a
// project, persisting checkpoints along the way.
type CollectorService struct {
	pipeline *pipeline.Pipeline
	caches   *cache.Registry
	locks    *lock.Registry
	store    ItemStore
	exporter Exporter
	logger   *slog.Logger
	now      func() time.Time
}

// NewCollectorService creates a collector. store and exporter may be nil.
func NewCollectorService(p *pipeline.Pipeline, caches *cache.Registry, locks *lock.Registry, store ItemStore, exporter Exporter, logger *slog.Logger) *CollectorService {
	if logger == nil {
		logger = slog.Default()
	}
	if caches == nil {
		caches = cache.NewRegistry(logger)
	}
	if locks == nil {
		locks = lock.NewRegistry()
	}
	return &CollectorService{
		pipeline: p,
		caches:   caches,
		locks:    locks,
		store:    store,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}
}

func lockKey(project string) string {
	return "fetch-all:" + project
}

// Run executes a full collection run. Only one run per project may be active; a
// second concurrent call fails fast with ErrRunInProgress.
func (s *CollectorService) Run(ctx context.Context, rc RunConfig) (*Report, error) {
	if err := validateRunConfig(rc); err != nil {
		return nil, err
	}

	handle, ok := s.locks.TryAcquire(lockKey(rc.ProjectKey))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, rc.ProjectKey)
	}
	defer handle.Release()

	logger := s.logger.With("project", rc.ProjectKey)
	if rc.Reset {
		if err := s.reset(ctx, rc.ProjectKey); err != nil {
			return nil, err
		}
		logger.Info("stored project and cache reset")
	}
	entries := s.caches.For(rc.ProjectKey)
	if rc.CacheFile != "" && !rc.Reset {
		entries.LoadFile(rc.CacheFile)
	}

	project := &domain.Project{
		Key:         rc.ProjectKey,
		FirstID:     rc.FirstID,
		LastID:      rc.LastID,
		URITemplate: rc.URITemplate,
		ScoreKey:    rc.ScoreKey,
		Progress:    domain.Progress{Total: rc.LastID - rc.FirstID + 1},
	}
	report := &Report{Project: project}

	if rc.Reveal != nil {
		res, err := s.waitForReveal(ctx, rc, logger)
		if err != nil {
			return nil, err
		}
		report.Reveal = res
		project.RevealedAt = &res.RevealedAt
		project.URITemplate = res.Template
	}
	if project.URITemplate == "" {
		return nil, domainerrors.Configuration("collector: no uri template configured or derived")
	}

	jobs := make([]pipeline.Job, 0, project.Progress.Total)
	for id := rc.FirstID; id <= rc.LastID; id++ {
		uri := reveal.ExpandTemplate(project.URITemplate, id)
		jobs = append(jobs, pipeline.Job{Item: domain.NewItem(id, uri), URL: uri})
	}

	run, err := s.pipeline.Run(ctx, pipeline.Request{
		ProjectKey:  rc.ProjectKey,
		Jobs:        jobs,
		Concurrency: rc.Concurrency,
		Timeout:     rc.Timeout,
		Cache:       entries,
		UseCache:    rc.UseCache,
		Retry:       rc.Retry,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("collection run started", "run", run.ID, "items", len(jobs), "template", project.URITemplate)

	collection := rarity.NewCollection(rc.ProjectKey, rc.ScoreKey, logger)
	report.Collection = collection

	for res := range run.Results() {
		s.consume(res, rc, project, collection, logger)

		if rc.CheckpointEvery > 0 && project.Progress.Resolved()%rc.CheckpointEvery == 0 {
			if err := s.checkpoint(ctx, rc, project, collection, entries); err != nil {
				logger.Warn("checkpoint failed", "error", err)
			}
		}
	}
	report.Stats = run.Stats()

	// Persist whatever was collected even when the run was canceled.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.checkpoint(persistCtx, rc, project, collection, entries); err != nil {
		return report, err
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("collection run canceled", "progress", project.Progress)
		return report, domainerrors.Wrap(err, domainerrors.CodeCanceled, "collection run canceled")
	}

	if err := s.export(ctx, project, collection); err != nil {
		return report, err
	}

	logger.Info("collection run finished",
		"done", project.Progress.Done,
		"skipped", project.Progress.Skipped,
		"errored", project.Progress.Errored,
		"cache_hits", report.Stats.CacheHits,
		"retries", report.Stats.Retries,
	)
	return report, nil
}

// reset drops everything remembered about project. A missing project is not an error.
func (s *CollectorService) reset(ctx context.Context, project string) error {
	s.caches.Drop(project)
	if s.store == nil {
		return nil
	}
	if err := s.store.DeleteProject(ctx, project); err != nil {
		return fmt.Errorf("reset project %s: %w", project, err)
	}
	return nil
}

func validateRunConfig(rc RunConfig) error {
	switch {
	case rc.ProjectKey == "":
		return domainerrors.Validation("collector: project key is required")
	case rc.FirstID < 0 || rc.LastID < rc.FirstID:
		return domainerrors.Validation(fmt.Sprintf("collector: invalid id range [%d, %d]", rc.FirstID, rc.LastID))
	case rc.Concurrency <= 0:
		return domainerrors.Validation("collector: concurrency must be positive")
	case rc.Reveal == nil && rc.URITemplate == "":
		return domainerrors.Configuration("collector: uri template is required without reveal polling")
	case rc.URITemplate != "" && strings.Count(rc.URITemplate, validation.IDPlaceholder) != 1:
		return domainerrors.Configurationf("collector: uri template %q must contain one %s", rc.URITemplate, validation.IDPlaceholder)
	}
	return nil
}

func (s *CollectorService) waitForReveal(ctx context.Context, rc RunConfig, logger *slog.Logger) (*reveal.Result, error) {
	resolver := rc.Reveal.Resolver
	if resolver == nil {
		if rc.URITemplate == "" {
			return nil, domainerrors.Configuration("collector: reveal polling needs a resolver or uri template")
		}
		resolver = reveal.TemplateResolver(rc.URITemplate)
	}

	detector, err := reveal.NewDetector(reveal.Config{
		ProjectKey: rc.ProjectKey,
		SampleIDs:  rc.Reveal.SampleIDs,
		Interval:   rc.Reveal.Interval,
		Timeout:    rc.Timeout,
		Retry:      rc.Retry,
		Metadata:   rc.Metadata,
	}, s.pipeline, resolver, logger)
	if err != nil {
		return nil, err
	}
	return detector.Wait(ctx)
}

// consume moves one pipeline result into its terminal item state and ingests
// completed items.
func (s *CollectorService) consume(res pipeline.Result, rc RunConfig, project *domain.Project, collection *rarity.Collection, logger *slog.Logger) {
	item := res.Job.Item
	now := s.now()

	status, err := s.outcome(res, rc, item)
	item.Finish(status, now)
	if status == domain.ItemStatusDone {
		if err = collection.Ingest(item); err != nil {
			status = domain.ItemStatusError
			item.Finish(status, now)
		}
	}

	switch status {
	case domain.ItemStatusDone:
		project.Progress.Done++
	case domain.ItemStatusSkipped:
		project.Progress.Skipped++
		logger.Debug("item skipped", "id", item.ID, "status", res.Status)
	default:
		project.Progress.Errored++
		msg := "item failed"
		if errors.Is(err, domainerrors.ErrTransientNetwork) {
			msg = "item retries exhausted"
		}
		logger.Warn(msg, "id", item.ID, "status", res.Status, "attempts", res.Attempts, "error", err)
	}
	metrics.ItemIngested(rc.ProjectKey, string(status))
}

func (s *CollectorService) outcome(res pipeline.Result, rc RunConfig, item *domain.Item) (domain.ItemStatus, error) {
	if res.Status.ErrorCode() == domainerrors.CodeNotFound {
		return domain.ItemStatusSkipped, res.Err
	}
	if res.Status != fetch.StatusOK || res.Err != nil {
		return domain.ItemStatusError, res.Err
	}

	doc, err := metadata.Parse(res.Payload, rc.Metadata)
	if err == nil {
		err = doc.Validate()
	}
	if err != nil {
		return domain.ItemStatusError, err
	}
	doc.ApplyTo(item)
	return domain.ItemStatusDone, nil
}

// checkpoint recomputes ranks and persists the cache, items and tables.
func (s *CollectorService) checkpoint(ctx context.Context, rc RunConfig, project *domain.Project, collection *rarity.Collection, entries *cache.Store) error {
	if collection.Dirty() {
		collection.Recompute()
	}

	var errs []error
	if rc.CacheFile != "" {
		if err := entries.SaveFile(rc.CacheFile); err != nil {
			errs = append(errs, fmt.Errorf("save cache: %w", err))
		}
	}

	if s.store != nil {
		if err := s.store.SaveItems(ctx, project.Key, collection.Items()); err != nil {
			errs = append(errs, fmt.Errorf("save items: %w", err))
		}
		if err := s.store.SaveTraitTables(ctx, project.Key, collection.TraitTables(), collection.TraitCountTable()); err != nil {
			errs = append(errs, fmt.Errorf("save trait tables: %w", err))
		}
		if err := s.store.SaveProject(ctx, project); err != nil {
			errs = append(errs, fmt.Errorf("save project: %w", err))
		}
	}

	s.logger.Info("checkpoint",
		"project", project.Key,
		"resolved", project.Progress.Resolved(),
		"total", project.Progress.Total,
		"done", project.Progress.Done,
		"cache_entries", entries.Len(),
	)
	return errors.Join(errs...)
}

func (s *CollectorService) export(ctx context.Context, project *domain.Project, collection *rarity.Collection) error {
	if s.exporter == nil {
		return nil
	}
	return s.exporter.Write(ctx, &export.Snapshot{
		Project:     project,
		Items:       collection.Items(),
		TraitTables: collection.TraitTables(),
		TraitCounts: collection.TraitCountTable(),
	})
}

// Rescore reloads a project's stored items, ranks them by scoreKey and exports the
// result without fetching anything.
func (s *CollectorService) Rescore(ctx context.Context, projectKey string, scoreKey domain.ScoreKey) (*Report, error) {
	if s.store == nil {
		return nil, domainerrors.Configuration("collector: rescore needs a store")
	}

	handle, ok := s.locks.TryAcquire(lockKey(projectKey))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, projectKey)
	}
	defer handle.Release()

	project, err := s.store.GetProject(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectKey, err)
	}
	items, err := s.store.ListItems(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	project.ScoreKey = scoreKey
	collection := rarity.NewCollection(projectKey, scoreKey, s.logger)
	for _, item := range items {
		if err := collection.Ingest(item); err != nil {
			s.logger.Warn("stored item rejected", "project", projectKey, "id", item.ID, "error", err)
		}
	}
	collection.Recompute()

	if err := s.store.SaveItems(ctx, projectKey, collection.Items()); err != nil {
		return nil, err
	}
	if err := s.store.SaveProject(ctx, project); err != nil {
		return nil, err
	}
	if err := s.export(ctx, project, collection); err != nil {
		return nil, err
	}

	s.logger.Info("project rescored", "project", projectKey, "items", collection.Len(), "score_key", scoreKey)
	return &Report{Project: project, Collection: collection}, nil
}
