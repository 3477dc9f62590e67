// Package reveal polls a fixed sample of items and decides when a collection's
// metadata has moved from placeholder to final content.
package reveal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/fetch"
	"github.com/revealrank/revealrank/internal/metadata"
	"github.com/revealrank/revealrank/internal/metrics"
	"github.com/revealrank/revealrank/internal/pipeline"
)

// State of a polling session.
type State string

const (
	StateNotRevealed State = "not_revealed"
	StateRevealed    State = "revealed"
)

// Runner starts pipeline runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
}

// Resolver returns the current concrete metadata URI of an item.
type Resolver interface {
	ResolveURI(ctx context.Context, id int) (string, error)
}

// TemplateResolver resolves IDs by expanding a {id} URI template.
type TemplateResolver string

// ResolveURI implements Resolver.
func (t TemplateResolver) ResolveURI(_ context.Context, id int) (string, error) {
	return ExpandTemplate(string(t), id), nil
}

// Config configures a Detector.
type Config struct {
	ProjectKey string
	SampleIDs  []int
	Interval   time.Duration
	Timeout    time.Duration
	Retry      pipeline.RetryPolicy
	Metadata   metadata.Options
}

// Sample is one classified sample item of a poll.
type Sample struct {
	ID     int
	URI    string
	Status fetch.Status
	Image  string
	Class  Classification
	Err    error
}

// Outcome is the result of a single poll.
type Outcome struct {
	State   State
	Samples []Sample
	// Trigger is the sample that decided the reveal, nil when not revealed.
	Trigger *Sample
}

// Result describes a completed polling session.
type Result struct {
	SessionID  string
	RevealedAt time.Time
	// Template is the URI template derived from the triggering sample.
	Template string
	SampleID int
	URI      string
	Polls    int
}

// Detector runs reveal polling sessions.
type Detector struct {
	cfg      Config
	runner   Runner
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(cfg Config, runner Runner, resolver Resolver, logger *slog.Logger) (*Detector, error) {
	if len(cfg.SampleIDs) == 0 {
		return nil, domainerrors.Configuration("reveal: sample ids are required")
	}
	if cfg.Interval <= 0 {
		return nil, domainerrors.Configuration("reveal: interval must be positive")
	}
	if cfg.ProjectKey == "" {
		return nil, domainerrors.Configuration("reveal: project key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:      cfg,
		runner:   runner,
		resolver: resolver,
		logger:   logger.With("project", cfg.ProjectKey),
		now:      time.Now,
	}, nil
}

// Wait polls until the collection is revealed, ctx is done, or a poll fails with a
// fatal error such as a failed template derivation. Other poll failures are logged
// and retried on the next tick. The first poll runs immediately.
func (d *Detector) Wait(ctx context.Context) (*Result, error) {
	session := uuid.NewString()
	logger := d.logger.With("session", session)
	logger.Info("reveal polling started", "samples", d.cfg.SampleIDs, "interval", d.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return nil, domainerrors.Wrap(ctx.Err(), domainerrors.CodeCanceled, "reveal polling stopped")
		case <-timer.C:
		}

		out, err := d.Check(ctx)
		if err != nil {
			if ctx.Err() != nil || domainerrors.CodeOf(err).Fatal() {
				return nil, err
			}
			logger.Warn("reveal poll failed", "poll", polls, "error", err)
			timer.Reset(d.cfg.Interval)
			continue
		}
		metrics.RevealPoll(d.cfg.ProjectKey, string(out.State))

		if out.State == StateRevealed {
			template, err := DeriveTemplate(out.Trigger.URI, out.Trigger.ID)
			if err != nil {
				logger.Error("reveal template derivation failed", "id", out.Trigger.ID, "uri", out.Trigger.URI, "error", err)
				return nil, err
			}
			res := &Result{
				SessionID:  session,
				RevealedAt: d.now(),
				Template:   template,
				SampleID:   out.Trigger.ID,
				URI:        out.Trigger.URI,
				Polls:      polls,
			}
			logger.Info("collection revealed", "template", template, "polls", polls, "sample", res.SampleID)
			return res, nil
		}

		logger.Debug("collection not revealed yet", "poll", polls)
		timer.Reset(d.cfg.Interval)
	}
}

// Check performs one poll of the sample.
func (d *Detector) Check(ctx context.Context) (*Outcome, error) {
	jobs := make([]pipeline.Job, 0, len(d.cfg.SampleIDs))
	for _, id := range d.cfg.SampleIDs {
		uri, err := d.resolver.ResolveURI(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve sample %d: %w", id, err)
		}
		jobs = append(jobs, pipeline.Job{Item: domain.NewItem(id, uri), URL: uri})
	}

	run, err := d.runner.Run(ctx, pipeline.Request{
		ProjectKey:  d.cfg.ProjectKey + "/reveal",
		Jobs:        jobs,
		Concurrency: len(jobs),
		Timeout:     d.cfg.Timeout,
		Retry:       d.cfg.Retry,
	})
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(jobs))
	for res := range run.Results() {
		samples = append(samples, d.classify(res))
	}
	if err := ctx.Err(); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeCanceled, "reveal poll canceled")
	}

	revealed, trigger := Decide(samples)
	out := &Outcome{State: StateNotRevealed, Samples: samples, Trigger: trigger}
	if revealed {
		out.State = StateRevealed
	}
	return out, nil
}

func (d *Detector) classify(res pipeline.Result) Sample {
	s := Sample{
		ID:     res.Job.Item.ID,
		URI:    res.Job.URL,
		Status: res.Status,
		Class:  ClassNotRevealed,
		Err:    res.Err,
	}
	if res.Status != fetch.StatusOK || res.Err != nil {
		return s
	}

	doc, err := metadata.Parse(res.Payload, d.cfg.Metadata)
	if err != nil {
		s.Err = err
		return s
	}
	s.Image = doc.Image
	s.Class = Classify(doc)
	return s
}
