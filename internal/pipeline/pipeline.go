// Package pipeline drives bounded-concurrency fetches over a worklist. Transient failures
// are re-enqueued through timers, successes are written through to the cache, and every
// job is emitted exactly once on the run's output queue in completion order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/fetch"
	"github.com/revealrank/revealrank/internal/lock"
	"github.com/revealrank/revealrank/internal/metrics"
)

// Fetcher performs a single request.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, timeout time.Duration) fetch.Response
}

// Cache is the subset of the cache store the pipeline uses.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, value any, overwrite bool) bool
}

// Job is one unit of work: an item and the URL to fetch it from.
type Job struct {
	Item *domain.Item
	URL  string
}

// Result is the terminal outcome of a job. Ownership of Job.Item passes to whoever
// receives the result.
type Result struct {
	Job      Job
	Status   fetch.Status
	Payload  any
	Err      error
	Attempts int
	Cached   bool
}

// Request describes one pipeline run.
type Request struct {
	// ProjectKey names the logical resource; runs with the same key are serialized.
	ProjectKey  string
	Jobs        []Job
	Concurrency int
	Timeout     time.Duration
	Cache       Cache
	UseCache    bool
	Retry       RetryPolicy
}

// Stats are progress counters of a run.
type Stats struct {
	Total      int
	Dispatched int64
	CacheHits  int64
	Retries    int64
	Succeeded  int64
	Failed     int64
	Canceled   int64
}

// Pipeline schedules runs.
type Pipeline struct {
	fetcher    Fetcher
	serializer *lock.Serializer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a pipeline. Runs sharing a serializer are serialized per project key.
func New(fetcher Fetcher, serializer *lock.Serializer, logger *slog.Logger) *Pipeline {
	if serializer == nil {
		serializer = lock.NewSerializer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, serializer: serializer, logger: logger, now: time.Now}
}

// Run is an active pipeline run.
type Run struct {
	ID string

	p       *Pipeline
	req     Request
	logger  *slog.Logger
	results chan Result
	done    chan struct{}

	mu       sync.Mutex
	resolved []bool
	started  []time.Time
	attempts []int
	timers   map[int]*time.Timer

	dispatched, cacheHits, retries, succeeded, failed, canceled atomic.Int64
}

// Run validates req and starts the run in the background. Results arrive on
// Run.Results() as jobs resolve; the channel closes once every job was emitted.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Run, error) {
	if req.ProjectKey == "" {
		return nil, domainerrors.Validation("pipeline: project key is required")
	}
	if req.Concurrency <= 0 {
		return nil, domainerrors.Validation("pipeline: concurrency must be positive")
	}
	if req.Retry == (RetryPolicy{}) {
		req.Retry = DefaultRetryPolicy()
	}

	n := len(req.Jobs)
	r := &Run{
		ID:       uuid.NewString(),
		p:        p,
		req:      req,
		results:  make(chan Result, n),
		done:     make(chan struct{}),
		resolved: make([]bool, n),
		started:  make([]time.Time, n),
		attempts: make([]int, n),
		timers:   make(map[int]*time.Timer),
	}
	r.logger = p.logger.With("project", req.ProjectKey, "run", r.ID)

	go r.execute(ctx)
	return r, nil
}

// Results is the run's output queue, in completion order.
func (r *Run) Results() <-chan Result {
	return r.results
}

// Done is closed once the run has emitted every job.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Stats returns a snapshot of the run's counters.
func (r *Run) Stats() Stats {
	return Stats{
		Total:      len(r.req.Jobs),
		Dispatched: r.dispatched.Load(),
		CacheHits:  r.cacheHits.Load(),
		Retries:    r.retries.Load(),
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Canceled:   r.canceled.Load(),
	}
}

func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer close(r.results)

	if ahead := r.p.serializer.Waiting(r.req.ProjectKey); ahead > 0 {
		r.logger.Info("pipeline run queued", "ahead", ahead)
	}
	handle, err := r.p.serializer.Acquire(ctx, r.req.ProjectKey)
	if err != nil {
		r.logger.Warn("pipeline run canceled while queued", "error", err)
		r.cancelUnresolved(err)
		return
	}
	defer handle.Release()

	start := r.p.now()
	r.logger.Info("pipeline run started", "jobs", len(r.req.Jobs), "concurrency", r.req.Concurrency)

	r.schedule(ctx)

	s := r.Stats()
	r.logger.Info("pipeline run finished",
		"duration", r.p.now().Sub(start),
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"canceled", s.Canceled,
		"cache_hits", s.CacheHits,
		"retries", s.Retries,
	)
}

func (r *Run) schedule(ctx context.Context) {
	n := len(r.req.Jobs)
	if n == 0 {
		return
	}

	// Each job index is in at most one place at a time (ready, in flight, or a
	// timer), so capacity n never blocks.
	ready := make(chan int, n)
	finished := make(chan struct{}, n)
	for i := range n {
		ready <- i
	}

	var g errgroup.Group
	g.SetLimit(r.req.Concurrency)

	for emitted := 0; emitted < n; {
		select {
		case i := <-ready:
			g.Go(func() error {
				r.attempt(ctx, i, ready, finished)
				return nil
			})
		case <-finished:
			emitted++
		case <-ctx.Done():
			r.stopTimers()
			_ = g.Wait()
			r.cancelUnresolved(ctx.Err())
			return
		}
	}
	_ = g.Wait()
}

func (r *Run) attempt(ctx context.Context, i int, ready chan<- int, finished chan<- struct{}) {
	job := r.req.Jobs[i]
	now := r.p.now()

	r.mu.Lock()
	if r.resolved[i] {
		r.mu.Unlock()
		return
	}
	if r.attempts[i] == 0 {
		r.started[i] = now
	}
	r.attempts[i]++
	attempts, started := r.attempts[i], r.started[i]
	r.mu.Unlock()

	r.dispatched.Add(1)
	if job.Item != nil {
		job.Item.MarkInFlight(now)
	}

	if r.req.UseCache && r.req.Cache != nil {
		payload, hit := r.req.Cache.Get(job.URL)
		metrics.CacheLookup(r.req.ProjectKey, hit)
		if hit {
			r.cacheHits.Add(1)
			r.emit(i, Result{Job: job, Status: fetch.StatusOK, Payload: payload, Attempts: attempts, Cached: true}, finished)
			return
		}
	}

	done := metrics.FetchAttempt(r.req.ProjectKey)
	resp := r.p.fetcher.Fetch(ctx, job.URL, r.req.Timeout)
	done()

	if retry, delay := r.req.Retry.Decide(resp, attempts, started, r.p.now()); retry {
		// The item rests in ERROR until its next attempt moves it back in flight.
		if job.Item != nil {
			job.Item.Finish(domain.ItemStatusError, r.p.now())
		}
		r.retries.Add(1)
		metrics.FetchRetry(r.req.ProjectKey, string(resp.Status))
		r.logger.Warn("fetch retry scheduled",
			"url", job.URL,
			"status", resp.Status,
			"attempt", attempts,
			"delay", delay,
		)
		r.retryAfter(i, delay, ready)
		return
	}

	if resp.OK() && r.req.Cache != nil {
		r.req.Cache.Put(job.URL, resp.Payload, true)
	}
	r.emit(i, Result{Job: job, Status: resp.Status, Payload: resp.Payload, Err: terminalErr(job, resp, attempts), Attempts: attempts}, finished)
}

// terminalErr classifies the error of a result that will not be retried.
func terminalErr(job Job, resp fetch.Response, attempts int) error {
	code := resp.Status.ErrorCode()
	switch {
	case code == "":
		if resp.Err == nil {
			return nil
		}
		return domainerrors.Wrapf(resp.Err, domainerrors.CodeMalformedPayload, "fetch %s: decode payload", job.URL)
	case code.Retryable():
		return domainerrors.TransientNetworkf("fetch %s: %s after %d attempts", job.URL, resp.Status, attempts).WithCause(resp.Err)
	default:
		return domainerrors.Wrapf(resp.Err, code, "fetch %s: %s", job.URL, resp.Status)
	}
}

// retryAfter re-enqueues job i onto the ready queue once delay elapses.
func (r *Run) retryAfter(i int, delay time.Duration, ready chan<- int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[i] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, i)
		r.mu.Unlock()
		ready <- i
	})
}

func (r *Run) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.timers {
		t.Stop()
		delete(r.timers, i)
	}
}

func (r *Run) emit(i int, res Result, finished chan<- struct{}) {
	r.mu.Lock()
	if r.resolved[i] {
		r.mu.Unlock()
		return
	}
	r.resolved[i] = true
	r.mu.Unlock()

	switch {
	case res.Status == fetch.StatusCanceled:
		r.canceled.Add(1)
	case res.Status == fetch.StatusOK && res.Err == nil:
		r.succeeded.Add(1)
	default:
		r.failed.Add(1)
	}
	metrics.FetchResult(r.req.ProjectKey, string(res.Status))

	r.results <- res
	if finished != nil {
		finished <- struct{}{}
	}
}

// cancelUnresolved emits every job that has not resolved yet as canceled.
func (r *Run) cancelUnresolved(cause error) {
	for i, job := range r.req.Jobs {
		r.mu.Lock()
		attempts := r.attempts[i]
		r.mu.Unlock()
		r.emit(i, Result{
			Job:      job,
			Status:   fetch.StatusCanceled,
			Err:      domainerrors.Wrap(cause, domainerrors.CodeCanceled, fmt.Sprintf("fetch %s", job.URL)),
			Attempts: attempts,
		}, nil)
	}
}
