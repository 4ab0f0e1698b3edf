// Package jobs implements the job queue: a polling dispatcher that
// leases queued jobs to executors, a redis-backed push queue, and a
// periodic reaper for stuck and expired records.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webmonitor/internal/config"
	"webmonitor/internal/metrics"
	"webmonitor/internal/model"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	ListQueuedJobs(ctx context.Context, limit int) ([]model.Job, error)
	AcquireJobLease(ctx context.Context, id uuid.UUID) (bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (model.Job, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, msg string) error
	RetryJob(ctx context.Context, id uuid.UUID, delay time.Duration) (bool, error)
}

// Executor runs one job to completion. It reports progress through the
// callback and returns an optional result payload. The dispatcher owns
// every job status transition; executors only do the work.
type Executor interface {
	Execute(ctx context.Context, job model.Job, progress func(pct int)) (json.RawMessage, error)
}

// Executors groups the concrete executors for each job type.
type Executors struct {
	Scan       Executor
	Discovery  Executor
	Extraction Executor
	Comparison Executor
	Cleanup    Executor
}

func (e Executors) forType(t model.JobType) Executor {
	switch t {
	case model.JobScan:
		return e.Scan
	case model.JobDiscovery:
		return e.Discovery
	case model.JobExtraction:
		return e.Extraction
	case model.JobComparison:
		return e.Comparison
	case model.JobCleanup:
		return e.Cleanup
	}
	return nil
}

// Runner polls the jobs table and dispatches runnable jobs to
// executors, bounded by a concurrency limit. It is the sole writer of
// retry transitions: a failed job with remaining budget is re-queued
// here with exponential backoff.
type Runner struct {
	cfg       *config.Config
	store     Store
	executors Executors
	logger    *slog.Logger

	// sem bounds concurrent jobs across every dispatch path, the poll
	// loop and the queue consumer alike.
	sem chan struct{}
}

// NewRunner constructs a Runner. Jobs whose type has no executor are
// marked failed.
func NewRunner(cfg *config.Config, st Store, execs Executors, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	maxJobs := cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 3
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		executors: execs,
		logger:    logger,
		sem:       make(chan struct{}, maxJobs),
	}
}

// Start launches the dispatch loop in the current goroutine. Callers
// typically run this in its own goroutine and keep the process alive.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		capacity := cap(r.sem) - len(r.sem)
		if capacity <= 0 {
			continue
		}

		queued, err := r.store.ListQueuedJobs(ctx, capacity)
		if err != nil {
			r.logger.Error("list queued jobs failed", "error", err)
			continue
		}

		for _, job := range queued {
			job := job
			go r.Dispatch(ctx, job)
		}
	}
}

// Dispatch leases one queued job and runs it, holding a concurrency
// slot for the duration. Lease acquisition is a compare-and-set, so
// losing a race with another dispatcher or with a site's
// already-running job is silent.
func (r *Runner) Dispatch(ctx context.Context, job model.Job) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-r.sem }()

	acquired, err := r.store.AcquireJobLease(ctx, job.ID)
	if err != nil {
		r.logger.Error("acquire job lease failed", "job_id", job.ID, "error", err)
		return
	}
	if !acquired {
		return
	}

	exec := r.executors.forType(job.Type)
	if exec == nil {
		msg := "UNKNOWN_JOB_TYPE: " + string(job.Type)
		if err := r.store.FailJob(context.WithoutCancel(ctx), job.ID, msg); err != nil {
			r.logger.Error("fail job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	r.logger.Info("job started", "job_id", job.ID, "type", job.Type, "site_id", job.SiteID)
	started := time.Now()

	progress := func(pct int) {
		if err := r.store.UpdateJobProgress(ctx, job.ID, pct); err != nil {
			r.logger.Debug("update job progress failed", "job_id", job.ID, "error", err)
		}
	}

	result, execErr := exec.Execute(ctx, job, progress)

	// A cancellation observed by the executor leaves the job in the
	// cancelled state already; completing or failing it is a no-op
	// because both transitions require the running state.
	finishCtx := context.WithoutCancel(ctx)
	if execErr == nil {
		if err := r.store.CompleteJob(finishCtx, job.ID, result); err != nil {
			r.logger.Error("complete job failed", "job_id", job.ID, "error", err)
		}
		metrics.RecordJob(string(job.Type), string(model.JobCompleted))
		r.logger.Info("job completed", "job_id", job.ID, "type", job.Type,
			"duration_ms", time.Since(started).Milliseconds())
		return
	}

	r.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", execErr)
	metrics.RecordJob(string(job.Type), string(model.JobFailed))
	if err := r.store.FailJob(finishCtx, job.ID, execErr.Error()); err != nil {
		r.logger.Error("fail job failed", "job_id", job.ID, "error", err)
		return
	}
	if IsNoRetry(execErr) {
		return
	}
	r.maybeRetry(finishCtx, job)
}

// NoRetry marks an error as terminal: the dispatcher fails the job
// without consuming retry budget on a condition that cannot heal.
func NoRetry(err error) error {
	return noRetryError{err: err}
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// IsNoRetry reports whether an error was marked with NoRetry.
func IsNoRetry(err error) bool {
	var n noRetryError
	return errors.As(err, &n)
}

// maybeRetry re-queues a freshly failed job when budget remains, with
// exponential backoff on the configured base delay.
func (r *Runner) maybeRetry(ctx context.Context, job model.Job) {
	current, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		r.logger.Error("reload job for retry failed", "job_id", job.ID, "error", err)
		return
	}
	if current.Status != model.JobFailed || current.RetryCount >= current.MaxRetries {
		return
	}

	backoff := time.Duration(r.cfg.Worker.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	delay := backoff << current.RetryCount

	requeued, err := r.store.RetryJob(ctx, job.ID, delay)
	if err != nil {
		r.logger.Error("retry job failed", "job_id", job.ID, "error", err)
		return
	}
	if requeued {
		r.logger.Info("job re-queued", "job_id", job.ID,
			"attempt", current.RetryCount+1, "delay", delay)
	}
}
