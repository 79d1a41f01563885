package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/soc-core/internal/domain/model"
)

// RunnerOptions configures a Runner; one Runner processes a single
// JobType, matching the job-queue's one-lane-per-type lease semantics.
type RunnerOptions struct {
	Repo        Repository
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	JobType     model.JobType
	Handler     HandlerFunc
}

// Runner pulls ParsingJobs of a single type and executes them with a
// bounded pool of worker goroutines, renewing each job's lease while it
// runs and moving it to completed/failed on exit.
type Runner struct {
	repo    Repository
	logger  *slog.Logger
	lease   time.Duration
	workers int
	jobType model.JobType
	handler HandlerFunc
}

// NewRunner builds a Runner from opts, applying the same defaults the
// evidence-parsing job queue has always used: a 30s lease and a single
// worker unless told otherwise.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("jobs: Repo is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("jobs: Handler is required")
	}
	if !opts.JobType.Valid() {
		return nil, fmt.Errorf("jobs: invalid job type %q", opts.JobType)
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:    opts.Repo,
		logger:  logger,
		lease:   lease,
		workers: workers,
		jobType: opts.JobType,
		handler: opts.Handler,
	}, nil
}

// Run starts the worker pool and blocks until ctx is canceled or a
// worker hits a non-retryable repository error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "type", r.jobType, "workers", r.workers, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := r.repo.ReserveNext(ctx, r.jobType, r.lease)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if waitErr := r.repo.WaitForNotification(ctx, r.jobType); waitErr != nil {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) processJob(ctx context.Context, job *model.ParsingJob) {
	start := time.Now()
	logger := r.logger.With("job_id", job.ID, "job_type", job.Type)

	if err := r.handler(ctx, job); err != nil {
		if _, ferr := r.repo.Fail(ctx, job.ID, err.Error()); ferr != nil {
			logger.ErrorContext(ctx, "fail job error", "error", ferr, "original_error", err)
		}
		logger.WarnContext(ctx, "job failed", "error", err, "duration", time.Since(start))
		return
	}

	if _, err := r.repo.Complete(ctx, job.ID, job.EventsParsed); err != nil {
		logger.ErrorContext(ctx, "complete job error", "error", err)
		return
	}
	logger.InfoContext(ctx, "job completed", "events_parsed", job.EventsParsed, "duration", time.Since(start))
}
