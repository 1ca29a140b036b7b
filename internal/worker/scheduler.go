package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodic unit of work. Run errors are logged and the job keeps
// its schedule; only context cancellation stops it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs on independent tickers.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start blocks until ctx is cancelled, running every job on its own ticker.
// Each job also fires once at startup so a restart does not wait a full
// interval to drain the queue.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			return s.runJob(ctx, job)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	log := s.logger.With("job", job.Name)
	log.InfoContext(ctx, "job started", "interval", job.Interval.String())

	s.tick(ctx, job, log)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "job stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, job, log)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job, log *slog.Logger) {
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		log.ErrorContext(ctx, "job run failed", "error", err)
	}
}
