package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one long-running background task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Every wraps fn into a Job that runs it every interval until ctx ends.
func Every(name string, interval time.Duration, fn func(ctx context.Context)) Job {
	return Job{Name: name, Run: func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				fn(ctx)
			}
		}
	}}
}

// Orchestrator runs jobs concurrently. A job returning anything but the
// context's own cancellation stops all of them.
type Orchestrator struct {
	jobs   []Job
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over jobs.
func NewOrchestrator(logger *slog.Logger, jobs ...Job) *Orchestrator {
	return &Orchestrator{jobs: jobs, logger: logger.With(slog.String("component", "pipeline"))}
}

// Run blocks until ctx ends or a job fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range o.jobs {
		g.Go(func() error {
			o.logger.InfoContext(ctx, "job started", slog.String("job", job.Name))
			err := job.Run(ctx)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", job.Name, err)
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.ErrorContext(ctx, "pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}
