// Package scheduler drives recurring pipeline runs in watch mode.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/pipeline"
)

// Runner executes one complete observation run.
type Runner interface {
	Run(ctx context.Context, params pipeline.Params) (pipeline.Summary, error)
}

// RunStatus is the outcome of the most recent scheduled run.
type RunStatus struct {
	Summary pipeline.Summary
	Err     error
}

// Scheduler re-runs the pipeline on a fixed interval. Each run slides the
// fetch window forward so it always covers the params' original span ending
// at the current moment. Singleton mode skips a tick while the previous run
// is still going.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	params    pipeline.Params
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	last   RunStatus
	hasRun bool
}

// New creates a Scheduler that runs runner every interval with a window
// params.End.Sub(params.Start) long.
func New(runner Runner, params pipeline.Params, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		params:    params,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the recurring run and starts the scheduler in the
// background. The first run fires immediately.
func (s *Scheduler) Start() error {
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(s.interval).StartImmediately().Do(s.runOnce); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future runs. A run already in
// flight finishes on its own.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// LastRun returns the outcome of the most recent run and whether any run
// has completed yet.
func (s *Scheduler) LastRun() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasRun
}

func (s *Scheduler) runOnce() {
	params := s.params
	window := params.End.Sub(params.Start)
	params.End = domain.Now().UTC()
	params.Start = params.End.Add(-window)

	sum, err := s.runner.Run(context.Background(), params)

	s.mu.Lock()
	s.last = RunStatus{Summary: sum, Err: err}
	s.hasRun = true
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}
