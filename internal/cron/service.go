package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harborline/harborline-backend/pkg/logger"
	"github.com/harborline/harborline-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
}

// Service runs each registered job on its own cadence, guarding every run
// with a per-job distributed lock so only one replica executes it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
	}, nil
}

// Run starts one scheduling loop per job and blocks until the context is
// canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var wg sync.WaitGroup
	for _, job := range s.registry.Jobs() {
		lock, err := s.locks(job.Name())
		if err != nil {
			return fmt.Errorf("build lock for %s: %w", job.Name(), err)
		}
		wg.Add(1)
		go func(job Job, lock Lock) {
			defer wg.Done()
			s.runLoop(ctx, job, lock)
		}(job, lock)
	}
	wg.Wait()
	s.logg.Info(ctx, "cron service stopped")
	return ctx.Err()
}

func (s *Service) runLoop(ctx context.Context, job Job, lock Lock) {
	interval := job.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}

	s.runJob(ctx, job, lock)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, job, lock)
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job, lock Lock) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())

	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "acquire job lock", err)
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another worker holds the lock; skipping run")
		return
	}
	defer func() {
		if relErr := lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "release job lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), duration)
	}
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(job.Name())
		}
		return
	}
	s.logg.Info(jobCtx, "job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
}
