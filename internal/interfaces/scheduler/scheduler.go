package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds scheduler configuration.
type Config struct {
	CronSpecs    []string
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	RunOnStartup bool
	// JobProvider builds the batch of jobs for one scheduled run.
	JobProvider func(ctx context.Context) ([]Job, error)
}

// Scheduler runs periodic sync batches on cron schedules, feeding jobs into
// a worker pool.
type Scheduler struct {
	cron         *cron.Cron
	pool         *WorkerPool
	jobProvider  func(ctx context.Context) ([]Job, error)
	runOnStartup bool
	log          *logrus.Logger
}

func NewScheduler(cfg Config, log *logrus.Logger) (*Scheduler, error) {
	if len(cfg.CronSpecs) == 0 {
		return nil, fmt.Errorf("at least one cron spec is required")
	}
	if cfg.JobProvider == nil {
		return nil, fmt.Errorf("job provider is required")
	}

	s := &Scheduler{
		cron:         cron.New(),
		pool:         NewWorkerPool(cfg.WorkerCount, cfg.JobDelay, cfg.QueueSize, log),
		jobProvider:  cfg.JobProvider,
		runOnStartup: cfg.RunOnStartup,
		log:          log,
	}

	for _, spec := range cfg.CronSpecs {
		if _, err := s.cron.AddFunc(spec, s.runBatch); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}
	}

	log.WithFields(logrus.Fields{
		"specs":   cfg.CronSpecs,
		"workers": cfg.WorkerCount,
	}).Info("Scheduler initialized")

	return s, nil
}

// Start launches the worker pool and the cron loop.
func (s *Scheduler) Start() {
	s.pool.Start()

	if s.runOnStartup {
		s.log.Info("Scheduler: running initial batch on startup")
		go s.runBatch()
	}

	s.cron.Start()
	s.log.Info("Scheduler started")
}

func (s *Scheduler) runBatch() {
	jobs, err := s.jobProvider(context.Background())
	if err != nil {
		s.log.WithError(err).Error("Failed to build job batch")
		return
	}
	if len(jobs) == 0 {
		s.log.Info("Scheduler: no jobs to run")
		return
	}
	s.pool.SubmitBatch(jobs)
}

// Shutdown stops the cron loop, waits for a running trigger to finish, then
// drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-time.After(timeout):
		s.log.Warn("Scheduler: cron stop timed out")
	}

	s.pool.Shutdown(timeout)
	s.log.Info("Scheduler stopped")
}
