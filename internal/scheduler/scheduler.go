package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiller/internal/logger"
	"tiller/internal/store"

	"github.com/google/uuid"
)

// Runner executes one leased job. Run must be safe to call twice for the same
// job; it will be, whenever a lease expires under a stalled instance.
type Runner interface {
	Run(ctx context.Context, job store.ScanJob) error
}

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	// LockTTL bounds how long a crashed instance can hold a job hostage.
	LockTTL         time.Duration
	BatchSize       int
	CleanupInterval time.Duration
	// DefaultInterval is the delay applied when releasing a job's lock.
	DefaultInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 5 * time.Minute
	}
}

// Scheduler drives recurring scan jobs through the database lease protocol.
// Multiple instances may run against the same database; the conditional
// UPDATE in ClaimDueJobs guarantees each job lands on exactly one of them.
// There are no heartbeats: a lease either gets released or expires.
type Scheduler struct {
	cfg        Config
	jobs       store.JobStore
	runner     Runner
	instanceID string
}

func New(cfg Config, jobs store.JobStore, runner Runner) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:        cfg,
		jobs:       jobs,
		runner:     runner,
		instanceID: "sched-" + uuid.NewString()[:8],
	}
}

func (s *Scheduler) InstanceID() string { return s.instanceID }

// Run polls for due jobs until ctx is done. Expired-lock cleanup rides the
// same loop on its own cadence.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.jobs == nil || s.runner == nil {
		return fmt.Errorf("scheduler not initialized")
	}
	logger.Infof("scheduler: instance %s starting, poll=%s ttl=%s", s.instanceID, s.cfg.PollInterval, s.cfg.LockTTL)
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			if n, err := s.jobs.CleanupExpiredLocks(ctx); err != nil {
				logger.Warnf("scheduler: lock cleanup failed: %v", err)
			} else if n > 0 {
				logger.Warnf("scheduler: recovered %d expired job locks", n)
			}
		case <-poll.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("scheduler: tick failed: %v", err)
			}
		}
	}
}

// Tick claims one batch of due jobs and runs them. Exposed separately so
// tests can drive the loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) error {
	claimed, err := s.jobs.ClaimDueJobs(ctx, s.instanceID, s.cfg.BatchSize, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	for _, job := range claimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runOne(ctx, job)
	}
	return nil
}

// runOne executes the job and always releases the lease, failure or not. A
// failed run is rescheduled at the normal interval; the job table is a
// schedule, not a retry queue.
func (s *Scheduler) runOne(ctx context.Context, job store.ScanJob) {
	start := time.Now()
	if err := s.runner.Run(ctx, job); err != nil {
		logger.Warnf("scheduler: job %s (user %s) failed after %s: %v", job.ID, job.UserID, time.Since(start), err)
	} else {
		logger.Debugf("scheduler: job %s done in %s", job.ID, time.Since(start))
	}
	if err := s.jobs.ReleaseJobLock(ctx, job.ID, s.cfg.DefaultInterval); err != nil {
		logger.Errorf("scheduler: releasing lock for job %s failed (lease will expire): %v", job.ID, err)
	}
}
