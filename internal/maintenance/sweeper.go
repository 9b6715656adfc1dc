// Package maintenance runs the periodic background sweeps: enforcing job
// timeouts, invalidating jobs no agent ever claimed, and deleting finished
// jobs past the retention window.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"jobplane/internal/job"
)

// Store is what the sweeps need from job persistence.
type Store interface {
	ActiveJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]job.Job, error)
	JobsWithStatusIn(ctx context.Context, statuses ...job.Status) ([]job.Job, error)
	DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Lifecycle is the slice of the job service the sweeps drive transitions
// through, so notifications and metrics fire the same way they do for
// user-initiated changes.
type Lifecycle interface {
	Kill(ctx context.Context, id, reason string) error
	UpdateStatus(ctx context.Context, id string, expected, next job.Status, message string) (job.Status, error)
}

// Config holds the sweep schedules and windows. Schedules use standard cron
// expressions or @every syntax.
type Config struct {
	TimeoutSchedule   string        // how often to check running jobs against their timeout
	StaleSchedule     string        // how often to invalidate never-claimed jobs
	RetentionSchedule string        // how often to purge old finished jobs
	StaleAge          time.Duration // unclaimed jobs older than this become INVALID
	Retention         time.Duration // finished jobs older than this are deleted
	SweepTimeout      time.Duration // per-sweep deadline
}

// DefaultConfig returns the stock sweep configuration.
func DefaultConfig() Config {
	return Config{
		TimeoutSchedule:   "@every 1m",
		StaleSchedule:     "@every 5m",
		RetentionSchedule: "0 3 * * *",
		StaleAge:          time.Hour,
		Retention:         30 * 24 * time.Hour,
		SweepTimeout:      5 * time.Minute,
	}
}

// Sweeper owns the cron scheduler and the three sweep jobs.
type Sweeper struct {
	store  Store
	jobs   Lifecycle
	config Config
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper creates a sweeper. Start must be called to begin sweeping.
func NewSweeper(store Store, jobs Lifecycle, config Config) *Sweeper {
	return &Sweeper{
		store:  store,
		jobs:   jobs,
		config: config,
		cron:   cron.New(),
		logger: slog.With("component", "maintenance"),
	}
}

// Start registers the sweeps and starts the scheduler.
func (s *Sweeper) Start() error {
	entries := []struct {
		name     string
		schedule string
		run      func(ctx context.Context, now time.Time)
	}{
		{"timeout", s.config.TimeoutSchedule, func(ctx context.Context, now time.Time) { s.sweepTimeouts(ctx, now) }},
		{"stale", s.config.StaleSchedule, func(ctx context.Context, now time.Time) { s.sweepStale(ctx, now) }},
		{"retention", s.config.RetentionSchedule, func(ctx context.Context, now time.Time) { s.sweepRetention(ctx, now) }},
	}
	for _, e := range entries {
		run := e.run
		if _, err := s.cron.AddFunc(e.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
			defer cancel()
			run(ctx, time.Now())
		}); err != nil {
			return fmt.Errorf("invalid %s sweep schedule %q: %w", e.name, e.schedule, err)
		}
	}
	s.cron.Start()
	s.logger.Info("Maintenance sweeps started",
		"timeoutSchedule", s.config.TimeoutSchedule,
		"staleSchedule", s.config.StaleSchedule,
		"retentionSchedule", s.config.RetentionSchedule)
	return nil
}

// Stop stops the scheduler and waits for any in-flight sweep, or for the
// context to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached with a sweep still running")
	}
}

// sweepTimeouts kills running jobs that have exceeded their own timeout. The
// store query is a coarse prefilter; each job's configured timeout decides.
func (s *Sweeper) sweepTimeouts(ctx context.Context, now time.Time) (killed int) {
	jobs, err := s.store.ActiveJobsStartedBefore(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Timeout sweep query failed", "error", err)
		return 0
	}
	for _, j := range jobs {
		if j.TimeoutSeconds == nil || j.Started == nil {
			continue
		}
		deadline := j.Started.Add(time.Duration(*j.TimeoutSeconds) * time.Second)
		if !deadline.Before(now) {
			continue
		}
		reason := fmt.Sprintf("Job exceeded configured timeout of %d seconds", *j.TimeoutSeconds)
		if err := s.jobs.Kill(ctx, j.ID, reason); err != nil {
			s.logger.ErrorContext(ctx, "Failed to kill timed-out job", "jobId", j.ID, "error", err)
			continue
		}
		killed++
		s.logger.InfoContext(ctx, "Job killed by timeout sweep", "jobId", j.ID, "started", j.Started)
	}
	return killed
}

// sweepStale invalidates jobs no agent claimed within the stale age. Jobs an
// agent claimed in the meantime fail the guarded transition and are skipped.
func (s *Sweeper) sweepStale(ctx context.Context, now time.Time) (invalidated int) {
	jobs, err := s.store.JobsWithStatusIn(ctx, job.StatusInit, job.StatusResolved)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale sweep query failed", "error", err)
		return 0
	}
	cutoff := now.Add(-s.config.StaleAge)
	for _, j := range jobs {
		if !j.Created.Before(cutoff) {
			continue
		}
		message := fmt.Sprintf("No agent claimed the job within %s", s.config.StaleAge)
		if _, err := s.jobs.UpdateStatus(ctx, j.ID, j.Status, job.StatusInvalid, message); err != nil {
			s.logger.WarnContext(ctx, "Stale job moved on before invalidation", "jobId", j.ID, "error", err)
			continue
		}
		invalidated++
		s.logger.InfoContext(ctx, "Unclaimed job invalidated", "jobId", j.ID, "created", j.Created)
	}
	return invalidated
}

// sweepRetention deletes finished jobs past the retention window.
func (s *Sweeper) sweepRetention(ctx context.Context, now time.Time) (deleted int64) {
	deleted, err := s.store.DeleteJobsFinishedBefore(ctx, now.Add(-s.config.Retention))
	if err != nil {
		s.logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "Old finished jobs deleted", "count", deleted)
	}
	return deleted
}
