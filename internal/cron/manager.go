// File: internal/cron/manager.go
package cron

import (
	"context"
	"time"

	"github.com/miraiminds/rouh/internal/config"
	"go.uber.org/zap"
)

// startTimeLayout is the wall-clock format jobs carry in StartTime,
// interpreted in the host's local zone.
const startTimeLayout = "2006-01-02 15:04:05"

// TaskRunner re-enters the agent loop with a stored job's query.
type TaskRunner interface {
	RunCronTask(ctx context.Context, query string) error
}

// Manager polls the store on a fixed cadence and fires every due, active
// job. One job's failure is isolated from the others; a failure of the
// polling iteration itself backs the whole loop off before retrying.
type Manager struct {
	store   *Store
	runner  TaskRunner
	logger  *zap.Logger
	poll    time.Duration
	backoff time.Duration

	now func() time.Time
}

// NewManager builds a scheduler over store that dispatches due jobs to
// runner.
func NewManager(store *Store, runner TaskRunner, cfg config.CronConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		runner:  runner,
		logger:  logger.Named("cron"),
		poll:    cfg.PollInterval,
		backoff: cfg.ErrorBackoff,
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled, checking for due jobs once per poll
// interval.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Cron manager running", zap.Duration("poll_interval", m.poll))

	timer := time.NewTimer(m.poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Cron manager stopped")
			return
		case <-timer.C:
		}

		wait := m.poll
		// A cancellation surfacing mid-iteration is shutdown, not a failure;
		// the select above exits the loop.
		if err := m.checkAndExecute(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Cron iteration failed", zap.Error(err))
			wait = m.backoff
		}
		timer.Reset(wait)
	}
}

// checkAndExecute runs every due job once. Job-level errors are logged and
// swallowed; only an iteration-level failure (currently none beyond context
// cancellation) propagates.
func (m *Manager) checkAndExecute(ctx context.Context) error {
	now := m.now()
	jobs := m.store.Jobs()

	for jobID, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !job.IsActive {
			continue
		}
		if !m.startTimePassed(job, now) {
			continue
		}

		sinceLast := now.Unix() - job.LastRun
		if sinceLast < int64(job.Interval) {
			continue
		}

		m.logger.Info("Executing due job",
			zap.String("job_id", jobID),
			zap.Int64("seconds_since_last_run", sinceLast))

		if err := m.runner.RunCronTask(ctx, job.Query); err != nil {
			m.logger.Error("Job execution failed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if err := m.store.UpdateLastRun(jobID); err != nil {
			m.logger.Error("Failed to advance last run", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return nil
}

// startTimePassed reports whether the job's optional start time has
// arrived. An unparsable start time holds the job back rather than firing
// it early.
func (m *Manager) startTimePassed(job StoredJob, now time.Time) bool {
	if job.StartTime == "" {
		return true
	}
	start, err := time.ParseInLocation(startTimeLayout, job.StartTime, time.Local)
	if err != nil {
		m.logger.Warn("Job has unparsable start time",
			zap.String("job_id", job.JobID),
			zap.String("start_time", job.StartTime),
			zap.Error(err))
		return false
	}
	return !now.Before(start)
}
