// File: internal/cron/manager_test.go
package cron

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/miraiminds/rouh/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	queries []string
	err     error
}

func (f *fakeRunner) RunCronTask(_ context.Context, query string) error {
	f.queries = append(f.queries, query)
	return f.err
}

func newTestManager(t *testing.T, runner TaskRunner) (*Manager, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cron_jobs.json"))
	require.NoError(t, err)

	cfg := config.CronConfig{PollInterval: time.Second, ErrorBackoff: 5 * time.Second}
	return NewManager(store, runner, cfg, zap.NewNop()), store
}

func TestCheckAndExecute(t *testing.T) {
	t.Run("due job fires once and last run advances", func(t *testing.T) {
		runner := &fakeRunner{}
		mgr, store := newTestManager(t, runner)

		// Job last ran 301s ago with a 300s interval.
		addedAt := int64(1700000000)
		store.now = func() time.Time { return time.Unix(addedAt, 0) }
		require.NoError(t, store.AddJob("job_1", 300, "<query>check weather</query>", ""))

		checkTime := time.Unix(addedAt+301, 0)
		mgr.now = func() time.Time { return checkTime }
		store.now = func() time.Time { return checkTime }

		require.NoError(t, mgr.checkAndExecute(context.Background()))
		require.Len(t, runner.queries, 1)
		assert.Equal(t, "<query>check weather</query>", runner.queries[0])
		assert.Equal(t, checkTime.Unix(), store.Jobs()["job_1"].LastRun)

		// The same tick time does not fire the job again.
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Len(t, runner.queries, 1)
	})

	t.Run("job not yet due stays untouched", func(t *testing.T) {
		runner := &fakeRunner{}
		mgr, store := newTestManager(t, runner)

		addedAt := int64(1700000000)
		store.now = func() time.Time { return time.Unix(addedAt, 0) }
		require.NoError(t, store.AddJob("job_1", 300, "<query>q</query>", ""))

		mgr.now = func() time.Time { return time.Unix(addedAt+299, 0) }
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Empty(t, runner.queries)
	})

	t.Run("inactive job never fires", func(t *testing.T) {
		runner := &fakeRunner{}
		mgr, store := newTestManager(t, runner)

		store.now = func() time.Time { return time.Unix(1700000000, 0) }
		require.NoError(t, store.AddJob("job_1", 1, "<query>q</query>", ""))
		require.NoError(t, store.SetActive("job_1", false))

		mgr.now = func() time.Time { return time.Unix(1700009999, 0) }
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Empty(t, runner.queries)
	})

	t.Run("future start time holds the job back", func(t *testing.T) {
		runner := &fakeRunner{}
		mgr, store := newTestManager(t, runner)

		now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
		start := now.Add(time.Hour).Format(startTimeLayout)
		store.now = func() time.Time { return now.Add(-10 * time.Minute) }
		require.NoError(t, store.AddJob("job_1", 60, "<query>q</query>", start))

		mgr.now = func() time.Time { return now }
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Empty(t, runner.queries)

		// Once the start time passes, the job fires.
		mgr.now = func() time.Time { return now.Add(2 * time.Hour) }
		store.now = mgr.now
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Len(t, runner.queries, 1)
	})

	t.Run("unparsable start time holds the job back", func(t *testing.T) {
		runner := &fakeRunner{}
		mgr, store := newTestManager(t, runner)

		store.now = func() time.Time { return time.Unix(1700000000, 0) }
		require.NoError(t, store.AddJob("job_1", 1, "<query>q</query>", "next tuesday"))

		mgr.now = func() time.Time { return time.Unix(1700099999, 0) }
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Empty(t, runner.queries)
	})

	t.Run("runner failure leaves last run untouched", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("model unreachable")}
		mgr, store := newTestManager(t, runner)

		addedAt := int64(1700000000)
		store.now = func() time.Time { return time.Unix(addedAt, 0) }
		require.NoError(t, store.AddJob("job_1", 300, "<query>q</query>", ""))

		mgr.now = func() time.Time { return time.Unix(addedAt+400, 0) }
		require.NoError(t, mgr.checkAndExecute(context.Background()))

		require.Len(t, runner.queries, 1)
		assert.Equal(t, addedAt, store.Jobs()["job_1"].LastRun,
			"a failed run must be retried on the next tick")
	})

	t.Run("one failing job does not block others", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("boom")}
		mgr, store := newTestManager(t, runner)

		addedAt := int64(1700000000)
		store.now = func() time.Time { return time.Unix(addedAt, 0) }
		require.NoError(t, store.AddJob("job_a", 60, "<query>a</query>", ""))
		require.NoError(t, store.AddJob("job_b", 60, "<query>b</query>", ""))

		mgr.now = func() time.Time { return time.Unix(addedAt+100, 0) }
		require.NoError(t, mgr.checkAndExecute(context.Background()))
		assert.Len(t, runner.queries, 2, "both due jobs must be attempted")
	})
}

// cancellingRunner cancels the manager's context from inside a job, the way
// a process shutdown lands mid-iteration.
type cancellingRunner struct {
	cancel context.CancelFunc
}

func (c *cancellingRunner) RunCronTask(context.Context, string) error {
	c.cancel()
	return nil
}

func TestManagerRunCancelledMidIterationIsQuiet(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	store, err := NewStore(filepath.Join(t.TempDir(), "cron_jobs.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancellingRunner{cancel: cancel}

	cfg := config.CronConfig{PollInterval: 5 * time.Millisecond, ErrorBackoff: 5 * time.Second}
	mgr := NewManager(store, runner, cfg, zap.New(core))

	// Two due jobs: whichever runs first cancels the context, so the other
	// job's iteration observes the cancellation.
	addedAt := int64(1700000000)
	store.now = func() time.Time { return time.Unix(addedAt, 0) }
	require.NoError(t, store.AddJob("job_a", 60, "<query>a</query>", ""))
	require.NoError(t, store.AddJob("job_b", 60, "<query>b</query>", ""))
	mgr.now = func() time.Time { return time.Unix(addedAt+100, 0) }

	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after mid-iteration cancellation")
	}

	for _, entry := range observed.All() {
		assert.NotEqual(t, "Cron iteration failed", entry.Message,
			"a shutdown must not be reported as an iteration failure")
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	mgr, _ := newTestManager(t, runner)
	mgr.poll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after context cancellation")
	}
}
