package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tiller/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobStore hands out a scripted batch and records releases.
type fakeJobStore struct {
	mu       sync.Mutex
	due      []store.ScanJob
	claims   int
	released []string
	cleanups int
}

func (f *fakeJobStore) UpsertJob(context.Context, store.ScanJob) error { return nil }

func (f *fakeJobStore) ListJobs(context.Context, int) ([]store.ScanJob, error) { return nil, nil }

func (f *fakeJobStore) ClaimDueJobs(_ context.Context, instanceID string, limit int, _ time.Duration) ([]store.ScanJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if len(f.due) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.due) {
		n = len(f.due)
	}
	batch := f.due[:n]
	f.due = f.due[n:]
	for i := range batch {
		batch[i].LockedBy = instanceID
	}
	return batch, nil
}

func (f *fakeJobStore) ReleaseJobLock(_ context.Context, jobID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, jobID)
	return nil
}

func (f *fakeJobStore) CleanupExpiredLocks(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0, nil
}

type recordingRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (r *recordingRunner) Run(_ context.Context, job store.ScanJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, job.ID)
	if r.fail[job.ID] {
		return errors.New("runner boom")
	}
	return nil
}

func TestTickRunsAndReleasesClaimedJobs(t *testing.T) {
	jobs := &fakeJobStore{due: []store.ScanJob{
		{ID: "j1", UserID: "u1"},
		{ID: "j2", UserID: "u2"},
	}}
	runner := &recordingRunner{}
	s := New(Config{BatchSize: 10}, jobs, runner)

	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, []string{"j1", "j2"}, runner.ran)
	assert.Equal(t, []string{"j1", "j2"}, jobs.released)
}

func TestTickReleasesEvenWhenRunnerFails(t *testing.T) {
	jobs := &fakeJobStore{due: []store.ScanJob{{ID: "j1", UserID: "u1"}}}
	runner := &recordingRunner{fail: map[string]bool{"j1": true}}
	s := New(Config{}, jobs, runner)

	// A failed run is not a tick error; the lease is still returned.
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"j1"}, jobs.released)
}

func TestRunPollsAndCleansUp(t *testing.T) {
	jobs := &fakeJobStore{due: []store.ScanJob{{ID: "j1", UserID: "u1"}}}
	runner := &recordingRunner{}
	s := New(Config{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 15 * time.Millisecond,
	}, jobs, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.GreaterOrEqual(t, jobs.claims, 1)
	assert.GreaterOrEqual(t, jobs.cleanups, 1)
	assert.Equal(t, []string{"j1"}, jobs.released)
}

func TestInstanceIDsAreUnique(t *testing.T) {
	a := New(Config{}, &fakeJobStore{}, &recordingRunner{})
	b := New(Config{}, &fakeJobStore{}, &recordingRunner{})
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
	assert.NotEmpty(t, a.InstanceID())
}
