package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/harborline-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeJob struct {
	mu       sync.Mutex
	name     string
	interval time.Duration
	runs     int
	err      error
}

func (j *fakeJob) Name() string            { return j.name }
func (j *fakeJob) Interval() time.Duration { return j.interval }

func (j *fakeJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return j.err
}

func (j *fakeJob) runCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

func fakeLockFactory(locks map[string]*fakeLock) LockFactory {
	return func(jobName string) (Lock, error) {
		lock, ok := locks[jobName]
		if !ok {
			return nil, errors.New("no lock for " + jobName)
		}
		return lock, nil
	}
}

func TestRegistry_keepsOrderAndSkipsNil(t *testing.T) {
	a := &fakeJob{name: "a"}
	b := &fakeJob{name: "b"}

	registry := NewRegistry(a, nil, b)
	registry.Register(nil)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name())
	assert.Equal(t, "b", jobs[1].Name())
}

func TestService_runsEveryJobAndReleasesLocks(t *testing.T) {
	jobA := &fakeJob{name: "a", interval: time.Hour}
	jobB := &fakeJob{name: "b", interval: time.Hour, err: errors.New("boom")}
	locks := map[string]*fakeLock{"a": {}, "b": {}}

	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(jobA, jobB),
		Locks:    fakeLockFactory(locks),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = svc.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Each job ran its immediate first cycle; the hour-long tickers never
	// fired inside the test window.
	assert.Equal(t, 1, jobA.runCount())
	assert.Equal(t, 1, jobB.runCount())
	assert.Equal(t, 1, locks["a"].releases)
	assert.Equal(t, 1, locks["b"].releases)
}

func TestService_skipsJobWhenLockHeld(t *testing.T) {
	job := &fakeJob{name: "a", interval: time.Hour}
	locks := map[string]*fakeLock{"a": {held: true}}

	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Locks:    fakeLockFactory(locks),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)

	assert.Equal(t, 0, job.runCount())
	assert.Equal(t, 1, locks["a"].acquires)
	assert.Equal(t, 0, locks["a"].releases)
}

func TestNewService_requiresLockFactory(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: testLogger()})
	require.Error(t, err)
}
