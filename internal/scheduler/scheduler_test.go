package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobStatus(s *Scheduler, id string) JobStatus {
	for _, st := range s.Status() {
		if st.ID == id {
			return st
		}
	}
	return JobStatus{}
}

func TestScheduler_StartFiresImmediately(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("ns", "NS check", time.Hour, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	assert.True(t, s.Running())
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Add("drain", "Counter drain", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return jobStatus(s, "drain").Runs >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	var runs atomic.Int32

	require.NoError(t, s.Add("health", "Health check", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()
	<-started

	ok, err := s.Trigger("health")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), jobStatus(s, "health").Skips)
	assert.True(t, jobStatus(s, "health").Running)

	close(release)
	require.Eventually(t, func() bool { return !jobStatus(s, "health").Running }, 2*time.Second, 10*time.Millisecond)

	ok, err = s.Trigger("health")
	require.NoError(t, err)
	assert.True(t, ok)
	<-started
	require.Eventually(t, func() bool { return jobStatus(s, "health").Runs == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_ReplaceKeepsInFlightGuard(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	require.NoError(t, s.Add("ns", "NS check", time.Hour, func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	s.Start(context.Background())
	defer s.Stop()
	<-started

	replaced := make(chan struct{}, 1)
	require.NoError(t, s.Add("ns", "NS check v2", time.Hour, func(ctx context.Context) error {
		replaced <- struct{}{}
		return nil
	}))

	ok, err := s.Trigger("ns")
	require.NoError(t, err)
	assert.False(t, ok, "old run still holds the guard")
	assert.Equal(t, "NS check v2", jobStatus(s, "ns").Name)

	close(release)
	require.Eventually(t, func() bool {
		ok, _ := s.Trigger("ns")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-replaced:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement job did not run")
	}
	assert.Len(t, s.Status(), 1)
}

func TestScheduler_RecordsErrorsAndPanics(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("bad", "Failing job", time.Hour, func(ctx context.Context) error {
		return errors.New("database is locked")
	}))
	require.NoError(t, s.Add("worse", "Panicking job", time.Hour, func(ctx context.Context) error {
		panic("boom")
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return jobStatus(s, "bad").Failures == 1 && jobStatus(s, "worse").Failures == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "database is locked", jobStatus(s, "bad").LastError)
	assert.Contains(t, jobStatus(s, "worse").LastError, "panic: boom")
	assert.NotNil(t, jobStatus(s, "worse").LastRun)

	// the scheduler keeps serving after a panic
	ok, err := s.Trigger("worse")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_StopCancelsRuns(t *testing.T) {
	s := New()
	started := make(chan struct{})
	var cancelled atomic.Bool

	require.NoError(t, s.Add("long", "Long job", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, cancelled.Load())
	assert.False(t, s.Running())

	_, err := s.Trigger("long")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestScheduler_Errors(t *testing.T) {
	s := New()
	assert.Error(t, s.Add("zero", "Zero interval", 0, func(ctx context.Context) error { return nil }))

	_, err := s.Trigger("missing")
	assert.ErrorIs(t, err, ErrNotRunning)

	s.Start(context.Background())
	defer s.Stop()
	_, err = s.Trigger("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}
