// Package scheduler runs the reconciliation jobs on fixed intervals.
//
// Each job has its own ticker. A job never runs twice at the same time: a
// firing that finds the previous run still in flight is skipped, whether it
// came from the ticker or from Trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"domainwarden/internal/logging"
	"domainwarden/internal/metrics"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrNotRunning = errors.New("scheduler is not running")
)

// JobFunc is one run of a job. The context is cancelled on Stop.
type JobFunc func(ctx context.Context) error

// JobStatus is a snapshot of one job.
type JobStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Every        string     `json:"every"`
	Running      bool       `json:"running"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Runs         int64      `json:"runs"`
	Failures     int64      `json:"failures"`
	Skips        int64      `json:"skips"`
}

type definition struct {
	id    string
	name  string
	every time.Duration
	fn    JobFunc
	stop  chan struct{}
}

// state outlives definitions so a replaced job still sees its in-flight run.
type state struct {
	guard  *semaphore.Weighted
	status JobStatus
}

type Scheduler struct {
	mu      sync.Mutex
	defs    map[string]*definition
	states  map[string]*state
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *log.Logger
}

func New() *Scheduler {
	return &Scheduler{
		defs:   make(map[string]*definition),
		states: make(map[string]*state),
		log:    logging.New("scheduler"),
	}
}

// Add registers a job, replacing any job with the same id. When the
// scheduler is already running the new definition starts ticking right away.
func (s *Scheduler) Add(id, name string, every time.Duration, fn JobFunc) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.defs[id]; ok {
		close(old.stop)
	}
	def := &definition{id: id, name: name, every: every, fn: fn, stop: make(chan struct{})}
	s.defs[id] = def

	st, ok := s.states[id]
	if !ok {
		st = &state{guard: semaphore.NewWeighted(1)}
		s.states[id] = st
	}
	st.status.ID = id
	st.status.Name = name
	st.status.Every = every.String()

	if s.running {
		s.wg.Add(1)
		go s.loop(s.ctx, def, false)
	}
	return nil
}

// Start fires every job once and then on its interval until Stop or until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, def := range s.defs {
		s.wg.Add(1)
		go s.loop(s.ctx, def, true)
	}
	s.log.Infof("Scheduler started with %d jobs", len(s.defs))
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger starts an on-demand run of id in the background. It reports false
// when a run of the same job is already in flight.
func (s *Scheduler) Trigger(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false, ErrNotRunning
	}
	def, ok := s.defs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return s.fire(def), nil
}

// Status returns a snapshot of every job ordered by id.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.defs))
	for id := range s.defs {
		out = append(out, s.states[id].status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) loop(ctx context.Context, def *definition, immediate bool) {
	defer s.wg.Done()

	if immediate {
		s.mu.Lock()
		if s.running {
			s.fire(def)
		}
		s.mu.Unlock()
	}

	ticker := time.NewTicker(def.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.running {
				s.fire(def)
			}
			s.mu.Unlock()
		case <-def.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fire must be called with s.mu held.
func (s *Scheduler) fire(def *definition) bool {
	st := s.states[def.id]
	if !st.guard.TryAcquire(1) {
		st.status.Skips++
		metrics.JobRuns.WithLabelValues(def.id, "skipped").Inc()
		s.log.Warnf("Job %s is still running, skipping this run", def.id)
		return false
	}

	st.status.Running = true
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer st.guard.Release(1)
		s.execute(ctx, def, st)
	}()
	return true
}

func (s *Scheduler) execute(ctx context.Context, def *definition, st *state) {
	started := time.Now()
	err := safeRun(ctx, def.fn)
	elapsed := time.Since(started)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Errorf("Job %s failed after %s: %v", def.id, elapsed.Round(time.Millisecond), err)
	} else {
		s.log.Debugf("Job %s finished in %s", def.id, elapsed.Round(time.Millisecond))
	}
	metrics.JobRuns.WithLabelValues(def.id, outcome).Inc()
	metrics.JobDuration.WithLabelValues(def.id).Observe(elapsed.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	st.status.Running = false
	st.status.LastRun = &started
	st.status.LastDuration = elapsed.Round(time.Millisecond).String()
	st.status.Runs++
	if err != nil {
		st.status.Failures++
		st.status.LastError = err.Error()
	} else {
		st.status.LastError = ""
	}
}

// safeRun turns a panic inside a job into an error.
func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
