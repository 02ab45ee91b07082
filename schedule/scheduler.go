// Package schedule runs recurring jobs on an owned cron engine.
//
// The Scheduler is an explicit instance with its own lifecycle: jobs may be
// added before or after Start, every job runs at most once at a time (a slow
// run makes the next firing skip rather than overlap), and Shutdown is
// idempotent.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onnwee/merchbot/telemetry"
)

var (
	// ErrDuplicateJob is returned when a job id is already scheduled.
	ErrDuplicateJob = errors.New("job already scheduled")
	// ErrStopped is returned once the scheduler has been shut down.
	ErrStopped = errors.New("scheduler stopped")
)

// Job is a unit of recurring work. *poll.Task satisfies it.
type Job interface {
	ID() string
	Invoke(ctx context.Context) error
}

// Entry binds a job to its trigger.
type Entry struct {
	Job     Job
	Trigger Trigger
}

// EntryInfo describes a scheduled entry for status output.
type EntryInfo struct {
	ID      string
	Trigger Trigger
	Job     Job
	Next    time.Time
	Prev    time.Time
}

// ErrorHook observes job failures.
type ErrorHook func(jobID string, err error)

// Scheduler owns one cron engine and the jobs registered on it.
type Scheduler struct {
	engine  *cron.Cron
	logger  *slog.Logger
	onError ErrorHook

	mu      sync.Mutex
	entries map[string]scheduled
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

type scheduled struct {
	id    cron.EntryID
	entry Entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHook registers a hook invoked for every failed job run.
func WithErrorHook(h ErrorHook) Option { return func(s *Scheduler) { s.onError = h } }

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  slog.Default(),
		entries: make(map[string]scheduled),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{s.logger}
	s.engine = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		// Recover runs inside SkipIfStillRunning so a panic still releases the run slot.
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start arms all registered entries. Jobs receive a context derived from ctx
// that is cancelled by Shutdown. Calling Start again is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.engine.Start()
	s.logger.Info("scheduler started", slog.Int("entries", len(s.entries)))
	return nil
}

// Schedule registers an entry. It is valid before and after Start.
func (s *Scheduler) Schedule(e Entry) error {
	if e.Job == nil {
		return errors.New("schedule: nil job")
	}
	sched, err := e.Trigger.schedule()
	if err != nil {
		return err
	}
	id := e.Job.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	eid := s.engine.Schedule(sched, cron.FuncJob(func() { s.run(e.Job) }))
	s.entries[id] = scheduled{id: eid, entry: e}
	telemetry.SetScheduledTasks(len(s.entries))
	s.logger.Info("job scheduled", slog.String("job", id), slog.String("trigger", e.Trigger.String()))
	return nil
}

// Remove unschedules a job; a run already in flight completes.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.entries[id]
	if !ok {
		return false
	}
	s.engine.Remove(sc.id)
	delete(s.entries, id)
	telemetry.SetScheduledTasks(len(s.entries))
	return true
}

// Clear unschedules every job.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sc := range s.entries {
		s.engine.Remove(sc.id)
		delete(s.entries, id)
	}
	telemetry.SetScheduledTasks(0)
}

// Shutdown cancels pending and future firings, then waits for running jobs
// until ctx expires. Subsequent calls return nil.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for id, sc := range s.entries {
		s.engine.Remove(sc.id)
		delete(s.entries, id)
	}
	telemetry.SetScheduledTasks(0)
	s.cancel()
	s.mu.Unlock()

	done := s.engine.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// Entries lists scheduled entries ordered by id.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for id, sc := range s.entries {
		ce := s.engine.Entry(sc.id)
		out = append(out, EntryInfo{ID: id, Trigger: sc.entry.Trigger, Job: sc.entry.Job, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := job.Invoke(ctx); err != nil {
		s.logger.Warn("job run failed", slog.String("job", job.ID()), slog.Any("err", err))
		if s.onError != nil {
			s.onError(job.ID(), err)
		}
	}
}

// cronLogger routes the engine's logging into slog. Routine engine chatter
// goes to debug.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{slog.Any("err", err)}, keysAndValues...)...)
}
