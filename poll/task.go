// Package poll implements delta-reporting polling tasks.
//
// A Task samples an external integer (a campaign's order count, a stream's
// viewer count) through a Fetcher and calls its Handler only when the reading
// went up since the previous successful sample. Decreases and unchanged
// readings are absorbed silently; failed fetches change nothing.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/merchbot/telemetry"
)

// Reading is one sample of an external source.
type Reading struct {
	Value int
	Label string
}

// Fetcher reads the current value of the source identified by id.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (Reading, error)
}

// FetchFunc adapts a plain function to Fetcher.
type FetchFunc func(ctx context.Context, id string) (Reading, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, id string) (Reading, error) { return f(ctx, id) }

// Handler receives a positive delta together with the already-updated task.
type Handler func(ctx context.Context, delta int, t *Task)

// ErrorHook observes failures that are otherwise only logged.
type ErrorHook func(t *Task, err error)

// FetchError reports a failed external read for a task.
type FetchError struct {
	TaskID string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("poll %s: fetch failed: %v", e.TaskID, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err carries a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Snapshot is an immutable copy of a task's observable state.
type Snapshot struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Value     int       `json:"value"`
	Seeded    bool      `json:"seeded"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Task polls one source. Invoke must not be called concurrently for the same
// task; the scheduler provides that guarantee, so the value fields carry no lock.
type Task struct {
	id      string
	fetcher Fetcher
	handler Handler
	onError ErrorHook
	logger  *slog.Logger
	timeout time.Duration

	label  string
	last   int
	seeded bool

	snap atomic.Pointer[Snapshot]
}

// Option configures a Task.
type Option func(*Task)

// WithLogger sets the task logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithErrorHook registers a hook invoked for every failed fetch.
func WithErrorHook(h ErrorHook) Option { return func(t *Task) { t.onError = h } }

// WithLabel sets the label shown before the first successful fetch.
func WithLabel(label string) Option { return func(t *Task) { t.label = label } }

// WithTimeout bounds each fetch (default 10s; 0 disables).
func WithTimeout(d time.Duration) Option { return func(t *Task) { t.timeout = d } }

// New builds a task and seeds its baseline from an initial fetch, so the
// first scheduled invocation reports only what changed since construction.
// When the seeding fetch fails the task stays unseeded and its first
// successful invocation establishes the baseline without calling the handler.
func New(ctx context.Context, id string, f Fetcher, h Handler, opts ...Option) *Task {
	t := &Task{
		id:      id,
		fetcher: f,
		handler: h,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = t.logger.With(slog.String("component", "poll"), slog.String("task", id))

	r, err := t.fetch(ctx)
	if err != nil {
		t.fail(ctx, err)
	} else {
		t.label = r.Label
		t.last = r.Value
		t.seeded = true
		t.logger.Info("polling task seeded", slog.Int("value", r.Value), slog.String("label", r.Label))
	}
	t.publish()
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Label returns the most recently fetched display label.
func (t *Task) Label() string { return t.label }

// LastValue returns the last successfully observed value.
func (t *Task) LastValue() int { return t.last }

// Seeded reports whether a baseline has been observed.
func (t *Task) Seeded() bool { return t.seeded }

// Snapshot returns the state published by the latest invocation. Safe for
// concurrent use.
func (t *Task) Snapshot() Snapshot {
	if s := t.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{ID: t.id}
}

// Invoke fetches the current reading, computes the delta against the last
// observed value and reports positive deltas to the handler.
func (t *Task) Invoke(ctx context.Context) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "poll", "poll.invoke", telemetry.TaskAttr(t.id))
	defer span.End()

	r, err := t.fetch(ctx)
	if err != nil {
		telemetry.ObservePoll(t.id, true)
		telemetry.RecordError(span, err)
		return t.fail(ctx, err)
	}
	telemetry.ObservePoll(t.id, false)

	if !t.seeded {
		t.label, t.last, t.seeded = r.Label, r.Value, true
		t.publish()
		telemetry.LoggerWithCorr(ctx, t.logger).Info("polling task seeded late", slog.Int("value", r.Value))
		telemetry.SetSpanSuccess(span)
		return nil
	}

	delta := r.Value - t.last
	t.label = r.Label
	t.last = r.Value
	t.publish()
	span.SetAttributes(telemetry.DeltaAttr(delta))

	if delta > 0 {
		telemetry.AddDelta(t.id, delta)
		telemetry.LoggerWithCorr(ctx, t.logger).Info("positive delta", slog.Int("delta", delta), slog.Int("value", r.Value))
		if t.handler != nil {
			t.handler(ctx, delta, t)
		}
	} else {
		telemetry.LoggerWithCorr(ctx, t.logger).Debug("no increase", slog.Int("delta", delta), slog.Int("value", r.Value))
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (t *Task) fetch(ctx context.Context) (Reading, error) {
	if t.fetcher == nil {
		return Reading{}, errors.New("no fetcher configured")
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	var (
		r   Reading
		err error
	)
	telemetry.TimeFunc(telemetry.FetchDuration, func() { r, err = t.fetcher.Fetch(ctx, t.id) })
	return r, err
}

func (t *Task) fail(ctx context.Context, err error) error {
	fe := &FetchError{TaskID: t.id, Err: err}
	telemetry.LoggerWithCorr(ctx, t.logger).Error("polling fetch failed", slog.Any("err", err))
	if t.onError != nil {
		t.onError(t, fe)
	}
	return fe
}

func (t *Task) publish() {
	s := &Snapshot{ID: t.id, Label: t.label, Value: t.last, Seeded: t.seeded}
	if t.seeded {
		s.UpdatedAt = time.Now().UTC()
	}
	t.snap.Store(s)
}
