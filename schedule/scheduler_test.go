package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingJob records invocations and the highest observed concurrency.
type countingJob struct {
	id      string
	delay   time.Duration
	err     error
	calls   atomic.Int32
	running atomic.Int32
	maxSeen atomic.Int32
}

func (j *countingJob) ID() string { return j.id }

func (j *countingJob) Invoke(ctx context.Context) error {
	n := j.running.Add(1)
	defer j.running.Add(-1)
	for {
		m := j.maxSeen.Load()
		if n <= m || j.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	j.calls.Add(1)
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
		}
	}
	return j.err
}

func TestScheduler_FiresAfterStart(t *testing.T) {
	s := New(WithLogger(testLogger()))
	job := &countingJob{id: "fast"}
	require.NoError(t, s.Schedule(Entry{Job: job, Trigger: Every(10 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return job.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_ScheduleAfterStart(t *testing.T) {
	s := New(WithLogger(testLogger()))
	require.NoError(t, s.Start(context.Background()))

	job := &countingJob{id: "late"}
	require.NoError(t, s.Schedule(Entry{Job: job, Trigger: Every(10 * time.Millisecond)}))

	require.Eventually(t, func() bool { return job.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_RejectsDuplicateIDs(t *testing.T) {
	s := New(WithLogger(testLogger()))
	defer func() { _ = s.Shutdown(context.Background()) }()

	require.NoError(t, s.Schedule(Entry{Job: &countingJob{id: "dup"}, Trigger: Every(time.Minute)}))
	err := s.Schedule(Entry{Job: &countingJob{id: "dup"}, Trigger: Every(time.Second)})
	require.ErrorIs(t, err, ErrDuplicateJob)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "@every 1m0s", entries[0].Trigger.String(), "first registration must survive")
}

func TestScheduler_RejectsInvalidTrigger(t *testing.T) {
	s := New(WithLogger(testLogger()))
	defer func() { _ = s.Shutdown(context.Background()) }()

	err := s.Schedule(Entry{Job: &countingJob{id: "bad"}, Trigger: Cron("not a cron")})
	require.ErrorIs(t, err, ErrInvalidTrigger)
	err = s.Schedule(Entry{Job: &countingJob{id: "zero"}})
	require.ErrorIs(t, err, ErrInvalidTrigger)
	require.Error(t, s.Schedule(Entry{Trigger: Every(time.Second)}))
	assert.Equal(t, 0, s.Len())
}

// A job slower than its interval must never overlap with itself.
func TestScheduler_SerializesSameEntry(t *testing.T) {
	s := New(WithLogger(testLogger()))
	slow := &countingJob{id: "slow", delay: 60 * time.Millisecond}
	require.NoError(t, s.Schedule(Entry{Job: slow, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return slow.calls.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, int32(1), slow.maxSeen.Load(), "same entry ran concurrently")
}

// Different entries run independently of one another.
func TestScheduler_EntriesRunIndependently(t *testing.T) {
	s := New(WithLogger(testLogger()))
	blocker := &countingJob{id: "blocker", delay: time.Second}
	quick := &countingJob{id: "quick"}
	require.NoError(t, s.Schedule(Entry{Job: blocker, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Schedule(Entry{Job: quick, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return quick.calls.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_ShutdownTwice(t *testing.T) {
	s := New(WithLogger(testLogger()))
	job := &countingJob{id: "j"}
	require.NoError(t, s.Schedule(Entry{Job: job, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, 0, s.Len(), "no pending entries after shutdown")
	after := job.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, job.calls.Load(), "job fired after shutdown")
}

func TestScheduler_ShutdownBeforeStart(t *testing.T) {
	s := New(WithLogger(testLogger()))
	require.NoError(t, s.Schedule(Entry{Job: &countingJob{id: "never"}, Trigger: Every(time.Millisecond)}))
	require.NoError(t, s.Shutdown(context.Background()))

	require.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	require.ErrorIs(t, s.Schedule(Entry{Job: &countingJob{id: "x"}, Trigger: Every(time.Second)}), ErrStopped)
}

func TestScheduler_ShutdownCancelsRunningJob(t *testing.T) {
	s := New(WithLogger(testLogger()))
	long := &countingJob{id: "long", delay: time.Hour}
	require.NoError(t, s.Schedule(Entry{Job: long, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return long.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(0), long.running.Load())
}

func TestScheduler_ClearAndRemove(t *testing.T) {
	s := New(WithLogger(testLogger()))
	defer func() { _ = s.Shutdown(context.Background()) }()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Schedule(Entry{Job: &countingJob{id: id}, Trigger: Cron("@hourly")}))
	}
	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ID)

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, 2, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	// cleared ids may be registered again
	require.NoError(t, s.Schedule(Entry{Job: &countingJob{id: "a"}, Trigger: Cron("@hourly")}))
}

func TestScheduler_ErrorHook(t *testing.T) {
	boom := errors.New("boom")
	var (
		mu  sync.Mutex
		got []string
	)
	s := New(WithLogger(testLogger()), WithErrorHook(func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, boom) {
			got = append(got, id)
		}
	}))
	require.NoError(t, s.Schedule(Entry{Job: &countingJob{id: "failing", err: boom}, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "failing", got[0])
}

type panicJob struct{ calls atomic.Int32 }

func (p *panicJob) ID() string { return "panics" }

func (p *panicJob) Invoke(context.Context) error {
	p.calls.Add(1)
	panic("extractor exploded")
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := New(WithLogger(testLogger()))
	job := &panicJob{}
	require.NoError(t, s.Schedule(Entry{Job: job, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return job.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

type flakyJob struct{ calls atomic.Int32 }

func (f *flakyJob) ID() string { return "flaky" }

func (f *flakyJob) Invoke(context.Context) error {
	if f.calls.Add(1) == 1 {
		panic("missing campaign name")
	}
	return nil
}

func TestScheduler_RunsAgainAfterPanic(t *testing.T) {
	s := New(WithLogger(testLogger()))
	job := &flakyJob{}
	require.NoError(t, s.Schedule(Entry{Job: job, Trigger: Every(5 * time.Millisecond)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return job.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"entry stopped firing after its first run panicked")
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "30s", want: "@every 30s"},
		{in: "*/5 * * * *", want: "*/5 * * * *"},
		{in: "0 */2 * * * *", want: "0 */2 * * * *"},
		{in: "@hourly", want: "@hourly"},
		{in: "-1s", wantErr: true},
		{in: "", wantErr: true},
		{in: "every tuesday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tr, err := ParseTrigger(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTrigger)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.String())
		})
	}
}

func TestIntervalScheduleSubSecond(t *testing.T) {
	sched, err := Every(250 * time.Millisecond).schedule()
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(250*time.Millisecond), sched.Next(now))
}
