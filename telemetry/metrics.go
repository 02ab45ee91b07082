// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters (labelled by task id)
	PollInvocations *prometheus.CounterVec
	PollFailures    *prometheus.CounterVec
	DeltasReported  *prometheus.CounterVec

	// Counters
	AnnouncementsSent prometheus.Counter
	WhispersReceived  prometheus.Counter

	// Histograms (seconds)
	FetchDuration prometheus.Observer

	// Gauges
	ScheduledTasksGauge prometheus.Gauge
	SessionStateGauge   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollInvocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "merchbot_poll_invocations_total", Help: "Number of polling task invocations"}, []string{"task"})
		PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "merchbot_poll_failures_total", Help: "Number of polling task invocations whose fetch failed"}, []string{"task"})
		DeltasReported = promauto.NewCounterVec(prometheus.CounterOpts{Name: "merchbot_poll_deltas_total", Help: "Sum of positive deltas delivered to handlers"}, []string{"task"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "merchbot_announcements_sent_total", Help: "Number of chat announcements sent"})
		WhispersReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "merchbot_whispers_received_total", Help: "Number of whispers received on the side channel"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "merchbot_fetch_duration_seconds", Help: "External fetch duration seconds", Buckets: prometheus.DefBuckets})
		ScheduledTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "merchbot_scheduled_tasks", Help: "Current number of scheduled polling tasks"})
		SessionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "merchbot_session_state", Help: "Session state (0=created,1=starting,2=running,3=stopping,4=stopped)"})
	})
}

// ObservePoll records one invocation of task, and a failure when failed is set.
func ObservePoll(task string, failed bool) {
	if PollInvocations != nil {
		PollInvocations.WithLabelValues(task).Inc()
	}
	if failed && PollFailures != nil {
		PollFailures.WithLabelValues(task).Inc()
	}
}

// AddDelta adds a reported delta for task.
func AddDelta(task string, delta int) {
	if DeltasReported != nil && delta > 0 {
		DeltasReported.WithLabelValues(task).Add(float64(delta))
	}
}

// IncAnnouncements counts a chat announcement.
func IncAnnouncements() { if AnnouncementsSent != nil { AnnouncementsSent.Inc() } }

// IncWhispers counts an inbound whisper.
func IncWhispers() { if WhispersReceived != nil { WhispersReceived.Inc() } }

// SetScheduledTasks records current scheduled task count.
func SetScheduledTasks(n int) { if ScheduledTasksGauge != nil { ScheduledTasksGauge.Set(float64(n)) } }

// SetSessionState records the session state ordinal.
func SetSessionState(n int) { if SessionStateGauge != nil { SessionStateGauge.Set(float64(n)) } }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns base (or the default logger when nil) with a corr attribute if present.
func LoggerWithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
