package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/schedule"
	"github.com/onnwee/merchbot/tasks"
)

// BotControl is the part of the bot the API drives.
type BotControl interface {
	State() bot.State
	Session() bot.Session
	AddTask(e schedule.Entry) error
}

// TaskRegistry lists and removes scheduled jobs.
type TaskRegistry interface {
	Entries() []schedule.EntryInfo
	Remove(id string) bool
}

// TaskBuilder turns a definition into a schedule entry.
type TaskBuilder interface {
	Build(ctx context.Context, d tasks.Definition) (schedule.Entry, error)
}

// TaskStore persists runtime-added definitions. Optional.
type TaskStore interface {
	SaveTask(ctx context.Context, d tasks.Definition) error
	DeleteTask(ctx context.Context, id string) error
}

// Options configures Handlers.
type Options struct {
	Bot       BotControl
	Scheduler TaskRegistry
	Builder   TaskBuilder
	Store     TaskStore
	// AdminToken guards task mutations via the X-Admin-Token header.
	AdminToken string
	// RateLimit caps task mutations per client IP per RateWindow; 0 disables.
	RateLimit  int
	RateWindow time.Duration
	Version    string
	Logger     *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts   Options
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &Handlers{opts: opts, logger: l.With(slog.String("component", "http"))}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
