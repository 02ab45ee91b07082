package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/db"
	"github.com/onnwee/merchbot/poll"
	"github.com/onnwee/merchbot/schedule"
	"github.com/onnwee/merchbot/tasks"
	"github.com/onnwee/merchbot/telemetry"
)

const maxBodyBytes = 64 << 10

type snapshotter interface {
	Snapshot() poll.Snapshot
}

type taskView struct {
	ID       string         `json:"id"`
	Trigger  string         `json:"trigger"`
	Next     *time.Time     `json:"next,omitempty"`
	Prev     *time.Time     `json:"prev,omitempty"`
	Snapshot *poll.Snapshot `json:"snapshot,omitempty"`
}

func (h *Handlers) taskViews() []taskView {
	entries := h.opts.Scheduler.Entries()
	out := make([]taskView, 0, len(entries))
	for _, e := range entries {
		v := taskView{ID: e.ID, Trigger: e.Trigger.String()}
		if !e.Next.IsZero() {
			next := e.Next
			v.Next = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			v.Prev = &prev
		}
		if s, ok := e.Job.(snapshotter); ok {
			snap := s.Snapshot()
			v.Snapshot = &snap
		}
		out = append(out, v)
	}
	return out
}

// HandleTasksList lists scheduled tasks with their latest readings.
func (h *Handlers) HandleTasksList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.taskViews()})
}

// HandleTaskCreate validates, schedules and (when a store is configured)
// persists a task definition.
func (h *Handlers) HandleTaskCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx, h.logger)

	var d tasks.Definition
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, e := range h.opts.Scheduler.Entries() {
		if e.ID == d.ID {
			writeError(w, http.StatusConflict, "task already exists: "+d.ID)
			return
		}
	}

	entry, err := h.opts.Builder.Build(ctx, d)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.opts.Bot.AddTask(entry); err != nil {
		switch {
		case errors.Is(err, schedule.ErrDuplicateJob):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, bot.ErrStopped), errors.Is(err, schedule.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if h.opts.Store != nil {
		if err := h.opts.Store.SaveTask(ctx, d); err != nil {
			h.opts.Scheduler.Remove(d.ID)
			logger.Error("persist task failed", slog.String("task", d.ID), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "failed to persist task")
			return
		}
	}

	logger.Info("task added", slog.String("task", d.ID), slog.String("kind", string(d.Kind)))
	view := taskView{ID: d.ID, Trigger: entry.Trigger.String()}
	if s, ok := entry.Job.(snapshotter); ok {
		snap := s.Snapshot()
		view.Snapshot = &snap
	}
	writeJSON(w, http.StatusCreated, view)
}

// HandleTaskDelete removes a task's stored definition, then unschedules it.
// A failed store delete leaves the task scheduled.
func (h *Handlers) HandleTaskDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	removed := false

	if h.opts.Store != nil {
		err := h.opts.Store.DeleteTask(ctx, id)
		switch {
		case err == nil:
			removed = true
		case errors.Is(err, db.ErrNotFound):
		default:
			telemetry.LoggerWithCorr(ctx, h.logger).Error("delete stored task failed", slog.String("task", id), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "failed to delete stored task")
			return
		}
	}
	if h.opts.Scheduler.Remove(id) {
		removed = true
	}
	if !removed {
		writeError(w, http.StatusNotFound, "task not found: "+id)
		return
	}
	telemetry.LoggerWithCorr(ctx, h.logger).Info("task removed", slog.String("task", id))
	w.WriteHeader(http.StatusNoContent)
}
