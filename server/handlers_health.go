package server

import (
	"net/http"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/telemetry"
)

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready only while the bot session is running.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := h.opts.Bot.State()
	if state != bot.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"state":  state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": state.String()})
}

// HandleStatus summarizes the session and its tracked tasks.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sess := h.opts.Bot.Session()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":          h.opts.Version,
		"state":            h.opts.Bot.State().String(),
		"bot":              sess.Name,
		"channels":         sess.Channels,
		"use_capabilities": sess.UseCapabilities,
		"tracing":          telemetry.IsTracingEnabled(),
		"tasks":            h.taskViews(),
	})
}
