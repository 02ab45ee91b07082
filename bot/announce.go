package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/onnwee/merchbot/poll"
	"github.com/onnwee/merchbot/telemetry"
)

// DefaultAnnounceTemplate is used when a task definition has no template.
const DefaultAnnounceTemplate = `{{.Delta}} new {{if eq .Delta 1}}order{{else}}orders{{end}} for {{.Label}}! ({{.Total}} total)`

// Announcement is the data available to announcement templates.
type Announcement struct {
	TaskID string
	Label  string
	Delta  int
	Total  int
}

// ParseAnnounceTemplate parses an announcement template, falling back to
// DefaultAnnounceTemplate when text is blank.
func ParseAnnounceTemplate(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultAnnounceTemplate
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse announce template %s: %w", name, err)
	}
	return t, nil
}

// Announcer returns a poll handler that posts each positive delta to channel.
func Announcer(s Sender, channel string, tmpl *template.Template) poll.Handler {
	return func(ctx context.Context, delta int, t *poll.Task) {
		var b strings.Builder
		err := tmpl.Execute(&b, Announcement{TaskID: t.ID(), Label: t.Label(), Delta: delta, Total: t.LastValue()})
		if err != nil {
			telemetry.LoggerWithCorr(ctx, slog.Default()).Error("render announcement", slog.String("task", t.ID()), slog.Any("err", err))
			return
		}
		s.Send(channel, b.String())
		telemetry.IncAnnouncements()
	}
}
