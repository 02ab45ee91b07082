package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/poll"
	"github.com/onnwee/merchbot/schedule"
)

// Factory builds scheduled polling tasks from definitions.
type Factory struct {
	// Campaign reads campaign pages; required for campaign tasks.
	Campaign poll.Fetcher
	// Viewers reads live viewer counts; nil disables viewers tasks.
	Viewers poll.Fetcher
	// Sender posts announcements.
	Sender bot.Sender
	// DefaultChannel receives announcements for definitions without a channel.
	DefaultChannel string
	// DefaultTemplate is used for definitions without a template.
	DefaultTemplate string
	Logger          *slog.Logger
	OnError         poll.ErrorHook
}

// Build validates d, seeds a polling task for it and returns the schedule
// entry. Seeding performs one fetch, so Build blocks for up to the fetch
// timeout.
func (f *Factory) Build(ctx context.Context, d Definition) (schedule.Entry, error) {
	if err := d.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	trigger, err := d.Trigger()
	if err != nil {
		return schedule.Entry{}, err
	}

	var fetcher poll.Fetcher
	switch d.Kind {
	case KindCampaign:
		fetcher = f.Campaign
	case KindViewers:
		fetcher = f.Viewers
	}
	if fetcher == nil {
		return schedule.Entry{}, fmt.Errorf("task %q: no fetcher configured for kind %q", d.ID, d.Kind)
	}

	tmplText := d.Template
	if tmplText == "" {
		tmplText = f.DefaultTemplate
	}
	tmpl, err := bot.ParseAnnounceTemplate(d.ID, tmplText)
	if err != nil {
		return schedule.Entry{}, err
	}
	channel := d.Channel
	if channel == "" {
		channel = f.DefaultChannel
	}
	if channel == "" {
		return schedule.Entry{}, fmt.Errorf("task %q: no announcement channel", d.ID)
	}

	source, label := d.Source, d.Label
	bound := poll.FetchFunc(func(ctx context.Context, _ string) (poll.Reading, error) {
		r, err := fetcher.Fetch(ctx, source)
		if err == nil && label != "" {
			r.Label = label
		}
		return r, err
	})

	opts := []poll.Option{poll.WithLogger(f.Logger), poll.WithErrorHook(f.OnError)}
	if label != "" {
		opts = append(opts, poll.WithLabel(label))
	}
	task := poll.New(ctx, d.ID, bound, bot.Announcer(f.Sender, channel, tmpl), opts...)
	return schedule.Entry{Job: task, Trigger: trigger}, nil
}
