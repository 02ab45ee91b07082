// Package tasks describes tracked sources and turns them into scheduled
// polling tasks.
//
// Definitions come from a YAML file, from the tracked_tasks table or from the
// admin API. Example file:
//
//	defaults:
//	  channel: "#merchbot"
//	  every: 30s
//
//	tasks:
//	  - id: tour-tee
//	    kind: campaign
//	    source: summer-tour-tee
//	    template: "{{.Delta}} more {{.Label}} sold! ({{.Total}} so far)"
//
//	  - id: stream-viewers
//	    kind: viewers
//	    source: ${TWITCH_CHANNEL:-merchbot}
//	    cron: "*/5 * * * *"
package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/schedule"
)

// Kind selects the fetcher for a definition.
type Kind string

const (
	// KindCampaign polls a merch campaign page's order count.
	KindCampaign Kind = "campaign"
	// KindViewers polls a channel's live viewer count.
	KindViewers Kind = "viewers"
)

// DefaultEvery is the trigger used when a definition sets neither every nor cron.
const DefaultEvery = time.Minute

// minEvery keeps a misconfigured interval from hammering the source.
const minEvery = time.Second

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Definition is one tracked source.
type Definition struct {
	// ID names the task in logs, metrics, status output and the admin API.
	ID string `yaml:"id" json:"id"`

	// Kind is "campaign" or "viewers".
	Kind Kind `yaml:"kind" json:"kind"`

	// Source is the campaign id or channel login. Supports ${VAR} and
	// ${VAR:-default} expansion when loaded from a file.
	Source string `yaml:"source" json:"source"`

	// Label replaces the fetched label in announcements when set.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// Every is an interval such as "30s". Mutually exclusive with Cron.
	Every string `yaml:"every,omitempty" json:"every,omitempty"`

	// Cron is a cron expression such as "*/5 * * * *" or "@hourly".
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty"`

	// Channel receives announcements; defaults to the bot's home channel.
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	// Template is a text/template for announcements; see bot.Announcement.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// Trigger returns the definition's schedule.
func (d Definition) Trigger() (schedule.Trigger, error) {
	switch {
	case d.Every != "" && d.Cron != "":
		return schedule.Trigger{}, errors.New("every and cron are mutually exclusive")
	case d.Cron != "":
		t := schedule.Cron(d.Cron)
		return t, t.Validate()
	case d.Every != "":
		dur, err := time.ParseDuration(d.Every)
		if err != nil {
			return schedule.Trigger{}, fmt.Errorf("every: %w", err)
		}
		if dur < minEvery {
			return schedule.Trigger{}, fmt.Errorf("every must be at least %s, got %s", minEvery, dur)
		}
		return schedule.Every(dur), nil
	default:
		return schedule.Every(DefaultEvery), nil
	}
}

// Validate checks the definition and reports every problem found.
func (d Definition) Validate() error {
	var errs []error
	if !idPattern.MatchString(d.ID) {
		errs = append(errs, fmt.Errorf("id %q must be lowercase letters, digits, '-' or '_'", d.ID))
	}
	switch d.Kind {
	case KindCampaign, KindViewers:
	default:
		errs = append(errs, fmt.Errorf("kind must be %q or %q, got %q", KindCampaign, KindViewers, d.Kind))
	}
	if strings.TrimSpace(d.Source) == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if _, err := d.Trigger(); err != nil {
		errs = append(errs, err)
	}
	if d.Channel != "" && !strings.HasPrefix(d.Channel, "#") {
		errs = append(errs, fmt.Errorf("channel %q must start with '#'", d.Channel))
	}
	if _, err := bot.ParseAnnounceTemplate(d.ID, d.Template); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("task %q: %w", d.ID, errors.Join(errs...))
	}
	return nil
}

// File is the YAML tasks file.
type File struct {
	Defaults Defaults     `yaml:"defaults"`
	Tasks    []Definition `yaml:"tasks"`
}

// Defaults fill in fields a definition leaves empty.
type Defaults struct {
	Channel  string `yaml:"channel"`
	Every    string `yaml:"every"`
	Template string `yaml:"template"`
}

// LoadFile reads and validates a tasks file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates tasks YAML. Unknown fields and duplicate ids are
// rejected.
func Parse(data []byte) ([]Definition, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Tasks))
	out := make([]Definition, 0, len(f.Tasks))
	for i, d := range f.Tasks {
		d = f.Defaults.apply(d)
		src, err := expandEnvVars(d.Source)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): source: %w", i, d.ID, err)
		}
		d.Source = src
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("tasks[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}

func (df Defaults) apply(d Definition) Definition {
	if d.Channel == "" {
		d.Channel = df.Channel
	}
	if d.Every == "" && d.Cron == "" {
		d.Every = df.Every
	}
	if d.Template == "" {
		d.Template = df.Template
	}
	return d
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func expandEnvVars(s string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
