package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidTrigger is returned for a trigger that has neither a positive
// interval nor a parseable cron expression.
var ErrInvalidTrigger = errors.New("invalid trigger")

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Trigger is a recurrence rule: a fixed interval or a cron expression.
type Trigger struct {
	every time.Duration
	spec  string
}

// Every fires every d, starting d after the entry is armed.
func Every(d time.Duration) Trigger { return Trigger{every: d} }

// Cron fires on a cron expression ("*/5 * * * *", "0 */2 * * * *", "@hourly").
func Cron(spec string) Trigger { return Trigger{spec: strings.TrimSpace(spec)} }

// ParseTrigger accepts a Go duration ("30s") or a cron expression.
func ParseTrigger(s string) (Trigger, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Trigger{}, ErrInvalidTrigger
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := Every(d)
		return t, t.Validate()
	}
	t := Cron(s)
	return t, t.Validate()
}

// Validate checks the trigger can be scheduled.
func (t Trigger) Validate() error {
	_, err := t.schedule()
	return err
}

// String renders the trigger for logs and status output.
func (t Trigger) String() string {
	if t.spec != "" {
		return t.spec
	}
	return "@every " + t.every.String()
}

// IsZero reports whether no rule was set.
func (t Trigger) IsZero() bool { return t.every == 0 && t.spec == "" }

func (t Trigger) schedule() (cron.Schedule, error) {
	switch {
	case t.spec != "":
		s, err := cronParser.Parse(t.spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTrigger, t.spec, err)
		}
		return s, nil
	case t.every > 0:
		return interval(t.every), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTrigger, t)
	}
}

// interval is a cron.Schedule without cron.Every's one-second rounding.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }
