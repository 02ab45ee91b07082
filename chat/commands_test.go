package chat

import (
	"testing"
	"time"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/poll"
)

type captureSender struct{ sent []string }

func (c *captureSender) Send(channel, text string) { c.sent = append(c.sent, channel+" "+text) }

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		name  string
		snaps []poll.Snapshot
		want  string
	}{
		{"empty", nil, "Nothing tracked right now."},
		{"unseeded only", []poll.Snapshot{{ID: "c1"}}, "Nothing tracked right now."},
		{"label fallback", []poll.Snapshot{{ID: "c1", Value: 3, Seeded: true}}, "Tracking c1: 3"},
		{"several", []poll.Snapshot{
			{ID: "c1", Label: "Tour Tee", Value: 14, Seeded: true},
			{ID: "v1", Label: "viewers", Value: 120, Seeded: true},
		}, "Tracking Tour Tee: 14 | viewers: 120"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatStatus(tt.snaps); got != tt.want {
				t.Errorf("FormatStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandListener(t *testing.T) {
	status := func() []poll.Snapshot { return []poll.Snapshot{{ID: "c1", Label: "Tee", Value: 2, Seeded: true}} }
	l := NewCommandListener(status, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	s := &captureSender{}

	l.HandleMessage(s, bot.Message{Channel: "#shop", Text: "hello there"})
	l.HandleMessage(s, bot.Message{Channel: "#shop", Text: "!MERCH please"})
	l.HandleMessage(s, bot.Message{Channel: "#shop", Text: "!merch"})
	l.HandleMessage(s, bot.Message{Channel: "#other", Text: "!merch"})
	now = now.Add(2 * time.Minute)
	l.HandleMessage(s, bot.Message{Channel: "#shop", Text: "!merch"})

	want := []string{"#shop Tracking Tee: 2", "#other Tracking Tee: 2", "#shop Tracking Tee: 2"}
	if len(s.sent) != len(want) {
		t.Fatalf("sent = %v, want %v", s.sent, want)
	}
	for i := range want {
		if s.sent[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, s.sent[i], want[i])
		}
	}
}
