package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/poll"
)

// DefaultCommand triggers the status reply.
const DefaultCommand = "!merch"

// StatusFunc lists the current task snapshots.
type StatusFunc func() []poll.Snapshot

// CommandListener answers the status command in chat.
type CommandListener struct {
	command  string
	status   StatusFunc
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastHit map[string]time.Time
}

// NewCommandListener answers DefaultCommand with a per-channel cooldown.
func NewCommandListener(status StatusFunc, cooldown time.Duration) *CommandListener {
	return &CommandListener{
		command:  DefaultCommand,
		status:   status,
		cooldown: cooldown,
		now:      time.Now,
		lastHit:  make(map[string]time.Time),
	}
}

// HandleMessage implements bot.Listener.
func (l *CommandListener) HandleMessage(s bot.Sender, m bot.Message) {
	fields := strings.Fields(m.Text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], l.command) {
		return
	}
	if !l.allow(m.Channel) {
		return
	}
	s.Send(m.Channel, FormatStatus(l.status()))
}

func (l *CommandListener) allow(channel string) bool {
	if l.cooldown <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if last, ok := l.lastHit[channel]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.lastHit[channel] = now
	return true
}

// whisperReplyTimeout bounds a status reply; handlers run on the IRC reader.
const whisperReplyTimeout = 10 * time.Second

// WhisperStatus replies to a whispered status command.
func WhisperStatus(status StatusFunc) WhisperHandler {
	return func(ctx context.Context, w *WhisperWorker, m InboundWhisper) {
		if !strings.EqualFold(strings.TrimSpace(m.Text), DefaultCommand) {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, whisperReplyTimeout)
		defer cancel()
		if err := w.Whisper(ctx, m.UserID, FormatStatus(status())); err != nil {
			w.logger.Warn("whisper reply failed", slog.String("user", m.User), slog.Any("err", err))
		}
	}
}

// FormatStatus renders snapshots as one chat line.
func FormatStatus(snaps []poll.Snapshot) string {
	parts := make([]string, 0, len(snaps))
	for _, s := range snaps {
		if !s.Seeded {
			continue
		}
		label := s.Label
		if label == "" {
			label = s.ID
		}
		parts = append(parts, fmt.Sprintf("%s: %d", label, s.Value))
	}
	if len(parts) == 0 {
		return "Nothing tracked right now."
	}
	return "Tracking " + strings.Join(parts, " | ")
}
