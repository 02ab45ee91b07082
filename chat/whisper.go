package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/merchbot/telemetry"
)

var (
	// ErrAlreadyConfigured is returned by a second Setup.
	ErrAlreadyConfigured = errors.New("whisper worker already configured")
	// ErrNotConfigured is returned by Run and Quit before Setup.
	ErrNotConfigured = errors.New("whisper worker not configured")
	// ErrWorkerStopped is returned by Run once the worker has been quit.
	ErrWorkerStopped = errors.New("whisper worker stopped")
	// ErrNotRunning is returned by Whisper while no connection is open.
	ErrNotRunning = errors.New("whisper worker not running")
	// ErrNoWhisperSender is returned by Whisper when no sender is configured.
	ErrNoWhisperSender = errors.New("whisper worker has no sender")
)

// InboundWhisper is a whisper received by the worker.
type InboundWhisper struct {
	UserID string
	User   string
	Text   string
}

// WhisperHandler handles an inbound whisper. ctx is the worker's run context.
type WhisperHandler func(ctx context.Context, w *WhisperWorker, m InboundWhisper)

// WhisperSender delivers a whisper to a Twitch user id. IRC only receives
// whispers; sending goes through Helix.
type WhisperSender interface {
	SendWhisper(ctx context.Context, toUserID, text string) error
}

// WhisperWorker is the side channel: a second IRC connection that receives
// whispers, with replies sent through a WhisperSender. Lifecycle is
// configured, running, stopped; it does not restart.
type WhisperWorker struct {
	logger      *slog.Logger
	newClient   clientFactory
	sender      WhisperSender
	stopTimeout time.Duration

	mu         sync.Mutex
	configured bool
	running    bool
	stopped    bool
	identity   string
	credential string
	target     string
	handlers   []WhisperHandler

	closing  atomic.Bool
	quitCh   chan struct{}
	quitOnce sync.Once
}

// WhisperOption configures a WhisperWorker.
type WhisperOption func(*WhisperWorker)

// WithWhisperLogger sets the worker logger.
func WithWhisperLogger(l *slog.Logger) WhisperOption {
	return func(w *WhisperWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithStopTimeout bounds how long Run waits for the connection to close (default 3s).
func WithStopTimeout(d time.Duration) WhisperOption {
	return func(w *WhisperWorker) {
		if d > 0 {
			w.stopTimeout = d
		}
	}
}

// WithWhisperSender sets how replies are delivered.
func WithWhisperSender(s WhisperSender) WhisperOption {
	return func(w *WhisperWorker) { w.sender = s }
}

// NewWhisperWorker returns an unconfigured worker.
func NewWhisperWorker(opts ...WhisperOption) *WhisperWorker {
	w := &WhisperWorker{
		logger:      slog.Default(),
		newClient:   newTwitchClient,
		stopTimeout: 3 * time.Second,
		quitCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With(slog.String("component", "whisper"))
	return w
}

// OnWhisper registers a handler for inbound whispers.
func (w *WhisperWorker) OnWhisper(h WhisperHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Setup stores the identity, credential and default target. It may be
// called once.
func (w *WhisperWorker) Setup(identity, credential, defaultTarget string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.configured {
		return ErrAlreadyConfigured
	}
	if strings.TrimSpace(identity) == "" || strings.TrimSpace(credential) == "" {
		return errors.New("whisper worker: identity and credential are required")
	}
	w.identity = login(identity)
	w.credential = oauthToken(credential)
	w.target = channelName(defaultTarget)
	w.configured = true
	return nil
}

// Target returns the default target channel, without '#'.
func (w *WhisperWorker) Target() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

// Run connects and blocks until ctx is cancelled, Quit is called or the
// connection fails. It returns nil after Quit and ctx.Err() after
// cancellation.
func (w *WhisperWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case !w.configured:
		w.mu.Unlock()
		return ErrNotConfigured
	case w.stopped:
		w.mu.Unlock()
		return ErrWorkerStopped
	case w.running:
		w.mu.Unlock()
		return errors.New("whisper worker already running")
	}
	client := w.newClient(w.identity, w.credential, []string{twitch.CommandsCapability})
	w.running = true
	target := w.target
	w.mu.Unlock()

	client.OnConnect(func() {
		if w.closing.Load() {
			_ = client.Disconnect()
			return
		}
		w.logger.Info("whisper connection ready", slog.String("target", target))
	})
	client.OnWhisperMessage(func(m twitch.WhisperMessage) {
		telemetry.IncWhispers()
		w.dispatch(ctx, InboundWhisper{UserID: m.User.ID, User: m.User.Name, Text: m.Message})
	})
	if target != "" {
		client.Join(target)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	var err error
	select {
	case err = <-errCh:
		if errors.Is(err, twitch.ErrClientDisconnected) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("whisper connection: %w", err)
		}
	case <-ctx.Done():
		err = w.close(client, errCh)
		if err == nil {
			err = ctx.Err()
		}
	case <-w.quitCh:
		err = w.close(client, errCh)
	}

	w.mu.Lock()
	w.running = false
	w.stopped = true
	w.mu.Unlock()
	return err
}

func (w *WhisperWorker) close(client ircClient, errCh <-chan error) error {
	w.closing.Store(true)
	if err := client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		w.logger.Warn("whisper disconnect", slog.Any("err", err))
	}
	select {
	case <-errCh:
		return nil
	case <-time.After(w.stopTimeout):
		return fmt.Errorf("whisper connection did not close within %s", w.stopTimeout)
	}
}

// Quit stops the worker. It is safe from any goroutine and may be repeated;
// before Setup it returns ErrNotConfigured.
func (w *WhisperWorker) Quit() error {
	w.mu.Lock()
	if !w.configured {
		w.mu.Unlock()
		return ErrNotConfigured
	}
	if !w.running {
		w.stopped = true
	}
	w.mu.Unlock()
	w.quitOnce.Do(func() { close(w.quitCh) })
	return nil
}

// Whisper sends a private message to the user with id toUserID. It is only
// valid while Run is active.
func (w *WhisperWorker) Whisper(ctx context.Context, toUserID, text string) error {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if w.sender == nil {
		return ErrNoWhisperSender
	}
	if toUserID == "" {
		return errors.New("whisper recipient id is empty")
	}
	return w.sender.SendWhisper(ctx, toUserID, text)
}

func (w *WhisperWorker) dispatch(ctx context.Context, m InboundWhisper) {
	w.mu.Lock()
	hs := append([]WhisperHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range hs {
		h(ctx, w, m)
	}
}
