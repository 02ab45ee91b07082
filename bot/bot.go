// Package bot coordinates a chat session: the primary connection, the side
// channel worker and the polling scheduler.
//
// Start sequences the subsystems (configure side channel, launch it on its
// own goroutine, start the scheduler, then block on the primary connection)
// and Quit tears them down in the opposite order of importance: scheduler
// first so no new background work begins, side channel second, primary
// connection last. Failures of the background subsystems are logged and
// reported to the error hook; only the primary connection decides whether
// the session is alive.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/merchbot/schedule"
	"github.com/onnwee/merchbot/telemetry"
)

// State is the session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Bot is the session coordinator.
type Bot struct {
	conn  Connection
	side  SideChannel
	sched Scheduler

	logger          *slog.Logger
	onError         ErrorHook
	sideStopTimeout time.Duration
	shutdownTimeout time.Duration

	mu         sync.Mutex
	session    Session
	state      State
	launched   chan struct{}
	sideCancel context.CancelFunc
	sideDone   chan struct{}

	teardownOnce sync.Once
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the bot logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithErrorHook registers a hook for contained failures.
func WithErrorHook(h ErrorHook) Option { return func(b *Bot) { b.onError = h } }

// WithSideStopTimeout bounds how long Quit waits for the side channel to exit (default 5s).
func WithSideStopTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.sideStopTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Quit waits for running tasks (default 10s).
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// New creates a bot in the Created state. side and sched may be nil to run
// without those subsystems.
func New(s Session, conn Connection, side SideChannel, sched Scheduler, opts ...Option) *Bot {
	b := &Bot{
		conn:            conn,
		side:            side,
		sched:           sched,
		logger:          slog.Default(),
		sideStopTimeout: 5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		session:         s,
		launched:        make(chan struct{}),
	}
	b.session.Channels = slices.Clone(s.Channels)
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(slog.String("component", "bot"), slog.String("name", s.Name))
	return b
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns a copy of the session configuration.
func (b *Bot) Session() Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session
	s.Channels = slices.Clone(s.Channels)
	return s
}

// SetUseCapabilities enables or disables the protocol capability request.
// The flag is read once when Start begins; afterwards it is fixed and this
// returns ErrCapabilitiesLocked without changing anything.
func (b *Bot) SetUseCapabilities(v bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateCreated {
		b.logger.Warn("capability flag change ignored after start", slog.Bool("requested", v), slog.String("state", b.state.String()))
		return ErrCapabilitiesLocked
	}
	b.session.UseCapabilities = v
	return nil
}

// UsingCapabilities reports the capability flag.
func (b *Bot) UsingCapabilities() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.UseCapabilities
}

// AddListener registers a chat listener on the primary connection.
func (b *Bot) AddListener(l Listener) error {
	if err := b.acceptingRegistrations(); err != nil {
		return err
	}
	b.conn.AddListener(l)
	return nil
}

// AddTask schedules a polling task. Valid until Quit begins.
func (b *Bot) AddTask(e schedule.Entry) error {
	if err := b.acceptingRegistrations(); err != nil {
		return err
	}
	if b.sched == nil {
		return errors.New("bot has no scheduler")
	}
	return b.sched.Schedule(e)
}

// Send passes a chat message through to the primary connection.
func (b *Bot) Send(channel, text string) { b.conn.Send(channel, text) }

func (b *Bot) acceptingRegistrations() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state >= StateStopping {
		return ErrStopped
	}
	return nil
}

// Start runs the session. It launches the side channel and the scheduler,
// then blocks on the primary connection until it ends. Background failures
// are logged; the returned error is the primary connection's.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateCreated:
	case StateStopped, StateStopping:
		b.mu.Unlock()
		return ErrStopped
	default:
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.setState(StateStarting)
	sess := b.session
	sess.Channels = slices.Clone(b.session.Channels)
	b.mu.Unlock()

	b.logger.Info("starting session", slog.Any("channels", sess.Channels), slog.Bool("capabilities", sess.UseCapabilities))

	if b.side != nil {
		if err := b.side.Setup(sess.Name, sess.Token, sess.HomeChannel()); err != nil {
			b.report(SubsystemSide, fmt.Errorf("setup: %w", err))
		} else {
			b.launchSide(ctx)
		}
	}

	if b.sched != nil {
		if err := b.sched.Start(ctx); err != nil {
			b.report(SubsystemScheduler, fmt.Errorf("start: %w", err))
		}
	}

	b.mu.Lock()
	b.setState(StateRunning)
	close(b.launched)
	b.mu.Unlock()

	err := b.conn.Start(sess)
	if err != nil {
		b.logger.Error("primary connection ended with error", slog.Any("err", err))
	} else {
		b.logger.Info("primary connection closed")
	}

	b.mu.Lock()
	if b.state == StateRunning {
		b.setState(StateStopping)
	}
	b.mu.Unlock()
	b.teardown()
	b.mu.Lock()
	b.setState(StateStopped)
	b.mu.Unlock()
	return err
}

func (b *Bot) launchSide(ctx context.Context) {
	sideCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.mu.Lock()
	b.sideCancel = cancel
	b.sideDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		if err := b.side.Run(sideCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.report(SubsystemSide, fmt.Errorf("run: %w", err))
			return
		}
		b.logger.Info("side channel exited")
	}()
}

// Quit stops the session: scheduler, then side channel, then the primary
// connection. Calling it again is a best-effort no-op; calling it while
// Start is still sequencing waits for sequencing to finish first.
func (b *Bot) Quit() {
	b.mu.Lock()
	switch b.state {
	case StateCreated:
		b.setState(StateStopped)
		b.mu.Unlock()
		b.teardown()
		return
	case StateStopping, StateStopped:
		b.mu.Unlock()
		return
	case StateStarting:
		launched := b.launched
		b.mu.Unlock()
		<-launched
		b.mu.Lock()
		if b.state != StateRunning {
			b.mu.Unlock()
			return
		}
	}
	b.setState(StateStopping)
	b.mu.Unlock()

	b.logger.Info("quitting session")
	b.teardown()
	if err := b.conn.Quit(); err != nil {
		b.report(SubsystemConnection, fmt.Errorf("quit: %w", err))
	}

	b.mu.Lock()
	b.setState(StateStopped)
	b.mu.Unlock()
}

// teardown stops the background subsystems exactly once.
func (b *Bot) teardown() {
	b.teardownOnce.Do(func() {
		if b.sched != nil {
			ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
			b.sched.Clear()
			if err := b.sched.Shutdown(ctx); err != nil {
				b.report(SubsystemScheduler, fmt.Errorf("shutdown: %w", err))
			}
			cancel()
		}

		b.mu.Lock()
		cancelSide, done := b.sideCancel, b.sideDone
		b.mu.Unlock()
		if cancelSide == nil {
			return
		}
		cancelSide()
		if err := b.side.Quit(); err != nil {
			b.report(SubsystemSide, fmt.Errorf("quit: %w", err))
		}
		select {
		case <-done:
		case <-time.After(b.sideStopTimeout):
			b.report(SubsystemSide, fmt.Errorf("did not stop within %s", b.sideStopTimeout))
		}
	})
}

func (b *Bot) setState(s State) {
	b.state = s
	telemetry.SetSessionState(int(s))
}

func (b *Bot) report(sub Subsystem, err error) {
	b.logger.Error("subsystem failure", slog.String("subsystem", string(sub)), slog.Any("err", err))
	if b.onError != nil {
		b.onError(sub, err)
	}
}
