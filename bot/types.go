package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/onnwee/merchbot/schedule"
)

var (
	// ErrAlreadyStarted is returned by Start on a bot that left the Created state.
	ErrAlreadyStarted = errors.New("bot already started")
	// ErrStopped is returned by registration calls after Quit.
	ErrStopped = errors.New("bot stopped")
	// ErrCapabilitiesLocked is returned by SetUseCapabilities once Start has begun;
	// the flag is read when the primary connection is created and cannot change afterwards.
	ErrCapabilitiesLocked = errors.New("capability flag is fixed once the bot starts")
)

// Session is the identity and initial configuration of the primary connection.
type Session struct {
	Name            string
	Token           string
	Channels        []string
	UseCapabilities bool
}

// HomeChannel is the bot's own channel, used as the side channel's default target.
func (s Session) HomeChannel() string { return "#" + strings.ToLower(strings.TrimPrefix(s.Name, "#")) }

// Message is an inbound chat message.
type Message struct {
	ID      string
	Channel string
	User    string
	Text    string
	Tags    map[string]string
}

// Sender sends a chat message to a channel.
type Sender interface {
	Send(channel, text string)
}

// Listener reacts to inbound chat messages; replies go through s.
type Listener interface {
	HandleMessage(s Sender, m Message)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(s Sender, m Message)

// HandleMessage calls f.
func (f ListenerFunc) HandleMessage(s Sender, m Message) { f(s, m) }

// Connection is the primary chat connection.
type Connection interface {
	Sender
	// Start connects, joins the session channels and blocks until the
	// connection ends. It returns nil after a requested Quit.
	Start(s Session) error
	// Quit requests a graceful disconnect. Safe before Start.
	Quit() error
	// AddListener registers a listener; valid before and after Start.
	AddListener(l Listener)
}

// SideChannel is the secondary background connection.
type SideChannel interface {
	Setup(identity, credential, defaultTarget string) error
	// Run blocks until ctx is cancelled, Quit is called, or the connection fails.
	Run(ctx context.Context) error
	Quit() error
}

// Scheduler runs the polling tasks.
type Scheduler interface {
	Start(ctx context.Context) error
	Schedule(e schedule.Entry) error
	Clear()
	Shutdown(ctx context.Context) error
}

// Subsystem names the part of the bot a contained failure came from.
type Subsystem string

const (
	SubsystemScheduler  Subsystem = "scheduler"
	SubsystemSide       Subsystem = "side_channel"
	SubsystemConnection Subsystem = "connection"
	SubsystemTask       Subsystem = "task"
)

// ErrorHook observes failures the bot contains and logs.
type ErrorHook func(sub Subsystem, err error)
