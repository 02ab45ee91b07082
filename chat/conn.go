package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/merchbot/bot"
)

// ErrAlreadyConnected is returned by a second Start.
var ErrAlreadyConnected = errors.New("chat: connection already started")

// Conn is the primary chat connection.
type Conn struct {
	logger    *slog.Logger
	newClient clientFactory

	mu        sync.Mutex
	client    ircClient
	quitting  bool
	listeners []bot.Listener
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithConnLogger sets the connection logger.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConn returns an unconnected Conn.
func NewConn(opts ...ConnOption) *Conn {
	c := &Conn{logger: slog.Default(), newClient: newTwitchClient}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "chat"))
	return c
}

// AddListener registers l for channel messages.
func (c *Conn) AddListener(l bot.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Send says text in channel. Messages sent before Start are dropped.
func (c *Conn) Send(channel, text string) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		c.logger.Warn("dropping message; not connected", slog.String("channel", channel))
		return
	}
	client.Say(channelName(channel), text)
}

// Start connects, joins the session channels and blocks until the connection
// ends. It returns nil when the connection was closed by Quit.
func (c *Conn) Start(s bot.Session) error {
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		return nil
	}
	if c.client != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	client := c.newClient(login(s.Name), oauthToken(s.Token), capabilityList(s.UseCapabilities))
	c.client = client
	c.mu.Unlock()

	client.OnConnect(func() {
		if c.isQuitting() {
			_ = client.Disconnect()
			return
		}
		c.logger.Info("connected to twitch chat", slog.String("login", login(s.Name)))
	})
	client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		c.logger.Info("joined channel", slog.String("channel", m.Channel))
	})
	client.OnNoticeMessage(func(m twitch.NoticeMessage) {
		c.logger.Warn("twitch notice", slog.String("channel", m.Channel), slog.String("msg_id", m.MsgID), slog.String("message", m.Message))
	})
	client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.dispatch(bot.Message{
			ID:      m.ID,
			Channel: "#" + m.Channel,
			User:    m.User.Name,
			Text:    m.Message,
			Tags:    m.Tags,
		})
	})

	channels := make([]string, 0, len(s.Channels))
	for _, ch := range s.Channels {
		if name := channelName(ch); name != "" {
			channels = append(channels, name)
		}
	}
	client.Join(channels...)

	if c.isQuitting() {
		return nil
	}
	err := client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || c.isQuitting() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chat connect: %w", err)
	}
	return nil
}

// Quit disconnects. Before Start it makes the next Start return immediately.
func (c *Conn) Quit() error {
	c.mu.Lock()
	c.quitting = true
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return fmt.Errorf("chat disconnect: %w", err)
	}
	return nil
}

func (c *Conn) isQuitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quitting
}

func (c *Conn) dispatch(m bot.Message) {
	c.mu.Lock()
	ls := append([]bot.Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		c.safeHandle(l, m)
	}
}

func (c *Conn) safeHandle(l bot.Listener, m bot.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", slog.Any("panic", r), slog.String("channel", m.Channel))
		}
	}()
	l.HandleMessage(c, m)
}
