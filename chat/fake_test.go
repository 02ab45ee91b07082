package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient mimics the connect/disconnect behaviour of *twitch.Client.
type fakeClient struct {
	login, token string
	caps         []string
	connectErr   error

	mu        sync.Mutex
	connected bool
	disc      chan struct{}
	discOnce  sync.Once
	joined    []string
	said      []string

	onConnect func()
	onPrivate func(twitch.PrivateMessage)
	onWhisper func(twitch.WhisperMessage)
	entered   chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{disc: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func (f *fakeClient) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	cb := f.onConnect
	f.mu.Unlock()
	select {
	case f.entered <- struct{}{}:
	default:
	}
	if cb != nil {
		cb()
	}
	<-f.disc
	return twitch.ErrClientDisconnected
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	connected := f.connected
	f.mu.Unlock()
	if !connected {
		return twitch.ErrConnectionIsNotOpen
	}
	f.discOnce.Do(func() { close(f.disc) })
	return nil
}

func (f *fakeClient) Join(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channels...)
}

func (f *fakeClient) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, channel+" "+text)
}

func (f *fakeClient) OnConnect(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = cb
}

func (f *fakeClient) OnPrivateMessage(cb func(twitch.PrivateMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPrivate = cb
}

func (f *fakeClient) OnWhisperMessage(cb func(twitch.WhisperMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWhisper = cb
}

func (f *fakeClient) OnSelfJoinMessage(func(twitch.UserJoinMessage)) {}

func (f *fakeClient) OnNoticeMessage(func(twitch.NoticeMessage)) {}

func (f *fakeClient) snapshot() (said, joined []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...), append([]string(nil), f.joined...)
}

// fakeSender records whispers sent through Helix.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) SendWhisper(_ context.Context, toUserID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, toUserID+" "+text)
	return nil
}

func (s *fakeSender) whispers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// factoryFor returns a clientFactory that records its arguments into f.
func factoryFor(f *fakeClient) clientFactory {
	return func(login, token string, caps []string) ircClient {
		f.login, f.token, f.caps = login, token, caps
		return f
	}
}
