package chat

import (
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// ircClient is the subset of *twitch.Client the package drives.
type ircClient interface {
	Connect() error
	Disconnect() error
	Join(channels ...string)
	Say(channel, text string)
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnWhisperMessage(func(twitch.WhisperMessage))
	OnSelfJoinMessage(func(twitch.UserJoinMessage))
	OnNoticeMessage(func(twitch.NoticeMessage))
}

// clientFactory creates an IRC client for a login, token and CAP REQ list.
type clientFactory func(login, token string, caps []string) ircClient

func newTwitchClient(login, token string, caps []string) ircClient {
	c := twitch.NewClient(login, token)
	c.Capabilities = caps
	return c
}

// fullCapabilities is requested when the session enables capabilities.
var fullCapabilities = []string{twitch.TagsCapability, twitch.CommandsCapability, twitch.MembershipCapability}

func capabilityList(enabled bool) []string {
	if !enabled {
		return []string{}
	}
	return append([]string(nil), fullCapabilities...)
}

func oauthToken(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.HasPrefix(tok, "oauth:") {
		return tok
	}
	return "oauth:" + tok
}

// channelName strips the leading '#'; the IRC client adds it back.
func channelName(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func login(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
