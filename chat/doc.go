// Package chat wraps Twitch IRC for the bot.
//
// It provides three pieces:
//   - Conn: the primary connection. It joins the session channels, dispatches
//     channel messages to listeners and sends announcements. Start blocks
//     until the connection ends; Quit may be called from any goroutine, even
//     before Start, and makes Start return nil.
//   - WhisperWorker: the side channel. It owns a second IRC connection that
//     receives whispers and replies through a WhisperSender (Helix). It is
//     configured once with Setup, runs until its context is cancelled or Quit
//     is called, and can be quit safely before Setup.
//   - CommandListener: answers "!merch" in chat with the tracked sources and
//     their latest values.
//
// Credentials are a bot login and an OAuth token with chat:read/chat:edit
// scopes; the "oauth:" prefix is added when missing.
package chat
