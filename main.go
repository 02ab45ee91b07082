// Command merchbot is a Twitch chat bot that announces merch sales and viewer
// changes. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres, runs migrations and keeps the bot's
//     OAuth token fresh.
//   - Loads tracked tasks from TASKS_FILE and the database and schedules them.
//   - Runs the chat session: the primary connection, the whisper side channel
//     and the polling scheduler.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and /tasks.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/merchbot/bot"
	"github.com/onnwee/merchbot/campaign"
	"github.com/onnwee/merchbot/chat"
	"github.com/onnwee/merchbot/config"
	"github.com/onnwee/merchbot/crypto"
	"github.com/onnwee/merchbot/db"
	"github.com/onnwee/merchbot/oauth"
	"github.com/onnwee/merchbot/poll"
	"github.com/onnwee/merchbot/schedule"
	"github.com/onnwee/merchbot/server"
	"github.com/onnwee/merchbot/tasks"
	"github.com/onnwee/merchbot/telemetry"
	"github.com/onnwee/merchbot/twitchapi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const tokenProvider = "twitch"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	slog.SetDefault(newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("merchbot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// newLogger configures level and format. Defaults: level=info, format=text.
func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	l := slog.New(handler)
	if unknown {
		l.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return l
}

func run(cfg *config.Config) error {
	if err := cfg.ValidateChatReady(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("merchbot", version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	sess := bot.Session{
		Name:            cfg.TwitchBotUsername,
		Token:           cfg.TwitchOAuthToken,
		Channels:        cfg.Channels(),
		UseCapabilities: cfg.UseCapabilities,
	}
	if store != nil {
		sess.Token = chatToken(ctx, cfg, store)
	}
	// userToken tracks the freshest chat token for Helix whispers.
	var userToken atomic.Value
	userToken.Store(sess.Token)
	if store != nil && cfg.TwitchRefreshToken != "" && cfg.HelixEnabled() {
		refresher := &oauth.Refresher{
			Store:    store,
			Provider: tokenProvider,
			Interval: cfg.TokenRefreshInterval,
			Window:   cfg.TokenRefreshWindow,
			Refresh:  oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret, "", nil),
			OnRefresh: func(t db.Token) {
				userToken.Store(t.Access)
				slog.Info("chat token refreshed; IRC uses it from the next session", slog.String("component", "oauth"))
			},
		}
		go refresher.Run(ctx)
	}

	var helix *twitchapi.HelixClient
	if cfg.HelixEnabled() {
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		helix = &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}
	}

	taskErrors := func(jobID string, err error) {
		slog.Warn("scheduled task failed", slog.String("task", jobID), slog.Any("err", err), slog.String("component", "schedule"))
	}
	sched := schedule.New(schedule.WithLogger(slog.Default()), schedule.WithErrorHook(taskErrors))
	status := func() []poll.Snapshot { return snapshots(sched) }

	conn := chat.NewConn(chat.WithConnLogger(slog.Default()))
	var side bot.SideChannel
	if cfg.WhisperEnabled {
		opts := []chat.WhisperOption{chat.WithWhisperLogger(slog.Default())}
		if helix != nil {
			opts = append(opts, chat.WithWhisperSender(&twitchapi.Whisperer{
				Client:    helix,
				FromLogin: cfg.TwitchBotUsername,
				UserToken: func() string { return userToken.Load().(string) },
			}))
		} else {
			slog.Warn("whisper replies need TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET; inbound whispers only", slog.String("component", "whisper"))
		}
		w := chat.NewWhisperWorker(opts...)
		w.OnWhisper(chat.WhisperStatus(status))
		side = w
	}
	b := bot.New(sess, conn, side, sched,
		bot.WithLogger(slog.Default()),
		bot.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	if err := b.AddListener(chat.NewCommandListener(status, cfg.CommandCooldown)); err != nil {
		return err
	}

	factory := &tasks.Factory{
		Campaign:        &campaign.PageFetcher{BaseURL: cfg.CampaignBaseURL},
		Sender:          b,
		DefaultChannel:  cfg.Channels()[0],
		DefaultTemplate: cfg.AnnounceTemplate,
		Logger:          slog.Default(),
	}
	if helix != nil {
		factory.Viewers = &twitchapi.ViewerFetcher{Client: helix}
	}
	if _, err := bot.ParseAnnounceTemplate("default", cfg.AnnounceTemplate); err != nil {
		return err
	}

	loadTasks(ctx, cfg.TasksFile, store, factory, b)

	handlers := server.NewHandlers(server.Options{
		Bot:        b,
		Scheduler:  sched,
		Builder:    factory,
		Store:      taskStore(store),
		AdminToken: cfg.AdminToken,
		RateLimit:  cfg.AdminRateLimit,
		Version:    version,
		Logger:     slog.Default(),
	})
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		b.Quit()
	}()

	err = b.Start(ctx)
	stop()
	return err
}

// openStore connects to the database when DB_DSN is set. A nil store means
// persistence is disabled.
func openStore(ctx context.Context, cfg *config.Config) (*db.Store, func(), error) {
	if cfg.DBDsn == "" {
		slog.Info("DB_DSN not set; runtime task changes will not be persisted")
		return nil, func() {}, nil
	}
	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		var err error
		if sealer, err = crypto.NewSealer(cfg.EncryptionKey); err != nil {
			return nil, nil, err
		}
	} else {
		slog.Warn("ENCRYPTION_KEY not set; stored OAuth tokens are not encrypted")
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	return db.NewStore(database, sealer), closeFn, nil
}

// chatToken prefers a stored token over the configured one and seeds the
// store from configuration on first run.
func chatToken(ctx context.Context, cfg *config.Config, store *db.Store) string {
	tok, err := store.LoadToken(ctx, tokenProvider)
	switch {
	case err == nil && tok.Access != "":
		slog.Info("using stored chat token", slog.Time("expires_at", tok.Expiry), slog.String("component", "oauth"))
		return tok.Access
	case err != nil && !errors.Is(err, db.ErrNotFound):
		slog.Warn("stored chat token unavailable; using TWITCH_OAUTH_TOKEN", slog.Any("err", err), slog.String("component", "oauth"))
		return cfg.TwitchOAuthToken
	}
	if cfg.TwitchRefreshToken != "" {
		// Unknown expiry: a zero lifetime makes the first check refresh it.
		seed := db.Token{Access: strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:"), Refresh: cfg.TwitchRefreshToken, Expiry: time.Now()}
		if err := store.SaveToken(ctx, tokenProvider, seed); err != nil {
			slog.Warn("failed to seed stored chat token", slog.Any("err", err), slog.String("component", "oauth"))
		}
	}
	return cfg.TwitchOAuthToken
}

// loadTasks schedules definitions from the tasks file, then stored ones whose
// ids the file does not define. Bad definitions are logged and skipped.
func loadTasks(ctx context.Context, path string, store *db.Store, f *tasks.Factory, b *bot.Bot) {
	var defs []tasks.Definition
	fileDefs, err := tasks.LoadFile(path)
	switch {
	case err == nil:
		defs = append(defs, fileDefs...)
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("tasks file not found; starting with stored tasks only", slog.String("path", path))
	default:
		slog.Error("tasks file rejected", slog.String("path", path), slog.Any("err", err))
	}

	if store != nil {
		stored, err := store.ListTasks(ctx)
		if err != nil {
			slog.Error("failed to list stored tasks", slog.Any("err", err))
		}
		seen := make(map[string]bool, len(defs))
		for _, d := range defs {
			seen[d.ID] = true
		}
		for _, d := range stored {
			if seen[d.ID] {
				slog.Warn("stored task shadowed by tasks file", slog.String("task", d.ID))
				continue
			}
			defs = append(defs, d)
		}
	}

	for _, d := range defs {
		entry, err := f.Build(ctx, d)
		if err != nil {
			slog.Error("task skipped", slog.String("task", d.ID), slog.Any("err", err))
			continue
		}
		if err := b.AddTask(entry); err != nil {
			slog.Error("task not scheduled", slog.String("task", d.ID), slog.Any("err", err))
		}
	}
}

func snapshots(s *schedule.Scheduler) []poll.Snapshot {
	entries := s.Entries()
	out := make([]poll.Snapshot, 0, len(entries))
	for _, e := range entries {
		if t, ok := e.Job.(*poll.Task); ok {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

// taskStore avoids handing the server a typed nil.
func taskStore(s *db.Store) server.TaskStore {
	if s == nil {
		return nil
	}
	return s
}
