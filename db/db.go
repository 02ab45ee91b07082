// Package db provides the optional Postgres store: connection, embedded
// migrations, runtime-added task definitions and the bot's OAuth token.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/merchbot/crypto"
	"github.com/onnwee/merchbot/tasks"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(5)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return database, nil
}

// Store wraps a database handle. A nil Sealer stores tokens in plaintext.
type Store struct {
	DB     *sql.DB
	Sealer *crypto.Sealer
}

// NewStore returns a Store over database.
func NewStore(database *sql.DB, sealer *crypto.Sealer) *Store {
	return &Store{DB: database, Sealer: sealer}
}

// ListTasks returns all stored task definitions ordered by id.
func (s *Store) ListTasks(ctx context.Context) ([]tasks.Definition, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, kind, source, label, every, cron, channel, template FROM tracked_tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tasks.Definition
	for rows.Next() {
		var d tasks.Definition
		var kind string
		if err := rows.Scan(&d.ID, &kind, &d.Source, &d.Label, &d.Every, &d.Cron, &d.Channel, &d.Template); err != nil {
			return nil, err
		}
		d.Kind = tasks.Kind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveTask inserts or replaces a task definition.
func (s *Store) SaveTask(ctx context.Context, d tasks.Definition) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO tracked_tasks (id, kind, source, label, every, cron, channel, template, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (id) DO UPDATE SET
			kind=EXCLUDED.kind, source=EXCLUDED.source, label=EXCLUDED.label, every=EXCLUDED.every,
			cron=EXCLUDED.cron, channel=EXCLUDED.channel, template=EXCLUDED.template, updated_at=NOW()`,
		d.ID, string(d.Kind), d.Source, d.Label, d.Every, d.Cron, d.Channel, d.Template)
	return err
}

// DeleteTask removes a task definition; ErrNotFound when it did not exist.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tracked_tasks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Token is a stored OAuth token.
type Token struct {
	Access  string
	Refresh string
	Expiry  time.Time
	Scope   string
}

// SaveToken stores the token for provider, sealing secrets when a Sealer is set.
func (s *Store) SaveToken(ctx context.Context, provider string, t Token) error {
	access, err := s.Sealer.Seal(t.Access)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.Sealer.Seal(t.Refresh)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (provider) DO UPDATE SET
			access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at, scope=EXCLUDED.scope, updated_at=NOW()`,
		provider, access, refresh, t.Expiry, strings.TrimSpace(t.Scope))
	return err
}

// LoadToken returns the stored token for provider or ErrNotFound.
func (s *Store) LoadToken(ctx context.Context, provider string) (Token, error) {
	var t Token
	err := s.DB.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, scope FROM oauth_tokens WHERE provider=$1`, provider).
		Scan(&t.Access, &t.Refresh, &t.Expiry, &t.Scope)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, err
	}
	if t.Access, err = s.Sealer.Open(t.Access); err != nil {
		return Token{}, fmt.Errorf("open access token: %w", err)
	}
	if t.Refresh, err = s.Sealer.Open(t.Refresh); err != nil {
		return Token{}, fmt.Errorf("open refresh token: %w", err)
	}
	return t, nil
}
