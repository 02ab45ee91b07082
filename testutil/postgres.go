package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SetupTestDB creates a test database connection and runs migrate on it.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T, migrate func(*sql.DB) error) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if migrate != nil {
		if err := migrate(database); err != nil {
			_ = database.Close()
			t.Fatalf("failed to run migrations: %v", err)
		}
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}
