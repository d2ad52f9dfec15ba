package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mailchat/mailchat/internal/store/postgres"
)

// NewTestDB starts a throwaway Postgres container, applies the migrations,
// and returns a connection pool. The container is terminated when the test
// finishes.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("mailchat_test"),
		tcpostgres.WithUsername("mailchat"),
		tcpostgres.WithPassword("mailchat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.RunMigrations(ctx, pool, migrationsDir(t)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pool
}

// migrationsDir locates the migrations directory relative to the package
// under test.
func migrationsDir(t *testing.T) string {
	t.Helper()

	for _, dir := range []string{
		"migrations",
		"../migrations",
		"../../migrations",
		"../../../migrations",
	} {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	t.Fatal("migrations directory not found")
	return ""
}
