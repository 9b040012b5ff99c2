package repository

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// TestPostgresRepositorySmoke exercises the Postgres backend against a real
// database spun up via testcontainers, applying the real migrations
// directory. Skipped in short mode since it needs a Docker daemon.
func TestPostgresRepositorySmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("whatsclaw_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	m, err := migrate.New("file://"+migrationsDirForTest(t), dsn)
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply migrations: %v", err)
	}

	repo, err := NewPostgresRepository(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("new postgres repository: %v", err)
	}
	defer repo.Close()

	conv, err := repo.GetOrCreateConversation(ctx, "+15557654321")
	if err != nil {
		t.Fatalf("get or create conversation: %v", err)
	}
	if _, err := repo.SaveMessage(ctx, conv.ID, RoleUser, "hello from postgres", ""); err != nil {
		t.Fatalf("save message: %v", err)
	}
	msgs, err := repo.GetRecentMessages(ctx, conv.ID, 5)
	if err != nil {
		t.Fatalf("get recent messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello from postgres" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func migrationsDirForTest(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}
