package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/servonhq/servon/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests and returns
// a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStoreCRUD(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer terminate()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	if err := db.CreateWorkspace(ctx, store.Workspace{ID: "ws-1", Name: "w", RootPath: "/w"}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	cfg := store.ServiceConfig{
		ID:          "svc-1",
		WorkspaceID: "ws-1",
		Name:        "api",
		RepoPath:    "/w/api",
		Command:     "npm start",
		Port:        3000,
		EnvVars:     map[string]string{"NODE_ENV": "test"},
	}
	if err := db.CreateService(ctx, cfg); err != nil {
		t.Fatalf("create service: %v", err)
	}

	got, ok, err := db.Service(ctx, "svc-1")
	if err != nil || !ok {
		t.Fatalf("service lookup: ok=%v err=%v", ok, err)
	}
	if got.Command != "npm start" || got.EnvVars["NODE_ENV"] != "test" {
		t.Fatalf("unexpected service: %+v", got)
	}

	cmd := "npm run dev"
	ok, err = db.UpdateService(ctx, "svc-1", store.ServicePatch{Command: &cmd})
	if err != nil || !ok {
		t.Fatalf("patch: ok=%v err=%v", ok, err)
	}
	got, _, _ = db.Service(ctx, "svc-1")
	if got.Command != "npm run dev" {
		t.Fatalf("patch not applied: %+v", got)
	}

	if list, err := db.Services(ctx, "ws-1"); err != nil || len(list) != 1 {
		t.Fatalf("services: %v len=%d", err, len(list))
	}

	ok, err = db.DeleteWorkspace(ctx, "ws-1")
	if err != nil || !ok {
		t.Fatalf("delete workspace: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := db.Service(ctx, "svc-1"); ok {
		t.Fatal("service survived workspace delete")
	}
}
