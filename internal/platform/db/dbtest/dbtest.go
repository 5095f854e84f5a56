//go:build integration

// Package dbtest runs repository tests against an embedded PostgreSQL. Each
// test gets its own migrated tenant schema.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/houmon/houmon/internal/platform/db"
)

const (
	database = "houmon"
	user     = "postgres"
	password = "postgres"
)

var pool *pgxpool.Pool

// Main starts PostgreSQL on port, runs the package tests and stops it again.
// Packages run in parallel, so each must pass its own port.
func Main(m *testing.M, port uint32) {
	runtimeDir, err := os.MkdirTemp("", fmt.Sprintf("houmon-pg-%d-", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "create runtime dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(runtimeDir)

	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Database(database).
			Username(user).
			Password(password).
			RuntimePath(runtimeDir).
			Version(embeddedpostgres.V16).
			StartTimeout(60 * time.Second),
	)
	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	pool, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		_ = pg.Stop()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	pool.Close()
	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.Exit(code)
}

// Pool returns the pool opened by Main.
func Pool() *pgxpool.Pool { return pool }

// MigrationsDir locates the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}

// Tenant creates and migrates a fresh tenant schema and returns a context
// bound to it. The connection is released when the test ends.
func Tenant(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	tenant := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	m := db.NewMigrator(pool, os.DirFS(MigrationsDir()))
	if err := db.CreateTenantSchema(ctx, pool, tenant, m); err != nil {
		t.Fatalf("create tenant schema: %v", err)
	}
	tctx, release, err := db.AcquireTenant(ctx, pool, tenant)
	if err != nil {
		t.Fatalf("acquire tenant: %v", err)
	}
	t.Cleanup(release)
	return tctx
}

// Exec runs a fixture statement on the tenant connection in ctx.
func Exec(t *testing.T, ctx context.Context, sql string, args ...interface{}) {
	t.Helper()
	if _, err := db.Conn(ctx, pool).Exec(ctx, sql, args...); err != nil {
		t.Fatalf("fixture %q: %v", firstLine(sql), err)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
