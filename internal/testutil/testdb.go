// Package testutil opens throwaway Postgres stores for integration tests.
// Tests skip when TEST_POSTGRES_DSN is not set.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"tabletop-sync/internal/config"
	"tabletop-sync/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenTestStore creates a private schema, applies every up migration to it
// and returns a store bound to that schema. cleanup drops the schema.
func OpenTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	ctx := context.Background()
	schema := pgx.Identifier{fmt.Sprintf("%s_%d", cfg.SchemaPrefix, time.Now().UnixNano())}.Sanitize()

	if err := execOnce(ctx, cfg.TestPostgresDSN, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	dropSchema := func() {
		_ = execOnce(ctx, cfg.TestPostgresDSN, "DROP SCHEMA "+schema+" CASCADE")
	}

	st, err := store.New(withSearchPath(cfg.TestPostgresDSN, strings.Trim(schema, `"`)))
	if err != nil {
		dropSchema()
		t.Fatalf("open store: %v", err)
	}
	if err := migrateUp(ctx, st); err != nil {
		st.Close()
		dropSchema()
		t.Fatalf("apply migrations: %v", err)
	}
	return st, func() {
		st.Close()
		dropSchema()
	}
}

func execOnce(ctx context.Context, dsn, sql string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	_, err = pool.Exec(ctx, sql)
	return err
}

func migrateUp(ctx context.Context, st *store.Store) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := st.Pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

// migrationsDir walks up from the test's working directory to the module
// root's migrations folder.
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(dir, "migrations")
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory not found")
		}
		dir = parent
	}
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}
