package notify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require CONVOY_DATABASE_URL.

func TestPostgresEmitter_InsertsRow(t *testing.T) {
	t.Parallel()

	raw := strings.TrimSpace(os.Getenv("CONVOY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CONVOY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	schema := "convoy_it_" + hex.EncodeToString(b)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	table := pgx.Identifier{schema, "notifications"}.Sanitize()
	ddl := fmt.Sprintf(`
CREATE SCHEMA %s;
CREATE TABLE %s (
  id         TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  kind       TEXT NOT NULL,
  payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
  is_read    BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, pgx.Identifier{schema}.Sanitize(), table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	e, err := NewPostgresEmitter(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresEmitter: %v", err)
	}
	if err := e.Notify(ctx, "acc-1", "new_message", map[string]any{"conversation_id": "c-1"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var (
		kind   string
		convID string
		isRead bool
	)
	err = pool.QueryRow(ctx,
		`SELECT kind, payload->>'conversation_id', is_read FROM `+table+` WHERE account_id = $1`,
		"acc-1",
	).Scan(&kind, &convID, &isRead)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if kind != "new_message" || convID != "c-1" || isRead {
		t.Fatalf("row: kind=%s conversation_id=%s is_read=%v", kind, convID, isRead)
	}
}

func TestWithSchema_RejectsInvalidIdentifier(t *testing.T) {
	t.Parallel()

	e := &PostgresEmitter{}
	if err := WithSchema(`convoy"; DROP`)(e); err == nil {
		t.Fatalf("expected invalid identifier error")
	}
	if err := WithSchema("  ")(e); err == nil {
		t.Fatalf("expected empty schema error")
	}
}
