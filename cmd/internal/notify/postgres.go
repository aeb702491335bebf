package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEmitter stores notifications in the notifications table, where the
// notification center reads them.
//
// The pgx pool is owned by the caller; this emitter must NOT close it.
type PostgresEmitter struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresEmitter.
type PostgresOption func(*PostgresEmitter) error

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema (default: "convoy").
func WithSchema(schema string) PostgresOption {
	return func(e *PostgresEmitter) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notify: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("notify: invalid schema identifier")
		}
		e.schema = schema
		return nil
	}
}

// NewPostgresEmitter constructs a PostgresEmitter.
func NewPostgresEmitter(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresEmitter, error) {
	e := &PostgresEmitter{
		pool:   pool,
		schema: "convoy",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.pool == nil {
		return nil, errors.New("notify: nil pool")
	}
	return e, nil
}

func (e *PostgresEmitter) Notify(ctx context.Context, accountID, kind string, payload map[string]any) error {
	n, err := newNotification(accountID, kind, payload, e.now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	table := pgx.Identifier{e.schema, "notifications"}.Sanitize()
	if _, err := e.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, account_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		n.ID, n.AccountID, n.Kind, string(b), n.CreatedAt,
	); err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}
