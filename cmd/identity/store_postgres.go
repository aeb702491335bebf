package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads accounts and role profiles from PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "convoy").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "convoy",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// GetAccount implements Store.
func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	const op = "identity.GetAccount"

	if s == nil || s.pool == nil {
		return Account{}, pgInvalid(op, "nil store")
	}
	accountID = NormalizeID(accountID)
	if accountID == "" {
		return Account{}, pgInvalid(op, "missing account id")
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	accounts := pgIdent(s.schema, "accounts")

	var (
		a    Account
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, role, display_name, avatar_ref, is_active, created_at
		   FROM `+accounts+`
		  WHERE id = $1`,
		accountID,
	).Scan(&a.ID, &role, &a.DisplayName, &a.AvatarRef, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return Account{}, err
	}

	r, ok := ParseRole(role)
	if !ok {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "stored role is unknown"}
	}
	a.Role = r
	return a, nil
}

// GetProfile implements Store. Driver profiles are checked before employer profiles.
func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	const op = "identity.GetProfile"

	if s == nil || s.pool == nil {
		return Profile{}, pgInvalid(op, "nil store")
	}
	profileID = NormalizeID(profileID)
	if profileID == "" {
		return Profile{}, pgInvalid(op, "missing profile id")
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	drivers := pgIdent(s.schema, "driver_profiles")
	employers := pgIdent(s.schema, "employer_profiles")

	var (
		p    Profile
		kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, 'driver' AS kind, account_id FROM `+drivers+` WHERE id = $1
		 UNION ALL
		 SELECT id, 'employer' AS kind, account_id FROM `+employers+` WHERE id = $1
		 LIMIT 1`,
		profileID,
	).Scan(&p.ID, &kind, &p.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, NotFoundError{Op: op, Resource: "profile"}
	}
	if err != nil {
		return Profile{}, err
	}
	p.Kind = ProfileKind(kind)
	return p, nil
}

// CreateAccount inserts an account row. Used for seeding and tests.
func (s *PostgresStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	const op = "identity.CreateAccount"

	if s == nil || s.pool == nil {
		return Account{}, pgInvalid(op, "nil store")
	}
	a.ID = NormalizeID(a.ID)
	a.DisplayName = NormalizeDisplayName(a.DisplayName)
	if a.ID == "" || a.DisplayName == "" || !a.Role.Valid() {
		return Account{}, pgInvalid(op, "id, display name and role are required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	accounts := pgIdent(s.schema, "accounts")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (id, role, display_name, avatar_ref, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, string(a.Role), a.DisplayName, a.AvatarRef, a.IsActive, a.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: "id"}
		}
		return Account{}, err
	}
	return a, nil
}

// CreateProfile inserts a role profile pointing at an existing account.
func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	const op = "identity.CreateProfile"

	if s == nil || s.pool == nil {
		return Profile{}, pgInvalid(op, "nil store")
	}
	p.ID = NormalizeID(p.ID)
	p.AccountID = NormalizeID(p.AccountID)
	if p.ID == "" || p.AccountID == "" {
		return Profile{}, pgInvalid(op, "profile id and account id are required")
	}

	var table string
	switch p.Kind {
	case ProfileDriver:
		table = pgIdent(s.schema, "driver_profiles")
	case ProfileEmployer:
		table = pgIdent(s.schema, "employer_profiles")
	default:
		return Profile{}, pgInvalid(op, "unknown profile kind")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, account_id) VALUES ($1, $2)`,
		p.ID, p.AccountID,
	)
	switch {
	case err == nil:
		return p, nil
	case pgIsForeignKeyViolation(err):
		return Profile{}, NotFoundError{Op: op, Resource: "account"}
	case pgIsUniqueViolation(err):
		return Profile{}, ConflictError{Op: op, Field: "profile_id"}
	default:
		return Profile{}, err
	}
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
