package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
)

// Compile-time interface checks
var (
	_ iam.CatalogRepo     = (*Store)(nil)
	_ iam.CatalogWriter   = (*Store)(nil)
	_ iam.RoleRepo        = (*Store)(nil)
	_ iam.OverrideRepo    = (*Store)(nil)
	_ iam.EntitlementRepo = (*Store)(nil)
	_ iam.TenantRepo      = (*Store)(nil)
)

// Postgres error codes the store translates into iam error kinds
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Config holds database connection configuration
type Config struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Store implements every IAM repository on a SQL database. Queries stick to
// the dialect shared by PostgreSQL and SQLite so the test suite can run
// against an in-memory database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL and verifies the connection
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}
	if cfg.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return New(db), nil
}

// New wraps an open database
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repositories exposes the store as every IAM repository
func (s *Store) Repositories() iam.Repositories {
	return iam.Repositories{
		Catalog:      s,
		Roles:        s,
		Overrides:    s,
		Entitlements: s,
		Tenants:      s,
	}
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// timestamp normalizes times to UTC microseconds, the precision of a
// TIMESTAMP column
func (s *Store) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

// withTx runs fn in a transaction, rolling back on any error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// constraintError translates Postgres constraint violations into iam kinds;
// anything else is wrapped with op
func constraintError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return iam.BadRequestf("%s: duplicate %s", op, pqErr.Constraint)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %s: %w", op, pqErr.Constraint, iam.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// ──────────────────────────────────────────────────
// Tenants
// ──────────────────────────────────────────────────

// EnsureRestaurant registers a restaurant with permVersion 0. Existing
// restaurants keep their version. Writes that reference a restaurant call
// it inside their own transaction, so tenants are provisioned on first use.
func (s *Store) EnsureRestaurant(ctx context.Context, id uuid.UUID) error {
	return ensureRestaurant(ctx, s.db, id, s.timestamp(time.Time{}))
}

// PermVersion returns 0 for a restaurant that has never been written to
func (s *Store) PermVersion(ctx context.Context, restaurantID uuid.UUID) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT perm_version FROM restaurants WHERE id = $1", restaurantID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to get perm version: %w", err)
	}
	return version, nil
}

// BumpPermVersion provisions an unknown restaurant at version 1
func (s *Store) BumpPermVersion(ctx context.Context, restaurantID uuid.UUID) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO restaurants (id, perm_version, created_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (id) DO UPDATE SET perm_version = restaurants.perm_version + 1
		RETURNING perm_version
	`, restaurantID, s.timestamp(time.Time{})).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump perm version: %w", err)
	}
	return version, nil
}

// ensureRestaurant runs on q so it can join an open transaction
func ensureRestaurant(ctx context.Context, q querier, id uuid.UUID, createdAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO restaurants (id, perm_version, created_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, createdAt)
	if err != nil {
		return fmt.Errorf("failed to ensure restaurant: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
