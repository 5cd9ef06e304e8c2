// Package pg projects user records and audit events into PostgreSQL. The
// in-memory tables stay authoritative; this store is the durability
// collaborator whose failures are surfaced through telemetry.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
)

const (
	pgErrUniqueViolation = "23505"
)

// Store wraps a database handle opened with the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

// New constructs a Store.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("pg: database connection is required")
	}
	return &Store{db: db}, nil
}

// Ping reports connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveUser upserts a user snapshot keyed by its identifier.
func (s *Store) SaveUser(ctx context.Context, u auth.User) error {
	perms, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, username, email, full_name, role, permissions,
			active, verified, password_hash, failed_attempts, locked_until,
			created_at, last_login_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (id) do update set
			email = excluded.email,
			full_name = excluded.full_name,
			role = excluded.role,
			permissions = excluded.permissions,
			active = excluded.active,
			verified = excluded.verified,
			password_hash = excluded.password_hash,
			failed_attempts = excluded.failed_attempts,
			locked_until = excluded.locked_until,
			last_login_at = excluded.last_login_at
	`, u.ID, u.Username, u.Email, u.FullName, u.Role.String(), perms,
		u.Active, u.Verified, u.PasswordHash, u.FailedAttempts, u.LockedUntil,
		u.CreatedAt, u.LastLoginAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

// Append inserts an audit event. Implements audit.Sink.
func (s *Store) Append(ctx context.Context, e audit.Event) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		encoded, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, actor, action, resource, occurred_at, success, details)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Actor, e.Action, e.Resource, e.OccurredAt, e.Success, details)
	return err
}

var _ audit.Sink = (*Store)(nil)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
