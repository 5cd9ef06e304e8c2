package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, mock
}

func TestNewRequiresConnection(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestSaveUserUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	u := auth.User{
		ID:           "01HZX0000000000000000000AA",
		Username:     "alice",
		Email:        "alice@example.org",
		Role:         auth.RoleAnalyst,
		Permissions:  auth.PermissionsFor(auth.RoleAnalyst),
		Active:       true,
		PasswordHash: "$argon2id$...",
		CreatedAt:    now,
	}

	mock.ExpectExec(`insert into users`).
		WithArgs(u.ID, "alice", "alice@example.org", "", "analyst",
			sqlmock.AnyArg(), true, false, "$argon2id$...", 0, nil, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	err := s.SaveUser(context.Background(), auth.User{ID: "u1", Username: "alice"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSaveUserPassesThroughOtherErrors(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(`insert into users`).WillReturnError(boom)

	if err := s.SaveUser(context.Background(), auth.User{ID: "u1"}); !errors.Is(err, boom) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestAppendAuditEvent(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	e := audit.Event{
		ID:         "01HZX0000000000000000000AB",
		Actor:      "u1",
		Action:     "login_success",
		Resource:   "user",
		OccurredAt: now,
		Success:    true,
		Details:    map[string]any{"ip": "10.0.0.1"},
	}

	mock.ExpectExec(`insert into audit_events`).
		WithArgs(e.ID, "u1", "login_success", "user", now, true, []byte(`{"ip":"10.0.0.1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendDefaultsEmptyDetails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`insert into audit_events`).
		WithArgs("e1", "system", "startup", "service", sqlmock.AnyArg(), true, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := audit.Event{ID: "e1", Actor: "system", Action: "startup", Resource: "service", Success: true}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
