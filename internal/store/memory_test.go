package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
)

func seedUser(t *testing.T, m *Memory, username string) auth.User {
	t.Helper()
	u := auth.User{
		Username:    username,
		Email:       username + "@example.org",
		Role:        auth.RoleAnalyst,
		Permissions: auth.PermissionsFor(auth.RoleAnalyst),
		Active:      true,
	}
	if err := m.Create(context.Background(), &u); err != nil {
		t.Fatalf("Create(%s): %v", username, err)
	}
	return u
}

func TestCreateAssignsIdentity(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "Alice")
	if u.ID == "" {
		t.Fatal("expected a generated id")
	}
	if u.Username != "alice" {
		t.Fatalf("username not normalized: %s", u.Username)
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("expected creation timestamp")
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	m := NewMemory()
	seedUser(t, m, "alice")

	dup := auth.User{Username: "ALICE", Role: auth.RoleViewer}
	if err := m.Create(context.Background(), &dup); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	blank := auth.User{Username: "   "}
	if err := m.Create(context.Background(), &blank); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank username, got %v", err)
	}
}

func TestLookupsReturnCopies(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "alice")

	got, err := m.FindByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.Permissions[0] = "mutated"
	got.Active = false

	again, err := m.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if again.Permissions[0] == "mutated" || !again.Active {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestLookupMisses(t *testing.T) {
	m := NewMemory()
	if _, err := m.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.FindByUsername(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "alice")

	boom := errors.New("boom")
	if _, err := m.Update(context.Background(), u.ID, func(rec *auth.User) error {
		rec.Active = false
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	current, _ := m.FindByID(context.Background(), u.ID)
	if !current.Active {
		t.Fatal("failed update must not commit")
	}

	updated, err := m.Update(context.Background(), u.ID, func(rec *auth.User) error {
		rec.Role = auth.RoleManager
		rec.Permissions = auth.PermissionsFor(auth.RoleManager)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Role != auth.RoleManager || !updated.HasPermission(auth.PermDataDelete) {
		t.Fatalf("role and permissions must change together: %+v", updated)
	}
}

func TestUpdatePreservesIdentity(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "alice")

	updated, err := m.Update(context.Background(), u.ID, func(rec *auth.User) error {
		rec.ID = "forged"
		rec.Username = "mallory"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != u.ID || updated.Username != "alice" {
		t.Fatalf("identity fields must be immutable: %+v", updated)
	}
	if _, err := m.FindByUsername(context.Background(), "alice"); err != nil {
		t.Fatalf("username index broken: %v", err)
	}
}

func TestDeactivationIsATombstone(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "alice")

	if _, err := m.Update(context.Background(), u.ID, func(rec *auth.User) error {
		rec.Active = false
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The record stays readable and its username stays claimed.
	got, err := m.FindByID(context.Background(), u.ID)
	if err != nil || got.Active {
		t.Fatalf("expected inactive tombstone, got %+v (%v)", got, err)
	}
	clone := auth.User{Username: "alice", Role: auth.RoleViewer}
	if err := m.Create(context.Background(), &clone); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("tombstoned username reissued: %v", err)
	}
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	m := NewMemory()
	u := seedUser(t, m, "alice")

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = m.Update(context.Background(), u.ID, func(rec *auth.User) error {
					rec.FailedAttempts++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	got, _ := m.FindByID(context.Background(), u.ID)
	if got.FailedAttempts != workers*perWorker {
		t.Fatalf("lost updates: got %d, want %d", got.FailedAttempts, workers*perWorker)
	}
}

func TestProjectionFailuresDoNotBlockWrites(t *testing.T) {
	m := NewMemory(WithProjection(&failingProjection{}))
	u := seedUser(t, m, "alice")
	if _, err := m.Update(context.Background(), u.ID, func(rec *auth.User) error {
		rec.Verified = true
		return nil
	}); err != nil {
		t.Fatalf("projection failure leaked to caller: %v", err)
	}
	got, _ := m.FindByID(context.Background(), u.ID)
	if !got.Verified {
		t.Fatal("write lost")
	}
}

func TestList(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 3; i++ {
		seedUser(t, m, fmt.Sprintf("user%d", i))
	}
	if got := m.List(context.Background()); len(got) != 3 {
		t.Fatalf("expected 3 users, got %d", len(got))
	}
}

type failingProjection struct{}

func (failingProjection) SaveUser(ctx context.Context, u auth.User) error {
	return errors.New("durable store unavailable")
}
