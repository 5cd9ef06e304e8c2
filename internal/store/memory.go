// Package store provides the authoritative in-memory user table. The core
// assumes a single process; durability is a best-effort projection handled
// by a collaborator (see store/pg).
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
	"github.com/A1anMc/MOVEMBER-sub002/internal/ids"
	"github.com/A1anMc/MOVEMBER-sub002/internal/obs"
)

// Projection receives user snapshots for durable storage. Errors are
// logged, never returned to the mutating caller.
type Projection interface {
	SaveUser(ctx context.Context, u auth.User) error
}

// Memory is a mutex-guarded user arena. Records are addressed by generated
// identifiers that are never reused; deactivated users remain as tombstones.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]*auth.User
	byUsername map[string]string

	projection Projection
}

var _ auth.UserStore = (*Memory)(nil)

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithProjection attaches a durable write-through collaborator.
func WithProjection(p Projection) MemoryOption {
	return func(m *Memory) { m.projection = p }
}

// NewMemory constructs an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		users:      make(map[string]*auth.User),
		byUsername: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts the user, assigning an identifier when absent. Usernames
// are unique case-insensitively.
func (m *Memory) Create(ctx context.Context, u *auth.User) error {
	username := strings.TrimSpace(strings.ToLower(u.Username))
	if username == "" {
		return fmt.Errorf("%w: username is required", auth.ErrInvalidInput)
	}
	u.Username = username
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	if _, exists := m.users[u.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: user id %s", auth.ErrConflict, u.ID)
	}
	if _, exists := m.byUsername[username]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: username %s", auth.ErrConflict, username)
	}
	rec := cloneUser(*u)
	m.users[u.ID] = &rec
	m.byUsername[username] = u.ID
	m.mu.Unlock()

	m.project(ctx, rec)
	return nil
}

// FindByID returns a copy of the record.
func (m *Memory) FindByID(ctx context.Context, id string) (auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(*u), nil
}

// FindByUsername returns a copy of the record.
func (m *Memory) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[username]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return cloneUser(*u), nil
}

// Update applies fn to the record under its lock. fn sees and mutates a
// working copy; the store commits it only when fn returns nil, so a failed
// mutation leaves the record untouched and no reader ever observes an
// intermediate state.
func (m *Memory) Update(ctx context.Context, id string, fn func(*auth.User) error) (auth.User, error) {
	m.mu.Lock()
	u, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return auth.User{}, auth.ErrNotFound
	}
	work := cloneUser(*u)
	if err := fn(&work); err != nil {
		m.mu.Unlock()
		return auth.User{}, err
	}
	work.ID = u.ID
	work.Username = u.Username
	*u = cloneUser(work)
	out := cloneUser(work)
	m.mu.Unlock()

	m.project(ctx, out)
	return out, nil
}

// List returns copies of all records, tombstones included.
func (m *Memory) List(ctx context.Context) []auth.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]auth.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(*u))
	}
	return out
}

func (m *Memory) project(ctx context.Context, u auth.User) {
	if m.projection == nil {
		return
	}
	if err := m.projection.SaveUser(ctx, u); err != nil {
		obs.LogEvent(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "user projection failed",
			"user":  u.ID,
			"error": err.Error(),
		})
	}
}

func cloneUser(u auth.User) auth.User {
	perms := make([]auth.Permission, len(u.Permissions))
	copy(perms, u.Permissions)
	u.Permissions = perms
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		u.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}
