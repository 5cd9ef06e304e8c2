// Package auth implements the identity and access-control core: credential
// verification, lockout, session lifecycle, role-based authorization, and
// audit emission. It performs no network I/O; persistence and transport are
// collaborators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 30 * time.Minute
)

// Engine is the single service object behind every identity operation. It
// is constructed once at startup and handed to transport handlers; there is
// no ambient global state.
type Engine struct {
	users    UserStore
	sessions *SessionManager
	log      *audit.Log
	now      func() time.Time

	maxFailedAttempts int
	lockoutDuration   time.Duration
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithMaxFailedAttempts overrides the lockout threshold.
func WithMaxFailedAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxFailedAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lockout window.
func WithLockoutDuration(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.lockoutDuration = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs the engine over its collaborators.
func NewEngine(users UserStore, sessions *SessionManager, log *audit.Log, opts ...EngineOption) (*Engine, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if sessions == nil {
		return nil, errors.New("auth: session manager is required")
	}
	if log == nil {
		return nil, errors.New("auth: audit log is required")
	}
	e := &Engine{
		users:             users,
		sessions:          sessions,
		log:               log,
		now:               time.Now,
		maxFailedAttempts: defaultMaxFailedAttempts,
		lockoutDuration:   defaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Sessions exposes the session manager for transport-level wiring.
func (e *Engine) Sessions() *SessionManager { return e.sessions }

// HasPermission reports whether the user's permission set contains p.
func (e *Engine) HasPermission(u User, p Permission) bool { return u.HasPermission(p) }

// HasRoleAtLeast reports whether the user's rank meets or exceeds r.
func (e *Engine) HasRoleAtLeast(u User, r Role) bool { return u.HasRoleAtLeast(r) }

// CreateSession mints a session for a user that Authenticate accepted.
func (e *Engine) CreateSession(ctx context.Context, user User, ip, clientID string) (Grant, error) {
	return e.sessions.Issue(ctx, user, ip, clientID)
}

// ValidateSession resolves a token or session id against the live table.
func (e *Engine) ValidateSession(ctx context.Context, ref, ip string) (Session, bool) {
	return e.sessions.Validate(ctx, ref, ip)
}

// RevokeSession terminates a session; see SessionManager.Revoke.
func (e *Engine) RevokeSession(ctx context.Context, ref string) bool {
	return e.sessions.Revoke(ctx, ref)
}

// RefreshSession exchanges a refresh artifact for a new grant.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken, ip, clientID string) (Grant, error) {
	return e.sessions.Refresh(ctx, e.users, refreshToken, ip, clientID)
}

// UserByID loads a user record.
func (e *Engine) UserByID(ctx context.Context, id string) (User, error) {
	return e.users.FindByID(ctx, id)
}

// CreateUser registers a new account. The actor must hold users.manage.
// The new user's permission set is derived from its role; they are set
// together and never drift.
func (e *Engine) CreateUser(ctx context.Context, actor User, input NewUser) (User, error) {
	if !actor.HasPermission(PermManageUsers) {
		e.denied(ctx, actor.ID, "create_user_denied", "user", map[string]any{
			"username": input.Username,
		})
		return User{}, ErrPermissionDenied
	}

	username := strings.TrimSpace(strings.ToLower(input.Username))
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !input.Role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return User{}, err
	}

	user := User{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(input.FullName),
		Role:         input.Role,
		Permissions:  PermissionsFor(input.Role),
		Active:       true,
		PasswordHash: hash,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.users.Create(ctx, &user); err != nil {
		return User{}, err
	}

	e.log.Append(ctx, audit.Event{
		Actor:    actor.ID,
		Action:   "create_user",
		Resource: "user",
		Success:  true,
		Details: map[string]any{
			"user_id":  user.ID,
			"username": user.Username,
			"role":     user.Role.String(),
		},
	})
	return user, nil
}

// UpdateRole moves the target to newRole. Requires roles.manage. Role and
// permission set change in one store mutation; no observer can see them
// disagree. Denial mutates nothing and is audited as update_role_denied.
func (e *Engine) UpdateRole(ctx context.Context, actor User, targetID string, newRole Role) (User, error) {
	if !actor.HasPermission(PermManageRoles) {
		e.denied(ctx, actor.ID, "update_role_denied", "user", map[string]any{
			"user_id":  targetID,
			"new_role": newRole.String(),
		})
		return User{}, ErrPermissionDenied
	}
	if !newRole.Valid() {
		return User{}, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}

	updated, err := e.users.Update(ctx, targetID, func(u *User) error {
		u.Role = newRole
		u.Permissions = PermissionsFor(newRole)
		return nil
	})
	if err != nil {
		return User{}, err
	}

	e.log.Append(ctx, audit.Event{
		Actor:    actor.ID,
		Action:   "update_role",
		Resource: "user",
		Success:  true,
		Details: map[string]any{
			"user_id": targetID,
			"role":    newRole.String(),
		},
	})
	return updated, nil
}

// DeactivateUser disables the account and closes its sessions. Accounts are
// never hard-deleted; the record stays as a tombstone.
func (e *Engine) DeactivateUser(ctx context.Context, actor User, targetID string) (User, error) {
	if !actor.HasPermission(PermManageUsers) {
		e.denied(ctx, actor.ID, "deactivate_user_denied", "user", map[string]any{
			"user_id": targetID,
		})
		return User{}, ErrPermissionDenied
	}

	updated, err := e.users.Update(ctx, targetID, func(u *User) error {
		u.Active = false
		return nil
	})
	if err != nil {
		return User{}, err
	}
	closed := e.sessions.RevokeUser(ctx, targetID)

	e.log.Append(ctx, audit.Event{
		Actor:    actor.ID,
		Action:   "deactivate_user",
		Resource: "user",
		Success:  true,
		Details: map[string]any{
			"user_id":         targetID,
			"sessions_closed": closed,
		},
	})
	return updated, nil
}

// AuditTrail returns up to limit recent events, newest first. Requires
// audit.view.
func (e *Engine) AuditTrail(ctx context.Context, actor User, filter audit.Filter, limit int) ([]audit.Event, error) {
	if !actor.HasPermission(PermViewAudit) {
		e.denied(ctx, actor.ID, "view_audit_denied", "audit_log", nil)
		return nil, ErrPermissionDenied
	}
	return e.log.Query(filter, limit), nil
}

func (e *Engine) denied(ctx context.Context, actorID, action, resource string, details map[string]any) {
	e.log.Append(ctx, audit.Event{
		Actor:    actorID,
		Action:   action,
		Resource: resource,
		Success:  false,
		Details:  details,
	})
}
