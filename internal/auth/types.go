package auth

import (
	"context"
	"time"
)

// User is an account operated by a human or service. Permissions always
// equal the role's table entry; both change together or not at all.
type User struct {
	ID             string       `json:"id"`
	Username       string       `json:"username"`
	Email          string       `json:"email"`
	FullName       string       `json:"full_name"`
	Role           Role         `json:"role"`
	Permissions    []Permission `json:"permissions"`
	Active         bool         `json:"active"`
	Verified       bool         `json:"verified"`
	PasswordHash   string       `json:"-"`
	FailedAttempts int          `json:"-"`
	LockedUntil    *time.Time   `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	LastLoginAt    *time.Time   `json:"last_login_at,omitempty"`
}

// HasPermission reports membership in the user's permission set.
func (u User) HasPermission(p Permission) bool {
	return permissionSetContains(u.Permissions, p)
}

// HasRoleAtLeast compares ranks only; it never assumes permission sets of
// higher tiers are supersets.
func (u User) HasRoleAtLeast(r Role) bool {
	return u.Role.Rank() >= r.Rank()
}

// Locked reports whether the account's lockout window is still open at now.
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Session is a time-bounded authorization grant bound to one user and one
// signed token. Usable only while Active and before ExpiresAt.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IP           string    `json:"ip"`
	ClientID     string    `json:"client_id"`
	Active       bool      `json:"active"`
	LastActivity time.Time `json:"last_activity"`
}

// NewUser carries the fields an administrator supplies when creating an
// account; everything else is derived.
type NewUser struct {
	Username string
	Email    string
	FullName string
	Role     Role
	Password string
}

// UserStore is the persistence boundary for user records. Update runs fn
// under the record's lock: read-modify-write sequences inside fn can never
// interleave with another mutation of the same record.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Update(ctx context.Context, id string, fn func(*User) error) (User, error)
}
