package auth

import (
	"context"
	"strings"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
	"github.com/A1anMc/MOVEMBER-sub002/internal/obs"
)

// Authenticate verifies credentials and enforces the lockout policy.
//
// It is deliberately CPU-expensive (argon2id) and blocking: dispatch it to a
// worker goroutine, never inline on a latency-sensitive loop. Exactly one
// audit event is recorded on every path before control returns.
//
// Unknown usernames and wrong passwords produce the same external result;
// the dummy verification equalizes their timing.
func (e *Engine) Authenticate(ctx context.Context, username, password, ip, clientID string) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	now := e.now().UTC()

	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		VerifyPassword(password, DummyHash())
		e.loginFailed(ctx, audit.SystemActor, "user_not_found", username, ip, clientID)
		return User{}, ErrInvalidCredentials
	}

	if user.Locked(now) {
		e.loginFailed(ctx, user.ID, "account_locked", username, ip, clientID)
		return User{}, ErrAccountLocked
	}

	if !user.Active {
		e.loginFailed(ctx, user.ID, "account_inactive", username, ip, clientID)
		return User{}, ErrAccountInactive
	}

	if !VerifyPassword(password, user.PasswordHash) {
		locked := false
		_, err := e.users.Update(ctx, user.ID, func(u *User) error {
			// Re-check under the record lock: a concurrent attempt may have
			// locked the account since the read above. Attempts against an
			// already-locked account never extend the window.
			if u.Locked(now) {
				return nil
			}
			u.FailedAttempts++
			if u.FailedAttempts >= e.maxFailedAttempts {
				until := now.Add(e.lockoutDuration)
				u.LockedUntil = &until
				locked = true
			}
			return nil
		})
		if err == nil && locked {
			obs.LockoutOccurred()
		}
		e.loginFailed(ctx, user.ID, "invalid_password", username, ip, clientID)
		return User{}, ErrInvalidCredentials
	}

	updated, err := e.users.Update(ctx, user.ID, func(u *User) error {
		u.FailedAttempts = 0
		u.LockedUntil = nil
		last := now
		u.LastLoginAt = &last
		return nil
	})
	if err != nil {
		e.loginFailed(ctx, user.ID, "store_failure", username, ip, clientID)
		return User{}, err
	}

	obs.ObserveLogin("success")
	e.log.Append(ctx, audit.Event{
		Actor:    updated.ID,
		Action:   "login_success",
		Resource: "user",
		Success:  true,
		Details: map[string]any{
			"username":  updated.Username,
			"ip":        ip,
			"client_id": clientID,
		},
	})
	return updated, nil
}

func (e *Engine) loginFailed(ctx context.Context, actorID, reason, username, ip, clientID string) {
	obs.ObserveLogin(reason)
	e.log.Append(ctx, audit.Event{
		Actor:    actorID,
		Action:   "login_failed",
		Resource: "user",
		Success:  false,
		Details: map[string]any{
			"reason":    reason,
			"username":  username,
			"ip":        ip,
			"client_id": clientID,
		},
	})
}
