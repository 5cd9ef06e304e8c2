package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/A1anMc/MOVEMBER-sub002/internal/audit"
	"github.com/A1anMc/MOVEMBER-sub002/internal/obs"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// cleanupBatchSize bounds how long the table lock is held per sweep
	// iteration; cancellation is honored between batches.
	cleanupBatchSize = 256
)

// refreshGrant is the stored half of a refresh artifact. Only a sha256 hash
// of the client secret is kept at rest.
type refreshGrant struct {
	userID     string
	secretHash string
	expiresAt  time.Time
	revoked    bool
}

// Grant is what a successful authentication hands back to the caller: the
// session (including its signed access token) and a longer-lived refresh
// artifact for renewal flows.
type Grant struct {
	Session          Session
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionManager owns the live session table. All mutations of a session
// record go through one lock, so removal of an expired session is atomic
// with the existence check in Validate.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	refresh  map[string]*refreshGrant

	keys       *Keyring
	log        *audit.Log
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// SessionOption configures SessionManager.
type SessionOption func(*SessionManager)

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh-artifact lifetime.
func WithRefreshTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithSessionClock overrides the time source (tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewSessionManager constructs a SessionManager over the given keyring and
// audit log.
func NewSessionManager(keys *Keyring, log *audit.Log, opts ...SessionOption) (*SessionManager, error) {
	if keys == nil {
		return nil, errors.New("auth: keyring is required")
	}
	if log == nil {
		return nil, errors.New("auth: audit log is required")
	}
	m := &SessionManager{
		sessions:   make(map[string]*Session),
		refresh:    make(map[string]*refreshGrant),
		keys:       keys,
		log:        log,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints a session for an already-authenticated user.
func (m *SessionManager) Issue(ctx context.Context, user User, ip, clientID string) (Grant, error) {
	if user.ID == "" {
		return Grant{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := m.now().UTC()
	id := uuid.NewString()
	token, err := m.keys.Sign(user.ID, user.Role, id, m.accessTTL)
	if err != nil {
		return Grant{}, err
	}

	session := Session{
		ID:           id,
		UserID:       user.ID,
		Token:        token,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.accessTTL),
		IP:           ip,
		ClientID:     clientID,
		Active:       true,
		LastActivity: now,
	}
	refreshToken, grant, err := m.newRefreshGrant(user.ID, now)
	if err != nil {
		return Grant{}, err
	}

	m.mu.Lock()
	stored := session
	m.sessions[id] = &stored
	m.refresh[refreshID(refreshToken)] = grant
	m.mu.Unlock()

	obs.SessionOpened()
	m.log.Append(ctx, audit.Event{
		Actor:    user.ID,
		Action:   "session_issued",
		Resource: "session",
		Success:  true,
		Details: map[string]any{
			"session_id": id,
			"ip":         ip,
			"client_id":  clientID,
			"expires_at": session.ExpiresAt,
		},
	})
	return Grant{Session: session, RefreshToken: refreshToken, RefreshExpiresAt: grant.expiresAt}, nil
}

// Validate resolves ref (an opaque session id or a signed token), checks the
// live table, and refreshes last-activity. It returns false for unknown,
// revoked, or expired sessions. An IP mismatch is recorded but does not by
// itself invalidate the session.
func (m *SessionManager) Validate(ctx context.Context, ref, ip string) (Session, bool) {
	id, ok := m.resolveRef(ref)
	if !ok {
		return Session{}, false
	}
	now := m.now().UTC()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.Active || !now.Before(s.ExpiresAt) {
		m.mu.Unlock()
		return Session{}, false
	}
	s.LastActivity = now
	out := *s
	m.mu.Unlock()

	if ip != "" && ip != out.IP {
		obs.SessionIPMismatch()
		m.log.Append(ctx, audit.Event{
			Actor:    out.UserID,
			Action:   "session_ip_mismatch",
			Resource: "session",
			Success:  true,
			Details: map[string]any{
				"session_id":  out.ID,
				"original_ip": out.IP,
				"observed_ip": ip,
			},
		})
	}
	return out, true
}

// Revoke deactivates the referenced session. Idempotent: revoking an
// unknown or already-inactive session returns false without error.
func (m *SessionManager) Revoke(ctx context.Context, ref string) bool {
	id, ok := m.resolveRef(ref)
	if !ok {
		return false
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.Active {
		m.mu.Unlock()
		return false
	}
	s.Active = false
	userID := s.UserID
	m.mu.Unlock()

	obs.SessionsClosed(1)
	m.log.Append(ctx, audit.Event{
		Actor:    userID,
		Action:   "session_revoked",
		Resource: "session",
		Success:  true,
		Details:  map[string]any{"session_id": id},
	})
	return true
}

// RevokeUser deactivates every live session and refresh grant belonging to
// the user, returning how many sessions were closed.
func (m *SessionManager) RevokeUser(ctx context.Context, userID string) int {
	m.mu.Lock()
	closed := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active {
			s.Active = false
			closed++
		}
	}
	for _, g := range m.refresh {
		if g.userID == userID {
			g.revoked = true
		}
	}
	m.mu.Unlock()

	if closed > 0 {
		obs.SessionsClosed(closed)
		m.log.Append(ctx, audit.Event{
			Actor:    audit.SystemActor,
			Action:   "sessions_revoked_for_user",
			Resource: "session",
			Success:  true,
			Details:  map[string]any{"user_id": userID, "count": closed},
		})
	}
	return closed
}

// Refresh exchanges a refresh artifact for a fresh session, rotating the
// artifact: the presented one is revoked whether or not the exchange
// succeeds past lookup.
func (m *SessionManager) Refresh(ctx context.Context, users UserStore, refreshToken, ip, clientID string) (Grant, error) {
	id, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return Grant{}, ErrInvalidToken
	}
	now := m.now().UTC()

	m.mu.Lock()
	grant, ok := m.refresh[id]
	if !ok || grant.revoked || !now.Before(grant.expiresAt) {
		m.mu.Unlock()
		return Grant{}, ErrInvalidToken
	}
	if !compareSecretHash(grant.secretHash, secret) {
		grant.revoked = true
		m.mu.Unlock()
		return Grant{}, ErrInvalidToken
	}
	grant.revoked = true
	userID := grant.userID
	m.mu.Unlock()

	user, err := users.FindByID(ctx, userID)
	if err != nil || !user.Active {
		return Grant{}, ErrInvalidToken
	}
	return m.Issue(ctx, user, ip, clientID)
}

// CleanupExpired removes sessions past expiry and spent refresh grants in
// batches, checking ctx between batches. Removal holds the same lock as
// Validate, so a session is never observed mid-removal as valid.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now().UTC()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if !s.Active || !now.Before(s.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for len(expired) > 0 {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		batch := expired
		if len(batch) > cleanupBatchSize {
			batch = batch[:cleanupBatchSize]
		}
		m.mu.Lock()
		for _, id := range batch {
			s, ok := m.sessions[id]
			if !ok {
				continue
			}
			if s.Active {
				s.Active = false
				obs.SessionsClosed(1)
			}
			delete(m.sessions, id)
			removed++
		}
		m.mu.Unlock()
		expired = expired[len(batch):]
	}

	m.mu.Lock()
	for id, g := range m.refresh {
		if g.revoked || !now.Before(g.expiresAt) {
			delete(m.refresh, id)
		}
	}
	m.mu.Unlock()
	return removed, nil
}

// Live returns the number of active, unexpired sessions.
func (m *SessionManager) Live() int {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	live := 0
	for _, s := range m.sessions {
		if s.Active && now.Before(s.ExpiresAt) {
			live++
		}
	}
	return live
}

// resolveRef maps either token form to a session id. Tokens carry the id in
// their sid claim; anything without a valid signature is rejected before the
// table is consulted.
func (m *SessionManager) resolveRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if strings.Count(ref, ".") == 2 {
		claims, err := m.keys.Verify(ref)
		if err != nil {
			return "", false
		}
		return claims.SessionID, true
	}
	return ref, true
}

func (m *SessionManager) newRefreshGrant(userID string, now time.Time) (string, *refreshGrant, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	id := uuid.NewString()
	sum := sha256.Sum256([]byte(secret))
	grant := &refreshGrant{
		userID:     userID,
		secretHash: hex.EncodeToString(sum[:]),
		expiresAt:  now.Add(m.refreshTTL),
	}
	return id + ":" + secret, grant, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func refreshID(token string) string {
	id, _, _ := splitRefreshToken(token)
	return id
}

func compareSecretHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
