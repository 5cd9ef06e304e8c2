package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "movember-identity"
	tokenTypeAccess = "access"

	// SigningKeySize is the minimum acceptable HS256 key length.
	SigningKeySize = 32
)

// SessionClaims are the verified claims carried by an access token. The
// signature check is stateless; revocation is enforced separately against
// the live session table.
type SessionClaims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Keyring signs and verifies access tokens with a process-wide HS256 key.
// The key lives only in this process's memory: a restart invalidates every
// outstanding session unless the key is persisted by an external
// collaborator and passed back in.
type Keyring struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// GenerateSigningKey produces fresh random key material at process startup.
func GenerateSigningKey() ([]byte, error) {
	key := make([]byte, SigningKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

// NewKeyring constructs a Keyring. A missing or undersized key is fatal to
// process initialization; there is no degraded mode.
func NewKeyring(secret []byte) (*Keyring, error) {
	if len(secret) < SigningKeySize {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", SigningKeySize, len(secret))
	}
	return &Keyring{secret: secret, issuer: tokenIssuer, now: time.Now}, nil
}

// Sign mints an access token for the session.
func (k *Keyring) Sign(userID string, role Role, sessionID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}

	now := k.now().UTC()
	claims := SessionClaims{
		Role:      role.String(),
		SessionID: sessionID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and required claims. Any defect maps to
// ErrInvalidToken; callers never learn which check failed.
func (k *Keyring) Verify(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return k.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return k.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := k.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (k *Keyring) validateClaims(claims *SessionClaims) error {
	if claims.Issuer != k.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("subject missing")
	}
	if claims.TokenType != tokenTypeAccess {
		return fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if strings.TrimSpace(claims.SessionID) == "" {
		return fmt.Errorf("session id missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return fmt.Errorf("timestamps missing")
	}
	now := k.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return fmt.Errorf("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return fmt.Errorf("token expiry precedes issued-at")
	}
	return nil
}
