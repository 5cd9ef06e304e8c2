package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. Deliberately expensive: authentication is a blocking,
// CPU-bound operation and callers must treat it as such.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashPassword derives an argon2id hash in PHC string format. Plaintext is
// never stored or logged.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword recomputes the hash with the encoded parameters and compares
// in constant time. Safe against any well-formed hash, including the
// placeholder used for unknown users.
func VerifyPassword(password, encoded string) bool {
	salt, want, iterations, memory, parallelism, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeHash(encoded string) (salt, hash []byte, iterations, memory uint32, parallelism uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		err = errors.New("malformed password hash")
		return
	}
	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return
	}
	if version != argon2.Version {
		err = fmt.Errorf("unsupported argon2 version %d", version)
		return
	}
	var p uint32
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &p); err != nil {
		return
	}
	parallelism = uint8(p)
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	return
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// DummyHash returns a fixed placeholder hash for this process. Verifying an
// attempt against it costs the same as a real verification, so lookups that
// miss cannot be distinguished by timing.
func DummyHash() string {
	dummyOnce.Do(func() {
		filler := make([]byte, 24)
		if _, err := rand.Read(filler); err != nil {
			// rand failing here means the process cannot do any crypto at all.
			panic(fmt.Sprintf("auth: entropy unavailable: %v", err))
		}
		h, err := HashPassword(base64.RawStdEncoding.EncodeToString(filler))
		if err != nil {
			panic(fmt.Sprintf("auth: placeholder hash: %v", err))
		}
		dummyHash = h
	})
	return dummyHash
}
