package auth

import "errors"

var (
	// ErrInvalidCredentials covers both a wrong password and an unknown
	// username: the two are deliberately indistinguishable at the boundary
	// to prevent username enumeration.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrAccountLocked    = errors.New("auth: account temporarily locked")
	ErrAccountInactive  = errors.New("auth: account inactive")
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrSessionExpired   = errors.New("auth: session expired")
	ErrSessionNotFound  = errors.New("auth: session not found")

	// ErrInvalidToken indicates a malformed, expired, or badly signed token.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)
