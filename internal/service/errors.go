package service

import (
	"errors"

	"github.com/iliyamo/sessionguard/internal/token"
)

var (
	// ErrTooManyAttempts is returned while the client is over the login
	// limit. It is retryable once the window ends.
	ErrTooManyAttempts = errors.New("too many login attempts, try again later")

	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned when the lockout policy reports the
	// account as locked.
	ErrAccountLocked = errors.New("account is locked")

	// ErrInvalidToken is returned by refresh for any unusable refresh token.
	ErrInvalidToken = token.ErrInvalidToken
)
