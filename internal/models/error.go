package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrValidation     = errors.New("invalid input")
	ErrInternalServer = errors.New("internal server error")
	ErrPersistence    = errors.New("persistence layer unavailable")

	// Authentication errors deliberately carry generic messages so callers
	// cannot distinguish unknown-account from wrong-credential outcomes.
	ErrAuthentication = errors.New("invalid credentials")
	ErrVerification   = errors.New("invalid or expired verification code")

	// ErrPermissionDenied is terminal: admin operations are never partially
	// executed after a failed capability check.
	ErrPermissionDenied = errors.New("insufficient permissions")

	// ErrDuplicateAccount intentionally hedges so registration responses do
	// not confirm whether an email is already registered.
	ErrDuplicateAccount = errors.New("an account may already exist for this email")
)

// RateLimitedError indicates an action was denied by the rate limiter.
// ResetAt tells the caller when the window reopens and is safe to surface
// to users.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// IntegrityError indicates an authentication-tag mismatch during decryption.
// It is treated as a security incident and always audited at high risk.
// No plaintext is ever returned alongside it.
type IntegrityError struct {
	FieldName  string
	KeyVersion int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for field %q", e.FieldName)
}

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
