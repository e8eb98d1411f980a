package models

import "time"

// OTP purposes. A code generated for one purpose never verifies for another.
const (
	OTPPurposeRegistration  = "registration"
	OTPPurposePasswordReset = "password_reset"
	OTPPurposeLoginMFA      = "login_mfa"
)

// OTPCode represents a one-time numeric verification code. The code itself is
// stored as a SHA-256 hash; the plaintext only exists in the generation
// response handed to the email sender.
type OTPCode struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	CodeHash  string    `db:"code_hash"`
	Purpose   string    `db:"purpose"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

// IsExpired checks if the code has expired
func (c *OTPCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// ValidOTPPurpose reports whether purpose is one of the known purposes.
func ValidOTPPurpose(purpose string) bool {
	switch purpose {
	case OTPPurposeRegistration, OTPPurposePasswordReset, OTPPurposeLoginMFA:
		return true
	}
	return false
}
