package models

import "time"

// Profile roles
const (
	RoleJobSeeker = "job_seeker"
	RolePartner   = "partner"
	RoleAdmin     = "admin"
)

// UserProfile is the application-side record attached to an identity held by
// the external provider. PII columns (FullName, Phone, TOTPSecret) hold
// EncryptedField envelopes serialized as JSON, never plaintext.
type UserProfile struct {
	UserID         string     `db:"user_id"`
	Email          string     `db:"email"`
	Role           string     `db:"role"`
	FullName       []byte     `db:"full_name"`
	Phone          []byte     `db:"phone"`
	EmailConfirmed bool       `db:"email_confirmed"`
	MFAEnabled     bool       `db:"mfa_enabled"`
	TOTPSecret     []byte     `db:"totp_secret"`
	ConsentVersion string     `db:"consent_version"`
	ConsentedAt    *time.Time `db:"consented_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// HasTOTP reports whether an authenticator app is enrolled.
func (p *UserProfile) HasTOTP() bool {
	return len(p.TOTPSecret) > 0
}
