package models

import "time"

// Rate-limited actions. Each action carries its own threshold and window.
const (
	ActionRegister      = "register"
	ActionLogin         = "login"
	ActionOTPRequest    = "otp_request"
	ActionOTPVerify     = "otp_verify"
	ActionPasswordReset = "password_reset"
	ActionPIIDecrypt    = "pii_decrypt"
)

// RateLimitWindow is one fixed-size counting window keyed by
// (identity, action, source address).
type RateLimitWindow struct {
	Identity      string    `db:"identity"`
	Action        string    `db:"action"`
	SourceAddress string    `db:"source_address"`
	Count         int       `db:"count"`
	WindowStart   time.Time `db:"window_start"`
}

// RateLimitDecision is the outcome of a check-and-consume call. ResetAt is
// only meaningful when Allowed is false.
type RateLimitDecision struct {
	Allowed bool
	ResetAt time.Time
}
