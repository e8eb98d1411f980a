package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Risk levels classify audit events for alerting and review priority.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Event types for the security audit trail
const (
	EventRegistrationStarted   = "registration_started"
	EventRegistrationCompleted = "registration_completed"
	EventRegistrationFailed    = "registration_failed"
	EventLoginSuccess          = "login_success"
	EventLoginFailed           = "login_failed"
	EventRateLimited           = "rate_limited"
	EventOTPIssued             = "otp_issued"
	EventOTPVerified           = "otp_verified"
	EventOTPFailed             = "otp_failed"
	EventMFAChallenge          = "mfa_challenge"
	EventMFAEnrolled           = "mfa_enrolled"
	EventPasswordResetRequest  = "password_reset_requested"
	EventPasswordResetDone     = "password_reset_completed"
	EventPIIEncrypt            = "pii_encrypt"
	EventPIIDecrypt            = "pii_decrypt"
	EventPIIIntegrityFailure   = "pii_integrity_failure"
	EventKeyRotation           = "key_rotation"
	EventAdminPermissionCheck  = "admin_permission_check"
	EventAdminExport           = "admin_data_export"
)

// SecurityEvent is one row of the append-only audit trail. Events are never
// mutated or deleted by normal flows.
type SecurityEvent struct {
	ID            uuid.UUID    `db:"id"`
	UserID        *string      `db:"user_id"`
	EventType     string       `db:"event_type"`
	SourceAddress string       `db:"source_address"`
	UserAgent     string       `db:"user_agent"`
	Details       EventDetails `db:"details"`
	RiskLevel     string       `db:"risk_level"`
	CreatedAt     time.Time    `db:"created_at"`
}

// EventDetails holds additional context for a security event, stored as JSONB.
// Callers must never place plaintext PII or secrets in it.
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrValidation
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// ValidRiskLevel reports whether level is one of the known classifications.
func ValidRiskLevel(level string) bool {
	switch level {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}
