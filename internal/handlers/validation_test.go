package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Email:          "jane@example.com",
		Password:       "correct-horse-battery",
		Role:           "job_seeker",
		FullName:       "Jane Doe",
		Phone:          "+14155551212",
		ConsentVersion: "2026-01",
	}
}

func TestValidateRegisterRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(validRegisterRequest()))

	short := validRegisterRequest()
	short.Password = "tooshort"
	err := ValidateRequest(short)
	assert.ErrorContains(t, err, "Password")
	assert.ErrorContains(t, err, "minimum of 12")

	badRole := validRegisterRequest()
	badRole.Role = "superuser"
	assert.ErrorContains(t, ValidateRequest(badRole), "must be one of")

	badPhone := validRegisterRequest()
	badPhone.Phone = "555-1212"
	assert.ErrorContains(t, ValidateRequest(badPhone), "valid phone number")

	noConsent := validRegisterRequest()
	noConsent.ConsentVersion = ""
	assert.ErrorContains(t, ValidateRequest(noConsent), "required")
}

func TestValidateVerifyOTPRequest(t *testing.T) {
	valid := VerifyOTPRequest{
		Email:   "jane@example.com",
		Code:    "123456",
		Purpose: "registration",
	}
	assert.NoError(t, ValidateRequest(valid))

	wrongLen := valid
	wrongLen.Code = "1234"
	assert.ErrorContains(t, ValidateRequest(wrongLen), "exactly 6")

	// The reset purpose goes through its own endpoint, never this one.
	resetPurpose := valid
	resetPurpose.Purpose = "password_reset"
	assert.ErrorContains(t, ValidateRequest(resetPurpose), "must be one of")
}

func TestValidateLoginRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(LoginRequest{Email: "a@b.com", Password: "x"}))
	assert.ErrorContains(t, ValidateRequest(LoginRequest{Email: "not-an-email", Password: "x"}), "valid email")
	assert.ErrorContains(t, ValidateRequest(LoginRequest{Email: "a@b.com"}), "required")
}
