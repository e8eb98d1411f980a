package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPManager handles authenticator-app secret generation and code
// validation. Secret storage belongs to the caller, which encrypts the
// secret through the PII service before persisting it.
type TOTPManager struct {
	issuer string
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer}
}

// Enrollment carries the material a user needs to register an authenticator
type Enrollment struct {
	Secret    string
	QRDataURL string
}

// GenerateEnrollment creates a fresh TOTP secret and a provisioning QR code
// rendered as a PNG data URL for display during setup.
func (tm *TOTPManager) GenerateEnrollment(accountEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create qr code: %w", err)
	}

	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	return &Enrollment{
		Secret:    key.Secret(),
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Validate checks a 6-digit authenticator code against the secret
func (tm *TOTPManager) Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}
