// Package identity holds the boundary to the external credential/identity
// provider. The provider owns password hashing and session issuance; this
// subsystem only references identities by id and calls across this interface.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// Identity is the provider-owned account reference
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Session is a provider-issued session token pair
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// Provider is the interface to the external identity provider
type Provider interface {
	CreateIdentity(ctx context.Context, email, password string) (*Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	VerifyCredentials(ctx context.Context, email, password string) (*Identity, error)
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, newPassword string) error
	IssueSession(ctx context.Context, id string) (*Session, error)
}

// HTTPProvider talks to the provider's REST API with a service key
type HTTPProvider struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPProvider creates a new HTTPProvider
func NewHTTPProvider(baseURL, serviceKey string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode provider request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("identity provider unreachable",
			slog.String("path", path),
			slog.Any("error", err))
		return 0, models.ErrPersistence
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode provider response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// CreateIdentity registers a credential with the provider
func (p *HTTPProvider) CreateIdentity(ctx context.Context, email, password string) (*Identity, error) {
	var id Identity
	status, err := p.do(ctx, http.MethodPost, "/v1/identities", map[string]string{
		"email":    email,
		"password": password,
	}, &id)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		return &id, nil
	case http.StatusConflict:
		return nil, models.ErrConflict
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return nil, models.ErrValidation
	default:
		return nil, fmt.Errorf("identity provider returned status %d", status)
	}
}

// DeleteIdentity removes a credential. Used by registration compensation:
// a failure after identity creation must not leave an orphan credential.
func (p *HTTPProvider) DeleteIdentity(ctx context.Context, id string) error {
	status, err := p.do(ctx, http.MethodDelete, "/v1/identities/"+id, nil, nil)
	if err != nil {
		return err
	}

	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("identity provider returned status %d", status)
	}
	return nil
}

// VerifyCredentials checks an email/password pair
func (p *HTTPProvider) VerifyCredentials(ctx context.Context, email, password string) (*Identity, error) {
	var id Identity
	status, err := p.do(ctx, http.MethodPost, "/v1/identities/verify", map[string]string{
		"email":    email,
		"password": password,
	}, &id)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &id, nil
	case http.StatusUnauthorized, http.StatusNotFound:
		return nil, models.ErrAuthentication
	default:
		return nil, fmt.Errorf("identity provider returned status %d", status)
	}
}

// MarkEmailVerified flags the identity's email as confirmed
func (p *HTTPProvider) MarkEmailVerified(ctx context.Context, id string) error {
	status, err := p.do(ctx, http.MethodPost, "/v1/identities/"+id+"/verify-email", nil, nil)
	if err != nil {
		return err
	}

	if status >= 300 {
		return fmt.Errorf("identity provider returned status %d", status)
	}
	return nil
}

// UpdatePassword replaces the identity's credential
func (p *HTTPProvider) UpdatePassword(ctx context.Context, id, newPassword string) error {
	status, err := p.do(ctx, http.MethodPut, "/v1/identities/"+id+"/password", map[string]string{
		"password": newPassword,
	}, nil)
	if err != nil {
		return err
	}

	switch {
	case status < 300:
		return nil
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return models.ErrValidation
	default:
		return fmt.Errorf("identity provider returned status %d", status)
	}
}

// IssueSession asks the provider for a session token pair
func (p *HTTPProvider) IssueSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	status, err := p.do(ctx, http.MethodPost, "/v1/identities/"+id+"/sessions", nil, &session)
	if err != nil {
		return nil, err
	}

	if status >= 300 {
		return nil, fmt.Errorf("identity provider returned status %d", status)
	}
	return &session, nil
}
