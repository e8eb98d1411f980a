package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/identity"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// MockOTPRepository is a mock implementation of OTPRepository
type MockOTPRepository struct {
	CreateReplacingActiveFunc func(ctx context.Context, userID, email, codeHash, purpose string, expiresAt time.Time) (*models.OTPCode, error)
	ConsumeFunc               func(ctx context.Context, email, codeHash, purpose string) (*models.OTPCode, error)
}

func (m *MockOTPRepository) CreateReplacingActive(ctx context.Context, userID, email, codeHash, purpose string, expiresAt time.Time) (*models.OTPCode, error) {
	if m.CreateReplacingActiveFunc != nil {
		return m.CreateReplacingActiveFunc(ctx, userID, email, codeHash, purpose, expiresAt)
	}
	return &models.OTPCode{UserID: userID, Email: email, CodeHash: codeHash, Purpose: purpose, ExpiresAt: expiresAt}, nil
}

func (m *MockOTPRepository) Consume(ctx context.Context, email, codeHash, purpose string) (*models.OTPCode, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, email, codeHash, purpose)
	}
	return nil, models.ErrNotFound
}

// RecordingEventWriter captures audit events for assertions
type RecordingEventWriter struct {
	mu     sync.Mutex
	Events []*models.SecurityEvent
	Err    error
}

func (w *RecordingEventWriter) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	w.Events = append(w.Events, event)
	return event, nil
}

// EventTypes returns recorded event types in order
func (w *RecordingEventWriter) EventTypes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	types := make([]string, 0, len(w.Events))
	for _, e := range w.Events {
		types = append(types, e.EventType)
	}
	return types
}

// HasEvent reports whether an event of the given type was recorded
func (w *RecordingEventWriter) HasEvent(eventType string) bool {
	for _, t := range w.EventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

// MockRateLimitStore is a mock implementation of RateLimitStore
type MockRateLimitStore struct {
	IncrementWindowFunc func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error)
}

func (m *MockRateLimitStore) IncrementWindow(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
	if m.IncrementWindowFunc != nil {
		return m.IncrementWindowFunc(ctx, identity, action, sourceAddress, windowSize)
	}
	return &models.RateLimitWindow{Identity: identity, Action: action, SourceAddress: sourceAddress, Count: 1, WindowStart: time.Now()}, nil
}

// FakeKeyVersionStore is an in-memory KeyVersionStore for PII service tests
type FakeKeyVersionStore struct {
	mu       sync.Mutex
	versions map[int]*models.KeyVersion
	current  int

	CreateAndAdvanceErr error
}

func NewFakeKeyVersionStore() *FakeKeyVersionStore {
	return &FakeKeyVersionStore{versions: make(map[int]*models.KeyVersion)}
}

func (f *FakeKeyVersionStore) GetAll(ctx context.Context) ([]*models.KeyVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*models.KeyVersion, 0, len(f.versions))
	for v := 1; v <= len(f.versions); v++ {
		if kv, ok := f.versions[v]; ok {
			all = append(all, kv)
		}
	}
	return all, nil
}

func (f *FakeKeyVersionStore) GetByVersion(ctx context.Context, version int) (*models.KeyVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, ok := f.versions[version]
	if !ok {
		return nil, models.ErrNotFound
	}
	return kv, nil
}

func (f *FakeKeyVersionStore) CurrentVersion(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *FakeKeyVersionStore) CreateAndAdvance(ctx context.Context, expectedCurrent int, kv *models.KeyVersion) (*models.KeyVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateAndAdvanceErr != nil {
		return nil, f.CreateAndAdvanceErr
	}
	if f.current != expectedCurrent {
		return nil, models.ErrConflict
	}
	kv.CreatedAt = time.Now()
	f.versions[kv.Version] = kv
	f.current = kv.Version
	return kv, nil
}

func (f *FakeKeyVersionStore) Bootstrap(ctx context.Context, kv *models.KeyVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.versions[kv.Version]; ok {
		return nil
	}
	kv.CreatedAt = time.Now()
	f.versions[kv.Version] = kv
	if f.current == 0 {
		f.current = kv.Version
	}
	return nil
}

// MockProfileStore is a mock implementation of ProfileStore
type MockProfileStore struct {
	CreateFunc               func(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error)
	GetByUserIDFunc          func(ctx context.Context, userID string) (*models.UserProfile, error)
	GetByEmailFunc           func(ctx context.Context, email string) (*models.UserProfile, error)
	DeleteFunc               func(ctx context.Context, userID string) error
	RecordConsentFunc        func(ctx context.Context, userID, consentVersion string) error
	SetEmailConfirmedFunc    func(ctx context.Context, userID string) error
	UpdateEncryptedFieldFunc func(ctx context.Context, userID, fieldName string, envelope []byte) error
	SetMFAEnabledFunc        func(ctx context.Context, userID string, enabled bool) error
}

func (m *MockProfileStore) Create(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return p, nil
}

func (m *MockProfileStore) GetByUserID(ctx context.Context, userID string) (*models.UserProfile, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileStore) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockProfileStore) Delete(ctx context.Context, userID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID)
	}
	return nil
}

func (m *MockProfileStore) RecordConsent(ctx context.Context, userID, consentVersion string) error {
	if m.RecordConsentFunc != nil {
		return m.RecordConsentFunc(ctx, userID, consentVersion)
	}
	return nil
}

func (m *MockProfileStore) SetEmailConfirmed(ctx context.Context, userID string) error {
	if m.SetEmailConfirmedFunc != nil {
		return m.SetEmailConfirmedFunc(ctx, userID)
	}
	return nil
}

func (m *MockProfileStore) UpdateEncryptedField(ctx context.Context, userID, fieldName string, envelope []byte) error {
	if m.UpdateEncryptedFieldFunc != nil {
		return m.UpdateEncryptedFieldFunc(ctx, userID, fieldName, envelope)
	}
	return nil
}

func (m *MockProfileStore) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	if m.SetMFAEnabledFunc != nil {
		return m.SetMFAEnabledFunc(ctx, userID, enabled)
	}
	return nil
}

// MockIdentityProvider is a mock implementation of identity.Provider
type MockIdentityProvider struct {
	CreateIdentityFunc    func(ctx context.Context, email, password string) (*identity.Identity, error)
	DeleteIdentityFunc    func(ctx context.Context, id string) error
	VerifyCredentialsFunc func(ctx context.Context, email, password string) (*identity.Identity, error)
	MarkEmailVerifiedFunc func(ctx context.Context, id string) error
	UpdatePasswordFunc    func(ctx context.Context, id, newPassword string) error
	IssueSessionFunc      func(ctx context.Context, id string) (*identity.Session, error)

	mu      sync.Mutex
	Deleted []string
}

func (m *MockIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (*identity.Identity, error) {
	if m.CreateIdentityFunc != nil {
		return m.CreateIdentityFunc(ctx, email, password)
	}
	return &identity.Identity{ID: "id-" + email, Email: email}, nil
}

func (m *MockIdentityProvider) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Deleted = append(m.Deleted, id)
	m.mu.Unlock()
	if m.DeleteIdentityFunc != nil {
		return m.DeleteIdentityFunc(ctx, id)
	}
	return nil
}

func (m *MockIdentityProvider) VerifyCredentials(ctx context.Context, email, password string) (*identity.Identity, error) {
	if m.VerifyCredentialsFunc != nil {
		return m.VerifyCredentialsFunc(ctx, email, password)
	}
	return nil, models.ErrAuthentication
}

func (m *MockIdentityProvider) MarkEmailVerified(ctx context.Context, id string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockIdentityProvider) UpdatePassword(ctx context.Context, id, newPassword string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, newPassword)
	}
	return nil
}

func (m *MockIdentityProvider) IssueSession(ctx context.Context, id string) (*identity.Session, error) {
	if m.IssueSessionFunc != nil {
		return m.IssueSessionFunc(ctx, id)
	}
	return &identity.Session{AccessToken: "access-" + id, RefreshToken: "refresh-" + id}, nil
}

// MockEmailSender is a mock implementation of EmailSender
type MockEmailSender struct {
	SendOTPEmailFunc func(ctx context.Context, email, code, purpose string, expiresAt time.Time) error

	mu        sync.Mutex
	SentCodes []string
}

func (m *MockEmailSender) SendOTPEmail(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	m.mu.Lock()
	m.SentCodes = append(m.SentCodes, code)
	m.mu.Unlock()
	if m.SendOTPEmailFunc != nil {
		return m.SendOTPEmailFunc(ctx, email, code, purpose, expiresAt)
	}
	return nil
}

// LastCode returns the most recently sent code
func (m *MockEmailSender) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SentCodes) == 0 {
		return ""
	}
	return m.SentCodes[len(m.SentCodes)-1]
}

// MockTOTPValidator is a mock implementation of TOTPValidator
type MockTOTPValidator struct {
	ValidateFunc func(code, secret string) bool
}

func (m *MockTOTPValidator) Validate(code, secret string) bool {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(code, secret)
	}
	return false
}

// MockCapabilityStore is a mock implementation of CapabilityStore
type MockCapabilityStore struct {
	GetCapabilitiesFunc func(ctx context.Context, adminID string) (*models.AdminCapabilitySet, error)
}

func (m *MockCapabilityStore) GetCapabilities(ctx context.Context, adminID string) (*models.AdminCapabilitySet, error) {
	if m.GetCapabilitiesFunc != nil {
		return m.GetCapabilitiesFunc(ctx, adminID)
	}
	return nil, models.ErrNotFound
}

// MockSecurityEventReader is a mock implementation of SecurityEventReader
type MockSecurityEventReader struct {
	ListByUserFunc      func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	ListByRiskLevelFunc func(ctx context.Context, riskLevel string, since time.Time, limit int) ([]*models.SecurityEvent, error)
	ListRecentFunc      func(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventReader) ListByRiskLevel(ctx context.Context, riskLevel string, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	if m.ListByRiskLevelFunc != nil {
		return m.ListByRiskLevelFunc(ctx, riskLevel, since, limit)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventReader) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

// Shared helpers for service tests

func newTestAudit(writer *RecordingEventWriter) *AuditService {
	return NewAuditService(writer, slog.Default())
}

// newTestLimiter returns a limiter whose store always reports the given count
func newTestLimiter(count int) *RateLimitService {
	store := &MockRateLimitStore{
		IncrementWindowFunc: func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
			return &models.RateLimitWindow{Identity: identity, Action: action, Count: count, WindowStart: time.Now()}, nil
		},
	}
	return NewRateLimitService(store, RateLimitConfig{
		WindowSize: 15 * time.Minute,
		Policies:   DefaultPolicies(5, 3, 3, 5, 3, 30),
	}, slog.Default())
}

// newTestPII returns an initialized PII service over an in-memory key store
func newTestPII(t interface{ Fatalf(string, ...interface{}) }, writer *RecordingEventWriter) (*PIIService, *FakeKeyVersionStore) {
	store := NewFakeKeyVersionStore()
	svc, err := NewPIIService(store, newTestAudit(writer), slog.Default(), "unit-test-master-secret-value", 100000)
	if err != nil {
		t.Fatalf("failed to create pii service: %v", err)
	}
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("failed to init pii service: %v", err)
	}
	return svc, store
}

func testMeta() RequestMeta {
	return RequestMeta{SourceAddress: "203.0.113.7", UserAgent: "test-agent"}
}
