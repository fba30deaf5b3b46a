package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/ratelimit"
	"storefront/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Mock repositories for testing
type mockUserRepository struct {
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrUserAlreadyExists
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) byID(id uuid.UUID) *domain.User {
	for _, user := range m.users {
		if user.ID == id {
			return user
		}
	}
	return nil
}

func (m *mockUserRepository) Activate(ctx context.Context, id uuid.UUID) error {
	user := m.byID(id)
	if user == nil {
		return repository.ErrUserNotFound
	}
	user.IsActive = true
	return nil
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	user := m.byID(id)
	if user == nil {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *mockUserRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID) (int, error) {
	user := m.byID(id)
	if user == nil {
		return 0, repository.ErrUserNotFound
	}
	user.FailedLoginAttempts++
	return user.FailedLoginAttempts, nil
}

func (m *mockUserRepository) Lock(ctx context.Context, id uuid.UUID, until time.Time) error {
	user := m.byID(id)
	if user == nil {
		return repository.ErrUserNotFound
	}
	user.LockedUntil = &until
	user.FailedLoginAttempts = 0
	return nil
}

func (m *mockUserRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	user := m.byID(id)
	if user == nil {
		return repository.ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &at
	user.LastLoginIP = ip
	return nil
}

type mockRefreshTokenRepository struct {
	tokens map[string]*domain.RefreshToken
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	refreshToken, exists := m.tokens[token]
	if !exists {
		return nil, repository.ErrRefreshTokenNotFound
	}
	return refreshToken, nil
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, token, byIP, reason string) error {
	refreshToken, exists := m.tokens[token]
	if !exists || refreshToken.Revoked() {
		return repository.ErrRefreshTokenNotFound
	}
	now := time.Now()
	refreshToken.RevokedAt = &now
	refreshToken.RevokedByIP = byIP
	refreshToken.ReasonRevoked = reason
	return nil
}

func (m *mockRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID uuid.UUID, byIP, reason string) error {
	now := time.Now()
	for _, token := range m.tokens {
		if token.FamilyID == familyID && !token.Revoked() {
			token.RevokedAt = &now
			token.RevokedByIP = byIP
			token.ReasonRevoked = reason
		}
	}
	return nil
}

type mockOutboxRepository struct {
	enqueued []*domain.EmailMessage
}

func (m *mockOutboxRepository) Enqueue(ctx context.Context, recipient, subject, body string) error {
	m.enqueued = append(m.enqueued, &domain.EmailMessage{
		ID:        uuid.New(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    domain.EmailStatusPending,
	})
	return nil
}

func (m *mockOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.EmailMessage, error) {
	return nil, nil
}

func (m *mockOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *mockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastError string) error {
	return nil
}

type authFixture struct {
	service  AuthService
	users    *mockUserRepository
	tokens   *mockRefreshTokenRepository
	outbox   *mockOutboxRepository
	limiter  *ratelimit.Limiter
	redis    *miniredis.Miniredis
	delays   []time.Duration
	authCfg  config.AuthConfig
	teardown func()
}

func newAuthFixture(t testing.TB) *authFixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newMockUserRepository()
	tokens := newMockRefreshTokenRepository()
	outbox := &mockOutboxRepository{}
	limiter := ratelimit.New(client, "test")

	authCfg := config.AuthConfig{
		MaxFailedAttempts:  3,
		LockoutMinutes:     15,
		LoginRateLimit:     100,
		LoginRateWindowSec: 60,
		AlertThreshold:     10,
		CodeTTLMinutes:     10,
		CodeMaxAttempts:    5,
	}
	jwtCfg := config.JWTConfig{
		Secret:        "test-secret-key",
		AccessExpiry:  15,
		RefreshExpiry: 7,
	}

	svc := NewAuthService(users, tokens, outbox, limiter, zap.NewNop(), jwtCfg, authCfg)

	f := &authFixture{
		service:  svc,
		users:    users,
		tokens:   tokens,
		outbox:   outbox,
		limiter:  limiter,
		redis:    mr,
		authCfg:  authCfg,
		teardown: func() { client.Close() },
	}

	// Capture delays instead of sleeping so timing tests stay fast
	svc.(*authService).sleep = func(d time.Duration) {
		f.delays = append(f.delays, d)
	}

	return f
}

// registerActive registers a user and activates it with the stored code.
func (f *authFixture) registerActive(t testing.TB, email, password string) *domain.User {
	t.Helper()
	ctx := context.Background()

	user, err := f.service.Register(ctx, email, password, "Test", "User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	code, err := f.limiter.GetCode(ctx, "code:activate:"+email)
	if err != nil || code == "" {
		t.Fatalf("activation code not stored: %v", err)
	}
	if err := f.service.Activate(ctx, email, code); err != nil {
		t.Fatalf("activate: %v", err)
	}

	return user
}

func TestProperty_RegistrationCreatesHashedPasswords(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(email string, password string, firstName string, lastName string) bool {
			f := newAuthFixture(t)
			defer f.teardown()
			ctx := context.Background()

			user, err := f.service.Register(ctx, email, password, firstName, lastName)
			if err != nil {
				return true // Skip if registration fails
			}

			if user.PasswordHash == password {
				t.Logf("FAIL: Password stored as plaintext for email %s", email)
				return false
			}

			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
				t.Logf("FAIL: Password hash is not a valid bcrypt hash or doesn't match: %v", err)
				return false
			}

			// Accounts start inactive with an activation email queued
			if user.IsActive {
				t.Logf("FAIL: New account should not be active")
				return false
			}
			if len(f.outbox.enqueued) != 1 || f.outbox.enqueued[0].Recipient != email {
				t.Logf("FAIL: Activation email not enqueued")
				return false
			}

			return true
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestActivationFlow(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "password123", "Test", "User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Login before activation is rejected even with the right password
	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1"); err != ErrAccountNotActive {
		t.Fatalf("expected ErrAccountNotActive, got %v", err)
	}

	// Wrong code does not activate
	if err := f.service.Activate(ctx, "user@example.com", "000000"); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	code, _ := f.limiter.GetCode(ctx, "code:activate:user@example.com")
	if err := f.service.Activate(ctx, "user@example.com", code); err != nil {
		t.Fatalf("activate with correct code: %v", err)
	}

	// Code is consumed; replaying it is rejected but the account stays active
	if err := f.service.Activate(ctx, "user@example.com", code); err != nil {
		t.Fatalf("activating an active account should be a no-op, got %v", err)
	}

	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1"); err != nil {
		t.Fatalf("login after activation: %v", err)
	}
}

func TestActivationCodeGuessesAreCapped(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "password123", "Test", "User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < f.authCfg.CodeMaxAttempts; i++ {
		if err := f.service.Activate(ctx, "user@example.com", "000000"); err != ErrInvalidCode {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}

	// Even the correct code is rejected once the guess budget is spent
	code, _ := f.limiter.GetCode(ctx, "code:activate:user@example.com")
	if err := f.service.Activate(ctx, "user@example.com", code); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode after cap, got %v", err)
	}
}

func TestResendActivationRecoversExpiredCode(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "password123", "Test", "User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Let the original code expire
	f.redis.FastForward(time.Duration(f.authCfg.CodeTTLMinutes+1) * time.Minute)
	if err := f.service.Activate(ctx, "user@example.com", "000000"); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode for expired code, got %v", err)
	}

	if err := f.service.ResendActivation(ctx, "user@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}

	// A fresh code is stored and emailed, and the guess counter is reset
	last := f.outbox.enqueued[len(f.outbox.enqueued)-1]
	if last.Recipient != "user@example.com" || !strings.Contains(last.Subject, "Activate") {
		t.Fatalf("expected new activation email, got %q to %q", last.Subject, last.Recipient)
	}

	code, err := f.limiter.GetCode(ctx, "code:activate:user@example.com")
	if err != nil || code == "" {
		t.Fatalf("fresh activation code not stored: %v", err)
	}
	if err := f.service.Activate(ctx, "user@example.com", code); err != nil {
		t.Fatalf("activate with resent code: %v", err)
	}

	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1"); err != nil {
		t.Fatalf("login after recovered activation: %v", err)
	}
}

func TestResendActivationStaysSilent(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	// Unknown emails succeed with a delay and no message
	if err := f.service.ResendActivation(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("resend for unknown email: %v", err)
	}
	if len(f.outbox.enqueued) != 0 {
		t.Fatalf("unknown email should not enqueue a message")
	}
	if len(f.delays) != 1 {
		t.Fatalf("expected one timing delay, got %d", len(f.delays))
	}

	// Already-active accounts get nothing either
	f.registerActive(t, "user@example.com", "password123")
	emailsBefore := len(f.outbox.enqueued)
	if err := f.service.ResendActivation(ctx, "user@example.com"); err != nil {
		t.Fatalf("resend for active account: %v", err)
	}
	if len(f.outbox.enqueued) != emailsBefore {
		t.Fatalf("active account should not receive an activation code")
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	f.registerActive(t, "user@example.com", "password123")

	for i := 0; i < f.authCfg.MaxFailedAttempts; i++ {
		_, _, _, err := f.service.Login(ctx, "user@example.com", "wrong-password", "10.0.0.1")
		if err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// Correct password is rejected while the lock holds
	_, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1")
	if err != ErrAccountLocked {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	// Locking notifies the account owner
	last := f.outbox.enqueued[len(f.outbox.enqueued)-1]
	if last.Recipient != "user@example.com" || !strings.Contains(last.Subject, "locked") {
		t.Fatalf("expected lockout email, got %q to %q", last.Subject, last.Recipient)
	}

	// Expire the lock and the correct password works again
	user := f.users.users["user@example.com"]
	past := time.Now().Add(-time.Minute)
	user.LockedUntil = &past

	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1"); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
	if user.FailedLoginAttempts != 0 || user.LockedUntil != nil {
		t.Fatalf("login success should clear lockout state")
	}
}

func TestUnknownUserGetsRandomizedDelay(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, _, err := f.service.Login(ctx, "nobody@example.com", "whatever", "10.0.0.1")
		if err != ErrInvalidCredentials {
			t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
		}
	}

	if len(f.delays) != 10 {
		t.Fatalf("expected 10 delays, got %d", len(f.delays))
	}
	for _, d := range f.delays {
		if d < 100*time.Millisecond || d >= 300*time.Millisecond {
			t.Fatalf("delay %v outside the 100-300ms band", d)
		}
	}
}

func TestLoginRateLimitPerIP(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	f.service.(*authService).authCfg.LoginRateLimit = 3

	f.registerActive(t, "user@example.com", "password123")

	for i := 0; i < 3; i++ {
		if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.9"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.9"); err != ErrTooManyAttempts {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	// A different IP is unaffected
	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.10"); err != nil {
		t.Fatalf("other IP should not be limited: %v", err)
	}
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	f.registerActive(t, "user@example.com", "password123")

	_, refreshToken, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Rotation: new pair comes back, old token is revoked
	access2, refresh2, err := f.service.Refresh(ctx, refreshToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access2 == "" || refresh2 == "" || refresh2 == refreshToken {
		t.Fatalf("rotation should issue a fresh token pair")
	}
	if !f.tokens.tokens[refreshToken].Revoked() {
		t.Fatalf("rotated-away token should be revoked")
	}

	// Both tokens share the family
	if f.tokens.tokens[refreshToken].FamilyID != f.tokens.tokens[refresh2].FamilyID {
		t.Fatalf("rotated tokens should share a family")
	}

	// Replaying the old token is reuse: the whole family dies
	if _, _, err := f.service.Refresh(ctx, refreshToken, "10.0.0.66"); err != ErrTokenReuse {
		t.Fatalf("expected ErrTokenReuse, got %v", err)
	}
	if !f.tokens.tokens[refresh2].Revoked() {
		t.Fatalf("reuse detection should revoke the live token too")
	}
	if _, _, err := f.service.Refresh(ctx, refresh2, "10.0.0.1"); err != ErrTokenReuse {
		t.Fatalf("revoked successor should also be rejected, got %v", err)
	}
}

func TestLogoutRevokesWholeFamily(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	f.registerActive(t, "user@example.com", "password123")

	_, refreshToken, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, refresh2, err := f.service.Refresh(ctx, refreshToken, "10.0.0.1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := f.service.Logout(ctx, refresh2, "10.0.0.1"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	for token, stored := range f.tokens.tokens {
		if !stored.Revoked() {
			t.Fatalf("token %s should be revoked after logout", token)
		}
	}

	// Logging out an unknown token is a no-op
	if err := f.service.Logout(ctx, "does-not-exist", "10.0.0.1"); err != nil {
		t.Fatalf("logout of unknown token: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	defer f.teardown()
	ctx := context.Background()

	f.registerActive(t, "user@example.com", "password123")

	// Unknown email succeeds silently and sends nothing
	emailsBefore := len(f.outbox.enqueued)
	if err := f.service.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("reset request for unknown email: %v", err)
	}
	if len(f.outbox.enqueued) != emailsBefore {
		t.Fatalf("unknown email should not enqueue a message")
	}

	if err := f.service.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("reset request: %v", err)
	}

	code, _ := f.limiter.GetCode(ctx, "code:reset:user@example.com")
	if err := f.service.ResetPassword(ctx, "user@example.com", code, "newpassword456"); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, _, _, err := f.service.Login(ctx, "user@example.com", "password123", "10.0.0.1"); err != ErrInvalidCredentials {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, _, _, err := f.service.Login(ctx, "user@example.com", "newpassword456", "10.0.0.1"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}
}

func TestProperty_JWTTokensContainRequiredClaims(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("access tokens contain user ID and role claims", prop.ForAll(
		func(email string, password string, role string) bool {
			f := newAuthFixture(t)
			defer f.teardown()
			ctx := context.Background()

			user := f.registerActive(t, email, password)
			user.Role = role

			accessToken, _, _, err := f.service.Login(ctx, email, password, "10.0.0.1")
			if err != nil {
				t.Logf("FAIL: Login failed: %v", err)
				return false
			}

			claims, err := f.service.ValidateToken(accessToken)
			if err != nil {
				t.Logf("FAIL: Token validation failed: %v", err)
				return false
			}

			if claims.UserID != user.ID {
				t.Logf("FAIL: User ID claim mismatch. Expected %s, got %s", user.ID, claims.UserID)
				return false
			}
			if claims.Role != role {
				t.Logf("FAIL: Role claim mismatch. Expected %s, got %s", role, claims.Role)
				return false
			}
			if claims.ExpiresAt == nil || claims.IssuedAt == nil {
				t.Logf("FAIL: Token missing expiry or issued-at claims")
				return false
			}
			if time.Now().After(claims.ExpiresAt.Time) {
				t.Logf("FAIL: Token already expired")
				return false
			}

			return true
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
		gen.OneConstOf("customer", "admin"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
