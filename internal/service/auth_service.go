package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/ratelimit"
	"storefront/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing (10 as per requirements)
	BcryptCost = 10

	reasonLogout  = "logout"
	reasonRotated = "rotated"
	reasonReuse   = "reuse detected"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountNotActive   = errors.New("account has not been activated")
	ErrTooManyAttempts    = errors.New("too many login attempts")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenReuse         = errors.New("refresh token reuse detected")
	ErrInvalidCode        = errors.New("invalid or expired code")
)

// AuthService defines the interface for authentication business logic
type AuthService interface {
	Register(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error)
	Activate(ctx context.Context, email, code string) error
	ResendActivation(ctx context.Context, email string) error
	Login(ctx context.Context, email, password, ip string) (accessToken, refreshToken string, user *domain.User, err error)
	Refresh(ctx context.Context, refreshToken, ip string) (newAccessToken, newRefreshToken string, err error)
	Logout(ctx context.Context, refreshToken, ip string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	ValidateToken(tokenString string) (*Claims, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Claims represents the JWT claims
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	outboxRepo       repository.OutboxRepository
	limiter          *ratelimit.Limiter
	logger           *zap.Logger
	jwtCfg           config.JWTConfig
	authCfg          config.AuthConfig

	// sleep is swapped out in tests so the unknown-user delay is observable
	// without waiting for it.
	sleep func(time.Duration)
}

// NewAuthService creates a new instance of AuthService
func NewAuthService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	outboxRepo repository.OutboxRepository,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
	jwtCfg config.JWTConfig,
	authCfg config.AuthConfig,
) AuthService {
	return &authService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		outboxRepo:       outboxRepo,
		limiter:          limiter,
		logger:           logger,
		jwtCfg:           jwtCfg,
		authCfg:          authCfg,
		sleep:            time.Sleep,
	}
}

// Register creates an inactive account, stores a short-lived activation code
// and enqueues the activation email.
func (s *authService) Register(ctx context.Context, email, password, firstName, lastName string) (*domain.User, error) {
	existingUser, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil && err != repository.ErrUserNotFound {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existingUser != nil {
		return nil, repository.ErrUserAlreadyExists
	}

	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hashedPassword,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         "customer",
		IsActive:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	code, err := s.issueCode(ctx, "activate", email)
	if err != nil {
		return nil, err
	}

	if err := s.outboxRepo.Enqueue(ctx, email,
		"Activate your account",
		fmt.Sprintf("Your activation code is %s. It expires in %d minutes.", code, s.authCfg.CodeTTLMinutes),
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue activation email: %w", err)
	}

	return user, nil
}

// Activate verifies the activation code and flips the account active. Code
// guesses are capped per email.
func (s *authService) Activate(ctx context.Context, email, code string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if user.IsActive {
		return nil
	}

	if err := s.verifyCode(ctx, "activate", email, code); err != nil {
		return err
	}

	if err := s.userRepo.Activate(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	return nil
}

// ResendActivation issues a fresh activation code for an inactive account,
// replacing any expired or lost one. Unknown and already-active emails succeed
// silently so the endpoint cannot be used to probe for accounts.
func (s *authService) ResendActivation(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			s.randomDelay()
			return nil
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if user.IsActive {
		return nil
	}

	code, err := s.issueCode(ctx, "activate", email)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.Enqueue(ctx, email,
		"Activate your account",
		fmt.Sprintf("Your activation code is %s. It expires in %d minutes.", code, s.authCfg.CodeTTLMinutes),
	); err != nil {
		return fmt.Errorf("failed to enqueue activation email: %w", err)
	}

	return nil
}

// Login authenticates a user and returns a token pair. The per-IP rate limit
// is checked before any account lookup. Unknown emails get a small randomized
// delay so their response timing matches a wrong password.
func (s *authService) Login(ctx context.Context, email, password, ip string) (accessToken, refreshToken string, user *domain.User, err error) {
	window := time.Duration(s.authCfg.LoginRateWindowSec) * time.Second
	allowed, _, _, err := s.limiter.Allow(ctx, "login:ip:"+ip, s.authCfg.LoginRateLimit, window)
	if err != nil {
		// Limiter outage must not take logins down with it
		s.logger.Error("login rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		return "", "", nil, ErrTooManyAttempts
	}

	user, err = s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			s.randomDelay()
			s.countFailure(ctx, ip, email)
			return "", "", nil, ErrInvalidCredentials
		}
		return "", "", nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user.LockedAt(time.Now()) {
		return "", "", nil, ErrAccountLocked
	}

	if err := s.verifyPassword(user.PasswordHash, password); err != nil {
		attempts, recErr := s.userRepo.RecordLoginFailure(ctx, user.ID)
		if recErr != nil {
			return "", "", nil, fmt.Errorf("failed to record login failure: %w", recErr)
		}
		if attempts >= s.authCfg.MaxFailedAttempts {
			until := time.Now().Add(time.Duration(s.authCfg.LockoutMinutes) * time.Minute)
			if lockErr := s.userRepo.Lock(ctx, user.ID, until); lockErr != nil {
				return "", "", nil, fmt.Errorf("failed to lock account: %w", lockErr)
			}
			s.logger.Warn("account locked after repeated failures",
				zap.String("email", email),
				zap.Time("locked_until", until),
			)
			if mailErr := s.outboxRepo.Enqueue(ctx, email,
				"Security alert: account locked",
				fmt.Sprintf("Your account was locked for %d minutes after repeated failed sign-in attempts.", s.authCfg.LockoutMinutes),
			); mailErr != nil {
				s.logger.Error("failed to enqueue lockout email", zap.Error(mailErr))
			}
		}
		s.countFailure(ctx, ip, email)
		return "", "", nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return "", "", nil, ErrAccountNotActive
	}

	if err := s.userRepo.RecordLoginSuccess(ctx, user.ID, time.Now(), ip); err != nil {
		return "", "", nil, fmt.Errorf("failed to record login: %w", err)
	}

	accessToken, err = s.generateAccessToken(user)
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	// Fresh login starts a new rotation family
	refreshToken, err = s.issueRefreshToken(ctx, user.ID, uuid.New())
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// one is issued in the same family. Presenting an already-revoked token is
// treated as theft and revokes every live token in the family.
func (s *authService) Refresh(ctx context.Context, refreshTokenString, ip string) (string, string, error) {
	token, err := s.refreshTokenRepo.FindByToken(ctx, refreshTokenString)
	if err != nil {
		if err == repository.ErrRefreshTokenNotFound {
			return "", "", ErrInvalidToken
		}
		return "", "", fmt.Errorf("failed to find refresh token: %w", err)
	}

	if token.Revoked() {
		s.logger.Warn("refresh token reuse detected",
			zap.String("user_id", token.UserID.String()),
			zap.String("family_id", token.FamilyID.String()),
			zap.String("ip", ip),
		)
		if err := s.refreshTokenRepo.RevokeFamily(ctx, token.FamilyID, ip, reasonReuse); err != nil {
			return "", "", fmt.Errorf("failed to revoke token family: %w", err)
		}
		return "", "", ErrTokenReuse
	}

	if time.Now().After(token.ExpiresAt) {
		return "", "", ErrTokenExpired
	}

	user, err := s.userRepo.FindByID(ctx, token.UserID)
	if err != nil {
		return "", "", fmt.Errorf("failed to find user: %w", err)
	}

	if err := s.refreshTokenRepo.Revoke(ctx, refreshTokenString, ip, reasonRotated); err != nil {
		return "", "", fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	newRefreshToken, err := s.issueRefreshToken(ctx, user.ID, token.FamilyID)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	newAccessToken, err := s.generateAccessToken(user)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return newAccessToken, newRefreshToken, nil
}

// Logout revokes the presented token's whole family so every device on that
// rotation chain is signed out.
func (s *authService) Logout(ctx context.Context, refreshTokenString, ip string) error {
	token, err := s.refreshTokenRepo.FindByToken(ctx, refreshTokenString)
	if err != nil {
		if err == repository.ErrRefreshTokenNotFound {
			// Already gone, consider it logged out
			return nil
		}
		return fmt.Errorf("failed to find refresh token: %w", err)
	}

	if err := s.refreshTokenRepo.RevokeFamily(ctx, token.FamilyID, ip, reasonLogout); err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	return nil
}

// RequestPasswordReset issues a reset code. Unknown emails succeed silently so
// the endpoint cannot be used to probe for accounts.
func (s *authService) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			s.randomDelay()
			return nil
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	code, err := s.issueCode(ctx, "reset", email)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.Enqueue(ctx, email,
		"Reset your password",
		fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.", code, s.authCfg.CodeTTLMinutes),
	); err != nil {
		return fmt.Errorf("failed to enqueue reset email: %w", err)
	}

	return nil
}

// ResetPassword verifies the reset code and replaces the password.
func (s *authService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if err := s.verifyCode(ctx, "reset", email, code); err != nil {
		return err
	}

	hashedPassword, err := s.hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtCfg.Secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetUserByID retrieves a user by ID
func (s *authService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// issueCode generates a six-digit code and stores it under purpose:email for
// the configured TTL. Issuing a new code replaces any outstanding one.
func (s *authService) issueCode(ctx context.Context, purpose, email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	ttl := time.Duration(s.authCfg.CodeTTLMinutes) * time.Minute
	if err := s.limiter.SetCode(ctx, "code:"+purpose+":"+email, code, ttl); err != nil {
		return "", err
	}
	if err := s.limiter.Reset(ctx, "code-attempts:"+purpose+":"+email); err != nil {
		return "", err
	}

	return code, nil
}

// verifyCode checks a submitted code against the stored one, capping guesses.
// A correct code is consumed so it cannot be replayed.
func (s *authService) verifyCode(ctx context.Context, purpose, email, code string) error {
	ttl := time.Duration(s.authCfg.CodeTTLMinutes) * time.Minute
	attempts, err := s.limiter.Hit(ctx, "code-attempts:"+purpose+":"+email, ttl)
	if err != nil {
		return fmt.Errorf("failed to count code attempts: %w", err)
	}
	if attempts > int64(s.authCfg.CodeMaxAttempts) {
		return ErrInvalidCode
	}

	stored, err := s.limiter.GetCode(ctx, "code:"+purpose+":"+email)
	if err != nil {
		return err
	}
	if stored == "" || stored != code {
		return ErrInvalidCode
	}

	if err := s.limiter.DeleteCode(ctx, "code:"+purpose+":"+email); err != nil {
		return err
	}

	return nil
}

// countFailure tracks failed logins per IP and logs a security alert once the
// count crosses the configured threshold.
func (s *authService) countFailure(ctx context.Context, ip, email string) {
	window := time.Duration(s.authCfg.LoginRateWindowSec) * time.Second
	count, err := s.limiter.Hit(ctx, "failures:ip:"+ip, window)
	if err != nil {
		s.logger.Error("failed to count login failure", zap.Error(err))
		return
	}
	if count >= int64(s.authCfg.AlertThreshold) {
		s.logger.Warn("elevated login failures from single source",
			zap.String("ip", ip),
			zap.String("last_email", email),
			zap.Int64("failures", count),
		)
	}
}

// randomDelay sleeps 100-300ms so responses for unknown accounts are not
// distinguishable from failed password checks by timing.
func (s *authService) randomDelay() {
	n, err := rand.Int(rand.Reader, big.NewInt(200))
	if err != nil {
		n = big.NewInt(100)
	}
	s.sleep(time.Duration(100+n.Int64()) * time.Millisecond)
}

// hashPassword hashes a password using bcrypt with cost factor 10
func (s *authService) hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// verifyPassword verifies a password against a bcrypt hash
func (s *authService) verifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// generateAccessToken generates a JWT access token with user ID and role claims
func (s *authService) generateAccessToken(user *domain.User) (string, error) {
	expirationTime := time.Now().Add(time.Duration(s.jwtCfg.AccessExpiry) * time.Minute)
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtCfg.Secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// issueRefreshToken stores a new opaque refresh token in the given family.
func (s *authService) issueRefreshToken(ctx context.Context, userID, familyID uuid.UUID) (string, error) {
	tokenString := uuid.New().String()

	refreshToken := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     tokenString,
		FamilyID:  familyID,
		ExpiresAt: time.Now().Add(time.Duration(s.jwtCfg.RefreshExpiry) * 24 * time.Hour),
		CreatedAt: time.Now(),
	}

	if err := s.refreshTokenRepo.Create(ctx, refreshToken); err != nil {
		return "", err
	}

	return tokenString, nil
}
