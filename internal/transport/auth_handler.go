package transport

import (
	"encoding/json"
	"net"
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// ActivateRequest represents the account activation payload
type ActivateRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResetRequest asks for a password reset code
type ResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetConfirmRequest submits the reset code and new password
type ResetConfirmRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserProfile `json:"user"`
}

// RefreshResponse represents the token refresh response
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserProfile represents user profile data
type UserProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
}

// AuthHandler handles HTTP requests for authentication operations
type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", h.Register)
		r.Post("/activate", h.Activate)
		r.Post("/activate/resend", h.ResendActivation)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/password-reset", h.RequestPasswordReset)
		r.Post("/password-reset/confirm", h.ResetPassword)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", h.Logout)
			r.Get("/profile", h.GetProfile)
		})
	})
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		if err == repository.ErrUserAlreadyExists {
			middleware.RespondWithError(w, http.StatusConflict, "user with this email already exists")
			return
		}
		h.logger.Error("Registration failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	h.logger.Info("User registered", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, userProfile(user.ID.String(), user.Email, user.FirstName, user.LastName, user.Role, user.IsActive))
}

// Activate handles account activation with the emailed code
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.authService.Activate(r.Context(), req.Email, req.Code); err != nil {
		if err == service.ErrInvalidCode {
			middleware.RespondWithError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		h.logger.Error("Activation failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to activate account")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "account activated"})
}

// ResendActivation issues a fresh activation code. Always responds OK so the
// endpoint cannot be used to probe for accounts.
func (h *AuthHandler) ResendActivation(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.authService.ResendActivation(r.Context(), req.Email); err != nil {
		h.logger.Error("Activation resend failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to resend activation code")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, an activation code has been sent"})
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	accessToken, refreshToken, user, err := h.authService.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		switch err {
		case service.ErrInvalidCredentials:
			middleware.RespondWithError(w, http.StatusUnauthorized, "invalid email or password")
		case service.ErrAccountLocked:
			middleware.RespondWithError(w, http.StatusForbidden, "account is temporarily locked")
		case service.ErrAccountNotActive:
			middleware.RespondWithError(w, http.StatusForbidden, "account has not been activated")
		case service.ErrTooManyAttempts:
			middleware.RespondWithError(w, http.StatusTooManyRequests, "too many login attempts")
		default:
			h.logger.Error("Login failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	response := LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userProfile(user.ID.String(), user.Email, user.FirstName, user.LastName, user.Role, user.IsActive),
	}

	h.logger.Info("User logged in", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, response)
}

// Refresh handles refresh token rotation
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	newAccessToken, newRefreshToken, err := h.authService.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		switch err {
		case service.ErrInvalidToken, service.ErrTokenReuse:
			middleware.RespondWithError(w, http.StatusUnauthorized, "invalid refresh token")
		case service.ErrTokenExpired:
			middleware.RespondWithError(w, http.StatusUnauthorized, "refresh token expired")
		default:
			h.logger.Error("Token refresh failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  newAccessToken,
		RefreshToken: newRefreshToken,
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken, clientIP(r)); err != nil {
		h.logger.Error("Logout failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// RequestPasswordReset emails a reset code. Always responds OK so the
// endpoint cannot be used to probe for accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.authService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.logger.Error("Password reset request failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to request password reset")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, a reset code has been sent"})
}

// ResetPassword verifies the reset code and sets the new password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		if err == service.ErrInvalidCode {
			middleware.RespondWithError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		h.logger.Error("Password reset failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// GetProfile handles getting user profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get user profile", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get user profile")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, userProfile(user.ID.String(), user.Email, user.FirstName, user.LastName, user.Role, user.IsActive))
}

func userProfile(id, email, firstName, lastName, role string, isActive bool) UserProfile {
	return UserProfile{
		ID:        id,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Role:      role,
		IsActive:  isActive,
	}
}

// decodeRequest decodes and validates the body, writing the error response
// itself. Returns false when the handler should stop.
func decodeRequest(w http.ResponseWriter, r *http.Request, req any, logger *zap.Logger) bool {
	if err := middleware.DecodeAndValidate(r, req); err != nil {
		logger.Debug("Request validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return false
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// authenticatedUserID pulls the user ID the auth middleware put in context.
func authenticatedUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	userIDStr, ok := middleware.GetUserID(r.Context())
	if !ok {
		logger.Error("User ID not found in context")
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		logger.Error("Invalid user ID format", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}

// clientIP strips the port from RemoteAddr. RealIP middleware has already
// rewritten it when the request came through a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
