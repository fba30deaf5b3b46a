package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// RefreshTokenRepository defines the interface for refresh token data access.
// Tokens carry a family ID so a rotation chain can be revoked as a unit.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, token, byIP, reason string) error
	RevokeFamily(ctx context.Context, familyID uuid.UUID, byIP, reason string) error
}

type refreshTokenRepository struct {
	db *sql.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository
func NewRefreshTokenRepository(db *sql.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token, family_id, expires_at, created_at,
		revoked_at, revoked_by_ip, reason_revoked`

// Create inserts a new refresh token into the database using parameterized queries
func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token, family_id, expires_at, created_at,
			revoked_at, revoked_by_ip, reason_revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		token.ID,
		token.UserID,
		token.Token,
		token.FamilyID,
		token.ExpiresAt,
		token.CreatedAt,
		token.RevokedAt,
		token.RevokedByIP,
		token.ReasonRevoked,
	)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

// FindByToken retrieves a refresh token by its token string. Revoked tokens
// are returned as-is: the auth service needs the row to detect reuse and
// revoke the family.
func (r *refreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1`

	refreshToken := &domain.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&refreshToken.ID,
		&refreshToken.UserID,
		&refreshToken.Token,
		&refreshToken.FamilyID,
		&refreshToken.ExpiresAt,
		&refreshToken.CreatedAt,
		&refreshToken.RevokedAt,
		&refreshToken.RevokedByIP,
		&refreshToken.ReasonRevoked,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	return refreshToken, nil
}

// Revoke marks a single refresh token as revoked with an audit trail.
func (r *refreshTokenRepository) Revoke(ctx context.Context, token, byIP, reason string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, reason_revoked = $4
		WHERE token = $1 AND revoked_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, token, time.Now(), byIP, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrRefreshTokenNotFound
	}

	return nil
}

// RevokeFamily revokes every live token in a rotation family. Used on logout
// and on refresh-token reuse detection.
func (r *refreshTokenRepository) RevokeFamily(ctx context.Context, familyID uuid.UUID, byIP, reason string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2, revoked_by_ip = $3, reason_revoked = $4
		WHERE family_id = $1 AND revoked_at IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, familyID, time.Now(), byIP, reason); err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	return nil
}
