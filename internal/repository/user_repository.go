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

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user with this email already exists")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Activate(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	RecordLoginFailure(ctx context.Context, id uuid.UUID) (attempts int, err error)
	Lock(ctx context.Context, id uuid.UUID, until time.Time) error
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active,
		failed_login_attempts, locked_until, last_login_at, last_login_ip, created_at, updated_at`

// Create inserts a new user into the database using parameterized queries
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active,
			failed_login_attempts, locked_until, last_login_at, last_login_ip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.IsActive,
		user.FailedLoginAttempts,
		user.LockedUntil,
		user.LastLoginAt,
		user.LastLoginIP,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// FindByEmail retrieves a user by email using parameterized queries
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := r.scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// FindByID retrieves a user by ID using parameterized queries
func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := r.scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// Activate marks an account active after code verification.
func (r *userRepository) Activate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// UpdatePassword replaces the stored password hash.
func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// RecordLoginFailure increments the persisted failed-attempt counter and
// returns the new value so the caller can decide whether to lock.
func (r *userRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts
	`, id).Scan(&attempts)

	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	return attempts, nil
}

// Lock sets the lockout deadline and resets the attempt counter so the next
// window starts clean after the lock expires.
func (r *userRepository) Lock(ctx context.Context, id uuid.UUID, until time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked_until = $2, failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`, id, until)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// RecordLoginSuccess clears lockout state and stores last-login metadata.
func (r *userRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL,
		    last_login_at = $2, last_login_ip = $3, updated_at = NOW()
		WHERE id = $1
	`, id, at, ip)
	if err != nil {
		return fmt.Errorf("failed to record login success: %w", err)
	}
	return requireRow(result, ErrUserNotFound)
}

func (r *userRepository) scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.IsActive,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&user.LastLoginAt,
		&user.LastLoginIP,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// requireRow maps a zero-row update to the given sentinel.
func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
