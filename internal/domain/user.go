package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. Lockout bookkeeping lives on the row
// so failed attempts survive restarts; per-IP counters live in Redis.
type User struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	FirstName           string     `json:"first_name" db:"first_name"`
	LastName            string     `json:"last_name" db:"last_name"`
	Role                string     `json:"role" db:"role"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	FailedLoginAttempts int        `json:"-" db:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"-" db:"locked_until"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	LastLoginIP         string     `json:"-" db:"last_login_ip"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RefreshToken is a persisted, revocable refresh token. Tokens issued by
// rotation share a FamilyID so the whole chain can be revoked as a unit.
type RefreshToken struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	UserID        uuid.UUID  `json:"user_id" db:"user_id"`
	Token         string     `json:"-" db:"token"`
	FamilyID      uuid.UUID  `json:"family_id" db:"family_id"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedByIP   string     `json:"-" db:"revoked_by_ip"`
	ReasonRevoked string     `json:"-" db:"reason_revoked"`
}

// Revoked reports whether the token has been revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}
