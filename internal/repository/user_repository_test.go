package repository

import (
	"context"
	"testing"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/crypto/bcrypt"
)

func TestProperty_StoredPasswordsAreHashed(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(email string, password string, firstName string, lastName string) bool {
			// Clean up before each test
			_, _ = testDB.Exec("DELETE FROM users WHERE email = $1", email)

			hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				t.Logf("Failed to hash password: %v", err)
				return false
			}

			user := &domain.User{
				ID:           uuid.New(),
				Email:        email,
				PasswordHash: string(hashedPassword),
				FirstName:    firstName,
				LastName:     lastName,
				Role:         "customer",
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			}

			if err := repo.Create(ctx, user); err != nil {
				t.Logf("Failed to create user: %v", err)
				return false
			}

			retrievedUser, err := repo.FindByEmail(ctx, email)
			if err != nil {
				t.Logf("Failed to find user: %v", err)
				return false
			}

			if retrievedUser.PasswordHash == password {
				t.Logf("Password was stored as plaintext!")
				return false
			}

			if err := bcrypt.CompareHashAndPassword([]byte(retrievedUser.PasswordHash), []byte(password)); err != nil {
				t.Logf("Stored password is not a valid bcrypt hash: %v", err)
				return false
			}

			// New accounts start inactive with clean lockout state
			if retrievedUser.IsActive || retrievedUser.FailedLoginAttempts != 0 || retrievedUser.LockedUntil != nil {
				t.Logf("Fresh account has unexpected lockout or activation state")
				return false
			}

			_, _ = testDB.Exec("DELETE FROM users WHERE email = $1", email)
			return true
		},
		gen.RegexMatch(`[a-z]{5,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestLockoutBookkeeping(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()
	user := seedUser(t)

	// Failures accumulate
	for want := 1; want <= 3; want++ {
		attempts, err := repo.RecordLoginFailure(ctx, user.ID)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if attempts != want {
			t.Fatalf("expected %d attempts, got %d", want, attempts)
		}
	}

	// Locking resets the counter and sets the deadline
	until := time.Now().Add(15 * time.Minute)
	if err := repo.Lock(ctx, user.ID, until); err != nil {
		t.Fatalf("lock: %v", err)
	}

	locked, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if locked.FailedLoginAttempts != 0 {
		t.Fatalf("lock should reset the attempt counter, got %d", locked.FailedLoginAttempts)
	}
	if locked.LockedUntil == nil || !locked.LockedAt(time.Now()) {
		t.Fatalf("account should be locked")
	}

	// A successful login clears everything and records metadata
	at := time.Now()
	if err := repo.RecordLoginSuccess(ctx, user.ID, at, "192.0.2.1"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	cleared, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if cleared.LockedUntil != nil || cleared.FailedLoginAttempts != 0 {
		t.Fatalf("success should clear lockout state")
	}
	if cleared.LastLoginAt == nil || cleared.LastLoginIP != "192.0.2.1" {
		t.Fatalf("success should record last-login metadata")
	}
}

func TestActivateAndUpdatePassword(t *testing.T) {
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        "inactive-" + uuid.NewString() + "@example.com",
		PasswordHash: "old-hash",
		Role:         "customer",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Activate(ctx, user.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, "new-hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}

	got, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.IsActive || got.PasswordHash != "new-hash" {
		t.Fatalf("activation or password update not persisted")
	}

	// Unknown IDs surface the sentinel
	if err := repo.Activate(ctx, uuid.New()); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
