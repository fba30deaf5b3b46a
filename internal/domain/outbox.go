package domain

import (
	"time"

	"github.com/google/uuid"
)

// Email outbox statuses. Dispatching marks a claimed row so concurrent
// dispatchers skip it. Failed is terminal once MaxAttempts is exhausted.
const (
	EmailStatusPending     = "pending"
	EmailStatusDispatching = "dispatching"
	EmailStatusSent        = "sent"
	EmailStatusFailed      = "failed"
)

// EmailMessage is an outbound email persisted in the same transactional store
// as the business write that produced it, then dispatched asynchronously.
type EmailMessage struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Recipient string    `json:"recipient" db:"recipient"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	Status    string    `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
