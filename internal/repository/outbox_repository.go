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

var ErrEmailNotFound = errors.New("email message not found")

// OutboxRepository persists outbound emails in the primary store. Messages are
// enqueued as pending and picked up by the dispatcher. FetchPending claims its
// batch by moving the rows to the dispatching status, so concurrent
// dispatchers never grab the same messages.
type OutboxRepository interface {
	Enqueue(ctx context.Context, recipient, subject, body string) error
	FetchPending(ctx context.Context, limit int) ([]*domain.EmailMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastError string) error
}

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new instance of OutboxRepository
func NewOutboxRepository(db *sql.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Enqueue stores a pending email message.
func (r *outboxRepository) Enqueue(ctx context.Context, recipient, subject, body string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_outbox (id, recipient, subject, body, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, '', $6, $6)
	`, uuid.New(), recipient, subject, body, domain.EmailStatusPending, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue email: %w", err)
	}

	return nil
}

// FetchPending claims up to limit dispatchable messages, oldest first. The
// claim flips the rows to dispatching inside one statement, with SKIP LOCKED
// on the selecting subquery so two dispatchers racing on the same batch
// partition it instead of double-publishing. Rows stuck in dispatching, left
// behind by a dispatcher that died mid-batch, are reclaimed after five
// minutes.
func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.EmailMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE email_outbox
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_outbox
			WHERE status = $2
			   OR (status = $1 AND updated_at < NOW() - INTERVAL '5 minutes')
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, recipient, subject, body, status, attempts, last_error, created_at, updated_at
	`, domain.EmailStatusDispatching, domain.EmailStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending emails: %w", err)
	}
	defer rows.Close()

	messages := []*domain.EmailMessage{}
	for rows.Next() {
		msg := &domain.EmailMessage{}
		err := rows.Scan(
			&msg.ID,
			&msg.Recipient,
			&msg.Subject,
			&msg.Body,
			&msg.Status,
			&msg.Attempts,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email messages: %w", err)
	}

	return messages, nil
}

// MarkSent records a successful dispatch.
func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`, id, domain.EmailStatusSent)
	if err != nil {
		return fmt.Errorf("failed to mark email sent: %w", err)
	}
	return requireRow(result, ErrEmailNotFound)
}

// MarkFailed records a failed attempt. Once the attempt count reaches
// maxAttempts the message flips to the terminal failed status and is never
// retried.
func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		SET attempts = attempts + 1,
		    last_error = $3,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, maxAttempts, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark email failed: %w", err)
	}
	return requireRow(result, ErrEmailNotFound)
}
