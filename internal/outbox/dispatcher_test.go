package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishCall struct {
	key   string
	value []byte
}

// fakePublisher fails the first failures calls, then succeeds.
type fakePublisher struct {
	failures int
	calls    []publishCall
}

func (p *fakePublisher) Publish(ctx context.Context, key, value []byte) error {
	p.calls = append(p.calls, publishCall{key: string(key), value: value})
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	return nil
}

type fakeOutboxRepo struct {
	pending []*domain.EmailMessage
	sent    []uuid.UUID
	failed  map[uuid.UUID]string
}

func newFakeOutboxRepo(messages ...*domain.EmailMessage) *fakeOutboxRepo {
	return &fakeOutboxRepo{pending: messages, failed: map[uuid.UUID]string{}}
}

func (r *fakeOutboxRepo) Enqueue(ctx context.Context, recipient, subject, body string) error {
	r.pending = append(r.pending, &domain.EmailMessage{
		ID:        uuid.New(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    domain.EmailStatusPending,
	})
	return nil
}

func (r *fakeOutboxRepo) FetchPending(ctx context.Context, limit int) ([]*domain.EmailMessage, error) {
	if len(r.pending) > limit {
		return r.pending[:limit], nil
	}
	return r.pending, nil
}

func (r *fakeOutboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	r.sent = append(r.sent, id)
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastError string) error {
	r.failed[id] = lastError
	return nil
}

func pendingEmail(recipient string) *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:        uuid.New(),
		Recipient: recipient,
		Subject:   "Order received",
		Body:      "Your order has been received.",
		Status:    domain.EmailStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestDispatchBatchMarksSentOnSuccess(t *testing.T) {
	msg := pendingEmail("user@example.com")
	repo := newFakeOutboxRepo(msg)
	pub := &fakePublisher{}
	d := NewDispatcher(repo, pub, zap.NewNop(), 10, time.Second, 5)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Equal(t, []uuid.UUID{msg.ID}, repo.sent)
	assert.Empty(t, repo.failed)

	// Message key routes by recipient; payload carries the email fields
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "user@example.com", pub.calls[0].key)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pub.calls[0].value, &payload))
	assert.Equal(t, "user@example.com", payload["recipient"])
	assert.Equal(t, "Order received", payload["subject"])
}

func TestDispatchBatchRetriesTransientFailures(t *testing.T) {
	msg := pendingEmail("user@example.com")
	repo := newFakeOutboxRepo(msg)
	pub := &fakePublisher{failures: 2}
	d := NewDispatcher(repo, pub, zap.NewNop(), 10, time.Second, 5)

	require.NoError(t, d.DispatchBatch(context.Background()))

	// Two failed publishes are absorbed by the in-process backoff
	assert.Len(t, pub.calls, 3)
	assert.Equal(t, []uuid.UUID{msg.ID}, repo.sent)
	assert.Empty(t, repo.failed, "transient failures must not mark the message failed")
}

func TestDispatchBatchRecordsPersistentFailure(t *testing.T) {
	msg := pendingEmail("user@example.com")
	repo := newFakeOutboxRepo(msg)
	pub := &fakePublisher{failures: 100}
	d := NewDispatcher(repo, pub, zap.NewNop(), 10, time.Second, 5)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Empty(t, repo.sent)
	require.Contains(t, repo.failed, msg.ID)
	assert.Equal(t, "broker unavailable", repo.failed[msg.ID])
}

func TestDispatchBatchContinuesPastFailures(t *testing.T) {
	bad := pendingEmail("down@example.com")
	good := pendingEmail("up@example.com")
	repo := newFakeOutboxRepo(bad, good)

	// Exactly enough failures to exhaust the backoff for the first message
	pub := &fakePublisher{failures: 3}
	d := NewDispatcher(repo, pub, zap.NewNop(), 10, time.Second, 5)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Contains(t, repo.failed, bad.ID)
	assert.Equal(t, []uuid.UUID{good.ID}, repo.sent, "later messages still dispatch")
}

func TestDispatchBatchHonorsBatchSize(t *testing.T) {
	repo := newFakeOutboxRepo(
		pendingEmail("a@example.com"),
		pendingEmail("b@example.com"),
		pendingEmail("c@example.com"),
	)
	pub := &fakePublisher{}
	d := NewDispatcher(repo, pub, zap.NewNop(), 2, time.Second, 5)

	require.NoError(t, d.DispatchBatch(context.Background()))

	assert.Len(t, repo.sent, 2)
}
