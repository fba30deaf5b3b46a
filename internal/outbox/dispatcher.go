package outbox

import (
	"context"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Publisher is the transport the dispatcher hands messages to. Satisfied by
// kafka.Producer; tests substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Dispatcher polls the email outbox and publishes pending messages. Each
// message gets a short in-process backoff around the publish; if that still
// fails, the attempt is recorded and the message waits for the next poll,
// until the attempt budget runs out and it is parked as failed.
type Dispatcher struct {
	repo         repository.OutboxRepository
	publisher    Publisher
	logger       *zap.Logger
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
}

func NewDispatcher(
	repo repository.OutboxRepository,
	publisher Publisher,
	logger *zap.Logger,
	batchSize int,
	pollInterval time.Duration,
	maxAttempts int,
) *Dispatcher {
	return &Dispatcher{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchBatch(ctx); err != nil {
				d.logger.Error("outbox dispatch batch failed", zap.Error(err))
			}
		}
	}
}

// DispatchBatch fetches one batch of pending messages and tries to publish
// each. Per-message failures are recorded and do not abort the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context) error {
	messages, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := d.dispatch(ctx, msg); err != nil {
			d.logger.Warn("email publish failed",
				zap.String("email_id", msg.ID.String()),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.repo.MarkFailed(ctx, msg.ID, d.maxAttempts, err.Error()); markErr != nil {
				d.logger.Error("failed to record email failure",
					zap.String("email_id", msg.ID.String()),
					zap.Error(markErr),
				)
			}
			continue
		}

		if err := d.repo.MarkSent(ctx, msg.ID); err != nil {
			d.logger.Error("failed to mark email sent",
				zap.String("email_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *domain.EmailMessage) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.publisher.Publish(ctx, []byte(msg.Recipient), encodeEmail(msg)); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
