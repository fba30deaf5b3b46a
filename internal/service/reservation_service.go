package service

import (
	"context"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationService manages time-boxed stock holds and runs the background
// sweep that returns expired holds to stock.
type ReservationService interface {
	Reserve(ctx context.Context, productID, cartItemID uuid.UUID, quantity int) error
	Release(ctx context.Context, cartItemID uuid.UUID) error
	ReleaseAndRestore(ctx context.Context, cartItemID uuid.UUID) error
	ActiveHold(ctx context.Context, cartItemID uuid.UUID) (*domain.StockReservation, error)
	RunSweeper(ctx context.Context)
}

type reservationService struct {
	reservationRepo repository.ReservationRepository
	logger          *zap.Logger
	ttl             time.Duration
	sweepInterval   time.Duration
}

// NewReservationService creates a new instance of ReservationService
func NewReservationService(
	reservationRepo repository.ReservationRepository,
	logger *zap.Logger,
	ttl time.Duration,
	sweepInterval time.Duration,
) ReservationService {
	return &reservationService{
		reservationRepo: reservationRepo,
		logger:          logger,
		ttl:             ttl,
		sweepInterval:   sweepInterval,
	}
}

// Reserve creates or resizes the hold for a cart item. The deadline is always
// pushed out to now+TTL, so touching a cart line keeps its hold alive.
func (s *reservationService) Reserve(ctx context.Context, productID, cartItemID uuid.UUID, quantity int) error {
	return s.reservationRepo.Reserve(ctx, productID, cartItemID, quantity, time.Now().Add(s.ttl))
}

func (s *reservationService) Release(ctx context.Context, cartItemID uuid.UUID) error {
	return s.reservationRepo.Release(ctx, cartItemID)
}

func (s *reservationService) ReleaseAndRestore(ctx context.Context, cartItemID uuid.UUID) error {
	return s.reservationRepo.ReleaseAndRestore(ctx, cartItemID)
}

func (s *reservationService) ActiveHold(ctx context.Context, cartItemID uuid.UUID) (*domain.StockReservation, error) {
	return s.reservationRepo.FindActiveByCartItem(ctx, cartItemID)
}

// RunSweeper releases expired holds on an interval until the context is
// cancelled. The sweep itself is idempotent, so overlapping runs from
// multiple instances are harmless.
func (s *reservationService) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.reservationRepo.ReleaseExpired(ctx)
			if err != nil {
				s.logger.Error("reservation sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				s.logger.Info("released expired reservations", zap.Int("count", swept))
			}
		}
	}
}
