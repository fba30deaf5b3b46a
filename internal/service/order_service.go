package service

import (
	"context"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService defines the interface for order business logic.
type OrderService interface {
	Checkout(ctx context.Context, userID uuid.UUID) (*domain.Order, error)
	Cancel(ctx context.Context, orderID, userID uuid.UUID) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus) error
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, []*domain.OrderItem, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
}

type orderService struct {
	orderRepo  repository.OrderRepository
	userRepo   repository.UserRepository
	outboxRepo repository.OutboxRepository
	logger     *zap.Logger
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	orderRepo repository.OrderRepository,
	userRepo repository.UserRepository,
	outboxRepo repository.OutboxRepository,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		orderRepo:  orderRepo,
		userRepo:   userRepo,
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// Checkout converts the user's checked cart items into a pending order and
// enqueues the confirmation email. The conversion itself is a single
// transaction in the repository.
func (s *orderService) Checkout(ctx context.Context, userID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.ConvertCartToOrder(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("total_cents", order.TotalCents),
	)

	// Confirmation email is best-effort; the order stands either way
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load user for confirmation email", zap.Error(err))
		return order, nil
	}
	if err := s.outboxRepo.Enqueue(ctx, user.Email,
		"Order confirmation",
		fmt.Sprintf("Your order %s has been received. Total: %d.%02d",
			order.ID, order.TotalCents/100, order.TotalCents%100),
	); err != nil {
		s.logger.Error("failed to enqueue confirmation email", zap.Error(err))
	}

	return order, nil
}

// Cancel cancels the order, restores stock and puts the items back in the
// user's cart.
func (s *orderService) Cancel(ctx context.Context, orderID, userID uuid.UUID) error {
	if err := s.orderRepo.CancelOrder(ctx, orderID, userID); err != nil {
		return err
	}

	s.logger.Info("order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}

// UpdateStatus moves an order along its lifecycle. Illegal moves are rejected
// by the repository.
func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus) error {
	if !next.Valid() {
		return repository.ErrInvalidTransition
	}
	return s.orderRepo.UpdateStatus(ctx, orderID, next)
}

// GetOrder loads an order with its items, scoped to the owning user.
func (s *orderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, []*domain.OrderItem, error) {
	order, items, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, repository.ErrOrderNotFound
	}
	return order, items, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID)
}
