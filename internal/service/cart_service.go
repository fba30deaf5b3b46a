package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

var ErrNotCartOwner = errors.New("cart item does not belong to user")

// CartService defines the interface for cart business logic. Every quantity
// change keeps the stock hold in sync: adding or resizing a line reserves,
// removing a line releases the hold and credits stock back.
type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, []*domain.CartItem, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error
	SetItemChecked(ctx context.Context, userID, itemID uuid.UUID, checked bool) error
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) error
}

type cartService struct {
	cartRepo     repository.CartRepository
	productRepo  repository.ProductRepository
	reservations ReservationService
}

// NewCartService creates a new instance of CartService
func NewCartService(
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	reservations ReservationService,
) CartService {
	return &cartService{
		cartRepo:     cartRepo,
		productRepo:  productRepo,
		reservations: reservations,
	}
}

// GetCart returns the user's active cart and its items, creating the cart on
// first use.
func (s *cartService) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, []*domain.CartItem, error) {
	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.cartRepo.ListItems(ctx, cart.ID)
	if err != nil {
		return nil, nil, err
	}

	return cart, items, nil
}

// AddItem puts a product in the cart and reserves its stock. Adding a product
// already in the cart grows the existing line instead of creating a second one.
func (s *cartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.cartRepo.FindItemByProduct(ctx, cart.ID, productID)
	if err != nil && err != repository.ErrCartItemNotFound {
		return nil, err
	}

	if existing != nil {
		newQuantity := existing.Quantity + quantity
		if err := s.reservations.Reserve(ctx, product.ID, existing.ID, newQuantity); err != nil {
			return nil, err
		}
		if err := s.cartRepo.UpdateItemQuantity(ctx, existing.ID, newQuantity); err != nil {
			return nil, err
		}
		existing.Quantity = newQuantity
		return existing, nil
	}

	now := time.Now()
	item := &domain.CartItem{
		ID:        uuid.New(),
		CartID:    cart.ID,
		ProductID: productID,
		Quantity:  quantity,
		IsChecked: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cartRepo.AddItem(ctx, item); err != nil {
		return nil, err
	}

	if err := s.reservations.Reserve(ctx, product.ID, item.ID, quantity); err != nil {
		// Reservation failed, take the line back out
		_ = s.cartRepo.RemoveItem(ctx, item.ID)
		return nil, err
	}

	return item, nil
}

// UpdateItemQuantity resizes a cart line and its stock hold together.
func (s *cartService) UpdateItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return err
	}

	if err := s.reservations.Reserve(ctx, item.ProductID, item.ID, quantity); err != nil {
		return err
	}

	return s.cartRepo.UpdateItemQuantity(ctx, item.ID, quantity)
}

// SetItemChecked toggles whether the line participates in checkout.
func (s *cartService) SetItemChecked(ctx context.Context, userID, itemID uuid.UUID, checked bool) error {
	item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return err
	}
	return s.cartRepo.SetItemChecked(ctx, item.ID, checked)
}

// RemoveItem deletes a cart line, releasing its hold and crediting stock.
func (s *cartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) error {
	item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return err
	}

	if err := s.reservations.ReleaseAndRestore(ctx, item.ID); err != nil &&
		err != repository.ErrReservationNotFound {
		return err
	}

	return s.cartRepo.RemoveItem(ctx, item.ID)
}

func (s *cartService) activeCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.cartRepo.FindActiveByUser(ctx, userID)
	if err == repository.ErrCartNotFound {
		return s.cartRepo.CreateForUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// ownedItem loads an item and checks it belongs to the user's active cart.
func (s *cartService) ownedItem(ctx context.Context, userID, itemID uuid.UUID) (*domain.CartItem, error) {
	item, err := s.cartRepo.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	cart, err := s.cartRepo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if item.CartID != cart.ID {
		return nil, ErrNotCartOwner
	}

	return item, nil
}
