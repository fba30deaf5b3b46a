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
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

// CartRepository defines the interface for cart data access
type CartRepository interface {
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	CreateForUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]*domain.CartItem, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*domain.CartItem, error)
	FindItemByProduct(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error)
	AddItem(ctx context.Context, item *domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	SetItemChecked(ctx context.Context, itemID uuid.UUID, checked bool) error
	RemoveItem(ctx context.Context, itemID uuid.UUID) error
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// FindActiveByUser retrieves the user's single active cart.
func (r *cartRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `
		SELECT id, user_id, status, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND status = $2
	`

	cart := &domain.Cart{}
	err := r.db.QueryRowContext(ctx, query, userID, domain.CartStatusActive).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find active cart: %w", err)
	}

	return cart, nil
}

// CreateForUser creates a fresh active cart for the user.
func (r *cartRepository) CreateForUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	now := time.Now()
	cart := &domain.Cart{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, cart.ID, cart.UserID, cart.Status, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return cart, nil
}

// ListItems retrieves all items in a cart.
func (r *cartRepository) ListItems(ctx context.Context, cartID uuid.UUID) ([]*domain.CartItem, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, is_checked, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer rows.Close()

	items := []*domain.CartItem{}
	for rows.Next() {
		item := &domain.CartItem{}
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.IsChecked,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return items, nil
}

// FindItem retrieves a cart item by ID.
func (r *cartRepository) FindItem(ctx context.Context, itemID uuid.UUID) (*domain.CartItem, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, is_checked, created_at, updated_at
		FROM cart_items
		WHERE id = $1
	`

	item := &domain.CartItem{}
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.IsChecked,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to find cart item: %w", err)
	}

	return item, nil
}

// FindItemByProduct retrieves the line for a product in a cart, if present.
func (r *cartRepository) FindItemByProduct(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, is_checked, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1 AND product_id = $2
	`

	item := &domain.CartItem{}
	err := r.db.QueryRowContext(ctx, query, cartID, productID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.IsChecked,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to find cart item by product: %w", err)
	}

	return item, nil
}

// AddItem inserts a new cart line.
func (r *cartRepository) AddItem(ctx context.Context, item *domain.CartItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, is_checked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.CartID, item.ProductID, item.Quantity, item.IsChecked, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}

	return nil
}

// UpdateItemQuantity changes the line quantity.
func (r *cartRepository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = $2, updated_at = NOW() WHERE id = $1
	`, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to update cart item quantity: %w", err)
	}
	return requireRow(result, ErrCartItemNotFound)
}

// SetItemChecked toggles whether the line participates in checkout.
func (r *cartRepository) SetItemChecked(ctx context.Context, itemID uuid.UUID, checked bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cart_items SET is_checked = $2, updated_at = NOW() WHERE id = $1
	`, itemID, checked)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return requireRow(result, ErrCartItemNotFound)
}

// RemoveItem deletes a cart line.
func (r *cartRepository) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return requireRow(result, ErrCartItemNotFound)
}
