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
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyCart         = errors.New("cart has no checked items")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// OrderRepository defines the interface for order data access. Conversion and
// cancellation each run in a single transaction so no partial state survives
// a failure between steps.
type OrderRepository interface {
	ConvertCartToOrder(ctx context.Context, userID uuid.UUID) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, []*domain.OrderItem, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

// ConvertCartToOrder turns the checked items of the user's active cart into a
// pending order. Per item: a live reservation is consumed as-is (its stock is
// already taken); without one the product row is locked and stock is checked
// and decremented directly. The old cart is marked converted and a fresh
// active cart is created, all in the same transaction.
func (r *orderRepository) ConvertCartToOrder(ctx context.Context, userID uuid.UUID) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cartID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM carts WHERE user_id = $1 AND status = $2 FOR UPDATE
	`, userID, domain.CartStatusActive).Scan(&cartID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	type line struct {
		itemID     uuid.UUID
		productID  uuid.UUID
		quantity   int
		name       string
		brandName  string
		priceCents int64
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, ci.quantity, p.name, COALESCE(b.name, ''), p.price_cents
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN brands b ON b.id = p.brand_id
		WHERE ci.cart_id = $1 AND ci.is_checked
		ORDER BY ci.created_at ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.itemID, &l.productID, &l.quantity, &l.name, &l.brandName, &l.priceCents); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now()
	for _, l := range lines {
		// Consume the live reservation if one exists; its quantity is
		// already taken out of product stock.
		var reservedQty int
		err = tx.QueryRowContext(ctx, `
			UPDATE stock_reservations
			SET is_active = FALSE, updated_at = $2
			WHERE cart_item_id = $1 AND is_active
			RETURNING quantity
		`, l.itemID, now).Scan(&reservedQty)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to consume reservation: %w", err)
		}

		// Cover any gap between the ordered quantity and what the
		// reservation held. A surplus hold credits stock back.
		needed := l.quantity - reservedQty
		if needed != 0 {
			var stock int
			err = tx.QueryRowContext(ctx,
				`SELECT stock FROM products WHERE id = $1 FOR UPDATE`, l.productID,
			).Scan(&stock)
			if err != nil {
				return nil, fmt.Errorf("failed to lock product: %w", err)
			}
			if needed > 0 && stock < needed {
				return nil, ErrInsufficientStock
			}
			if _, err = tx.ExecContext(ctx, `
				UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1
			`, l.productID, needed, now); err != nil {
				return nil, fmt.Errorf("failed to adjust product stock: %w", err)
			}
		}
	}

	order := &domain.Order{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, l := range lines {
		order.TotalCents += l.priceCents * int64(l.quantity)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.UserID, order.Status, order.TotalCents, order.CreatedAt, order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, l := range lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, brand_name, unit_price_cents, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), order.ID, l.productID, l.name, l.brandName, l.priceCents, l.quantity); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	// Replace the cart: old one converted, fresh active one
	if _, err = tx.ExecContext(ctx, `
		UPDATE carts SET status = $2, updated_at = $3 WHERE id = $1
	`, cartID, domain.CartStatusConverted, now); err != nil {
		return nil, fmt.Errorf("failed to convert cart: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, uuid.New(), userID, domain.CartStatusActive, now); err != nil {
		return nil, fmt.Errorf("failed to create replacement cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order conversion: %w", err)
	}

	return order, nil
}

// CancelOrder restores stock for every order item and re-adds the items to
// the user's active cart, then marks the order cancelled.
func (r *orderRepository) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE
	`, orderID, userID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if !status.CanTransitionTo(domain.OrderStatusCancelled) {
		return ErrInvalidTransition
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	type restore struct {
		productID uuid.UUID
		quantity  int
	}
	var restores []restore
	for rows.Next() {
		var x restore
		if err := rows.Scan(&x.productID, &x.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		restores = append(restores, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating order items: %w", err)
	}

	now := time.Now()
	for _, x := range restores {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = $3 WHERE id = $1
		`, x.productID, x.quantity, now); err != nil {
			return fmt.Errorf("failed to restore product stock: %w", err)
		}
	}

	// Re-add items to the active cart, creating one if checkout replaced it
	var cartID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM carts WHERE user_id = $1 AND status = $2 FOR UPDATE
	`, userID, domain.CartStatusActive).Scan(&cartID)
	if err == sql.ErrNoRows {
		cartID = uuid.New()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`, cartID, userID, domain.CartStatusActive, now); err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to find active cart: %w", err)
	}

	for _, x := range restores {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, cart_id, product_id, quantity, is_checked, created_at, updated_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $5)
			ON CONFLICT (cart_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		`, uuid.New(), cartID, x.productID, x.quantity, now); err != nil {
			return fmt.Errorf("failed to re-add cart item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, orderID, domain.OrderStatusCancelled, now); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return nil
}

// UpdateStatus applies a legality-checked status transition.
func (r *orderRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, next domain.OrderStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if !current.CanTransitionTo(next) {
		return ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, orderID, next); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}

	return nil
}

// FindByID retrieves an order with its item snapshots.
func (r *orderRepository) FindByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, []*domain.OrderItem, error) {
	order := &domain.Order{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_cents, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalCents,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("failed to find order: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, brand_name, unit_price_cents, quantity
		FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	items := []*domain.OrderItem{}
	for rows.Next() {
		item := &domain.OrderItem{}
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.BrandName,
			&item.UnitPriceCents,
			&item.Quantity,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return order, items, nil
}

// ListByUser retrieves a user's orders, newest first.
func (r *orderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, status, total_cents, created_at, updated_at
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order := &domain.Order{}
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.TotalCents,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}
