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
	ErrReservationNotFound = errors.New("reservation not found")
)

// ReservationRepository manages time-boxed stock holds. Stock is decremented
// eagerly when a hold is created, so Product.Stock always reflects what is
// still free to reserve.
//
// Release only deactivates the hold: checkout converts a live hold into an
// order line, so the stock stays taken. ReleaseAndRestore is the cart-removal
// path and credits the stock back. The expiry sweep behaves like
// ReleaseAndRestore for every hold past its deadline.
type ReservationRepository interface {
	Reserve(ctx context.Context, productID, cartItemID uuid.UUID, quantity int, expiresAt time.Time) error
	Release(ctx context.Context, cartItemID uuid.UUID) error
	ReleaseAndRestore(ctx context.Context, cartItemID uuid.UUID) error
	ReleaseExpired(ctx context.Context) (int, error)
	FindActiveByCartItem(ctx context.Context, cartItemID uuid.UUID) (*domain.StockReservation, error)
}

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository creates a new instance of ReservationRepository
func NewReservationRepository(db *sql.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

// Reserve creates or extends the hold for a cart item inside one transaction.
// The product row is locked FOR UPDATE so concurrent reservations on the same
// product serialize on the availability check. Availability counts the item's
// own existing hold, so growing a reservation from 2 to 3 only needs one more
// unit of free stock.
func (r *reservationRepository) Reserve(ctx context.Context, productID, cartItemID uuid.UUID, quantity int, expiresAt time.Time) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid reservation quantity %d", quantity)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stock int
	err = tx.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID,
	).Scan(&stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrProductNotFound
		}
		return fmt.Errorf("failed to lock product: %w", err)
	}

	// Existing active hold for this cart item, if any
	var existingID uuid.UUID
	var existingQty int
	err = tx.QueryRowContext(ctx, `
		SELECT id, quantity FROM stock_reservations
		WHERE cart_item_id = $1 AND is_active
	`, cartItemID).Scan(&existingID, &existingQty)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read existing reservation: %w", err)
	}

	available := stock + existingQty
	if quantity > available {
		return ErrInsufficientStock
	}

	now := time.Now()
	if existingQty > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_reservations
			SET quantity = $2, expires_at = $3, updated_at = $4
			WHERE id = $1
		`, existingID, quantity, expiresAt, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_reservations (id, product_id, cart_item_id, quantity, expires_at, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		`, uuid.New(), productID, cartItemID, quantity, expiresAt, now)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert reservation: %w", err)
	}

	// Adjust stock by the delta; negative delta credits stock back
	delta := quantity - existingQty
	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1
	`, productID, delta, now); err != nil {
		return fmt.Errorf("failed to adjust product stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	return nil
}

// Release deactivates the hold without crediting stock. Checkout calls this
// when converting a held cart item into an order line.
func (r *reservationRepository) Release(ctx context.Context, cartItemID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE stock_reservations
		SET is_active = FALSE, updated_at = NOW()
		WHERE cart_item_id = $1 AND is_active
	`, cartItemID)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrReservationNotFound
	}

	return nil
}

// ReleaseAndRestore deactivates the hold and credits its quantity back to the
// product. Used when an item is removed from a cart before checkout.
func (r *reservationRepository) ReleaseAndRestore(ctx context.Context, cartItemID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var productID uuid.UUID
	var quantity int
	err = tx.QueryRowContext(ctx, `
		UPDATE stock_reservations
		SET is_active = FALSE, updated_at = NOW()
		WHERE cart_item_id = $1 AND is_active
		RETURNING product_id, quantity
	`, cartItemID).Scan(&productID, &quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrReservationNotFound
		}
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1
	`, productID, quantity); err != nil {
		return fmt.Errorf("failed to restore product stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}

	return nil
}

// ReleaseExpired deactivates every hold past its deadline and credits the
// stock back, returning how many holds were swept. The deactivating UPDATE is
// guarded on is_active, so a second run (or a concurrent sweeper) finds no
// rows and credits nothing twice.
func (r *reservationRepository) ReleaseExpired(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE stock_reservations
		SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND expires_at < NOW()
		RETURNING product_id, quantity
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}

	type credit struct {
		productID uuid.UUID
		quantity  int
	}
	var credits []credit
	for rows.Next() {
		var c credit
		if err := rows.Scan(&c.productID, &c.quantity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired reservation: %w", err)
		}
		credits = append(credits, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating expired reservations: %w", err)
	}

	for _, c := range credits {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1
		`, c.productID, c.quantity); err != nil {
			return 0, fmt.Errorf("failed to restore product stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep: %w", err)
	}

	return len(credits), nil
}

// FindActiveByCartItem retrieves the active hold for a cart item.
func (r *reservationRepository) FindActiveByCartItem(ctx context.Context, cartItemID uuid.UUID) (*domain.StockReservation, error) {
	query := `
		SELECT id, product_id, cart_item_id, quantity, expires_at, is_active, created_at, updated_at
		FROM stock_reservations
		WHERE cart_item_id = $1 AND is_active
	`

	reservation := &domain.StockReservation{}
	err := r.db.QueryRowContext(ctx, query, cartItemID).Scan(
		&reservation.ID,
		&reservation.ProductID,
		&reservation.CartItemID,
		&reservation.Quantity,
		&reservation.ExpiresAt,
		&reservation.IsActive,
		&reservation.CreatedAt,
		&reservation.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}

	return reservation, nil
}
