package domain

import (
	"time"

	"github.com/google/uuid"
)

// StockReservation is a time-boxed hold on product stock tied to a cart line
// item. Stock is decremented eagerly when the reservation is created, so an
// active reservation means the quantity is already taken out of Product.Stock.
// At most one active reservation exists per cart item.
type StockReservation struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProductID  uuid.UUID `json:"product_id" db:"product_id"`
	CartItemID uuid.UUID `json:"cart_item_id" db:"cart_item_id"`
	Quantity   int       `json:"quantity" db:"quantity"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the reservation has passed its expiry at now.
func (r *StockReservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
