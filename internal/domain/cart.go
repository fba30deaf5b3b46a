package domain

import (
	"time"

	"github.com/google/uuid"
)

// Cart statuses. A user has exactly one active cart; checkout marks it
// converted and creates a fresh one.
const (
	CartStatusActive    = "active"
	CartStatusConverted = "converted"
	CartStatusAbandoned = "abandoned"
)

// Cart is a user's shopping cart.
type Cart struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartItem is a line in a cart. Only checked items participate in checkout.
type CartItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CartID    uuid.UUID `json:"cart_id" db:"cart_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	IsChecked bool      `json:"is_checked" db:"is_checked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
