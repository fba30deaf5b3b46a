package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusReturned   OrderStatus = "returned"
)

// orderTransitions is the legal state machine. Terminal states have no entry.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusRejected},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusCompleted},
	OrderStatusCompleted:  {OrderStatusReturned},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusReturned:
		return true
	}
	return false
}

// Order is created from the checked items of a cart at checkout.
type Order struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	Status     OrderStatus `json:"status" db:"status"`
	TotalCents int64       `json:"total_cents" db:"total_cents"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// OrderItem snapshots product name, price and brand at order time so later
// catalog edits do not rewrite history.
type OrderItem struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrderID        uuid.UUID `json:"order_id" db:"order_id"`
	ProductID      uuid.UUID `json:"product_id" db:"product_id"`
	ProductName    string    `json:"product_name" db:"product_name"`
	BrandName      string    `json:"brand_name" db:"brand_name"`
	UnitPriceCents int64     `json:"unit_price_cents" db:"unit_price_cents"`
	Quantity       int       `json:"quantity" db:"quantity"`
}
