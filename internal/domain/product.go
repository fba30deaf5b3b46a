package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a product in the catalog. Stock is mutated only through
// the reservation, checkout and cancellation flows and must never go negative.
type Product struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	PriceCents  int64     `json:"price_cents" db:"price_cents"`
	BrandID     uuid.UUID `json:"brand_id" db:"brand_id"`
	CategoryID  uuid.UUID `json:"category_id" db:"category_id"`
	ImageURL    string    `json:"image_url" db:"image_url"`
	Stock       int       `json:"stock" db:"stock"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Category represents a product category
type Category struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Brand represents a product brand
type Brand struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
