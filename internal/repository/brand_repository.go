package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrBrandNotFound      = errors.New("brand not found")
	ErrBrandAlreadyExists = errors.New("brand with this name already exists")
)

// BrandRepository defines the interface for brand data access
type BrandRepository interface {
	Create(ctx context.Context, brand *domain.Brand) error
	List(ctx context.Context) ([]*domain.Brand, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Brand, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type brandRepository struct {
	db *sql.DB
}

// NewBrandRepository creates a new instance of BrandRepository
func NewBrandRepository(db *sql.DB) BrandRepository {
	return &brandRepository{db: db}
}

func (r *brandRepository) Create(ctx context.Context, brand *domain.Brand) error {
	query := `INSERT INTO brands (id, name, created_at) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, brand.ID, brand.Name, brand.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "brands_name_key") {
			return ErrBrandAlreadyExists
		}
		return fmt.Errorf("failed to create brand: %w", err)
	}

	return nil
}

func (r *brandRepository) List(ctx context.Context) ([]*domain.Brand, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM brands ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	brands := []*domain.Brand{}
	for rows.Next() {
		brand := &domain.Brand{}
		if err := rows.Scan(&brand.ID, &brand.Name, &brand.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, brand)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating brands: %w", err)
	}

	return brands, nil
}

func (r *brandRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Brand, error) {
	brand := &domain.Brand{}
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM brands WHERE id = $1`, id).Scan(
		&brand.ID,
		&brand.Name,
		&brand.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBrandNotFound
		}
		return nil, fmt.Errorf("failed to find brand by ID: %w", err)
	}

	return brand, nil
}

func (r *brandRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM brands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete brand: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrBrandNotFound
	}

	return nil
}
