package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

// CatalogService defines the interface for product, category and brand
// business logic. Stock is not editable here; it only moves through the
// reservation and order flows.
type CatalogService interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	UpdateProduct(ctx context.Context, product *domain.Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context, categoryID *uuid.UUID, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error)
	SearchProducts(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error)

	CreateCategory(ctx context.Context, name, description string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	CreateBrand(ctx context.Context, name string) (*domain.Brand, error)
	ListBrands(ctx context.Context) ([]*domain.Brand, error)
	DeleteBrand(ctx context.Context, id uuid.UUID) error
}

type catalogService struct {
	productRepo  repository.ProductRepository
	categoryRepo repository.CategoryRepository
	brandRepo    repository.BrandRepository
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(
	productRepo repository.ProductRepository,
	categoryRepo repository.CategoryRepository,
	brandRepo repository.BrandRepository,
) CatalogService {
	return &catalogService{
		productRepo:  productRepo,
		categoryRepo: categoryRepo,
		brandRepo:    brandRepo,
	}
}

// CreateProduct validates the references and stores the product.
func (s *catalogService) CreateProduct(ctx context.Context, product *domain.Product) error {
	if err := s.checkReferences(ctx, product); err != nil {
		return err
	}

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.productRepo.Create(ctx, product); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// UpdateProduct updates catalog fields. Stock is untouched even if the caller
// sets it.
func (s *catalogService) UpdateProduct(ctx context.Context, product *domain.Product) error {
	if err := s.checkReferences(ctx, product); err != nil {
		return err
	}

	product.UpdatedAt = time.Now()
	if err := s.productRepo.Update(ctx, product); err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (s *catalogService) checkReferences(ctx context.Context, product *domain.Product) error {
	if _, err := s.categoryRepo.FindByID(ctx, product.CategoryID); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}
	if product.BrandID != uuid.Nil {
		if _, err := s.brandRepo.FindByID(ctx, product.BrandID); err != nil {
			return fmt.Errorf("invalid brand: %w", err)
		}
	}
	return nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return s.productRepo.Delete(ctx, id)
}

func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.productRepo.FindByID(ctx, id)
}

func (s *catalogService) ListProducts(ctx context.Context, categoryID *uuid.UUID, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error) {
	return s.productRepo.List(ctx, categoryID, page, pageSize, sortBy, sortOrder)
}

func (s *catalogService) SearchProducts(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error) {
	return s.productRepo.Search(ctx, query, page, pageSize)
}

func (s *catalogService) CreateCategory(ctx context.Context, name, description string) (*domain.Category, error) {
	category := &domain.Category{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := s.categoryRepo.Create(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	return s.categoryRepo.List(ctx)
}

func (s *catalogService) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.categoryRepo.Delete(ctx, id)
}

func (s *catalogService) CreateBrand(ctx context.Context, name string) (*domain.Brand, error) {
	brand := &domain.Brand{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.brandRepo.Create(ctx, brand); err != nil {
		return nil, err
	}
	return brand, nil
}

func (s *catalogService) ListBrands(ctx context.Context) ([]*domain.Brand, error) {
	return s.brandRepo.List(ctx)
}

func (s *catalogService) DeleteBrand(ctx context.Context, id uuid.UUID) error {
	return s.brandRepo.Delete(ctx, id)
}
