package transport

import (
	"net/http"
	"strconv"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductRequest represents the create/update product payload
type ProductRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents" validate:"required,gt=0"`
	BrandID     string `json:"brand_id" validate:"required,uuid"`
	CategoryID  string `json:"category_id" validate:"required,uuid"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
	Stock       int    `json:"stock" validate:"gte=0"`
}

// CategoryRequest represents the create category payload
type CategoryRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// BrandRequest represents the create brand payload
type BrandRequest struct {
	Name string `json:"name" validate:"required"`
}

// ProductListResponse is a page of products
type ProductListResponse struct {
	Products []*domain.Product `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// CatalogHandler handles HTTP requests for products, categories and brands
type CatalogHandler struct {
	catalogService service.CatalogService
	logger         *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalogService service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
		logger:         logger,
	}
}

// RegisterRoutes registers all catalog routes. Reads are public, writes are
// admin only.
func (h *CatalogHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	adminOnly := middleware.RequireAdmin(h.logger)

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/search", h.SearchProducts)
		r.Get("/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, adminOnly)
			r.Post("/", h.CreateProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
		})
	})

	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", h.ListCategories)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, adminOnly)
			r.Post("/", h.CreateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})
	})

	r.Route("/api/brands", func(r chi.Router) {
		r.Get("/", h.ListBrands)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, adminOnly)
			r.Post("/", h.CreateBrand)
			r.Delete("/{id}", h.DeleteBrand)
		})
	})
}

// ListProducts handles paged product listing with optional category filter
// and sorting.
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	var categoryID *uuid.UUID
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		categoryID = &id
	}

	sortBy := r.URL.Query().Get("sort_by")
	sortOrder := repository.SortOrderAsc
	if r.URL.Query().Get("sort_order") == "desc" {
		sortOrder = repository.SortOrderDesc
	}

	products, total, err := h.catalogService.ListProducts(r.Context(), categoryID, page, pageSize, sortBy, sortOrder)
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductListResponse{
		Products: products,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// SearchProducts handles product search by name
func (h *CatalogHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		middleware.RespondWithError(w, http.StatusBadRequest, "missing search query")
		return
	}

	page, pageSize := pagination(r)
	products, total, err := h.catalogService.SearchProducts(r.Context(), query, page, pageSize)
	if err != nil {
		h.logger.Error("Failed to search products", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to search products")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductListResponse{
		Products: products,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetProduct handles fetching a single product
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	product, err := h.catalogService.GetProduct(r.Context(), id)
	if err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to get product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// CreateProduct handles product creation
func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	product, ok := h.productFromRequest(w, &req)
	if !ok {
		return
	}

	if err := h.catalogService.CreateProduct(r.Context(), product); err != nil {
		h.logger.Error("Failed to create product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "failed to create product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// UpdateProduct handles product updates. Stock is ignored here; it only moves
// through reservations and orders.
func (h *CatalogHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ProductRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	product, ok := h.productFromRequest(w, &req)
	if !ok {
		return
	}
	product.ID = id

	if err := h.catalogService.UpdateProduct(r.Context(), product); err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to update product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "failed to update product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct handles product deletion
func (h *CatalogHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalogService.DeleteProduct(r.Context(), id); err != nil {
		if err == repository.ErrProductNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to delete product", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// ListCategories handles listing all categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalogService.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("Failed to list categories", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

// CreateCategory handles category creation
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	category, err := h.catalogService.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		if err == repository.ErrCategoryAlreadyExists {
			middleware.RespondWithError(w, http.StatusConflict, "category already exists")
			return
		}
		h.logger.Error("Failed to create category", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, category)
}

// DeleteCategory handles category deletion
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalogService.DeleteCategory(r.Context(), id); err != nil {
		if err == repository.ErrCategoryNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "category not found")
			return
		}
		h.logger.Error("Failed to delete category", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "category deleted"})
}

// ListBrands handles listing all brands
func (h *CatalogHandler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.catalogService.ListBrands(r.Context())
	if err != nil {
		h.logger.Error("Failed to list brands", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list brands")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, brands)
}

// CreateBrand handles brand creation
func (h *CatalogHandler) CreateBrand(w http.ResponseWriter, r *http.Request) {
	var req BrandRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	brand, err := h.catalogService.CreateBrand(r.Context(), req.Name)
	if err != nil {
		if err == repository.ErrBrandAlreadyExists {
			middleware.RespondWithError(w, http.StatusConflict, "brand already exists")
			return
		}
		h.logger.Error("Failed to create brand", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to create brand")
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, brand)
}

// DeleteBrand handles brand deletion
func (h *CatalogHandler) DeleteBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalogService.DeleteBrand(r.Context(), id); err != nil {
		if err == repository.ErrBrandNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "brand not found")
			return
		}
		h.logger.Error("Failed to delete brand", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to delete brand")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "brand deleted"})
}

func (h *CatalogHandler) productFromRequest(w http.ResponseWriter, req *ProductRequest) (*domain.Product, bool) {
	brandID, err := uuid.Parse(req.BrandID)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid brand_id")
		return nil, false
	}
	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid category_id")
		return nil, false
	}

	return &domain.Product{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		BrandID:     brandID,
		CategoryID:  categoryID,
		ImageURL:    req.ImageURL,
		Stock:       req.Stock,
	}, true
}

// pathID parses a UUID path parameter, writing the error response itself.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads page/page_size query params with sane bounds.
func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
