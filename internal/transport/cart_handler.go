package transport

import (
	"net/http"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddItemRequest represents the add-to-cart payload
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// UpdateItemRequest represents the change-quantity payload
type UpdateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

// CheckItemRequest toggles checkout participation for a line
type CheckItemRequest struct {
	Checked *bool `json:"checked" validate:"required"`
}

// CartResponse is the cart with its items
type CartResponse struct {
	Cart  *domain.Cart       `json:"cart"`
	Items []*domain.CartItem `json:"items"`
}

// CartHandler handles HTTP requests for cart operations
type CartHandler struct {
	cartService service.CartService
	logger      *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(cartService service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		logger:      logger,
	}
}

// RegisterRoutes registers all cart routes. Everything requires auth.
func (h *CartHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.GetCart)
		r.Post("/items", h.AddItem)
		r.Put("/items/{id}", h.UpdateItem)
		r.Put("/items/{id}/checked", h.SetItemChecked)
		r.Delete("/items/{id}", h.RemoveItem)
	})
}

// GetCart returns the user's active cart and items
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	cart, items, err := h.cartService.GetCart(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get cart", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get cart")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, CartResponse{Cart: cart, Items: items})
}

// AddItem puts a product in the cart, reserving stock
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddItemRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product_id")
		return
	}

	item, err := h.cartService.AddItem(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		switch err {
		case repository.ErrProductNotFound:
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
		case repository.ErrInsufficientStock:
			middleware.RespondWithError(w, http.StatusConflict, "insufficient stock")
		default:
			h.logger.Error("Failed to add cart item", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to add item")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, item)
}

// UpdateItem changes a line quantity, resizing its stock hold
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateItemRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.cartService.UpdateItemQuantity(r.Context(), userID, itemID, req.Quantity); err != nil {
		h.respondCartError(w, err, "failed to update item")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "item updated"})
}

// SetItemChecked toggles whether the line participates in checkout
func (h *CartHandler) SetItemChecked(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req CheckItemRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.cartService.SetItemChecked(r.Context(), userID, itemID, *req.Checked); err != nil {
		h.respondCartError(w, err, "failed to update item")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "item updated"})
}

// RemoveItem deletes a line, releasing its hold and crediting stock
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.cartService.RemoveItem(r.Context(), userID, itemID); err != nil {
		h.respondCartError(w, err, "failed to remove item")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "item removed"})
}

func (h *CartHandler) respondCartError(w http.ResponseWriter, err error, fallback string) {
	switch err {
	case repository.ErrCartNotFound, repository.ErrCartItemNotFound, service.ErrNotCartOwner:
		middleware.RespondWithError(w, http.StatusNotFound, "cart item not found")
	case repository.ErrInsufficientStock:
		middleware.RespondWithError(w, http.StatusConflict, "insufficient stock")
	default:
		h.logger.Error("Cart operation failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, fallback)
	}
}
