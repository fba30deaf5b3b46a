package transport

import (
	"net/http"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UpdateStatusRequest moves an order along its lifecycle
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// OrderResponse is an order with its item snapshots
type OrderResponse struct {
	Order *domain.Order       `json:"order"`
	Items []*domain.OrderItem `json:"items"`
}

// OrderHandler handles HTTP requests for order operations
type OrderHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// RegisterRoutes registers all order routes. Checkout, cancel and reads are
// for the owning user; status updates are admin only.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/checkout", h.Checkout)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/cancel", h.Cancel)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.logger))
			r.Put("/{id}/status", h.UpdateStatus)
		})
	})
}

// Checkout converts the user's checked cart items into an order
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	order, err := h.orderService.Checkout(r.Context(), userID)
	if err != nil {
		switch err {
		case repository.ErrCartNotFound, repository.ErrEmptyCart:
			middleware.RespondWithError(w, http.StatusBadRequest, "no checked items to order")
		case repository.ErrInsufficientStock:
			middleware.RespondWithError(w, http.StatusConflict, "insufficient stock")
		default:
			h.logger.Error("Checkout failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to checkout")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

// ListOrders returns the user's orders, newest first
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	orders, err := h.orderService.ListOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, orders)
}

// GetOrder returns one of the user's orders with its items
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(r.Context(), orderID, userID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("Failed to get order", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, OrderResponse{Order: order, Items: items})
}

// Cancel cancels an order, restoring stock and returning the items to the cart
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(w, r, h.logger)
	if !ok {
		return
	}

	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.orderService.Cancel(r.Context(), orderID, userID); err != nil {
		switch err {
		case repository.ErrOrderNotFound:
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
		case repository.ErrInvalidTransition:
			middleware.RespondWithError(w, http.StatusConflict, "order can no longer be cancelled")
		default:
			h.logger.Error("Cancellation failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

// UpdateStatus moves an order to the requested status
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.orderService.UpdateStatus(r.Context(), orderID, domain.OrderStatus(req.Status)); err != nil {
		switch err {
		case repository.ErrOrderNotFound:
			middleware.RespondWithError(w, http.StatusNotFound, "order not found")
		case repository.ErrInvalidTransition:
			middleware.RespondWithError(w, http.StatusConflict, "invalid status transition")
		default:
			h.logger.Error("Status update failed", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "status updated"})
}
