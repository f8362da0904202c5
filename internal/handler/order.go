package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/order"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required"`
}

type CreateOrderRequest struct {
	UserID          string             `json:"user_id" validate:"required,uuid4"`
	ShippingAddress string             `json:"shipping_address" validate:"required"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderFromCartRequest struct {
	UserID          string `json:"user_id" validate:"required,uuid4"`
	ShippingAddress string `json:"shipping_address" validate:"required"`
}

type UpdateOrderRequest struct {
	Status          *string `json:"status,omitempty"`
	ShippingAddress *string `json:"shipping_address,omitempty"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Post("/orders/from-cart", h.handleCreateOrderFromCart)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/users/{user_id}/orders", h.handleListOrdersByUser)
	router.Put("/orders/{id}", h.handleUpdateOrder)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	userID, err := uuid.FromString(requestPayload.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}

	items := make([]order.ItemInput, 0, len(requestPayload.Items))
	for _, item := range requestPayload.Items {
		productID, err := uuid.FromString(item.ProductID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid product_id")
			return
		}
		items = append(items, order.ItemInput{ProductID: productID, Quantity: item.Quantity})
	}

	createdOrder, err := h.service.Create(r.Context(), userID, requestPayload.ShippingAddress, items)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to create order via service")
		respondServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, createdOrder)
}

func (h *OrderHandler) handleCreateOrderFromCart(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderFromCartRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	userID, err := uuid.FromString(requestPayload.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}

	createdOrder, err := h.service.CreateFromCart(r.Context(), userID, requestPayload.ShippingAddress)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to create order from cart via service")
		respondServiceError(w, err, "Failed to create order from cart")
		return
	}

	respondWithJSON(w, http.StatusCreated, createdOrder)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	ord, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order via service")
		respondServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, ord)
}

func (h *OrderHandler) handleListOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "user_id")
	if !ok {
		return
	}

	skip := parseIntQuery(r, "skip", 0)
	limit := parseIntQuery(r, "limit", 0)

	orders, err := h.service.ListOrdersByUserID(r.Context(), userID, skip, limit)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to list orders via service")
		respondServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload UpdateOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}

	var upd order.UpdateInput
	if requestPayload.Status != nil {
		status, ok := order.ParseStatus(*requestPayload.Status)
		if !ok {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown order status %q", *requestPayload.Status))
			return
		}
		upd.Status = &status
	}
	upd.ShippingAddressText = requestPayload.ShippingAddress

	updatedOrder, err := h.service.Update(r.Context(), orderID, upd)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to update order via service")
		respondServiceError(w, err, "Failed to update order")
		return
	}

	respondWithJSON(w, http.StatusOK, updatedOrder)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	cancelledOrder, err := h.service.Cancel(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to cancel order via service")
		respondServiceError(w, err, "Failed to cancel order")
		return
	}

	respondWithJSON(w, http.StatusOK, cancelledOrder)
}

func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
