package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/cart"
)

type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users/{user_id}/cart", h.handleGetOrCreateCart)
	router.Post("/carts/{cart_id}/items", h.handleAddItem)
	router.Put("/carts/{cart_id}/items/{item_id}", h.handleUpdateItem)
	router.Delete("/carts/{cart_id}/items/{item_id}", h.handleRemoveItem)
	router.Delete("/carts/{cart_id}/items", h.handleClearCart)
}

func (h *CartHandler) handleGetOrCreateCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "user_id")
	if !ok {
		return
	}

	userCart, err := h.service.GetOrCreateCart(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get or create cart via service")
		respondServiceError(w, err, "Failed to get cart")
		return
	}

	respondWithJSON(w, http.StatusOK, userCart)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseUUIDParam(w, r, "cart_id")
	if !ok {
		return
	}

	var requestPayload AddCartItemRequest
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

	productID, err := uuid.FromString(requestPayload.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}

	item, err := h.service.AddItem(r.Context(), cartID, productID, requestPayload.Quantity)
	if err != nil {
		log.Error().Err(err).Stringer("cart_id", cartID).Msg("Failed to add cart item via service")
		respondServiceError(w, err, "Failed to add cart item")
		return
	}

	respondWithJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseUUIDParam(w, r, "cart_id")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, r, "item_id")
	if !ok {
		return
	}

	var requestPayload UpdateCartItemRequest
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

	item, err := h.service.UpdateItem(r.Context(), cartID, itemID, requestPayload.Quantity)
	if err != nil {
		log.Error().Err(err).Stringer("cart_id", cartID).Stringer("item_id", itemID).Msg("Failed to update cart item via service")
		respondServiceError(w, err, "Failed to update cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, item)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseUUIDParam(w, r, "cart_id")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, r, "item_id")
	if !ok {
		return
	}

	removed, err := h.service.RemoveItem(r.Context(), cartID, itemID)
	if err != nil {
		log.Error().Err(err).Stringer("cart_id", cartID).Stringer("item_id", itemID).Msg("Failed to remove cart item via service")
		respondServiceError(w, err, "Failed to remove cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, removed)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseUUIDParam(w, r, "cart_id")
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), cartID); err != nil {
		log.Error().Err(err).Stringer("cart_id", cartID).Msg("Failed to clear cart via service")
		respondServiceError(w, err, "Failed to clear cart")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	param := chi.URLParam(r, name)
	id, err := uuid.FromString(param)
	if err != nil {
		log.Error().Err(err).Str(name, param).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s parameter", name))
		return uuid.Nil, false
	}
	return id, true
}
