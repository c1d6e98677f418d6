// Package handlers exposes the auction engine over HTTP. Authentication,
// session handling and page rendering live in the surrounding web layer;
// requests here carry the acting user's id directly.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Yimsu/node-auction/internal/auction"
	"github.com/Yimsu/node-auction/internal/ledger"
	"github.com/Yimsu/node-auction/internal/models"
)

// Handler contains HTTP request handlers
type Handler struct {
	engine *auction.Engine
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(engine *auction.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/items", h.CreateItem).Methods("POST")
	api.HandleFunc("/items", h.ListOpenItems).Methods("GET")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}/bid", h.PlaceBid).Methods("POST")
	api.HandleFunc("/users/{id}/won", h.ListWonItems).Methods("GET")

	router.Use(h.loggingMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auctiond",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateItem lists a new item and schedules its close.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req models.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.engine.CreateItem(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// ListOpenItems returns the items currently under auction.
func (h *Handler) ListOpenItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.ListOpenItems(r.Context())
	if err != nil {
		h.logger.Error("failed to list open items", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// GetItem returns one item with its bid history in acceptance order.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	item, bids, err := h.engine.GetItem(r.Context(), itemID)
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get item", zap.String("item_id", itemID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve item")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"item": item,
		"bids": bids,
	})
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BidderID == "" {
		respondError(w, http.StatusBadRequest, "Bidder ID is required")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "Bid amount must be positive")
		return
	}

	response, err := h.engine.PlaceBid(r.Context(), itemID, &req)
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to place bid", zap.String("item_id", itemID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to place bid")
		return
	}

	statusCode := http.StatusForbidden
	if response.Accepted {
		statusCode = http.StatusCreated
	}
	respondJSON(w, statusCode, response)
}

// ListWonItems returns the settled items won by a user.
func (h *Handler) ListWonItems(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	items, err := h.engine.ListWonItems(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list won items", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list won items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Duration("duration", time.Since(start)))
	})
}
