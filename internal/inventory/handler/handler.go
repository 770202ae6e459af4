// Package handler exposes the reconciliation engine over HTTP. Any
// transport could front the engine's contracts; this one is plain JSON.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/logger"
)

type Server struct {
	uc     inventory.UseCase
	logger logger.ZapLogger
}

func NewServer(uc inventory.UseCase, log logger.ZapLogger) *Server {
	return &Server{uc: uc, logger: log}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/inventory/low-stock", s.handleListLowStock)
		r.Get("/inventory/{productID}", s.handleGetInventory)
		r.Post("/inventory", s.handleInitializeInventory)

		r.Get("/movements", s.handleListMovements)
		r.Post("/movements", s.handleRecordMovement)

		r.Post("/reservations", s.handleReserve)
		r.Post("/reservations/{reservationID}/confirm", s.handleConfirmReservation)
		r.Post("/reservations/{reservationID}/release", s.handleReleaseReservation)
	})

	return r
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uc.GetInventory(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type initializeInventoryRequest struct {
	ProductID string `json:"productId"`
	Variants  []struct {
		VariantID                 *string `json:"variantId"`
		SKU                       string  `json:"sku"`
		InitialStock              int64   `json:"initialStock"`
		LowStockThreshold         int64   `json:"lowStockThreshold"`
		AutoDisableWhenOutOfStock bool    `json:"autoDisableWhenOutOfStock"`
	} `json:"variants"`
}

func (s *Server) handleInitializeInventory(w http.ResponseWriter, r *http.Request) {
	var req initializeInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.ProductID == "" || len(req.Variants) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("productId and variants are required"))
		return
	}

	input := &dto.InitializeInventoryInput{
		ProductID: req.ProductID,
		ActorID:   r.Header.Get("X-User-ID"),
	}
	for _, v := range req.Variants {
		threshold := v.LowStockThreshold
		if threshold <= 0 {
			threshold = 10
		}
		input.Variants = append(input.Variants, dto.VariantInit{
			VariantID:                 v.VariantID,
			SKU:                       v.SKU,
			InitialStock:              v.InitialStock,
			LowStockThreshold:         threshold,
			AutoDisableWhenOutOfStock: v.AutoDisableWhenOutOfStock,
		})
	}

	summary, err := s.uc.InitializeInventory(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

type recordMovementRequest struct {
	ProductID     string  `json:"productId"`
	VariantID     *string `json:"variantId"`
	MovementType  string  `json:"movementType"`
	Quantity      int64   `json:"quantity"`
	Reason        string  `json:"reason"`
	ReferenceType string  `json:"referenceType"`
	ReferenceID   string  `json:"referenceId"`
}

func (s *Server) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	movementType := model.MovementType(req.MovementType)
	if !movementType.Valid() || !movementType.AffectsStock() {
		writeJSON(w, http.StatusBadRequest, errorBody("movementType must be one of purchase, sale, return, adjustment"))
		return
	}

	summary, err := s.uc.RecordMovement(r.Context(), &dto.RecordMovementInput{
		ProductID:     req.ProductID,
		VariantID:     req.VariantID,
		MovementType:  movementType,
		Quantity:      req.Quantity,
		Reason:        req.Reason,
		ReferenceType: model.ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		ActorID:       r.Header.Get("X-User-ID"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type reserveRequest struct {
	ProductID  string  `json:"productId"`
	VariantID  *string `json:"variantId"`
	Quantity   int64   `json:"quantity"`
	TTLSeconds int64   `json:"ttlSeconds"`
	OrderID    *string `json:"orderId"`
	CartID     *string `json:"cartId"`
}

type reserveResponse struct {
	Reservation *model.StockReservation `json:"reservation"`
	Summary     *model.InventorySummary `json:"summary"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	reservation, summary, err := s.uc.Reserve(r.Context(), &dto.ReserveInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		OrderID:   req.OrderID,
		CartID:    req.CartID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reserveResponse{Reservation: reservation, Summary: summary})
}

func (s *Server) handleConfirmReservation(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uc.ConfirmReservation(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReleaseReservation(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uc.ReleaseReservation(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type listResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := &dto.MovementFilters{
		ProductID:    q.Get("productId"),
		MovementType: q.Get("movementType"),
		SearchQuery:  q.Get("q"),
		Page:         intParam(q.Get("page"), 1),
		PageSize:     intParam(q.Get("pageSize"), 50),
	}
	if v := q.Get("variantId"); v != "" {
		filters.VariantID = &v
	}
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartDate = &t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.EndDate = &t
		}
	}

	movements, total, err := s.uc.ListMovements(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: movements, Total: total})
}

func (s *Server) handleListLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, total, err := s.uc.ListLowStock(r.Context(), intParam(q.Get("page"), 1), intParam(q.Get("pageSize"), 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

// writeError maps domain sentinels to HTTP statuses. Lock timeouts and
// version conflicts are retryable and surface as 503.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownVariant), errors.Is(err, model.ErrReservationNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrInsufficientAvailable),
		errors.Is(err, model.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, model.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, model.ErrLockTimeout), errors.Is(err, model.ErrSummaryConflict):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}
