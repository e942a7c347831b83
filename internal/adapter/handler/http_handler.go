package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/core/service"
	"github.com/rl1809/billing/internal/metrics"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type HTTPHandler struct {
	billing *service.BillingService
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type BillRequest struct {
	CustomerID  int64     `json:"customerId"`
	BillingDate time.Time `json:"billingDate"`
}

type AddItemHTTPRequest struct {
	BillID    int64  `json:"billId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

type PriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func NewHTTPHandler(billing *service.BillingService, log *zap.Logger, m *metrics.Metrics) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{billing: billing, log: log, metrics: m}
}

// Router returns a mux router with every billing route, the health check
// and the request middlewares registered.
func (h *HTTPHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.recoverMiddleware, h.requestIDMiddleware, h.metricsMiddleware)
	h.RegisterRoutes(router)
	return router
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/bills", h.CreateBill).Methods(http.MethodPost)
	router.HandleFunc("/api/bills/{id}", h.GetBill).Methods(http.MethodGet)
	router.HandleFunc("/api/bills/{id}", h.UpdateBill).Methods(http.MethodPut)
	router.HandleFunc("/api/bills/{id}", h.DeleteBill).Methods(http.MethodDelete)
	router.HandleFunc("/api/bills/{id}/full", h.GetFullBill).Methods(http.MethodGet)
	router.HandleFunc("/api/bills/{id}/items", h.ListItems).Methods(http.MethodGet)

	router.HandleFunc("/api/line-items", h.AddItem).Methods(http.MethodPost)
	router.HandleFunc("/api/line-items/{id}", h.UpdateItemQuantity).Methods(http.MethodPatch)
	router.HandleFunc("/api/line-items/{id}", h.RemoveItem).Methods(http.MethodDelete)

	router.HandleFunc("/api/products", h.ListProducts).Methods(http.MethodGet)
	router.HandleFunc("/api/products/{id}/availability", h.CheckAvailability).Methods(http.MethodGet)
	router.HandleFunc("/api/products/{id}/price", h.UpdateProductPrice).Methods(http.MethodPut)
	router.HandleFunc("/api/products/{id}/restock", h.Restock).Methods(http.MethodPost)

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// CreateBill handles POST /api/bills
func (h *HTTPHandler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req BillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bill, err := h.billing.CreateBill(r.Context(), req.CustomerID, req.BillingDate)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "bill created",
		Data:    bill,
	})
}

// GetBill handles GET /api/bills/{id}
func (h *HTTPHandler) GetBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	bill, err := h.billing.GetBill(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: bill})
}

// UpdateBill handles PUT /api/bills/{id}
func (h *HTTPHandler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req BillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bill, err := h.billing.UpdateBill(r.Context(), id, req.CustomerID, req.BillingDate)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "bill updated",
		Data:    bill,
	})
}

// DeleteBill handles DELETE /api/bills/{id}
func (h *HTTPHandler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.billing.DeleteBill(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "bill deleted"})
}

// GetFullBill handles GET /api/bills/{id}/full
func (h *HTTPHandler) GetFullBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	bill, err := h.billing.GetFullBill(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: bill})
}

// ListItems handles GET /api/bills/{id}/items
func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	items, err := h.billing.ListItems(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: items})
}

// AddItem handles POST /api/line-items. An Idempotency-Key header turns a
// retried request into a 409 instead of a second reservation.
func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.billing.AddItem(r.Context(), service.AddItemRequest{
		BillID:         req.BillID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "line item added",
		Data:    item,
	})
}

// UpdateItemQuantity handles PATCH /api/line-items/{id}
func (h *HTTPHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req QuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.billing.UpdateItemQuantity(r.Context(), id, req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "line item updated",
		Data:    item,
	})
}

// RemoveItem handles DELETE /api/line-items/{id}
func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.billing.RemoveItem(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "line item removed"})
}

// ListProducts handles GET /api/products
func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.billing.ListProducts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: products})
}

// CheckAvailability handles GET /api/products/{id}/availability?quantity=N
func (h *HTTPHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	quantity := 1
	if v := r.URL.Query().Get("quantity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid quantity"})
			return
		}
		quantity = n
	}

	availability, err := h.billing.CheckAvailability(r.Context(), mux.Vars(r)["id"], quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: availability})
}

// UpdateProductPrice handles PUT /api/products/{id}/price
func (h *HTTPHandler) UpdateProductPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.billing.UpdateProductPrice(r.Context(), mux.Vars(r)["id"], req.Price); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "price updated"})
}

// Restock handles POST /api/products/{id}/restock
func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.billing.Restock(r.Context(), mux.Vars(r)["id"], req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "stock added"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
			zap.Error(err),
		)
	}
	respondJSON(w, status, Response{Success: false, Error: message})
}

// httpStatus maps a service error to a status code and a client-safe message.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient stock"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// responseWriter captures the status code for metrics and logs.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		duration := time.Since(start)
		h.metrics.ObserveRequest("http", route, duration.Seconds())
		h.metrics.HTTPRequest(r.Method, route, strconv.Itoa(rw.statusCode))

		h.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", duration),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)
	})
}

func (h *HTTPHandler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				h.log.Error("panic_recovered",
					zap.Any("panic", p),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				respondJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
