package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mubai-gl/monoshop/internal/domain"
	"github.com/mubai-gl/monoshop/internal/service/order"
)

const defaultListOrdersLimit = 100

// Handler реализует HTTP/JSON API поверх сервиса заказов.
type Handler struct {
	orders *order.Service
	logger *log.Entry
}

// NewHandler конструирует HTTP-обработчик с зависимостями.
func NewHandler(orders *order.Service, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{orders: orders, logger: logger}
}

// Register вешает маршруты API на mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/orders", h.placeOrder)
	mux.HandleFunc("GET /api/v1/orders", h.listOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", h.getOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/timeline", h.getTimeline)
	mux.HandleFunc("POST /api/v1/orders/{id}/pay", h.payOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", h.cancelOrder)
}

type lineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type paymentIntentRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Provider    string `json:"provider"`
	Method      string `json:"method"`
}

type placeOrderRequest struct {
	UserID   string                `json:"user_id"`
	Currency string                `json:"currency"`
	Notes    string                `json:"notes"`
	Lines    []lineRequest         `json:"lines"`
	Payment  *paymentIntentRequest `json:"payment"`
}

type payOrderRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Provider    string `json:"provider"`
	Method      string `json:"method"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type lineResponse struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name,omitempty"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	TotalMinor     int64  `json:"total_minor"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	AmountMinor       int64  `json:"amount_minor"`
	Currency          string `json:"currency"`
	Provider          string `json:"provider"`
	Method            string `json:"method"`
	ProviderReference string `json:"provider_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type orderResponse struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Status     string           `json:"status"`
	Currency   string           `json:"currency"`
	TotalMinor int64            `json:"total_minor"`
	Notes      string           `json:"notes,omitempty"`
	Lines      []lineResponse   `json:"lines"`
	Payment    *paymentResponse `json:"payment,omitempty"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	placeReq := order.PlaceOrderRequest{
		UserID:   req.UserID,
		Currency: req.Currency,
		Notes:    req.Notes,
	}
	for _, line := range req.Lines {
		placeReq.Lines = append(placeReq.Lines, order.LineInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}
	if req.Payment != nil {
		placeReq.Payment = &order.PaymentIntent{
			AmountMinor: req.Payment.AmountMinor,
			Provider:    req.Payment.Provider,
			Method:      req.Payment.Method,
		}
	}

	view, err := h.orders.PlaceOrder(r.Context(), placeReq)
	if err != nil && view.Order.ID == "" {
		h.writeServiceError(w, r, "PlaceOrder", err)
		return
	}

	// Заказ создан, даже если резервирование или оплата отклонены:
	// клиент видит итоговый статус, а не голую ошибку.
	h.writeJSON(w, http.StatusCreated, toOrderResponse(view))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "GetOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := defaultListOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, "ListOrders", err)
		return
	}

	result := make([]orderResponse, 0, len(orders))
	for _, item := range orders {
		result = append(result, toPlainOrderResponse(item))
	}
	h.writeJSON(w, http.StatusOK, map[string][]orderResponse{"orders": result})
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orderID := r.PathValue("id")
	if _, err := h.orders.Pay(r.Context(), orderID, req.AmountMinor, req.Provider, req.Method); err != nil {
		h.writeServiceError(w, r, "PayOrder", err)
		return
	}

	// Итог оплаты виден по статусу заказа и платёжной записи.
	view, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, r, "PayOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	cancelled, err := h.orders.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "CancelOrder", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPlainOrderResponse(cancelled))
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if _, err := h.orders.GetOrder(r.Context(), orderID); err != nil {
		h.writeServiceError(w, r, "GetTimeline", err)
		return
	}

	events, err := h.orders.Timeline(orderID)
	if err != nil {
		h.writeServiceError(w, r, "GetTimeline", err)
		return
	}

	result := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		result = append(result, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string][]timelineEventResponse{"timeline": result})
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case domain.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderTransitionInvalid):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, err.Error())
	case domain.IsVersionConflict(err):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"path":      r.URL.Path,
		}).Error("запрос завершился внутренней ошибкой")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, errorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("не удалось сериализовать ответ")
	}
}

// toPlainOrderResponse сериализует заказ без каталожных имён и платежа.
func toPlainOrderResponse(item domain.Order) orderResponse {
	lines := make([]lineResponse, 0, len(item.Lines))
	for _, line := range item.Lines {
		lines = append(lines, lineResponse{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			TotalMinor:     int64(line.Quantity) * line.UnitPriceMinor,
		})
	}

	return orderResponse{
		ID:         item.ID,
		UserID:     item.UserID,
		Status:     string(item.Status),
		Currency:   item.Currency,
		TotalMinor: item.TotalMinor,
		Notes:      item.Notes,
		Lines:      lines,
		Version:    item.Version,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

func toOrderResponse(view order.OrderView) orderResponse {
	lines := make([]lineResponse, 0, len(view.Lines))
	for _, line := range view.Lines {
		lines = append(lines, lineResponse{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			TotalMinor:     line.TotalMinor,
		})
	}

	resp := orderResponse{
		ID:         view.Order.ID,
		UserID:     view.Order.UserID,
		Status:     string(view.Order.Status),
		Currency:   view.Order.Currency,
		TotalMinor: view.Order.TotalMinor,
		Notes:      view.Order.Notes,
		Lines:      lines,
		Version:    view.Order.Version,
		CreatedAt:  view.Order.CreatedAt,
		UpdatedAt:  view.Order.UpdatedAt,
	}
	if view.Payment != nil {
		resp.Payment = &paymentResponse{
			ID:                view.Payment.ID,
			Status:            string(view.Payment.Status),
			AmountMinor:       view.Payment.AmountMinor,
			Currency:          view.Payment.Currency,
			Provider:          view.Payment.Provider,
			Method:            view.Payment.Method,
			ProviderReference: view.Payment.ProviderReference,
			FailureReason:     view.Payment.FailureReason,
		}
	}
	return resp
}
