// Package handler содержит HTTP-обработчики API сервиса предзаказов.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/middleware"
	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/service"
)

// Service определяет контракт движка заказов, используемого HTTP-обработчиками.
type Service interface {
	CreateDraft(ctx context.Context, actor model.Actor, req service.DraftRequest) (*model.Draft, error)
	ConfirmPayment(ctx context.Context, actor model.Actor, a model.PaymentAssertion, d model.Draft) (*model.Order, bool, error)
	GetOrder(ctx context.Context, actor model.Actor, id string) (*model.Order, error)
	ListDinerOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error)
	ListRestaurantOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error)
	Cancel(ctx context.Context, actor model.Actor, id string) (*model.Order, error)
	AdvanceStatus(ctx context.Context, actor model.Actor, id string, to model.OrderStatus) (*model.Order, error)
	Complete(ctx context.Context, actor model.Actor, id, otp string) (*model.Order, error)
	SetSlotCapacity(ctx context.Context, actor model.Actor, label string, maxOrders int) (*model.Slot, error)
	ListReconciliations(ctx context.Context, actor model.Actor) ([]model.Reconciliation, error)
}

// Handler реализует HTTP-обработчики API сервиса предзаказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindStatus = map[string]int{
	service.KindValidation:          http.StatusBadRequest,
	service.KindRestaurantClosed:    http.StatusConflict,
	service.KindSlotUnavailable:     http.StatusConflict,
	service.KindSlotFull:            http.StatusConflict,
	service.KindItemUnavailable:     http.StatusConflict,
	service.KindPaymentVerification: http.StatusPaymentRequired,
	service.KindPaymentGateway:      http.StatusBadGateway,
	service.KindInvalidTransition:   http.StatusConflict,
	service.KindNotCancellable:      http.StatusConflict,
	service.KindInvalidOTP:          http.StatusUnprocessableEntity,
	service.KindForbidden:           http.StatusForbidden,
	service.KindNotFound:            http.StatusNotFound,
	service.KindStorage:             http.StatusServiceUnavailable,
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	kind := service.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	if kind == service.KindStorage {
		h.logger.Error(op+" error", zap.Error(err))
		message = "temporary storage failure, retry later"
	}

	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: service.KindValidation, Message: message})
}

func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

type orderResponse struct {
	ID            string           `json:"id"`
	Number        int64            `json:"number"`
	DinerID       string           `json:"dinerId"`
	RestaurantID  string           `json:"restaurantId"`
	Items         []model.LineItem `json:"items"`
	Kind          model.OrderKind  `json:"orderKind"`
	IsPreOrder    bool             `json:"isPreOrder"`
	Slot          string           `json:"slot"`
	Subtotal      int64            `json:"subtotal"`
	ServiceCharge int64            `json:"serviceCharge"`
	Total         int64            `json:"total"`
	Status        string           `json:"status"`
	Version       int              `json:"version"`
	PaymentID     string           `json:"paymentId"`
	IntentID      string           `json:"intentId"`
	OTP           string           `json:"otp,omitempty"`
	HasRated      bool             `json:"hasRated"`
	CreatedAt     string           `json:"createdAt"`
	ConfirmedAt   string           `json:"confirmedAt,omitempty"`
	PreparingAt   string           `json:"preparingAt,omitempty"`
	ReadyAt       string           `json:"readyAt,omitempty"`
	CompletedAt   string           `json:"completedAt,omitempty"`
	CancelledAt   string           `json:"cancelledAt,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		DinerID:       o.DinerID,
		RestaurantID:  o.RestaurantID,
		Items:         o.Items,
		Kind:          o.Kind,
		IsPreOrder:    o.IsPreOrder,
		Slot:          o.Slot,
		Subtotal:      o.Subtotal,
		ServiceCharge: o.ServiceCharge,
		Total:         o.Total,
		Status:        string(o.Status),
		Version:       o.Version,
		PaymentID:     o.PaymentID,
		IntentID:      o.IntentID,
		OTP:           o.OTP,
		HasRated:      o.HasRated,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		ConfirmedAt:   formatTime(o.ConfirmedAt),
		PreparingAt:   formatTime(o.PreparingAt),
		ReadyAt:       formatTime(o.ReadyAt),
		CompletedAt:   formatTime(o.CompletedAt),
		CancelledAt:   formatTime(o.CancelledAt),
	}
}

func toOrderList(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	return resp
}

type draftRequest struct {
	RestaurantID string           `json:"restaurantId"`
	Items        []model.CartLine `json:"items"`
	OrderKind    model.OrderKind  `json:"orderKind"`
	IsPreOrder   bool             `json:"isPreOrder"`
	Slot         string           `json:"slot"`
}

type draftResponse struct {
	Draft         *model.Draft        `json:"draft"`
	PaymentIntent model.PaymentIntent `json:"paymentIntent"`
}

// CreateDraft оценивает корзину и выдаёт платёжное намерение.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	d, err := h.service.CreateDraft(r.Context(), actor, service.DraftRequest{
		RestaurantID: req.RestaurantID,
		Items:        req.Items,
		Kind:         req.OrderKind,
		IsPreOrder:   req.IsPreOrder,
		Slot:         req.Slot,
	})
	if err != nil {
		h.writeError(w, "create draft", err)
		return
	}

	writeJSON(w, http.StatusCreated, draftResponse{Draft: d, PaymentIntent: d.Intent})
}

type confirmRequest struct {
	Payment model.PaymentAssertion `json:"payment"`
	Draft   model.Draft            `json:"draft"`
}

// ConfirmPayment превращает оплаченный черновик в заказ.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	o, created, err := h.service.ConfirmPayment(r.Context(), actor, req.Payment, req.Draft)
	if err != nil {
		h.writeError(w, "confirm payment", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toOrderResponse(o))
}

func parseStatuses(r *http.Request) ([]model.OrderStatus, bool) {
	var statuses []model.OrderStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			s, ok := model.ParseOrderStatus(v)
			if !ok {
				return nil, false
			}
			statuses = append(statuses, s)
		}
	}
	return statuses, true
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, op string,
	list func(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error)) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	statuses, ok := parseStatuses(r)
	if !ok {
		badRequest(w, "unknown status filter")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	orders, err := list(r.Context(), actor, statuses, limit)
	if err != nil {
		h.writeError(w, op, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// GetOrders возвращает заказы текущего посетителя, новые первыми.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, "get orders", h.service.ListDinerOrders)
}

// GetRestaurantOrders возвращает заказы ресторана текущего сотрудника.
func (h *Handler) GetRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, "get restaurant orders", h.service.ListRestaurantOrders)
}

// GetOrder возвращает один заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// CancelOrder отменяет ожидающий заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	o, err := h.service.Cancel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "cancel order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type statusRequest struct {
	Status string `json:"status"`
}

// AdvanceStatus переводит заказ в следующий статус.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	to, ok := model.ParseOrderStatus(req.Status)
	if !ok {
		badRequest(w, "unknown status "+strconv.Quote(req.Status))
		return
	}

	o, err := h.service.AdvanceStatus(r.Context(), actor, chi.URLParam(r, "id"), to)
	if err != nil {
		h.writeError(w, "advance status", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type completeRequest struct {
	OTP string `json:"otp"`
}

// CompleteOrder закрывает готовый заказ по коду выдачи.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if req.OTP == "" {
		badRequest(w, "otp is required")
		return
	}

	o, err := h.service.Complete(r.Context(), actor, chi.URLParam(r, "id"), req.OTP)
	if err != nil {
		h.writeError(w, "complete order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type slotRequest struct {
	MaxOrders *int `json:"maxOrders"`
}

// SetSlotCapacity меняет вместимость слота.
func (h *Handler) SetSlotCapacity(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxOrders == nil {
		badRequest(w, "maxOrders is required")
		return
	}

	label, err := url.PathUnescape(chi.URLParam(r, "label"))
	if err != nil {
		badRequest(w, "malformed slot label")
		return
	}

	slot, err := h.service.SetSlotCapacity(r.Context(), actor, label, *req.MaxOrders)
	if err != nil {
		h.writeError(w, "set slot capacity", err)
		return
	}

	writeJSON(w, http.StatusOK, slot)
}

// GetReconciliations возвращает платежи, ожидающие ручного возврата.
func (h *Handler) GetReconciliations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	recs, err := h.service.ListReconciliations(r.Context(), actor)
	if err != nil {
		h.writeError(w, "get reconciliations", err)
		return
	}

	if len(recs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
