// Package handler содержит HTTP-обработчики API сервиса пополнения баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/gateway"
	"github.com/mmeshcher/gophermart-payments/internal/middleware"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/service"
	"github.com/mmeshcher/gophermart-payments/internal/validation"
)

const maxNotificationSize = 64 << 10

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreatePayment(ctx context.Context, userID int64, method model.Method, amount string) (*model.Payment, *model.Instructions, error)
	GetPayment(ctx context.Context, userID int64, id uuid.UUID) (*model.Payment, error)
	ListPayments(ctx context.Context, userID int64) ([]model.Payment, error)
	ClaimTransfer(ctx context.Context, userID int64, id uuid.UUID, txHash string) error
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	RequestCheck(ctx context.Context, userID int64, id uuid.UUID) error
	Decimals(method model.Method) int32
}

// Notifier обрабатывает уведомления платёжного шлюза.
type Notifier interface {
	Process(ctx context.Context, n gateway.Notification) (*model.Settled, error)
}

// Handler реализует HTTP-обработчики API сервиса пополнения баллов.
type Handler struct {
	service        Service
	notifier       Notifier
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, notifier Notifier, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		notifier:       notifier,
		logger:         logger,
		authMiddleware: auth,
	}
}

type createPaymentRequest struct {
	Amount json.Number  `json:"amount"`
	Method model.Method `json:"method"`
}

type createPaymentResponse struct {
	ID           string              `json:"id"`
	Code         string              `json:"code"`
	Method       string              `json:"method"`
	Amount       string              `json:"amount"`
	Currency     string              `json:"currency"`
	Points       int64               `json:"points"`
	Instructions *model.Instructions `json:"instructions"`
}

// CreatePayment создаёт платёж текущего пользователя и возвращает инструкции по оплате.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, instructions, err := h.service.CreatePayment(r.Context(), userID, req.Method, req.Amount.String())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMethod):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("create payment error", zap.Error(err), zap.Int64("user_id", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, createPaymentResponse{
		ID:           p.ID.String(),
		Code:         p.Code,
		Method:       string(p.Method),
		Amount:       h.amount(p),
		Currency:     p.Currency,
		Points:       p.Points,
		Instructions: instructions,
	})
}

type paymentResponse struct {
	ID          string  `json:"id"`
	Method      string  `json:"method"`
	Status      string  `json:"status"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Points      int64   `json:"points"`
	Code        string  `json:"code"`
	CreatedAt   string  `json:"created_at"`
	FinalizedAt *string `json:"finalized_at,omitempty"`
}

func (h *Handler) paymentResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:        p.ID.String(),
		Method:    string(p.Method),
		Status:    string(p.Status),
		Amount:    h.amount(p),
		Currency:  p.Currency,
		Points:    p.Points,
		Code:      p.Code,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.FinalizedAt != nil {
		finalized := p.FinalizedAt.Format(time.RFC3339)
		resp.FinalizedAt = &finalized
	}
	return resp
}

func (h *Handler) amount(p *model.Payment) string {
	places := h.service.Decimals(p.Method)
	return validation.FromMinor(p.Amount, places).StringFixed(places)
}

// GetPayment возвращает статус платежа текущего пользователя.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetPayment(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get payment error", zap.Error(err), zap.String("payment_id", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, h.paymentResponse(p))
}

// ListPayments возвращает историю платежей текущего пользователя.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payments, err := h.service.ListPayments(r.Context(), userID)
	if err != nil {
		h.logger.Error("list payments error", zap.Error(err), zap.Int64("user_id", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, h.paymentResponse(&payments[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type claimTransferRequest struct {
	TxHash string `json:"tx_hash"`
}

// ClaimTransfer привязывает перевод в блокчейне к платежу текущего пользователя.
func (h *Handler) ClaimTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req claimTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.ClaimTransfer(r.Context(), userID, id, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTxHash):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrReferenceTaken),
			errors.Is(err, repository.ErrNotClaimable),
			errors.Is(err, service.ErrWrongMethod):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("claim transfer error", zap.Error(err), zap.String("payment_id", id.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// RequestCheck ставит банковский платёж текущего пользователя в очередь проверки.
func (h *Handler) RequestCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.RequestCheck(r.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrAlreadyFinalized), errors.Is(err, service.ErrWrongMethod):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrChecksDisabled):
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		default:
			h.logger.Error("request check error", zap.Error(err), zap.String("payment_id", id.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetBalance возвращает баланс баллов текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("user_id", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// GatewayNotify принимает уведомление платёжного шлюза об оплате.
func (h *Handler) GatewayNotify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	_, err := h.notifier.Process(r.Context(), gateway.ParseNotification(r.PostForm))
	if err != nil {
		status := notificationStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("gateway notification error", zap.Error(err))
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func notificationStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrMalformedNotification),
		errors.Is(err, gateway.ErrNotPaid),
		errors.Is(err, gateway.ErrCurrencyMismatch),
		errors.Is(err, gateway.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrAuthenticationFailed),
		errors.Is(err, gateway.ErrUnverifiedNotification):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrVerificationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
