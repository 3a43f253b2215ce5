package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/gateway"
	"github.com/mmeshcher/gophermart-payments/internal/middleware"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/service"
)

type stubService struct {
	createResp  *model.Payment
	createInstr *model.Instructions
	createErr   error
	gotMethod   model.Method
	gotAmount   string

	paymentResp *model.Payment
	paymentErr  error

	listResp []model.Payment
	listErr  error

	claimErr error
	gotHash  string

	balanceResp *model.Balance
	balanceErr  error

	checkErr error
}

func (s *stubService) CreatePayment(ctx context.Context, userID int64, method model.Method, amount string) (*model.Payment, *model.Instructions, error) {
	s.gotMethod = method
	s.gotAmount = amount
	return s.createResp, s.createInstr, s.createErr
}

func (s *stubService) GetPayment(ctx context.Context, userID int64, id uuid.UUID) (*model.Payment, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) ListPayments(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.listResp, s.listErr
}

func (s *stubService) ClaimTransfer(ctx context.Context, userID int64, id uuid.UUID, txHash string) error {
	s.gotHash = txHash
	return s.claimErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) RequestCheck(ctx context.Context, userID int64, id uuid.UUID) error {
	return s.checkErr
}

func (s *stubService) Decimals(method model.Method) int32 {
	if method == model.MethodBlockchain {
		return 6
	}
	return 2
}

type stubNotifier struct {
	got gateway.Notification
	err error
}

func (n *stubNotifier) Process(ctx context.Context, notification gateway.Notification) (*model.Settled, error) {
	n.got = notification
	if n.err != nil {
		return nil, n.err
	}
	return &model.Settled{}, nil
}

func newTestHandler(t *testing.T, svc Service, notifier Notifier) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, notifier, logger, auth)
}

func serve(t *testing.T, h *Handler, method, target string, body io.Reader, userID int64) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if userID != 0 {
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: h.authMiddleware.Token(userID)})
	}
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestCreatePayment_Success(t *testing.T) {
	p := &model.Payment{
		ID:       uuid.New(),
		Method:   model.MethodGateway,
		Amount:   1000,
		Currency: "RUB",
		Code:     "a1b2c3d4e5f60718",
		Points:   10,
	}
	svc := &stubService{
		createResp: p,
		createInstr: &model.Instructions{
			RedirectURL: "https://pay.example.com",
			Fields:      map[string]string{"custom": p.Code},
		},
	}
	h := newTestHandler(t, svc, nil)

	res := serve(t, h, http.MethodPost, "/api/payments", strings.NewReader(`{"amount":"10.00","method":"gateway"}`), 1)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotMethod != model.MethodGateway || svc.gotAmount != "10.00" {
		t.Fatalf("service got method=%q amount=%q", svc.gotMethod, svc.gotAmount)
	}

	var resp createPaymentResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != p.Code || resp.Amount != "10.00" || resp.Points != 10 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Instructions == nil || resp.Instructions.Fields["custom"] != p.Code {
		t.Fatalf("instructions do not carry the code: %+v", resp.Instructions)
	}
}

func TestCreatePayment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		userID     int64
		serviceErr error
		want       int
	}{
		{name: "unauthenticated", body: `{}`, want: http.StatusUnauthorized},
		{name: "bad json", body: `{`, userID: 1, want: http.StatusBadRequest},
		{name: "bad method", body: `{"amount":"1","method":"cash"}`, userID: 1, serviceErr: service.ErrInvalidMethod, want: http.StatusBadRequest},
		{name: "bad amount", body: `{"amount":"0.5","method":"gateway"}`, userID: 1, serviceErr: service.ErrInvalidAmount, want: http.StatusUnprocessableEntity},
		{name: "store failure", body: `{"amount":"5","method":"gateway"}`, userID: 1, serviceErr: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{createErr: tt.serviceErr}, nil)

			res := serve(t, h, http.MethodPost, "/api/payments", strings.NewReader(tt.body), tt.userID)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestGetPayment(t *testing.T) {
	finalized := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &model.Payment{
		ID:          uuid.New(),
		Method:      model.MethodBlockchain,
		Amount:      10_000_000,
		Currency:    "USDT",
		Status:      model.PaymentStatusCompleted,
		Points:      1000,
		CreatedAt:   finalized.Add(-time.Hour),
		FinalizedAt: &finalized,
	}
	h := newTestHandler(t, &stubService{paymentResp: p}, nil)

	res := serve(t, h, http.MethodGet, "/api/payments/"+p.ID.String(), nil, 1)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp paymentResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "completed" || resp.Amount != "10.000000" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.FinalizedAt == nil || *resp.FinalizedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("finalized_at = %v", resp.FinalizedAt)
	}
}

func TestGetPayment_Errors(t *testing.T) {
	h := newTestHandler(t, &stubService{paymentErr: repository.ErrNotFound}, nil)

	res := serve(t, h, http.MethodGet, "/api/payments/not-a-uuid", nil, 1)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res = serve(t, h, http.MethodGet, "/api/payments/"+uuid.NewString(), nil, 1)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListPayments_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{listResp: []model.Payment{}}, nil)

	res := serve(t, h, http.MethodGet, "/api/payments", nil, 1)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestListPayments_Success(t *testing.T) {
	svc := &stubService{listResp: []model.Payment{
		{ID: uuid.New(), Method: model.MethodGateway, Amount: 150, Status: model.PaymentStatusPending},
		{ID: uuid.New(), Method: model.MethodBank, Amount: 100, Status: model.PaymentStatusFailed},
	}}
	h := newTestHandler(t, svc, nil)

	res := serve(t, h, http.MethodGet, "/api/payments", nil, 1)
	defer res.Body.Close()

	var resp []paymentResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].Amount != "1.50" || resp[1].Status != "failed" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClaimTransfer(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "claimed", want: http.StatusAccepted},
		{name: "bad hash", err: service.ErrInvalidTxHash, want: http.StatusBadRequest},
		{name: "unknown payment", err: repository.ErrNotFound, want: http.StatusNotFound},
		{name: "hash taken", err: repository.ErrReferenceTaken, want: http.StatusConflict},
		{name: "not blockchain", err: service.ErrWrongMethod, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{claimErr: tt.err}
			h := newTestHandler(t, svc, nil)

			body, _ := json.Marshal(claimTransferRequest{TxHash: "abc"})
			res := serve(t, h, http.MethodPost, "/api/payments/"+uuid.NewString()+"/transfer", bytes.NewReader(body), 1)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if svc.gotHash != "abc" {
				t.Fatalf("service got hash %q", svc.gotHash)
			}
		})
	}
}

func TestRequestCheck(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "queued", want: http.StatusAccepted},
		{name: "finalized", err: repository.ErrAlreadyFinalized, want: http.StatusConflict},
		{name: "disabled", err: service.ErrChecksDisabled, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{checkErr: tt.err}, nil)

			res := serve(t, h, http.MethodPost, "/api/payments/"+uuid.NewString()+"/check", nil, 1)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestGetBalance(t *testing.T) {
	h := newTestHandler(t, &stubService{balanceResp: &model.Balance{Points: 1010}}, nil)

	res := serve(t, h, http.MethodGet, "/api/user/balance", nil, 1)
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if strings.TrimSpace(string(body)) != `{"points":1010}` {
		t.Fatalf("body = %s", body)
	}

	res = serve(t, h, http.MethodGet, "/api/user/balance", nil, 0)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGatewayNotify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "settled", want: http.StatusOK},
		{name: "foreign merchant", err: gateway.ErrAuthenticationFailed, want: http.StatusForbidden},
		{name: "not verified", err: gateway.ErrUnverifiedNotification, want: http.StatusForbidden},
		{name: "gateway down", err: gateway.ErrVerificationUnavailable, want: http.StatusServiceUnavailable},
		{name: "amount mismatch", err: gateway.ErrAmountMismatch, want: http.StatusBadRequest},
		{name: "replay", err: gateway.ErrUnknownTransaction, want: http.StatusNotFound},
		{name: "store failure", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &stubNotifier{err: tt.err}
			h := newTestHandler(t, &stubService{}, notifier)

			form := url.Values{}
			form.Set("merchant_id", "merchant-1")
			form.Set("txn_id", "CP-1")
			form.Set("amount1", "10.00")
			form.Set("custom", "a1b2c3d4e5f60718")

			req := httptest.NewRequest(http.MethodPost, "/api/payments/gateway/notify", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()

			h.SetupRouter().ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if notifier.got.TxnID != "CP-1" || notifier.got.Custom != "a1b2c3d4e5f60718" {
				t.Fatalf("notification not parsed: %+v", notifier.got)
			}
			if tt.err == nil {
				body, _ := io.ReadAll(res.Body)
				if string(body) != "OK" {
					t.Fatalf("body = %q, want OK", body)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	res := serve(t, h, http.MethodGet, "/metrics", nil, 0)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}
