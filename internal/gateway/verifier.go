package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/httpclient"
)

// HTTPVerifier подтверждает уведомление повторным запросом к шлюзу.
type HTTPVerifier struct {
	verifyURL  string
	httpClient *retryablehttp.Client
}

// NewHTTPVerifier создаёт проверку по адресу шлюза.
func NewHTTPVerifier(verifyURL string, logger *zap.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL:  httpclient.NormalizeBaseURL(verifyURL),
		httpClient: httpclient.New(logger, 5*time.Second, 2),
	}
}

// Verify отправляет токен уведомления шлюзу и возвращает true, если шлюз ответил VERIFIED.
func (v *HTTPVerifier) Verify(ctx context.Context, n Notification) (bool, error) {
	form := url.Values{}
	form.Set("merchant_id", n.MerchantID)
	form.Set("txn_id", n.TxnID)
	form.Set("verify_token", n.VerifyToken)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	switch strings.TrimSpace(string(body)) {
	case "VERIFIED":
		return true, nil
	case "INVALID":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected verification answer %q", string(body))
	}
}
