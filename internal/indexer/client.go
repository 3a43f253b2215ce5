// Package indexer предоставляет клиент индексатора блокчейна (TronGrid-совместимый API TRC-20).
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/httpclient"
)

// Client инкапсулирует HTTP-взаимодействие с индексатором.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// Transfer описывает один входящий перевод токена.
type Transfer struct {
	ID        string
	From      string
	To        string
	Token     string
	Symbol    string
	Value     decimal.Decimal
	Decimals  int32
	Timestamp time.Time
}

// Amount возвращает сумму перевода в единицах токена.
func (t Transfer) Amount() decimal.Decimal {
	return t.Value.Shift(-t.Decimals)
}

type transfersResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		TransactionID string `json:"transaction_id"`
		TokenInfo     struct {
			Symbol   string `json:"symbol"`
			Address  string `json:"address"`
			Decimals int32  `json:"decimals"`
		} `json:"token_info"`
		BlockTimestamp int64  `json:"block_timestamp"`
		From           string `json:"from"`
		To             string `json:"to"`
		Type           string `json:"type"`
		Value          string `json:"value"`
	} `json:"data"`
}

// NewClient создаёт клиент индексатора по указанному адресу.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    httpclient.NormalizeBaseURL(baseURL),
		apiKey:     apiKey,
		httpClient: httpclient.New(logger, 10*time.Second, 3),
	}
}

// IncomingTransfers возвращает последние подтверждённые входящие переводы токена на адрес.
// Переводы другого токена или на другой адрес отбрасываются.
func (c *Client) IncomingTransfers(ctx context.Context, address, token string, limit int) ([]Transfer, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("indexer client not configured")
	}

	q := url.Values{}
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("contract_address", token)
	q.Set("limit", strconv.Itoa(limit))

	u := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", c.baseURL, url.PathEscape(address), q.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body transfersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("indexer reported failure")
	}

	res := make([]Transfer, 0, len(body.Data))
	for _, d := range body.Data {
		if d.To != address || d.TokenInfo.Address != token || d.Type != "Transfer" {
			continue
		}

		value, err := decimal.NewFromString(d.Value)
		if err != nil {
			return nil, fmt.Errorf("parse value of %s: %w", d.TransactionID, err)
		}

		res = append(res, Transfer{
			ID:        d.TransactionID,
			From:      d.From,
			To:        d.To,
			Token:     d.TokenInfo.Address,
			Symbol:    d.TokenInfo.Symbol,
			Value:     value,
			Decimals:  d.TokenInfo.Decimals,
			Timestamp: time.UnixMilli(d.BlockTimestamp),
		})
	}

	return res, nil
}
