// Package gateway реализует канал подтверждения оплаты по уведомлениям платёжного шлюза.
package gateway

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrMalformedNotification возвращается, если в уведомлении нет обязательных полей.
	ErrMalformedNotification = errors.New("malformed notification")
	// ErrAuthenticationFailed возвращается, если идентификатор продавца не совпал с настроенным.
	ErrAuthenticationFailed = errors.New("merchant authentication failed")
	// ErrUnverifiedNotification возвращается, если шлюз не подтвердил подлинность уведомления.
	ErrUnverifiedNotification = errors.New("notification not verified by gateway")
	// ErrVerificationUnavailable возвращается, если шлюз недоступен для проверки.
	ErrVerificationUnavailable = errors.New("gateway verification unavailable")
	// ErrNotPaid возвращается для уведомлений о неуспешной оплате.
	ErrNotPaid = errors.New("notification does not report a completed payment")
	// ErrCurrencyMismatch возвращается при несовпадении пары валют.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrUnknownTransaction возвращается, если ожидающий платёж с таким кодом не найден.
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrAmountMismatch возвращается, если сумма не равна запрошенной.
	ErrAmountMismatch = errors.New("amount mismatch")
)

// StatusPaid соответствует значению поля status при успешной оплате.
const StatusPaid = "paid"

// Notification описывает уведомление шлюза об оплате.
type Notification struct {
	MerchantID  string
	TxnID       string
	Amount1     string
	Currency1   string
	Amount2     string
	Currency2   string
	Custom      string
	VerifyToken string
	Status      string
}

// ParseNotification извлекает поля уведомления из формы запроса.
func ParseNotification(form url.Values) Notification {
	get := func(key string) string {
		return strings.TrimSpace(form.Get(key))
	}
	return Notification{
		MerchantID:  get("merchant_id"),
		TxnID:       get("txn_id"),
		Amount1:     get("amount1"),
		Currency1:   get("currency1"),
		Amount2:     get("amount2"),
		Currency2:   get("currency2"),
		Custom:      get("custom"),
		VerifyToken: get("verify_token"),
		Status:      get("status"),
	}
}

func (n Notification) complete() bool {
	return n.MerchantID != "" && n.TxnID != "" && n.Custom != "" && n.VerifyToken != "" && n.Amount1 != ""
}

// Reason возвращает короткую метку ошибки для логов и метрик.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedNotification):
		return "malformed"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrUnverifiedNotification):
		return "unverified"
	case errors.Is(err, ErrVerificationUnavailable):
		return "verification_unavailable"
	case errors.Is(err, ErrNotPaid):
		return "not_paid"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, ErrUnknownTransaction):
		return "unknown_transaction"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	default:
		return "internal"
	}
}
