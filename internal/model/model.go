// Package model содержит доменные сущности сервиса пополнения баллов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Method описывает канал, через который подтверждается оплата.
type Method string

const (
	MethodBlockchain Method = "blockchain"
	MethodGateway    Method = "gateway"
	MethodBank       Method = "bank"
)

// Valid сообщает, известен ли способ оплаты.
func (m Method) Valid() bool {
	switch m {
	case MethodBlockchain, MethodGateway, MethodBank:
		return true
	}
	return false
}

// PaymentStatus описывает статус платежа в журнале.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Final сообщает, что статус терминальный и больше не меняется.
func (s PaymentStatus) Final() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment описывает запись журнала о намерении купить баллы.
// Amount хранится в минимальных единицах валюты (копейки, центы, 10^-decimals токена).
type Payment struct {
	ID          uuid.UUID
	UserID      int64
	Method      Method
	Amount      int64
	Currency    string
	Code        string
	ExternalRef *string
	Points      int64
	Status      PaymentStatus
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// Settled описывает результат успешного зачисления.
type Settled struct {
	PaymentID   uuid.UUID
	UserID      int64
	Points      int64
	Channel     Method
	ExternalRef string
	SettledAt   time.Time
}

// Balance содержит текущий баланс баллов пользователя.
type Balance struct {
	Points int64 `json:"points"`
}

// Instructions описывает, как пользователю оплатить платёж выбранным способом.
// Заполняются только поля, относящиеся к способу оплаты.
type Instructions struct {
	// blockchain
	Address string `json:"address,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Network string `json:"network,omitempty"`

	// gateway
	RedirectURL string            `json:"redirect_url,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`

	// bank
	Account  string `json:"account,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Comment  string `json:"comment,omitempty"`
}
