package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/memo"
	"github.com/mmeshcher/gophermart-payments/internal/metrics"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/validation"
)

// Verifier проверяет подлинность уведомления у шлюза.
type Verifier interface {
	Verify(ctx context.Context, n Notification) (bool, error)
}

// Finder ищет ожидающий платёж по фильтру.
type Finder interface {
	FindPending(ctx context.Context, f repository.PendingFilter) (*model.Payment, error)
}

// Settler завершает найденный платёж.
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error)
}

// Options задаёт ожидаемые реквизиты продавца и валюты.
type Options struct {
	MerchantID string
	Currency1  string
	Currency2  string
	// Decimals задаёт число знаков после запятой у суммы в Currency1.
	Decimals int32
}

// Processor проверяет уведомления шлюза и завершает платежи.
type Processor struct {
	verifier Verifier
	finder   Finder
	settler  Settler
	logger   *zap.Logger
	opts     Options
}

// NewProcessor создаёт обработчик уведомлений.
func NewProcessor(logger *zap.Logger, verifier Verifier, finder Finder, settler Settler, opts Options) *Processor {
	return &Processor{
		verifier: verifier,
		finder:   finder,
		settler:  settler,
		logger:   logger,
		opts:     opts,
	}
}

// Process выполняет проверки уведомления и при успехе завершает платёж.
// При любой ошибке журнал не изменяется и платёж остаётся в pending.
func (p *Processor) Process(ctx context.Context, n Notification) (*model.Settled, error) {
	res, err := p.process(ctx, n)
	if err != nil {
		metrics.PaymentsRejected.WithLabelValues(string(model.MethodGateway), Reason(err)).Inc()
		p.logger.Warn("gateway notification rejected",
			zap.Error(err),
			zap.String("channel", string(model.MethodGateway)),
			zap.String("reason", Reason(err)),
			zap.String("txn_id", n.TxnID),
			zap.String("code", n.Custom))
		return nil, err
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, n Notification) (*model.Settled, error) {
	if !n.complete() {
		return nil, ErrMalformedNotification
	}

	if subtle.ConstantTimeCompare([]byte(n.MerchantID), []byte(p.opts.MerchantID)) != 1 {
		return nil, ErrAuthenticationFailed
	}

	ok, err := p.verifier.Verify(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !ok {
		return nil, ErrUnverifiedNotification
	}

	if n.Status != "" && !strings.EqualFold(n.Status, StatusPaid) {
		return nil, ErrNotPaid
	}

	if !strings.EqualFold(n.Currency1, p.opts.Currency1) || !strings.EqualFold(n.Currency2, p.opts.Currency2) {
		return nil, ErrCurrencyMismatch
	}

	if !memo.Valid(n.Custom) {
		return nil, ErrUnknownTransaction
	}
	payment, err := p.finder.FindPending(ctx, repository.PendingFilter{
		Method: model.MethodGateway,
		Code:   n.Custom,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}

	declared, err := validation.ParseAmount(n.Amount1)
	if err != nil {
		return nil, ErrAmountMismatch
	}
	if !declared.Equal(validation.FromMinor(payment.Amount, p.opts.Decimals)) {
		return nil, ErrAmountMismatch
	}

	res, err := p.settler.Settle(ctx, payment.ID, n.TxnID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	return res, nil
}
