// Package settlement содержит единственную точку завершения платежей и начисления баллов.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/metrics"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
)

// Store описывает операции журнала, которые меняют статус платежа.
// Реализация обязана выполнять проверку pending и смену статуса атомарно.
type Store interface {
	Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// BalanceCache сбрасывает закэшированный баланс после начисления.
type BalanceCache interface {
	InvalidateBalance(ctx context.Context, userID int64) error
}

// Publisher уведомляет внешние системы о зачислении.
type Publisher interface {
	PublishSettled(ctx context.Context, s model.Settled) error
}

// Settler завершает платежи. Все каналы обязаны проходить через него.
type Settler struct {
	store     Store
	cache     BalanceCache
	publisher Publisher
	logger    *zap.Logger
}

// NewSettler создаёт Settler. cache и publisher могут быть nil.
func NewSettler(logger *zap.Logger, store Store, cache BalanceCache, publisher Publisher) *Settler {
	return &Settler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

// Settle переводит платёж в completed, сохраняет внешнюю ссылку и начисляет баллы.
// Для уже завершённого платежа возвращает repository.ErrAlreadyFinalized без начисления.
func (s *Settler) Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error) {
	res, err := s.store.Settle(ctx, id, externalRef)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			s.logger.Warn("settle skipped: payment already finalized",
				zap.String("payment_id", id.String()),
				zap.String("external_ref", externalRef))
		}
		return nil, fmt.Errorf("settle payment %s: %w", id, err)
	}

	metrics.PaymentsSettled.WithLabelValues(string(res.Channel)).Inc()
	s.logger.Info("payment settled",
		zap.String("payment_id", id.String()),
		zap.String("channel", string(res.Channel)),
		zap.String("external_ref", externalRef),
		zap.Int64("user_id", res.UserID),
		zap.Int64("points", res.Points))

	// Баланс уже зафиксирован в журнале, ошибки кэша и событий только логируются.
	if s.cache != nil {
		if err := s.cache.InvalidateBalance(ctx, res.UserID); err != nil {
			s.logger.Error("invalidate balance cache", zap.Error(err), zap.Int64("user_id", res.UserID))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSettled(ctx, *res); err != nil {
			s.logger.Error("publish settled event", zap.Error(err), zap.String("payment_id", id.String()))
		}
	}

	return res, nil
}

// Fail переводит ожидающий платёж в failed.
func (s *Settler) Fail(ctx context.Context, id uuid.UUID, channel model.Method, reason string) error {
	if err := s.store.MarkFailed(ctx, id); err != nil {
		return fmt.Errorf("fail payment %s: %w", id, err)
	}

	metrics.PaymentsRejected.WithLabelValues(string(channel), reason).Inc()
	s.logger.Info("payment failed",
		zap.String("payment_id", id.String()),
		zap.String("channel", string(channel)),
		zap.String("reason", reason))
	return nil
}
