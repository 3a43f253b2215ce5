// Package poller реализует канал подтверждения оплаты через периодический опрос индексатора блокчейна.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/indexer"
	"github.com/mmeshcher/gophermart-payments/internal/metrics"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/validation"
)

// ErrCycleInProgress возвращается RunCycle, если предыдущий цикл ещё не завершён.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// TransferSource возвращает входящие переводы на адрес приёма.
type TransferSource interface {
	IncomingTransfers(ctx context.Context, address, token string, limit int) ([]indexer.Transfer, error)
}

// Finder ищет ожидающий платёж по фильтру.
type Finder interface {
	FindPending(ctx context.Context, f repository.PendingFilter) (*model.Payment, error)
}

// Settler завершает найденный платёж.
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error)
}

// Options задаёт адрес приёма, токен и расписание опроса.
type Options struct {
	Address  string
	Token    string
	Decimals int32
	Limit    int
	Interval time.Duration
}

// Poller периодически сверяет входящие переводы с ожидающими платежами.
type Poller struct {
	source  TransferSource
	finder  Finder
	settler Settler
	logger  *zap.Logger
	opts    Options

	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт Poller.
func New(logger *zap.Logger, source TransferSource, finder Finder, settler Settler, opts Options) *Poller {
	return &Poller{
		source:  source,
		finder:  finder,
		settler: settler,
		logger:  logger,
		opts:    opts,
	}
}

// Start запускает опрос с фиксированным интервалом до отмены ctx или вызова Stop.
// Повторный вызов без Stop ничего не делает.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					if err := p.RunCycle(ctx); errors.Is(err, ErrCycleInProgress) {
						metrics.PollCycles.WithLabelValues("skipped").Inc()
						p.logger.Warn("poll cycle skipped: previous cycle still running")
					}
				}()
			}
		}
	}()
}

// Stop останавливает опрос и дожидается завершения текущего цикла.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// RunCycle выполняет один цикл сверки. Ошибка индексатора прерывает только текущий цикл.
func (p *Poller) RunCycle(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer p.inFlight.Store(false)

	transfers, err := p.source.IncomingTransfers(ctx, p.opts.Address, p.opts.Token, p.opts.Limit)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		p.logger.Error("poll cycle aborted", zap.Error(err), zap.String("channel", string(model.MethodBlockchain)))
		return fmt.Errorf("fetch transfers: %w", err)
	}

	for _, t := range transfers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.match(ctx, t)
	}

	metrics.PollCycles.WithLabelValues("ok").Inc()
	return nil
}

func (p *Poller) match(ctx context.Context, t indexer.Transfer) {
	payment, err := p.finder.FindPending(ctx, repository.PendingFilter{
		Method:      model.MethodBlockchain,
		ExternalRef: t.ID,
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Error("find pending payment", zap.Error(err), zap.String("transfer_id", t.ID))
		}
		return
	}

	if !t.Timestamp.IsZero() && t.Timestamp.Before(payment.CreatedAt) {
		metrics.PaymentsRejected.WithLabelValues(string(model.MethodBlockchain), "predates_payment").Inc()
		p.logger.Warn("transfer predates payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("channel", string(model.MethodBlockchain)),
			zap.String("transfer_id", t.ID),
			zap.String("from", t.From),
			zap.Time("transfer_time", t.Timestamp),
			zap.Time("payment_created", payment.CreatedAt))
		return
	}

	expected := validation.FromMinor(payment.Amount, p.opts.Decimals)
	if t.Amount().LessThan(expected) {
		metrics.PaymentsRejected.WithLabelValues(string(model.MethodBlockchain), "underpaid").Inc()
		p.logger.Warn("transfer amount below requested",
			zap.String("payment_id", payment.ID.String()),
			zap.String("channel", string(model.MethodBlockchain)),
			zap.String("transfer_id", t.ID),
			zap.String("transferred", t.Amount().String()),
			zap.String("requested", expected.String()))
		return
	}

	if _, err := p.settler.Settle(ctx, payment.ID, t.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return
		}
		p.logger.Error("settle payment",
			zap.Error(err),
			zap.String("payment_id", payment.ID.String()),
			zap.String("channel", string(model.MethodBlockchain)),
			zap.String("transfer_id", t.ID))
		return
	}

	p.logger.Info("transfer matched",
		zap.String("payment_id", payment.ID.String()),
		zap.String("transfer_id", t.ID),
		zap.String("from", t.From))
}
