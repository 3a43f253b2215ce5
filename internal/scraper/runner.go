package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
)

var (
	// ErrNothingToCheck возвращается, если подходящего ожидающего платежа нет.
	ErrNothingToCheck = errors.New("no pending bank payment to check")
	// ErrNoExport возвращается, если после выгрузки в каталоге сессии нет файла.
	ErrNoExport = errors.New("export produced no file")
)

// Outcome описывает итог одного запуска проверки.
type Outcome string

const (
	OutcomeMatched        Outcome = "matched"
	OutcomeNoMatchFailed  Outcome = "no_match_failed"
	OutcomeNoMatchKept    Outcome = "no_match_kept"
	OutcomeNothingToCheck Outcome = "nothing_to_check"
)

const (
	noMatchReason         = "no_match"
	bankReferenceFallback = "bank:"
)

// Finder ищет ожидающий платёж.
type Finder interface {
	FindPending(ctx context.Context, f repository.PendingFilter) (*model.Payment, error)
}

// Settler завершает платёж успехом или отказом.
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID, externalRef string) (*model.Settled, error)
	Fail(ctx context.Context, id uuid.UUID, channel model.Method, reason string) error
}

// Request выбирает платёж для проверки. Пустой запрос означает самый старый ожидающий.
type Request struct {
	PaymentID uuid.UUID
	Code      string
}

// Options задаёт параметры проверки.
type Options struct {
	ProbeAmount   decimal.Decimal
	ProbeCurrency string

	Retries      uint64
	RetryDelay   time.Duration
	StepTimeout  time.Duration
	PauseMin     time.Duration
	PauseMax     time.Duration
	DownloadsDir string

	Export  config.ExportConfig
	NoMatch config.NoMatchPolicy
}

// OptionsFromConfig собирает Options из конфигурации задания.
func OptionsFromConfig(cfg *config.ScraperConfig) Options {
	return Options{
		ProbeAmount:   cfg.Bank.ProbeAmount,
		ProbeCurrency: cfg.Bank.ProbeCurrency,
		Retries:       cfg.Browser.Retries,
		RetryDelay:    cfg.Browser.RetryDelay,
		StepTimeout:   cfg.Browser.StepTimeout,
		PauseMin:      cfg.Browser.PauseMin,
		PauseMax:      cfg.Browser.PauseMax,
		DownloadsDir:  cfg.Browser.DownloadsDir,
		Export:        cfg.Export,
		NoMatch:       cfg.NoMatch,
	}
}

// Runner выполняет одну проверку: одна сессия браузера, один платёж.
type Runner struct {
	driver  Driver
	finder  Finder
	settler Settler
	logger  *zap.Logger
	opts    Options
}

// NewRunner создаёт Runner.
func NewRunner(logger *zap.Logger, driver Driver, finder Finder, settler Settler, opts Options) *Runner {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Runner{
		driver:  driver,
		finder:  finder,
		settler: settler,
		logger:  logger,
		opts:    opts,
	}
}

// Run проверяет выписку для выбранного платежа.
// При ошибке шагов браузера после всех попыток, в том числе если файл выгрузки так и не появился,
// платёж остаётся в pending.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	payment, err := r.selectPayment(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNothingToCheck) {
			r.logger.Info("nothing to check",
				zap.String("payment_id", req.PaymentID.String()),
				zap.String("code", req.Code))
			return OutcomeNothingToCheck, err
		}
		return "", err
	}

	log := r.logger.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("channel", string(model.MethodBank)),
		zap.String("code", payment.Code))
	log.Info("checking bank payment")

	if err := os.MkdirAll(r.opts.DownloadsDir, 0o750); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}
	sessionDir, err := os.MkdirTemp(r.opts.DownloadsDir, "session-*")
	if err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(sessionDir); err != nil {
			log.Warn("remove session dir", zap.Error(err))
		}
	}()

	rows, err := r.export(ctx, log, sessionDir)
	if err != nil {
		return "", err
	}

	row, ok := findRow(rows, r.opts.ProbeAmount, r.opts.ProbeCurrency, payment.Code)
	if !ok {
		return r.noMatch(ctx, log, payment)
	}

	ref := row.Reference
	if ref == "" {
		ref = bankReferenceFallback + payment.Code
	}
	if _, err := r.settler.Settle(ctx, payment.ID, ref); err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return OutcomeNothingToCheck, ErrNothingToCheck
		}
		return "", err
	}
	return OutcomeMatched, nil
}

func (r *Runner) selectPayment(ctx context.Context, req Request) (*model.Payment, error) {
	payment, err := r.finder.FindPending(ctx, repository.PendingFilter{
		ID:     req.PaymentID,
		Method: model.MethodBank,
		Code:   req.Code,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNothingToCheck
		}
		return nil, fmt.Errorf("find pending payment: %w", err)
	}
	return payment, nil
}

// export проходит сценарий в браузере и разбирает полученную выгрузку.
// Файл выгрузки удаляется в любом случае.
func (r *Runner) export(ctx context.Context, log *zap.Logger, dir string) ([]Row, error) {
	if err := r.step(ctx, log, "open", func(ctx context.Context) error {
		return r.driver.Open(ctx, dir)
	}); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.driver.Close(); err != nil {
			log.Warn("close browser", zap.Error(err))
		}
	}()

	var file string
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"login", r.driver.Login},
		{"history", r.driver.OpenHistory},
		{"export", func(ctx context.Context) error {
			if err := r.driver.Export(ctx); err != nil {
				return err
			}
			found, err := latestExport(dir)
			if err != nil {
				return err
			}
			if found == "" {
				return ErrNoExport
			}
			file = found
			return nil
		}},
	}
	for _, s := range steps {
		if err := r.pause(ctx); err != nil {
			return nil, err
		}
		if err := r.step(ctx, log, s.name, s.fn); err != nil {
			return nil, err
		}
	}

	defer func() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove export file", zap.Error(err), zap.String("file", file))
		}
	}()

	rows, err := ParseExport(file, r.opts.Export)
	if err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	log.Info("export parsed", zap.Int("rows", len(rows)))
	return rows, nil
}

func (r *Runner) noMatch(ctx context.Context, log *zap.Logger, payment *model.Payment) (Outcome, error) {
	if r.opts.NoMatch == config.NoMatchKeep {
		log.Info("no matching row, payment kept pending")
		return OutcomeNoMatchKept, nil
	}

	if err := r.settler.Fail(ctx, payment.ID, model.MethodBank, noMatchReason); err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return OutcomeNothingToCheck, ErrNothingToCheck
		}
		return "", err
	}
	return OutcomeNoMatchFailed, nil
}

// step выполняет шаг с повторами, каждая попытка ограничена StepTimeout.
func (r *Runner) step(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(r.opts.Retries, retry.NewConstant(r.opts.RetryDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		stepCtx := ctx
		if r.opts.StepTimeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
			defer cancel()
		}

		if err := fn(stepCtx); err != nil {
			log.Warn("scraper step failed",
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("step %s: %w", name, err)
	}
	return nil
}

// pause выдерживает случайную паузу между действиями в интерфейсе.
func (r *Runner) pause(ctx context.Context) error {
	d := r.opts.PauseMin
	if spread := r.opts.PauseMax - r.opts.PauseMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
