// Package service реализует бизнес-логику сервиса пополнения баллов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/memo"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/validation"
)

var (
	// ErrInvalidAmount возвращается для некорректной суммы или суммы ниже минимальной.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidMethod возвращается для неизвестного способа оплаты.
	ErrInvalidMethod = errors.New("invalid payment method")
	// ErrInvalidTxHash возвращается для некорректного идентификатора транзакции блокчейна.
	ErrInvalidTxHash = errors.New("invalid transaction hash")
	// ErrWrongMethod возвращается, если операция неприменима к способу оплаты платежа.
	ErrWrongMethod = errors.New("operation is not supported for this payment method")
	// ErrChecksDisabled возвращается, если очередь запусков проверки не настроена.
	ErrChecksDisabled = errors.New("bank checks are not configured")
)

const (
	fiatDecimals    = 2
	codeAttempts    = 3
	gatewayItemName = "Points top-up"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)
	ClaimExternalRef(ctx context.Context, id uuid.UUID, userID int64, ref string) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
}

// BalanceCache хранит балансы пользователей.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SetBalance(ctx context.Context, userID int64, points int64) error
}

// CheckPublisher ставит платёж в очередь проверки банковской выписки.
type CheckPublisher interface {
	PublishScrape(ctx context.Context, paymentID uuid.UUID) error
}

// Options содержит параметры способов оплаты.
type Options struct {
	MinAmount decimal.Decimal
	Rates     config.Rates
	Chain     config.ChainConfig
	Gateway   config.GatewayConfig
	Bank      config.BankConfig
}

// OptionsFromConfig собирает Options из конфигурации сервиса.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinAmount: cfg.MinAmount,
		Rates:     cfg.Rates,
		Chain:     cfg.Chain,
		Gateway:   cfg.Gateway,
		Bank:      cfg.Bank,
	}
}

// Service содержит бизнес-логику сервиса пополнения баллов.
type Service struct {
	repo      Repository
	cache     BalanceCache
	publisher CheckPublisher
	logger    *zap.Logger
	opts      Options
}

// NewService создаёт сервис. cache и publisher могут быть nil.
func NewService(logger *zap.Logger, repo Repository, cache BalanceCache, publisher CheckPublisher, opts Options) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Decimals возвращает число знаков после запятой в сумме платежа данного способа.
func (s *Service) Decimals(method model.Method) int32 {
	if method == model.MethodBlockchain {
		return s.opts.Chain.Decimals
	}
	return fiatDecimals
}

func (s *Service) currency(method model.Method) string {
	switch method {
	case model.MethodBlockchain:
		return s.opts.Chain.Symbol
	case model.MethodGateway:
		return s.opts.Gateway.Currency1
	default:
		return s.opts.Bank.ProbeCurrency
	}
}

func (s *Service) rate(method model.Method) decimal.Decimal {
	switch method {
	case model.MethodBlockchain:
		return s.opts.Rates.Blockchain
	case model.MethodGateway:
		return s.opts.Rates.Gateway
	default:
		return s.opts.Rates.Bank
	}
}

// CreatePayment создаёт ожидающий платёж с новым кодом и возвращает инструкции по оплате.
func (s *Service) CreatePayment(ctx context.Context, userID int64, method model.Method, rawAmount string) (*model.Payment, *model.Instructions, error) {
	if !method.Valid() {
		return nil, nil, ErrInvalidMethod
	}

	amount, err := validation.ParseAmount(rawAmount)
	if err != nil {
		return nil, nil, ErrInvalidAmount
	}
	if amount.LessThan(s.opts.MinAmount) {
		return nil, nil, fmt.Errorf("%w: below minimum %s", ErrInvalidAmount, s.opts.MinAmount)
	}
	if method == model.MethodBank && !amount.Equal(s.opts.Bank.ProbeAmount) {
		return nil, nil, fmt.Errorf("%w: bank payments must be exactly %s", ErrInvalidAmount, s.opts.Bank.ProbeAmount)
	}

	minor, ok := validation.ToMinor(amount, s.Decimals(method))
	if !ok {
		return nil, nil, fmt.Errorf("%w: too many decimal places", ErrInvalidAmount)
	}
	points := amount.Mul(s.rate(method)).Floor().IntPart()
	if points <= 0 {
		return nil, nil, fmt.Errorf("%w: amount buys no points", ErrInvalidAmount)
	}

	p := &model.Payment{
		ID:       uuid.New(),
		UserID:   userID,
		Method:   method,
		Amount:   minor,
		Currency: s.currency(method),
		Points:   points,
	}

	for attempt := 1; ; attempt++ {
		p.Code, err = memo.New()
		if err != nil {
			return nil, nil, fmt.Errorf("generate code: %w", err)
		}

		err = s.repo.CreatePayment(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateCode) || attempt == codeAttempts {
			return nil, nil, fmt.Errorf("create payment: %w", err)
		}
		s.logger.Warn("correlation code collision, regenerating", zap.Int("attempt", attempt))
	}

	s.logger.Info("payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("channel", string(method)),
		zap.Int64("user_id", userID),
		zap.Int64("points", points))

	return p, s.instructions(p, amount), nil
}

func (s *Service) instructions(p *model.Payment, amount decimal.Decimal) *model.Instructions {
	switch p.Method {
	case model.MethodBlockchain:
		return &model.Instructions{
			Address: s.opts.Chain.Address,
			Asset:   s.opts.Chain.Symbol,
			Network: s.opts.Chain.Network,
			Amount:  amount.StringFixed(s.opts.Chain.Decimals),
		}
	case model.MethodGateway:
		return &model.Instructions{
			RedirectURL: s.opts.Gateway.PayURL,
			Fields: map[string]string{
				"merchant_id": s.opts.Gateway.MerchantID,
				"amount":      amount.StringFixed(fiatDecimals),
				"currency":    s.opts.Gateway.Currency1,
				"custom":      p.Code,
				"item_name":   gatewayItemName,
			},
		}
	default:
		return &model.Instructions{
			Account:  s.opts.Bank.Account,
			Amount:   amount.StringFixed(fiatDecimals),
			Currency: s.opts.Bank.ProbeCurrency,
			Comment:  p.Code,
		}
	}
}

// GetPayment возвращает платёж, если он принадлежит пользователю.
func (s *Service) GetPayment(ctx context.Context, userID int64, id uuid.UUID) (*model.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

// ListPayments возвращает платежи пользователя, новые первыми.
func (s *Service) ListPayments(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.repo.ListPaymentsByUser(ctx, userID)
}

// ClaimTransfer привязывает перевод в блокчейне к ожидающему платежу пользователя.
func (s *Service) ClaimTransfer(ctx context.Context, userID int64, id uuid.UUID, txHash string) error {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !validation.IsValidTxHash(txHash) {
		return ErrInvalidTxHash
	}

	p, err := s.GetPayment(ctx, userID, id)
	if err != nil {
		return err
	}
	if p.Method != model.MethodBlockchain {
		return ErrWrongMethod
	}

	if err := s.repo.ClaimExternalRef(ctx, id, userID, txHash); err != nil {
		return err
	}

	s.logger.Info("transfer claimed",
		zap.String("payment_id", id.String()),
		zap.String("channel", string(model.MethodBlockchain)),
		zap.String("external_ref", txHash))
	return nil
}

// GetBalance возвращает баланс пользователя, используя кэш при наличии.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	if s.cache != nil {
		points, err := s.cache.GetBalance(ctx, userID)
		if err == nil {
			return &model.Balance{Points: points}, nil
		}
		s.logger.Debug("balance cache miss", zap.Error(err), zap.Int64("user_id", userID))
	}

	points, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetBalance(ctx, userID, points); err != nil {
			s.logger.Warn("cache balance", zap.Error(err), zap.Int64("user_id", userID))
		}
	}
	return &model.Balance{Points: points}, nil
}

// RequestCheck ставит ожидающий банковский платёж в очередь проверки выписки.
func (s *Service) RequestCheck(ctx context.Context, userID int64, id uuid.UUID) error {
	if s.publisher == nil {
		return ErrChecksDisabled
	}

	p, err := s.GetPayment(ctx, userID, id)
	if err != nil {
		return err
	}
	if p.Method != model.MethodBank {
		return ErrWrongMethod
	}
	if p.Status.Final() {
		return repository.ErrAlreadyFinalized
	}

	if err := s.publisher.PublishScrape(ctx, id); err != nil {
		return fmt.Errorf("publish check request: %w", err)
	}
	return nil
}
