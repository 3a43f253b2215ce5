// Package main запускает разовую проверку банковского платежа через веб-интерфейс провайдера.
//
// Коды завершения: 0 при выполненной проверке с любым итогом, 1 при ошибке, 2 при ошибке конфигурации.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/cache"
	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/events"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/scraper"
	"github.com/mmeshcher/gophermart-payments/internal/settlement"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseScraper()
	if err != nil {
		sugar.Errorw("configuration error", "error", err.Error())
		return exitConfig
	}

	var req scraper.Request
	if cfg.PaymentID != "" {
		req.PaymentID, err = uuid.Parse(cfg.PaymentID)
		if err != nil {
			sugar.Errorw("configuration error", "error", "bad -tx value", "tx", cfg.PaymentID)
			return exitConfig
		}
	}
	req.Code = cfg.Code

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Errorw("database initialization error", "error", err.Error())
		return exitError
	}
	defer repo.Close()

	var balanceCache settlement.BalanceCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.TTL)
		if err != nil {
			sugar.Warnw("redis unavailable, balance cache will not be invalidated", "error", err.Error())
		} else {
			defer rc.Close()
			balanceCache = rc
		}
	}

	var publisher settlement.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	settler := settlement.NewSettler(logger, repo, balanceCache, publisher)
	driver := scraper.NewChromeDriver(cfg.Browser)
	runner := scraper.NewRunner(logger, driver, repo, settler, scraper.OptionsFromConfig(cfg))

	outcome, err := runner.Run(ctx, req)
	if err != nil && !errors.Is(err, scraper.ErrNothingToCheck) {
		sugar.Errorw("bank check failed", "error", err.Error())
		return exitError
	}

	sugar.Infow("bank check finished", "outcome", string(outcome))
	return exitOK
}
