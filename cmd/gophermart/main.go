// Package main запускает HTTP-сервер сервиса пополнения баллов и опрос блокчейна.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gophermart-payments/internal/cache"
	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/events"
	"github.com/mmeshcher/gophermart-payments/internal/gateway"
	"github.com/mmeshcher/gophermart-payments/internal/handler"
	"github.com/mmeshcher/gophermart-payments/internal/indexer"
	"github.com/mmeshcher/gophermart-payments/internal/middleware"
	"github.com/mmeshcher/gophermart-payments/internal/model"
	"github.com/mmeshcher/gophermart-payments/internal/poller"
	"github.com/mmeshcher/gophermart-payments/internal/queue"
	"github.com/mmeshcher/gophermart-payments/internal/repository"
	"github.com/mmeshcher/gophermart-payments/internal/service"
	"github.com/mmeshcher/gophermart-payments/internal/settlement"
)

// ledger объединяет операции хранилища, нужные всем каналам.
type ledger interface {
	service.Repository
	settlement.Store
	poller.Finder
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo ledger
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory ledger")
		repo = repository.NewMemoryRepository()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		settleCache settlement.BalanceCache
		readCache   service.BalanceCache
	)
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.TTL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rc.Close()
		settleCache, readCache = rc, rc
	}

	var settledPublisher settlement.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		settledPublisher = kp
	}

	var checkPublisher service.CheckPublisher
	if cfg.RabbitURL != "" {
		qp, err := queue.NewPublisher(cfg.RabbitURL, cfg.ScrapeQueue)
		if err != nil {
			sugar.Fatalw("rabbitmq initialization error", "error", err.Error())
		}
		defer qp.Close()
		checkPublisher = qp
	}

	settler := settlement.NewSettler(logger, repo, settleCache, settledPublisher)

	svc := service.NewService(logger, repo, readCache, checkPublisher, service.OptionsFromConfig(cfg))
	defer svc.Close()

	if cfg.Gateway.MerchantID == "" || cfg.Gateway.VerifyURL == "" {
		sugar.Warn("gateway is not configured, notifications will be rejected")
	}
	processor := gateway.NewProcessor(logger,
		gateway.NewHTTPVerifier(cfg.Gateway.VerifyURL, logger),
		repo, settler,
		gateway.Options{
			MerchantID: cfg.Gateway.MerchantID,
			Currency1:  cfg.Gateway.Currency1,
			Currency2:  cfg.Gateway.Currency2,
			Decimals:   svc.Decimals(model.MethodGateway),
		})

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens issued elsewhere will be rejected")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, processor, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Опрос индексатора блокчейна
	if cfg.Chain.Address != "" {
		p := poller.New(logger,
			indexer.NewClient(cfg.Chain.IndexerURL, cfg.Chain.APIKey, logger),
			repo, settler,
			poller.Options{
				Address:  cfg.Chain.Address,
				Token:    cfg.Chain.Token,
				Decimals: cfg.Chain.Decimals,
				Limit:    cfg.Chain.Limit,
				Interval: cfg.Chain.Interval,
			})

		g.Go(func() error {
			sugar.Infow("starting blockchain poller", "address", cfg.Chain.Address, "interval", cfg.Chain.Interval)
			p.Start(ctx)
			<-ctx.Done()
			p.Stop()
			return nil
		})
	} else {
		sugar.Warn("CHAIN_ADDRESS is empty, blockchain poller disabled")
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting gophermart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
