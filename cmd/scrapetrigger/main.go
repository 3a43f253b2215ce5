// Package main читает очередь запросов на проверку и по одному запускает задание scraper.
package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophermart-payments/internal/config"
	"github.com/mmeshcher/gophermart-payments/internal/queue"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseTrigger()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	consumer, err := queue.NewConsumer(cfg.RabbitURL, cfg.Queue)
	if err != nil {
		sugar.Fatalw("rabbitmq initialization error", "error", err.Error())
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sugar.Infow("waiting for check requests", "queue", cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			sugar.Info("scrape trigger stopped")
			return
		case msg, ok := <-consumer.Msg:
			if !ok {
				sugar.Error("delivery channel closed")
				return
			}

			id, err := queue.ParseScrapeRequest(msg.Body)
			if err != nil {
				sugar.Errorw("bad check request, dropping", "error", err.Error())
				_ = msg.Nack(false, false)
				continue
			}

			log := logger.With(zap.String("payment_id", id.String()))
			if err := runScraper(ctx, cfg, id.String()); err != nil {
				log.Error("scraper run failed, manual check required", zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}

			log.Info("scraper run finished")
			_ = msg.Ack(false)
		}
	}
}

func runScraper(ctx context.Context, cfg *config.TriggerConfig, paymentID string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.ScraperBin, "-tx", paymentID)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return err
}
