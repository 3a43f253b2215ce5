// Package config содержит логику чтения конфигурации сервиса пополнения баллов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const defaultIndexerURL = "https://api.trongrid.io"

// Config содержит параметры конфигурации HTTP-сервиса и канала опроса блокчейна.
type Config struct {
	RunAddress  string          `env:"RUN_ADDRESS"`
	DatabaseURI string          `env:"DATABASE_URI"`
	AuthSecret  string          `env:"AUTH_SECRET"`
	MinAmount   decimal.Decimal `env:"MIN_AMOUNT" envDefault:"1"`

	Rates   Rates         `envPrefix:"RATE_"`
	Chain   ChainConfig   `envPrefix:"CHAIN_"`
	Gateway GatewayConfig `envPrefix:"GATEWAY_"`
	Bank    BankConfig    `envPrefix:"BANK_"`
	Redis   RedisConfig   `envPrefix:"REDIS_"`
	Kafka   KafkaConfig   `envPrefix:"KAFKA_"`

	RabbitURL   string `env:"RABBIT_URL"`
	ScrapeQueue string `env:"SCRAPE_QUEUE" envDefault:"scrape_requests"`
}

// Rates задаёт количество баллов за единицу валюты для каждого канала.
type Rates struct {
	Blockchain decimal.Decimal `env:"BLOCKCHAIN" envDefault:"100"`
	Gateway    decimal.Decimal `env:"GATEWAY" envDefault:"1"`
	Bank       decimal.Decimal `env:"BANK" envDefault:"1"`
}

// ChainConfig описывает индексатор блокчейна и адрес приёма переводов.
type ChainConfig struct {
	IndexerURL string        `env:"INDEXER_URL"`
	APIKey     string        `env:"API_KEY"`
	Address    string        `env:"ADDRESS"`
	Token      string        `env:"TOKEN" envDefault:"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"`
	Symbol     string        `env:"SYMBOL" envDefault:"USDT"`
	Network    string        `env:"NETWORK" envDefault:"TRC20"`
	Decimals   int32         `env:"DECIMALS" envDefault:"6"`
	Interval   time.Duration `env:"INTERVAL" envDefault:"30s"`
	Limit      int           `env:"LIMIT" envDefault:"50"`
}

// GatewayConfig описывает платёжный шлюз с уведомлениями.
type GatewayConfig struct {
	MerchantID string `env:"MERCHANT_ID"`
	VerifyURL  string `env:"VERIFY_URL"`
	PayURL     string `env:"PAY_URL"`
	Currency1  string `env:"CURRENCY1" envDefault:"RUB"`
	Currency2  string `env:"CURRENCY2" envDefault:"USDT"`
}

// BankConfig описывает счёт у провайдера без API и проверочный платёж.
type BankConfig struct {
	Account       string          `env:"ACCOUNT"`
	ProbeAmount   decimal.Decimal `env:"PROBE_AMOUNT" envDefault:"1.00"`
	ProbeCurrency string          `env:"PROBE_CURRENCY" envDefault:"RUB"`
}

// RedisConfig описывает подключение к кэшу балансов.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Username string        `env:"USER"`
	Password string        `env:"PASSWORD"`
	TTL      time.Duration `env:"TTL" envDefault:"5m"`
}

// KafkaConfig описывает публикацию событий о зачислениях.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"payments.settled"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envIndexerURL := cfg.Chain.IndexerURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.Chain.IndexerURL, "r", "", "blockchain indexer address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envIndexerURL != "" {
		cfg.Chain.IndexerURL = envIndexerURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Chain.IndexerURL == "" {
		cfg.Chain.IndexerURL = defaultIndexerURL
	}

	if !cfg.MinAmount.IsPositive() {
		return nil, fmt.Errorf("MIN_AMOUNT must be positive, got %s", cfg.MinAmount)
	}
	if cfg.Chain.Interval <= 0 {
		return nil, fmt.Errorf("CHAIN_INTERVAL must be positive, got %s", cfg.Chain.Interval)
	}

	return cfg, nil
}
