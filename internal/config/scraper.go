package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// NoMatchPolicy определяет судьбу платежа, если выгрузка не содержит подходящей строки.
type NoMatchPolicy string

const (
	// NoMatchFail переводит платёж в failed.
	NoMatchFail NoMatchPolicy = "fail"
	// NoMatchKeep оставляет платёж в pending до следующего запуска.
	NoMatchKeep NoMatchPolicy = "keep"
)

// ScraperConfig содержит параметры разового задания проверки банковской выписки.
type ScraperConfig struct {
	DatabaseURI string `env:"DATABASE_URI"`

	Bank    BankConfig    `envPrefix:"BANK_"`
	Redis   RedisConfig   `envPrefix:"REDIS_"`
	Kafka   KafkaConfig   `envPrefix:"KAFKA_"`
	Browser BrowserConfig `envPrefix:"SCRAPER_"`
	Export  ExportConfig  `envPrefix:"SCRAPER_EXPORT_"`

	NoMatch NoMatchPolicy `env:"SCRAPER_NO_MATCH_POLICY" envDefault:"fail"`

	// Задаются только флагами.
	PaymentID string
	Code      string
}

// BrowserConfig описывает сценарий работы с веб-интерфейсом провайдера.
type BrowserConfig struct {
	LoginURL   string `env:"LOGIN_URL"`
	HistoryURL string `env:"HISTORY_URL"`
	Login      string `env:"LOGIN"`
	Password   string `env:"PASSWORD"`
	Headless   bool   `env:"HEADLESS" envDefault:"true"`

	LoginInputSelector    string `env:"SELECTOR_LOGIN" envDefault:"input[name=login]"`
	PasswordInputSelector string `env:"SELECTOR_PASSWORD" envDefault:"input[type=password]"`
	SubmitSelector        string `env:"SELECTOR_SUBMIT" envDefault:"button[type=submit]"`
	AuthorizedSelector    string `env:"SELECTOR_AUTHORIZED" envDefault:"[data-qa=user-menu]"`
	HistorySelector       string `env:"SELECTOR_HISTORY" envDefault:"[data-qa=history-list]"`
	ExportSelector        string `env:"SELECTOR_EXPORT" envDefault:"[data-qa=history-export]"`
	ExportFormatSelector  string `env:"SELECTOR_EXPORT_FORMAT"`

	Retries      uint64        `env:"RETRIES" envDefault:"3"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	StepTimeout  time.Duration `env:"STEP_TIMEOUT" envDefault:"60s"`
	PauseMin     time.Duration `env:"PAUSE_MIN" envDefault:"700ms"`
	PauseMax     time.Duration `env:"PAUSE_MAX" envDefault:"2500ms"`
	DownloadsDir string        `env:"DOWNLOADS_DIR" envDefault:"downloads"`
}

// ExportConfig описывает формат файла выгрузки истории операций.
type ExportConfig struct {
	Charset           string `env:"CHARSET" envDefault:"utf-8"`
	Delimiter         string `env:"DELIMITER" envDefault:";"`
	AmountColumn      string `env:"AMOUNT_COLUMN" envDefault:"amount"`
	CurrencyColumn    string `env:"CURRENCY_COLUMN" envDefault:"currency"`
	DescriptionColumn string `env:"DESCRIPTION_COLUMN" envDefault:"description"`
	ReferenceColumn   string `env:"REFERENCE_COLUMN" envDefault:"id"`
}

// ParseScraper считывает конфигурацию задания из переменных окружения и флагов.
func ParseScraper() (*ScraperConfig, error) {
	cfg := &ScraperConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentID, "tx", "", "payment id to check")
	flag.StringVar(&cfg.Code, "code", "", "comment code to look for")

	flag.Parse()

	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required")
	}
	if cfg.NoMatch != NoMatchFail && cfg.NoMatch != NoMatchKeep {
		return nil, fmt.Errorf("unknown no-match policy %q", cfg.NoMatch)
	}
	if len([]rune(cfg.Export.Delimiter)) != 1 {
		return nil, fmt.Errorf("export delimiter must be a single character, got %q", cfg.Export.Delimiter)
	}
	if cfg.Browser.PauseMax < cfg.Browser.PauseMin {
		return nil, fmt.Errorf("SCRAPER_PAUSE_MAX must not be less than SCRAPER_PAUSE_MIN")
	}

	return cfg, nil
}

// TriggerConfig содержит параметры потребителя очереди запусков задания.
type TriggerConfig struct {
	RabbitURL  string        `env:"RABBIT_URL"`
	Queue      string        `env:"SCRAPE_QUEUE" envDefault:"scrape_requests"`
	ScraperBin string        `env:"SCRAPER_BIN" envDefault:"scraper"`
	RunTimeout time.Duration `env:"SCRAPER_RUN_TIMEOUT" envDefault:"10m"`
}

// ParseTrigger считывает конфигурацию потребителя очереди.
func ParseTrigger() (*TriggerConfig, error) {
	cfg := &TriggerConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RabbitURL == "" {
		return nil, fmt.Errorf("RABBIT_URL is required")
	}

	return cfg, nil
}
