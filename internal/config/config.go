package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"forwarder"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"forwarder"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Dispatch loop
	PollIntervalSeconds int `envconfig:"POLL_INTERVAL_SECONDS" default:"30"`
	ClaimBatchSize      int `envconfig:"CLAIM_BATCH_SIZE" default:"10"`

	// Delivery
	DeliveryWebhookURL    string `envconfig:"DELIVERY_WEBHOOK_URL"`
	WebhookTimeoutSeconds int    `envconfig:"WEBHOOK_TIMEOUT_SECONDS" default:"30"`
	BackoffBaseSeconds    int    `envconfig:"BACKOFF_BASE_SECONDS" default:"60"`
	BackoffMaxSeconds     int    `envconfig:"BACKOFF_MAX_SECONDS" default:"3600"`
	// 0 retries forever; above the bound a job moves to the error state and
	// stays inspectable via the admin endpoints until retried by an operator.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"0"`

	// SMTP listener
	EnableSMTP     bool   `envconfig:"ENABLE_SMTP" default:"true"`
	SMTPListenAddr string `envconfig:"SMTP_LISTEN_ADDR" default:":2525"`
	SMTPDomain     string `envconfig:"SMTP_DOMAIN" default:"localhost"`
	AttachmentDir  string `envconfig:"ATTACHMENT_DIR" default:"./data/attachments"`

	// Remote mailbox (Microsoft Graph style API)
	EnablePoller    bool   `envconfig:"ENABLE_POLLER" default:"true"`
	MailAPIBaseURL  string `envconfig:"MAIL_API_BASE_URL"`
	MailAPITokenURL string `envconfig:"MAIL_API_TOKEN_URL"`
	MailClientID    string `envconfig:"MAIL_CLIENT_ID"`
	MailClientSec   string `envconfig:"MAIL_CLIENT_SECRET"`
	MailboxUser     string `envconfig:"MAILBOX_USER"`
	MailboxFolder   string `envconfig:"MAILBOX_FOLDER" default:"Inbox"`

	// Collaborators
	ExtractorURL     string `envconfig:"EXTRACTOR_URL"`
	PricingBaseURL   string `envconfig:"PRICING_BASE_URL"`
	PricingUser      string `envconfig:"PRICING_USER"`
	PricingPass      string `envconfig:"PRICING_PASS"`
	QuoteFromAddress string `envconfig:"QUOTE_FROM_ADDRESS"`

	// Admin-editable lookup files
	MappingsFilePath   string `envconfig:"MAPPINGS_FILE_PATH" default:"./data/stock_mappings.json"`
	OperationsFilePath string `envconfig:"OPERATIONS_FILE_PATH" default:"./data/operations.json"`

	AdapterTimeoutSeconds int `envconfig:"ADAPTER_TIMEOUT_SECONDS" default:"15"`

	// NSQ event stream
	EnableEvents bool   `envconfig:"ENABLE_EVENTS" default:"false"`
	NSQDHost     string `envconfig:"NSQD_HOST" default:"nsqd:4150"`

	// Server
	EnableQuoter bool `envconfig:"ENABLE_QUOTER" default:"true"`
	ServerPort   int  `envconfig:"SERVER_PORT" default:"8082"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.DeliveryWebhookURL == "" {
		return fmt.Errorf("%w: DELIVERY_WEBHOOK_URL", ErrMissingRequired)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.ClaimBatchSize <= 0 {
		return fmt.Errorf("CLAIM_BATCH_SIZE must be positive, got %d", c.ClaimBatchSize)
	}
	if c.BackoffBaseSeconds <= 0 || c.BackoffMaxSeconds < c.BackoffBaseSeconds {
		return fmt.Errorf("invalid backoff bounds: base=%d max=%d", c.BackoffBaseSeconds, c.BackoffMaxSeconds)
	}
	if c.EnablePoller {
		if c.MailAPIBaseURL == "" {
			return fmt.Errorf("%w: MAIL_API_BASE_URL", ErrMissingRequired)
		}
		if c.MailboxUser == "" {
			return fmt.Errorf("%w: MAILBOX_USER", ErrMissingRequired)
		}
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutSeconds) * time.Second
}
