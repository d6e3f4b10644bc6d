package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NotifierDriverTelegram = "telegram"
	NotifierDriverKafka    = "kafka"
	NotifierDriverLog      = "log"
)

var (
	defaultSourceDomains = []string{
		"amazon.it", "amazon.com", "amazon.co.uk", "amazon.de", "amazon.fr",
		"amazon.es", "amazon.ca", "amazon.com.au", "amzn.to", "amzn.eu", "a.co",
	}
	defaultShortLinkDomains = []string{"amzn.to", "amzn.eu", "a.co"}
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Monitor   MonitorConfig
	Identity  IdentityConfig
	Extractor ExtractorConfig
	Notifier  NotifierConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	HTTPAddr string
	LogLevel string
}

// DBConfig holds the store selection and Postgres connection settings
type DBConfig struct {
	Driver  string
	URL     string
	Migrate bool
}

type MonitorConfig struct {
	PollInterval     time.Duration
	ItemDelay        time.Duration
	RetentionHorizon time.Duration
	SweepAt          string
	Timezone         string
	ShutdownGrace    time.Duration
}

type IdentityConfig struct {
	SourceDomains    []string
	ShortLinkDomains []string
	ReferenceDomain  string
	ResolveTimeout   time.Duration
}

type ExtractorConfig struct {
	RequestTimeout  time.Duration
	UserAgent       string
	AcceptLanguage  string
	DefaultCurrency string
}

type NotifierConfig struct {
	Driver         string
	TelegramToken  string
	TelegramAPIURL string
	SendInterval   time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
}

type TracingConfig struct {
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
}

// Load builds the configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			Driver:  strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			URL:     getEnv("DATABASE_URL", ""),
			Migrate: getEnvBool("DB_MIGRATE", true),
		},
		Monitor: MonitorConfig{
			PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
			ItemDelay:        time.Duration(getEnvInt("ITEM_DELAY_MS", 2000)) * time.Millisecond,
			RetentionHorizon: time.Duration(getEnvInt("RETENTION_DAYS", 30)) * 24 * time.Hour,
			SweepAt:          getEnv("RETENTION_SWEEP_AT", "03:00"),
			Timezone:         getEnv("MONITOR_TIMEZONE", "UTC"),
			ShutdownGrace:    time.Duration(getEnvInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,
		},
		Identity: IdentityConfig{
			SourceDomains:    getEnvList("SOURCE_DOMAINS", defaultSourceDomains),
			ShortLinkDomains: getEnvList("SHORT_LINK_DOMAINS", defaultShortLinkDomains),
			ReferenceDomain:  getEnv("REFERENCE_DOMAIN", "amazon.it"),
			ResolveTimeout:   time.Duration(getEnvInt("RESOLVE_TIMEOUT_MS", 10000)) * time.Millisecond,
		},
		Extractor: ExtractorConfig{
			RequestTimeout: time.Duration(getEnvInt("EXTRACTOR_TIMEOUT_SECONDS", 30)) * time.Second,
			UserAgent: getEnv("EXTRACTOR_USER_AGENT",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			AcceptLanguage:  getEnv("EXTRACTOR_ACCEPT_LANGUAGE", "it-IT,it;q=0.9,en;q=0.8"),
			DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		},
		Notifier: NotifierConfig{
			Driver:         strings.ToLower(getEnv("NOTIFIER_DRIVER", NotifierDriverLog)),
			TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramAPIURL: getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			SendInterval:   time.Duration(getEnvInt("NOTIFY_INTERVAL_MS", 500)) * time.Millisecond,
			KafkaBrokers:   getEnvList("KAFKA_BROKERS", nil),
			KafkaTopic:     getEnv("KAFKA_NOTIF_TOPIC", "price-drops"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "pricewatch"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case StoreDriverPostgres:
		if c.DB.URL == "" {
			return &ConfigError{Field: "DATABASE_URL", Message: "required when STORE_DRIVER=postgres"}
		}
	case StoreDriverMemory:
	default:
		return &ConfigError{Field: "STORE_DRIVER", Message: fmt.Sprintf("unsupported driver %q", c.DB.Driver)}
	}

	if c.Monitor.PollInterval <= 0 {
		return &ConfigError{Field: "POLL_INTERVAL_SECONDS", Message: "must be positive"}
	}
	if c.Monitor.ItemDelay < 0 {
		return &ConfigError{Field: "ITEM_DELAY_MS", Message: "must not be negative"}
	}
	if c.Monitor.RetentionHorizon <= 0 {
		return &ConfigError{Field: "RETENTION_DAYS", Message: "must be positive"}
	}
	if _, _, err := ParseTimeOfDay(c.Monitor.SweepAt); err != nil {
		return &ConfigError{Field: "RETENTION_SWEEP_AT", Message: err.Error()}
	}
	if _, err := time.LoadLocation(c.Monitor.Timezone); err != nil {
		return &ConfigError{Field: "MONITOR_TIMEZONE", Message: err.Error()}
	}

	if len(c.Identity.SourceDomains) == 0 {
		return &ConfigError{Field: "SOURCE_DOMAINS", Message: "at least one domain is required"}
	}
	if c.Identity.ReferenceDomain == "" {
		return &ConfigError{Field: "REFERENCE_DOMAIN", Message: "cannot be empty"}
	}

	switch c.Notifier.Driver {
	case NotifierDriverTelegram:
		if c.Notifier.TelegramToken == "" {
			return &ConfigError{Field: "TELEGRAM_BOT_TOKEN", Message: "required when NOTIFIER_DRIVER=telegram"}
		}
	case NotifierDriverKafka:
		if len(c.Notifier.KafkaBrokers) == 0 || c.Notifier.KafkaTopic == "" {
			return &ConfigError{Field: "KAFKA_BROKERS", Message: "brokers and topic are required when NOTIFIER_DRIVER=kafka"}
		}
	case NotifierDriverLog:
	default:
		return &ConfigError{Field: "NOTIFIER_DRIVER", Message: fmt.Sprintf("unsupported driver %q", c.Notifier.Driver)}
	}
	return nil
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
