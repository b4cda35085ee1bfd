package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Security       SecurityConfig       `mapstructure:"security" validate:"required"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Shipping       ShippingConfig       `mapstructure:"shipping"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Redis          RedisConfig          `mapstructure:"redis"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"required,min=32"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
	WebhookSecret        string        `mapstructure:"webhook_secret"`
}

type PaymentConfig struct {
	DefaultProvider  string        `mapstructure:"default_provider"`
	ProcessorTimeout time.Duration `mapstructure:"processor_timeout"`
	Currency         string        `mapstructure:"currency"`
	PayPal           PayPalConfig  `mapstructure:"paypal"`
	Stripe           StripeConfig  `mapstructure:"stripe"`
}

type PayPalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type StripeConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	AccountID string `mapstructure:"account_id"`
}

type ReconciliationConfig struct {
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
	WaitInterval    time.Duration `mapstructure:"wait_interval"`
	WaitAttempts    uint64        `mapstructure:"wait_attempts"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepGrace      time.Duration `mapstructure:"sweep_grace"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size"`
	SweepWorkers    int           `mapstructure:"sweep_workers"`
	EnsureCacheTTL  time.Duration `mapstructure:"ensure_cache_ttl"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	MaterializeTime time.Duration `mapstructure:"materialize_timeout"`
}

type ShippingConfig struct {
	DefaultCountry string `mapstructure:"default_country"`
	StrictCountry  bool   `mapstructure:"strict_country"`
	ParcelCeilingG int64  `mapstructure:"parcel_ceiling_g"`
}

type NotificationConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	EnsureRPS   float64 `mapstructure:"ensure_rps"`
	EnsureBurst int     `mapstructure:"ensure_burst"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("JWT_ACCESS_SECRET", ""),
			RefreshTokenSecret:   getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			WebhookSecret:        getEnv("WEBHOOK_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			DefaultProvider:  getEnv("PAYMENT_DEFAULT_PROVIDER", "paypal"),
			ProcessorTimeout: getEnvAsDuration("PAYMENT_PROCESSOR_TIMEOUT", 15*time.Second),
			Currency:         getEnv("PAYMENT_CURRENCY", "EUR"),
			PayPal: PayPalConfig{
				Enabled:      getEnvAsBool("PAYPAL_ENABLED", true),
				BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			},
			Stripe: StripeConfig{
				Enabled:   getEnvAsBool("STRIPE_ENABLED", false),
				APIKey:    getEnv("STRIPE_API_KEY", ""),
				AccountID: getEnv("STRIPE_ACCOUNT_ID", ""),
			},
		},
		Reconciliation: ReconciliationConfig{
			LeaseTTL:        getEnvAsDuration("RECONCILE_LEASE_TTL", 30*time.Second),
			WaitInterval:    getEnvAsDuration("RECONCILE_WAIT_INTERVAL", 200*time.Millisecond),
			WaitAttempts:    uint64(getEnvAsInt("RECONCILE_WAIT_ATTEMPTS", 8)),
			SweepInterval:   getEnvAsDuration("RECONCILE_SWEEP_INTERVAL", time.Minute),
			SweepGrace:      getEnvAsDuration("RECONCILE_SWEEP_GRACE", 2*time.Minute),
			SweepBatchSize:  getEnvAsInt("RECONCILE_SWEEP_BATCH_SIZE", 50),
			SweepWorkers:    getEnvAsInt("RECONCILE_SWEEP_WORKERS", 4),
			EnsureCacheTTL:  getEnvAsDuration("RECONCILE_ENSURE_CACHE_TTL", 5*time.Second),
			NotifyTimeout:   getEnvAsDuration("RECONCILE_NOTIFY_TIMEOUT", 10*time.Second),
			MaterializeTime: getEnvAsDuration("RECONCILE_MATERIALIZE_TIMEOUT", 20*time.Second),
		},
		Shipping: ShippingConfig{
			DefaultCountry: getEnv("SHIPPING_DEFAULT_COUNTRY", "FR"),
			StrictCountry:  getEnvAsBool("SHIPPING_STRICT_COUNTRY", false),
			ParcelCeilingG: int64(getEnvAsInt("SHIPPING_PARCEL_CEILING_G", 28000)),
		},
		Notification: NotificationConfig{
			Enabled: getEnvAsBool("NOTIFICATION_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("NOTIFICATION_TOPIC", "order-notifications"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			EnsureRPS:   getEnvAsFloat("RATE_LIMIT_ENSURE_RPS", 2),
			EnsureBurst: getEnvAsInt("RATE_LIMIT_ENSURE_BURST", 5),
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Reconciliation.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciliation config: %v", err))
	}

	if err := c.Shipping.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("shipping config: %v", err))
	}

	if err := c.Notification.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notification config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.AccessTokenSecret) < 32 {
		return errors.New("access_token_secret must be at least 32 characters")
	}
	if len(c.RefreshTokenSecret) < 32 {
		return errors.New("refresh_token_secret must be at least 32 characters")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	if c.BCryptCost != 0 && (c.BCryptCost < 10 || c.BCryptCost > 15) {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if !c.PayPal.Enabled && !c.Stripe.Enabled {
		return errors.New("at least one payment provider must be enabled")
	}
	if c.PayPal.Enabled {
		if c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "" {
			return errors.New("paypal client_id and client_secret are required")
		}
		if _, err := url.ParseRequestURI(c.PayPal.BaseURL); err != nil {
			return fmt.Errorf("invalid paypal base_url: %w", err)
		}
	}
	if c.Stripe.Enabled && c.Stripe.APIKey == "" {
		return errors.New("stripe api_key is required")
	}
	switch c.DefaultProvider {
	case "paypal", "stripe":
	default:
		return fmt.Errorf("unknown default_provider %q", c.DefaultProvider)
	}
	return nil
}

func (c *ReconciliationConfig) Validate() error {
	if c.LeaseTTL <= 0 {
		return errors.New("lease_ttl must be positive")
	}
	if c.MaterializeTime > 0 && c.MaterializeTime >= c.LeaseTTL {
		return errors.New("materialize_timeout must be shorter than lease_ttl")
	}
	if c.SweepWorkers < 0 || c.SweepBatchSize < 0 {
		return errors.New("sweep_workers and sweep_batch_size cannot be negative")
	}
	return nil
}

func (c *ShippingConfig) Validate() error {
	if !c.StrictCountry && len(strings.TrimSpace(c.DefaultCountry)) != 2 {
		return errors.New("default_country must be a two-letter country code when strict_country is off")
	}
	if c.ParcelCeilingG < 0 {
		return errors.New("parcel_ceiling_g cannot be negative")
	}
	return nil
}

func (c *NotificationConfig) Validate() error {
	if c.Enabled && (len(c.Brokers) == 0 || c.Topic == "") {
		return errors.New("brokers and topic are required when notifications are enabled")
	}
	return nil
}
