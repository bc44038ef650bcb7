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
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
	// LockTimeout bounds every row-lock wait inside a transaction.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// TxTimeout bounds a whole transaction, lock waits included.
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
}

type SecurityConfig struct {
	// JWTSecret enables bearer-token checks on vendor routes when set.
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	BCryptCost     int           `mapstructure:"bcrypt_cost"`
}

type PaymentConfig struct {
	Currency            string        `mapstructure:"currency"`
	CallbackURL         string        `mapstructure:"callback_url"`
	ChargeTimeout       time.Duration `mapstructure:"charge_timeout"`
	UnreferencedTimeout time.Duration `mapstructure:"unreferenced_timeout"`
	PendingTimeout      time.Duration `mapstructure:"pending_timeout"`
	ProviderRefresh     time.Duration `mapstructure:"provider_refresh"`
	Sandbox             SandboxConfig `mapstructure:"sandbox"`
}

type SandboxConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	JobQueueSize   int           `mapstructure:"job_queue_size"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
	SuccessRate    float64       `mapstructure:"success_rate"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	CallbackSecret string        `mapstructure:"callback_secret"`
}

type NotificationConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	Subject        string        `mapstructure:"subject"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

func (c KafkaConfig) BrokerList() []string {
	if c.Brokers == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type WorkerConfig struct {
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
	ResumeInterval       time.Duration `mapstructure:"resume_interval"`
	ResumeAfter          time.Duration `mapstructure:"resume_after"`
	NotificationInterval time.Duration `mapstructure:"notification_interval"`
	SubscriptionInterval time.Duration `mapstructure:"subscription_interval"`
	ExpiryWarningWindow  time.Duration `mapstructure:"expiry_warning_window"`
	BatchSize            int           `mapstructure:"batch_size"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			OpenAPIPath:       getEnv("OPENAPI_PATH", "./api/openapi.yml"),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
			LockTimeout:     getEnvAsDuration("DB_LOCK_TIMEOUT", 3*time.Second),
			TxTimeout:       getEnvAsDuration("DB_TX_TIMEOUT", 10*time.Second),
		},
		Security: SecurityConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			BCryptCost:     getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			Currency:            getEnv("PAYMENT_CURRENCY", "UGX"),
			CallbackURL:         getEnv("PAYMENT_CALLBACK_URL", "http://localhost:8080/api/v1/payments/callback"),
			ChargeTimeout:       getEnvAsDuration("PAYMENT_CHARGE_TIMEOUT", 20*time.Second),
			UnreferencedTimeout: getEnvAsDuration("PAYMENT_UNREFERENCED_TIMEOUT", 10*time.Minute),
			PendingTimeout:      getEnvAsDuration("PAYMENT_PENDING_TIMEOUT", 24*time.Hour),
			ProviderRefresh:     getEnvAsDuration("PAYMENT_PROVIDER_REFRESH", 15*time.Second),
			Sandbox: SandboxConfig{
				MaxWorkers:     getEnvAsInt("SANDBOX_MAX_WORKERS", 4),
				JobQueueSize:   getEnvAsInt("SANDBOX_JOB_QUEUE_SIZE", 100),
				WorkerPoolSize: getEnvAsInt("SANDBOX_WORKER_POOL_SIZE", 4),
				SuccessRate:    getEnvAsFloat("SANDBOX_SUCCESS_RATE", 0.9),
				MaxDelay:       getEnvAsDuration("SANDBOX_MAX_DELAY", 4*time.Second),
				CallbackSecret: getEnv("SANDBOX_CALLBACK_SECRET", ""),
			},
		},
		Notification: NotificationConfig{
			NATSURL:        getEnv("NATS_URL", ""),
			Subject:        getEnv("NOTIFICATION_SUBJECT", "sms.voucher.send"),
			RequestTimeout: getEnvAsDuration("NOTIFICATION_REQUEST_TIMEOUT", 5*time.Second),
			MaxAttempts:    getEnvAsInt("NOTIFICATION_MAX_ATTEMPTS", 5),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "billing.events"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_STATUS_TTL", 10*time.Minute),
		},
		Worker: WorkerConfig{
			ReconcileInterval:    getEnvAsDuration("WORKER_RECONCILE_INTERVAL", time.Minute),
			ResumeInterval:       getEnvAsDuration("WORKER_RESUME_INTERVAL", 30*time.Second),
			ResumeAfter:          getEnvAsDuration("WORKER_RESUME_AFTER", time.Minute),
			NotificationInterval: getEnvAsDuration("WORKER_NOTIFICATION_INTERVAL", 30*time.Second),
			SubscriptionInterval: getEnvAsDuration("WORKER_SUBSCRIPTION_INTERVAL", time.Hour),
			ExpiryWarningWindow:  getEnvAsDuration("WORKER_EXPIRY_WARNING_WINDOW", 72*time.Hour),
			BatchSize:            getEnvAsInt("WORKER_BATCH_SIZE", 100),
		},
	}
	return cfg
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
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

func (c *ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	if c.LockTimeout <= 0 {
		return errors.New("lock_timeout must be positive")
	}
	if c.TxTimeout > 0 && c.TxTimeout < c.LockTimeout {
		return errors.New("tx_timeout must be >= lock_timeout")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.BCryptCost != 0 && (c.BCryptCost < 10 || c.BCryptCost > 15) {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if c.Currency == "" {
		return errors.New("currency is required")
	}
	if c.CallbackURL == "" {
		return errors.New("callback_url is required")
	}
	if _, err := url.ParseRequestURI(c.CallbackURL); err != nil {
		return fmt.Errorf("invalid callback_url: %w", err)
	}
	if c.UnreferencedTimeout <= 0 || c.PendingTimeout <= 0 {
		return errors.New("unreferenced_timeout and pending_timeout must be positive")
	}
	if c.Sandbox.SuccessRate < 0 || c.Sandbox.SuccessRate > 1 {
		return errors.New("sandbox.success_rate must be within [0,1]")
	}
	return nil
}
