package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/rentledger/pkg/db"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string
	CronSecret    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBMetrics         bool
	RunMigrations     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MercadoPago MercadoPagoConfig
	Evolution   EvolutionConfig
	SMTP        SMTPConfig
	Scheduler   SchedulerConfig
	Webhook     WebhookConfig
	IndexSource IndexSourceConfig
}

type MercadoPagoConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration

	// Checkout callbacks. NotificationURL receives webhook deliveries;
	// the back URLs are where the payer lands after checkout.
	NotificationURL string
	SuccessURL      string
	FailureURL      string
}

type EvolutionConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
}

type WebhookConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	RateLimit  float64
	RateBurst  int
}

type IndexSourceConfig struct {
	IndexAURL string
	IndexBURL string
	Timeout   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "rentledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		CronSecret:    strings.TrimSpace(getenv("CRON_SECRET", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "rentledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "rentledger.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBMetrics:         getenvBool("DATABASE_METRICS", true),
		RunMigrations:     getenvBool("DATABASE_RUN_MIGRATIONS", true),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		MercadoPago: MercadoPagoConfig{
			BaseURL:     getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			AccessToken: strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
			Timeout:     getenvDuration("MERCADOPAGO_TIMEOUT", 10*time.Second),

			NotificationURL: strings.TrimSpace(getenv("MERCADOPAGO_NOTIFICATION_URL", "")),
			SuccessURL:      strings.TrimSpace(getenv("MERCADOPAGO_SUCCESS_URL", "")),
			FailureURL:      strings.TrimSpace(getenv("MERCADOPAGO_FAILURE_URL", "")),
		},
		Evolution: EvolutionConfig{
			BaseURL: strings.TrimRight(getenv("EVOLUTION_API_URL", ""), "/"),
			APIKey:  strings.TrimSpace(getenv("EVOLUTION_API_KEY", "")),
			Timeout: getenvDuration("EVOLUTION_API_TIMEOUT", 10*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", ""),
			UseTLS:   getenvBool("SMTP_USE_TLS", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", false),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 24*time.Hour),
		},
		Webhook: WebhookConfig{
			Workers:    getenvInt("WEBHOOK_WORKERS", 4),
			QueueSize:  getenvInt("WEBHOOK_QUEUE_SIZE", 256),
			JobTimeout: getenvDuration("WEBHOOK_JOB_TIMEOUT", 30*time.Second),
			RateLimit:  getenvFloat("WEBHOOK_RATE_LIMIT", 20),
			RateBurst:  getenvInt("WEBHOOK_RATE_BURST", 100),
		},
		IndexSource: IndexSourceConfig{
			IndexAURL: getenv("INDEX_A_SOURCE_URL", "https://api.argentinadatos.com/v1/finanzas/indices/icl"),
			IndexBURL: getenv("INDEX_B_SOURCE_URL", "https://api.argentinadatos.com/v1/finanzas/indices/ipc"),
			Timeout:   getenvDuration("INDEX_SOURCE_TIMEOUT", 10*time.Second),
		},
	}
}

func (c Config) Database() db.Config {
	return db.Config{
		Type:            c.DBType,
		Host:            c.DBHost,
		Port:            c.DBPort,
		Name:            c.DBName,
		User:            c.DBUser,
		Password:        c.DBPassword,
		SSLMode:         c.DBSSLMode,
		Path:            c.DBPath,
		MaxIdleConn:     c.DBMaxIdleConn,
		MaxOpenConn:     c.DBMaxOpenConn,
		ConnMaxLifetime: c.DBConnMaxLifetime,
		Metrics:         c.DBMetrics,
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

var Module = fx.Module("config",
	fx.Provide(
		Load,
		func(c Config) db.Config { return c.Database() },
		NewBillingConfigHolder,
	),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
