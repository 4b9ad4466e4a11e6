package config

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"restaurant-orders-api/models"

	"github.com/glebarez/sqlite"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds every runtime setting. Values come from the environment,
// optionally overlaid by the YAML file named in CONFIG_FILE.
type Config struct {
	Port     string `yaml:"port"`
	GinMode  string `yaml:"gin_mode"`
	LogLevel string `yaml:"log_level"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	// FulfillmentBackendURL is the base URL of the external dispatch backend.
	// Empty disables outbound notifications.
	FulfillmentBackendURL string        `yaml:"fulfillment_backend_url"`
	WebhookTimeout        time.Duration `yaml:"webhook_timeout"`
	WebhookSecret         string        `yaml:"webhook_secret"`
	ExternalOriginMarker  string        `yaml:"external_origin_marker"`

	// LegacyTransitions accepts any recognized target status from any
	// current status, as the original service did.
	LegacyTransitions bool `yaml:"legacy_transitions"`

	AsyncNotifications bool `yaml:"async_notifications"`
	NotifyWorkers      int  `yaml:"notify_workers"`
	NotifyQueueSize    int  `yaml:"notify_queue_size"`

	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		Port:                 "8000",
		LogLevel:             "info",
		DBDriver:             "sqlite",
		DBDSN:                "restaurant_orders.db",
		WebhookTimeout:       5 * time.Second,
		ExternalOriginMarker: "kyte",
		NotifyWorkers:        4,
		NotifyQueueSize:      256,
		CORSAllowOrigin:      "*",
		ShutdownTimeout:      10 * time.Second,
	}
}

// Load builds the configuration: defaults, then CONFIG_FILE, then env vars.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.GinMode = getEnv("GIN_MODE", cfg.GinMode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.FulfillmentBackendURL = getEnv("FULFILLMENT_BACKEND_URL", getEnv("KYTE_BACKEND_URL", cfg.FulfillmentBackendURL))
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.ExternalOriginMarker = getEnv("EXTERNAL_ORIGIN_MARKER", cfg.ExternalOriginMarker)
	cfg.CORSAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", cfg.CORSAllowOrigin)

	var err error
	if cfg.WebhookTimeout, err = getDuration("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LegacyTransitions, err = getBool("LEGACY_TRANSITIONS", cfg.LegacyTransitions); err != nil {
		return Config{}, err
	}
	if cfg.AsyncNotifications, err = getBool("ASYNC_NOTIFICATIONS", cfg.AsyncNotifications); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", cfg.NotifyWorkers); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", cfg.NotifyQueueSize); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: invalid port %q", c.Port)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DBDriver)
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("config: webhook timeout must be positive")
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 {
		return fmt.Errorf("config: notify workers and queue size must be at least 1")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// NewLogger returns a JSON slog logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// OpenDB connects to the configured database and migrates the schema.
func OpenDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DBDSN)
	default:
		dialector = sqlite.Open(sqliteDSN(cfg.DBDSN))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// One writer at a time; transactions queue on the pool instead of
		// failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// ReadTxOptions returns the options for snapshot reads on the driver.
func ReadTxOptions(driver string) *sql.TxOptions {
	if driver == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
