package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Reader   ReaderConfig   `yaml:"reader"`
	Payment  PaymentConfig  `yaml:"payment"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NewRelic NewRelicConfig `yaml:"newrelic"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the local kiosk API configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// BackendConfig holds the donation backend configuration.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds OAuth configuration.
type AuthConfig struct {
	OrganizationID string        `yaml:"organization_id"`
	CallbackScheme string        `yaml:"callback_scheme"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	OpenBrowser    bool          `yaml:"open_browser"`
}

// ReaderConfig holds card reader configuration. The simulator stands in for
// the native SDK bridge.
type ReaderConfig struct {
	Bluetooth    bool          `yaml:"bluetooth"`
	Location     bool          `yaml:"location"`
	PairingDelay time.Duration `yaml:"pairing_delay"`
	CaptureDelay time.Duration `yaml:"capture_delay"`
	Offline      bool          `yaml:"offline"`
}

// PaymentConfig holds donation flow configuration.
type PaymentConfig struct {
	Flow         string        `yaml:"flow"`
	Currency     string        `yaml:"currency"`
	TerminalID   string        `yaml:"terminal_id"`
	AllowOffline bool          `yaml:"allow_offline"`
	OrderTimeout time.Duration `yaml:"order_timeout"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// DatabaseConfig holds PostgreSQL configuration for the attempt journal.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `yaml:"app_name"`
	LicenseKey string `yaml:"license_key"`
	Enabled    bool   `yaml:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			CallbackScheme: "kioskdonate",
			PollInterval:   500 * time.Millisecond,
			PollTimeout:    30 * time.Second,
			OpenBrowser:    true,
		},
		Reader: ReaderConfig{
			Bluetooth:    true,
			Location:     true,
			PairingDelay: 2 * time.Second,
			CaptureDelay: 3 * time.Second,
		},
		Payment: PaymentConfig{
			Flow:         "order",
			Currency:     "USD",
			TerminalID:   "kiosk-1",
			OrderTimeout: 15 * time.Second,
			LockTTL:      5 * time.Minute,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "kiosk",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 5 * time.Minute,
		},
		NewRelic: NewRelicConfig{
			AppName: "donation-kiosk",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded first when present. An empty path falls back to
// $KIOSK_CONFIG.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("KIOSK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.AllowedOrigins = getListEnv("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = getDurationEnv("BACKEND_TIMEOUT", cfg.Backend.Timeout)

	cfg.Auth.OrganizationID = getEnv("AUTH_ORGANIZATION_ID", cfg.Auth.OrganizationID)
	cfg.Auth.CallbackScheme = getEnv("AUTH_CALLBACK_SCHEME", cfg.Auth.CallbackScheme)
	cfg.Auth.PollInterval = getDurationEnv("AUTH_POLL_INTERVAL", cfg.Auth.PollInterval)
	cfg.Auth.PollTimeout = getDurationEnv("AUTH_POLL_TIMEOUT", cfg.Auth.PollTimeout)
	cfg.Auth.OpenBrowser = getBoolEnv("AUTH_OPEN_BROWSER", cfg.Auth.OpenBrowser)

	cfg.Reader.Bluetooth = getBoolEnv("READER_BLUETOOTH", cfg.Reader.Bluetooth)
	cfg.Reader.Location = getBoolEnv("READER_LOCATION", cfg.Reader.Location)
	cfg.Reader.PairingDelay = getDurationEnv("READER_PAIRING_DELAY", cfg.Reader.PairingDelay)
	cfg.Reader.CaptureDelay = getDurationEnv("READER_CAPTURE_DELAY", cfg.Reader.CaptureDelay)
	cfg.Reader.Offline = getBoolEnv("READER_OFFLINE", cfg.Reader.Offline)

	cfg.Payment.Flow = getEnv("PAYMENT_FLOW", cfg.Payment.Flow)
	cfg.Payment.Currency = getEnv("PAYMENT_CURRENCY", cfg.Payment.Currency)
	cfg.Payment.TerminalID = getEnv("PAYMENT_TERMINAL_ID", cfg.Payment.TerminalID)
	cfg.Payment.AllowOffline = getBoolEnv("PAYMENT_ALLOW_OFFLINE", cfg.Payment.AllowOffline)
	cfg.Payment.OrderTimeout = getDurationEnv("PAYMENT_ORDER_TIMEOUT", cfg.Payment.OrderTimeout)
	cfg.Payment.LockTTL = getDurationEnv("PAYMENT_LOCK_TTL", cfg.Payment.LockTTL)

	cfg.Database.Enabled = getBoolEnv("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getBoolEnv("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getIntEnv("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CacheTTL = getDurationEnv("REDIS_CACHE_TTL", cfg.Redis.CacheTTL)

	cfg.NewRelic.AppName = getEnv("NEW_RELIC_APP_NAME", cfg.NewRelic.AppName)
	cfg.NewRelic.LicenseKey = getEnv("NEW_RELIC_LICENSE_KEY", cfg.NewRelic.LicenseKey)
	cfg.NewRelic.Enabled = getBoolEnv("NEW_RELIC_ENABLED", cfg.NewRelic.Enabled)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// Validate reports every setting the kiosk cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Auth.OrganizationID == "" {
		errs = append(errs, errors.New("auth.organization_id is required"))
	}
	if c.Auth.PollInterval <= 0 || c.Auth.PollTimeout < c.Auth.PollInterval {
		errs = append(errs, errors.New("auth.poll_timeout must be at least auth.poll_interval"))
	}
	switch c.Payment.Flow {
	case "order", "direct":
	default:
		errs = append(errs, fmt.Errorf("payment.flow %q must be \"order\" or \"direct\"", c.Payment.Flow))
	}
	if c.Payment.TerminalID == "" {
		errs = append(errs, errors.New("payment.terminal_id is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
