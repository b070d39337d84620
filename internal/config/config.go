// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // payment status cache
}

type MpesaConfig struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	Shortcode      string `yaml:"shortcode"`
	Passkey        string `yaml:"passkey"`
	CallbackURL    string `yaml:"callback_url"`
	Sandbox        bool   `yaml:"sandbox"`
	CountryCode    string `yaml:"country_code"`
	AccountRef     string `yaml:"account_reference"`
}

// Enabled reports whether Daraja credentials are configured.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.Shortcode != "" && m.Passkey != ""
}

type BillingConfig struct {
	Currency     string   `yaml:"currency"`
	MonthlyPrice float64  `yaml:"monthly_price"`
	DurationDays int      `yaml:"duration_days"`
	Features     []string `yaml:"features"`
}

type SweeperConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`  // pending age before we query the provider
	UnlinkedTTL time.Duration `yaml:"unlinked_ttl"` // pending age before an unlinked payment is failed
	Batch       int           `yaml:"batch"`
	Workers     int           `yaml:"workers"`
}

type ExpiryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RateLimitConfig struct {
	InitiatePerPhone int           `yaml:"initiate_per_phone"`
	Window           time.Duration `yaml:"window"`
}

type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mpesa     MpesaConfig     `yaml:"mpesa"`
	Billing   BillingConfig   `yaml:"billing"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Admin     AdminConfig     `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then applies .env and environment overrides.
// A missing config file is tolerated when the environment provides database.url.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(&cfg.Database.URL, "DATABASE_URL")
	str(&cfg.Redis.URL, "REDIS_URL")
	str(&cfg.Redis.Password, "REDIS_PASSWORD")
	str(&cfg.Mpesa.ConsumerKey, "MPESA_CONSUMER_KEY")
	str(&cfg.Mpesa.ConsumerSecret, "MPESA_CONSUMER_SECRET")
	str(&cfg.Mpesa.Shortcode, "MPESA_SHORTCODE")
	str(&cfg.Mpesa.Passkey, "MPESA_PASSKEY")
	str(&cfg.Mpesa.CallbackURL, "MPESA_CALLBACK_URL")
	str(&cfg.Admin.JWTSecret, "ADMIN_JWT_SECRET")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Mpesa.CountryCode == "" {
		cfg.Mpesa.CountryCode = "254"
	}
	if cfg.Mpesa.AccountRef == "" {
		cfg.Mpesa.AccountRef = "Dereva Smart"
	}
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "KES"
	}
	if cfg.Billing.MonthlyPrice <= 0 {
		cfg.Billing.MonthlyPrice = 1.0
	}
	if cfg.Billing.DurationDays <= 0 {
		cfg.Billing.DurationDays = 30
	}
	if len(cfg.Billing.Features) == 0 {
		cfg.Billing.Features = []string{
			"Unlimited mock tests",
			"Full progress tracking",
			"Unlimited AI tutor",
			"Offline access",
			"Auto-renewal",
		}
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = time.Minute
	}
	if cfg.Sweeper.StaleAfter <= 0 {
		cfg.Sweeper.StaleAfter = 2 * time.Minute
	}
	if cfg.Sweeper.UnlinkedTTL <= 0 {
		cfg.Sweeper.UnlinkedTTL = 15 * time.Minute
	}
	if cfg.Sweeper.Batch <= 0 {
		cfg.Sweeper.Batch = 200
	}
	if cfg.Sweeper.Workers <= 0 {
		cfg.Sweeper.Workers = 4
	}
	if cfg.Expiry.Interval <= 0 {
		cfg.Expiry.Interval = time.Hour
	}
	if cfg.RateLimit.InitiatePerPhone <= 0 {
		cfg.RateLimit.InitiatePerPhone = 5
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
