package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Billing   BillingConfig   `yaml:"billing"`
	Report    ReportConfig    `yaml:"report"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
	// LogSQL turns on gorm statement logging.
	LogSQL bool `yaml:"log_sql"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	ExpireHour        int    `yaml:"expire_hour"`
	RefreshExpireHour int    `yaml:"refresh_expire_hour"`
}

// OpenAIConfig is the fallback LLM used when no llm_configs row is active.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// RedisConfig for the optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the valkey-backed cost summary cache.
type CacheConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"` // redis://[:password@]host:port[/db]
	TTLSeconds   int    `yaml:"ttl_seconds"`
	DisableCache bool   `yaml:"disable_client_cache"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type BillingConfig struct {
	MarkupMultiplier float64  `yaml:"markup_multiplier"`
	TransparentTiers []string `yaml:"transparent_tiers"`
	SignupCredits    int64    `yaml:"signup_credits"`
	PricingFile      string   `yaml:"pricing_file"`
}

type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // with seconds field
}

type RateLimitConfig struct {
	GenerationRPS   float64 `yaml:"generation_rps"`
	GenerationBurst int     `yaml:"generation_burst"`
}

// envOverrides lists every variable that may replace a file value.
// Empty means unset.
type envOverrides struct {
	ServerHost       string   `envconfig:"SERVER_HOST"`
	ServerPort       string   `envconfig:"SERVER_PORT"`
	ServerMode       string   `envconfig:"SERVER_MODE"`
	DBDriver         string   `envconfig:"DB_DRIVER"`
	DBDSN            string   `envconfig:"DB_DSN"`
	JWTSecret        string   `envconfig:"JWT_SECRET"`
	OpenAIBaseURL    string   `envconfig:"OPENAI_BASE_URL"`
	OpenAIAPIKey     string   `envconfig:"OPENAI_API_KEY"`
	OpenAIModel      string   `envconfig:"OPENAI_MODEL"`
	RedisURL         string   `envconfig:"REDIS_URL"`
	CacheEnabled     string   `envconfig:"CACHE_ENABLED"`
	CacheURL         string   `envconfig:"CACHE_URL"`
	LogLevel         string   `envconfig:"LOG_LEVEL"`
	LogFile          string   `envconfig:"LOG_FILE"`
	MarkupMultiplier string   `envconfig:"BILLING_MARKUP_MULTIPLIER"`
	TransparentTiers []string `envconfig:"BILLING_TRANSPARENT_TIERS"`
	SignupCredits    string   `envconfig:"BILLING_SIGNUP_CREDITS"`
	PricingFile      string   `envconfig:"BILLING_PRICING_FILE"`
}

// Load reads configPath (default config.yaml), falling back to defaults when
// the file does not exist, then applies .env and environment overrides.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "aistory.db",
		},
		JWT: JWTConfig{
			Secret:            "aistory-secret-key-change-in-production",
			ExpireHour:        24,
			RefreshExpireHour: 24 * 30,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			URL:        "redis://localhost:6379/1",
			TTLSeconds: 300,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Billing: BillingConfig{
			MarkupMultiplier: 1.5,
			TransparentTiers: []string{"admin", "transparent"},
			SignupCredits:    100,
		},
		Report: ReportConfig{
			Enabled: true,
			Cron:    "0 5 0 * * *",
		},
		RateLimit: RateLimitConfig{
			GenerationRPS:   2,
			GenerationBurst: 5,
		},
	}
}

// Validate rejects values the ledger cannot work with.
func (c *Config) Validate() error {
	if c.Billing.MarkupMultiplier < 1 {
		return fmt.Errorf("billing.markup_multiplier must be >= 1, got %v", c.Billing.MarkupMultiplier)
	}
	if c.Billing.SignupCredits < 0 {
		return fmt.Errorf("billing.signup_credits must be >= 0, got %d", c.Billing.SignupCredits)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

func (c *Config) overrideFromEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&c.Server.Host, env.ServerHost)
	setString(&c.Server.Port, env.ServerPort)
	setString(&c.Server.Mode, env.ServerMode)
	setString(&c.Database.Driver, env.DBDriver)
	setString(&c.Database.DSN, env.DBDSN)
	setString(&c.JWT.Secret, env.JWTSecret)
	setString(&c.OpenAI.BaseURL, env.OpenAIBaseURL)
	setString(&c.OpenAI.APIKey, env.OpenAIAPIKey)
	setString(&c.OpenAI.Model, env.OpenAIModel)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.File, env.LogFile)
	setString(&c.Billing.PricingFile, env.PricingFile)

	// Redis URL override (format: redis://:password@host:port/db)
	if env.RedisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(env.RedisURL)
	}
	if env.CacheURL != "" {
		c.Cache.Enabled = true
		c.Cache.URL = env.CacheURL
	}
	if env.CacheEnabled != "" {
		enabled, err := strconv.ParseBool(env.CacheEnabled)
		if err != nil {
			return fmt.Errorf("CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = enabled
	}
	if env.MarkupMultiplier != "" {
		m, err := strconv.ParseFloat(env.MarkupMultiplier, 64)
		if err != nil {
			return fmt.Errorf("BILLING_MARKUP_MULTIPLIER: %w", err)
		}
		c.Billing.MarkupMultiplier = m
	}
	if len(env.TransparentTiers) > 0 {
		c.Billing.TransparentTiers = env.TransparentTiers
	}
	if env.SignupCredits != "" {
		n, err := strconv.ParseInt(env.SignupCredits, 10, 64)
		if err != nil {
			return fmt.Errorf("BILLING_SIGNUP_CREDITS: %w", err)
		}
		c.Billing.SignupCredits = n
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseRedisURL parses a Redis URL into the queue settings.
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}
