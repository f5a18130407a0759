package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database connection configuration.
// Driver is either "sqlite" (Path is used) or "mysql".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds mail provider configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseKeyring   bool   `mapstructure:"use_keyring"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPMailbox  string `mapstructure:"imap_mailbox"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
}

// LLMConfig holds inference endpoint configuration
type LLMConfig struct {
	URL               string        `mapstructure:"url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxTokensClassify int           `mapstructure:"max_tokens_classify"`
	MaxTokensResponse int           `mapstructure:"max_tokens_response"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
}

// SyncConfig holds fetch loop configuration
type SyncConfig struct {
	MaxEmailsPerSync    int           `mapstructure:"max_emails_per_sync"`
	RateLimitDelay      time.Duration `mapstructure:"rate_limit_delay"`
	RecentCooldown      time.Duration `mapstructure:"recent_cooldown"`
	HistoricalCooldown  time.Duration `mapstructure:"historical_cooldown"`
	HistoricalBatchSize int           `mapstructure:"historical_batch_size"`
	MaxRateLimitRetries int           `mapstructure:"max_rate_limit_retries"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/emails.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("gmail.user_email", "me")
	v.SetDefault("gmail.use_keyring", false)
	v.SetDefault("gmail.use_imap", false)
	v.SetDefault("gmail.imap_host", "imap.gmail.com")
	v.SetDefault("gmail.imap_port", 993)
	v.SetDefault("gmail.imap_mailbox", "INBOX")
	v.SetDefault("gmail.smtp_host", "smtp.gmail.com")
	v.SetDefault("gmail.smtp_port", 587)

	v.SetDefault("llm.url", "http://localhost:1234/v1/chat/completions")
	v.SetDefault("llm.model", "qwen2.5-7b-instruct-1m")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_tokens_classify", 50)
	v.SetDefault("llm.max_tokens_response", 1500)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.backoff_base", "2s")

	v.SetDefault("sync.max_emails_per_sync", 50)
	v.SetDefault("sync.rate_limit_delay", "100ms")
	v.SetDefault("sync.recent_cooldown", "5s")
	v.SetDefault("sync.historical_cooldown", "10s")
	v.SetDefault("sync.historical_batch_size", 100)
	v.SetDefault("sync.max_rate_limit_retries", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 15)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

var envBindings = map[string]string{
	"server.port":            "SERVER_PORT",
	"server.read_timeout":    "SERVER_READ_TIMEOUT",
	"server.write_timeout":   "SERVER_WRITE_TIMEOUT",
	"server.allowed_origins": "ALLOWED_ORIGINS",

	"database.driver":   "DB_DRIVER",
	"database.path":     "DATABASE_PATH",
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"database.dbname":   "DB_NAME",

	"gmail.client_id":     "GMAIL_CLIENT_ID",
	"gmail.client_secret": "GMAIL_CLIENT_SECRET",
	"gmail.refresh_token": "GMAIL_REFRESH_TOKEN",
	"gmail.user_email":    "GMAIL_USER_EMAIL",
	"gmail.use_keyring":   "GMAIL_USE_KEYRING",
	"gmail.use_imap":      "GMAIL_USE_IMAP",
	"gmail.imap_host":     "GMAIL_IMAP_HOST",
	"gmail.imap_port":     "GMAIL_IMAP_PORT",
	"gmail.imap_user":     "GMAIL_IMAP_USER",
	"gmail.imap_password": "GMAIL_IMAP_PASSWORD",
	"gmail.imap_mailbox":  "GMAIL_IMAP_MAILBOX",
	"gmail.smtp_host":     "GMAIL_SMTP_HOST",
	"gmail.smtp_port":     "GMAIL_SMTP_PORT",

	"llm.url":                 "LM_STUDIO_URL",
	"llm.model":               "LM_STUDIO_MODEL",
	"llm.timeout":             "LM_STUDIO_TIMEOUT",
	"llm.max_tokens_classify": "LM_STUDIO_MAX_TOKENS_CLASSIFY",
	"llm.max_tokens_response": "LM_STUDIO_MAX_TOKENS_RESPONSE",
	"llm.max_attempts":        "LM_STUDIO_MAX_ATTEMPTS",
	"llm.backoff_base":        "LM_STUDIO_BACKOFF_BASE",

	"sync.max_emails_per_sync":    "MAX_EMAILS_PER_SYNC",
	"sync.rate_limit_delay":       "SYNC_RATE_LIMIT_DELAY",
	"sync.recent_cooldown":        "SYNC_RECENT_COOLDOWN",
	"sync.historical_cooldown":    "SYNC_HISTORICAL_COOLDOWN",
	"sync.historical_batch_size":  "SYNC_HISTORICAL_BATCH_SIZE",
	"sync.max_rate_limit_retries": "SYNC_MAX_RATE_LIMIT_RETRIES",

	"scheduler.enabled":          "SCHEDULER_ENABLED",
	"scheduler.interval_minutes": "SYNC_INTERVAL_MINUTES",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",
	"log.file":   "LOG_FILE",
}

func bindEnvVars(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}
	return nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		jsonListHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// secondsToDurationHook reads a bare number as seconds, so LM_STUDIO_TIMEOUT=60
// means one minute.
func secondsToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(secs * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// jsonListHook decodes a JSON array string such as ["http://a","http://b"]
// into a slice.
func jsonListHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	s, ok := data.(string)
	if !ok || to.Kind() != reflect.Slice || !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return data, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("invalid list %q: %w", s, err)
	}
	return items, nil
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, origin := range strings.Split(item, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
	return c.Path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Gmail.UseIMAP {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP user and password are required when using IMAP")
		}
	} else if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
		return fmt.Errorf("Gmail client ID and client secret are required")
	} else if c.Gmail.RefreshToken == "" && !c.Gmail.UseKeyring {
		return fmt.Errorf("Gmail refresh token is required unless the keyring is enabled")
	}

	if c.LLM.URL == "" || c.LLM.Model == "" {
		return fmt.Errorf("LLM url and model are required")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive")
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("LLM max attempts must be at least 1")
	}

	if c.Sync.MaxEmailsPerSync < 1 {
		return fmt.Errorf("max emails per sync must be at least 1")
	}
	if c.Sync.HistoricalBatchSize < 1 {
		return fmt.Errorf("historical batch size must be at least 1")
	}

	if c.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("scheduler interval must be at least 1 minute")
	}

	return nil
}
