// Package config loads the enricher configuration from flags, environment,
// an optional .env file and an optional YAML config file.
//
// Precedence, highest first: flags, APOLLO_ENRICHER_* environment variables
// (including those loaded from .env), the config file, defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/apollo-enricher/pkg/cache"
	"github.com/Sternrassler/apollo-enricher/pkg/client"
	"github.com/Sternrassler/apollo-enricher/pkg/enrich"
	"github.com/Sternrassler/apollo-enricher/pkg/logging"
	"github.com/Sternrassler/apollo-enricher/pkg/ratelimit"
	"github.com/Sternrassler/apollo-enricher/pkg/report"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes all environment variables.
const EnvPrefix = "APOLLO_ENRICHER"

// Name is the config file base name searched in the working directory and
// in ~/.config/apollo-enricher.
const Name = "apollo-enricher"

// Keys, shared by the config file, environment variables and flags.
const (
	KeyAPIKey          = "api_key"
	KeyBaseURL         = "base_url"
	KeyWebhookURL      = "webhook_url"
	KeyLocations       = "locations"
	KeyMaxPages        = "max_pages"
	KeyPerPage         = "per_page"
	KeyPaceInterval    = "pace_interval"
	KeyTimeout         = "timeout"
	KeyPageTimeout     = "page_timeout"
	KeyRetryAttempts   = "retry_attempts"
	KeyRetryBackoff    = "retry_backoff"
	KeyRetryMaxBackoff = "retry_max_backoff"
	KeyQuotaMaxWait    = "quota_max_wait"
	KeyRedisAddr       = "redis_addr"
	KeyRedisPassword   = "redis_password"
	KeyRedisDB         = "redis_db"
	KeyCacheTTL        = "cache_ttl"
	KeyNormalize       = "normalize"
	KeyPhoneRegion     = "phone_region"
	KeyOutput          = "output"
	KeyLogLevel        = "log_level"
	KeyLogPretty       = "log_pretty"
	KeyMetricsAddr     = "metrics_addr"
	KeyUserAgent       = "user_agent"
)

// Config is the validated configuration of one run. It is built once by
// Load and passed by value.
type Config struct {
	APIKey     string
	BaseURL    string
	WebhookURL string
	UserAgent  string

	Locations    []string
	MaxPages     int
	PerPage      int
	PaceInterval time.Duration
	PageTimeout  time.Duration
	Normalize    bool
	PhoneRegion  string

	Timeout         time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	QuotaMaxWait    time.Duration

	// RedisAddr enables the shared quota state and the enrichment cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// CacheTTL of enrichment responses, 0 disables caching.
	CacheTTL time.Duration

	Output      report.Format
	LogLevel    logging.LogLevel
	LogPretty   bool
	MetricsAddr string
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	run := enrich.DefaultConfig()
	retry := client.DefaultRetryConfig()
	cl := client.DefaultConfig("")

	v.SetDefault(KeyBaseURL, client.DefaultBaseURL)
	v.SetDefault(KeyUserAgent, cl.UserAgent)
	v.SetDefault(KeyLocations, run.Locations)
	v.SetDefault(KeyMaxPages, run.MaxPages)
	v.SetDefault(KeyPerPage, run.PerPage)
	v.SetDefault(KeyPaceInterval, run.PaceInterval)
	v.SetDefault(KeyPageTimeout, run.PageTimeout)
	v.SetDefault(KeyNormalize, run.Normalize)
	v.SetDefault(KeyPhoneRegion, run.PhoneRegion)
	v.SetDefault(KeyTimeout, cl.Timeout)
	v.SetDefault(KeyRetryAttempts, retry.MaxAttempts)
	v.SetDefault(KeyRetryBackoff, retry.InitialBackoff)
	v.SetDefault(KeyRetryMaxBackoff, retry.MaxBackoff)
	v.SetDefault(KeyQuotaMaxWait, ratelimit.DefaultTrackerOptions().MaxWait)
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyCacheTTL, cache.DefaultTTL)
	v.SetDefault(KeyOutput, string(report.FormatText))
	v.SetDefault(KeyLogLevel, string(logging.LevelInfo))
	v.SetDefault(KeyLogPretty, false)
}

// NewViper creates a viper instance with defaults and environment binding.
// configFile may be empty, in which case apollo-enricher.yaml is looked up
// in the working directory and ~/.config/apollo-enricher. A missing default
// config file is not an error; a missing explicit one is.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", Name))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// The bare APOLLO_API_KEY is accepted as well.
	if err := v.BindEnv(KeyAPIKey, EnvPrefix+"_API_KEY", "APOLLO_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return v, nil
}

// LoadDotEnv loads environment variables from path without overriding
// variables already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (Config, error) {
	output, err := report.ParseFormat(v.GetString(KeyOutput))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIKey:     strings.TrimSpace(v.GetString(KeyAPIKey)),
		BaseURL:    strings.TrimSpace(v.GetString(KeyBaseURL)),
		WebhookURL: strings.TrimSpace(v.GetString(KeyWebhookURL)),
		UserAgent:  v.GetString(KeyUserAgent),

		Locations:    stringList(v, KeyLocations),
		MaxPages:     v.GetInt(KeyMaxPages),
		PerPage:      v.GetInt(KeyPerPage),
		PaceInterval: v.GetDuration(KeyPaceInterval),
		PageTimeout:  v.GetDuration(KeyPageTimeout),
		Normalize:    v.GetBool(KeyNormalize),
		PhoneRegion:  strings.ToUpper(strings.TrimSpace(v.GetString(KeyPhoneRegion))),

		Timeout:         v.GetDuration(KeyTimeout),
		RetryAttempts:   v.GetInt(KeyRetryAttempts),
		RetryBackoff:    v.GetDuration(KeyRetryBackoff),
		RetryMaxBackoff: v.GetDuration(KeyRetryMaxBackoff),
		QuotaMaxWait:    v.GetDuration(KeyQuotaMaxWait),

		RedisAddr:     strings.TrimSpace(v.GetString(KeyRedisAddr)),
		RedisPassword: v.GetString(KeyRedisPassword),
		RedisDB:       v.GetInt(KeyRedisDB),
		CacheTTL:      v.GetDuration(KeyCacheTTL),

		Output:      output,
		LogLevel:    logging.LogLevel(strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))),
		LogPretty:   v.GetBool(KeyLogPretty),
		MetricsAddr: strings.TrimSpace(v.GetString(KeyMetricsAddr)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api key is required (set %s_API_KEY or --api-key)", EnvPrefix))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url must be an absolute url (got %q)", c.BaseURL))
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook_url must be an absolute http(s) url (got %q)", c.WebhookURL))
		}
	}
	if c.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("max_pages must be >= 1 (got %d)", c.MaxPages))
	}
	if c.PerPage < 1 || c.PerPage > client.MaxPerPage {
		errs = append(errs, fmt.Errorf("per_page must be between 1 and %d (got %d)", client.MaxPerPage, c.PerPage))
	}
	if c.PaceInterval < 0 {
		errs = append(errs, fmt.Errorf("pace_interval must be >= 0 (got %s)", c.PaceInterval))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be >= 1 (got %d)", c.RetryAttempts))
	}
	if c.RetryBackoff < 0 || c.RetryMaxBackoff < c.RetryBackoff {
		errs = append(errs, fmt.Errorf("retry backoff must satisfy 0 <= retry_backoff <= retry_max_backoff (got %s, %s)", c.RetryBackoff, c.RetryMaxBackoff))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be >= 0 (got %s)", c.CacheTTL))
	}
	switch c.LogLevel {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	return errors.Join(errs...)
}

// ClientConfig returns the API client configuration. redisClient may be nil.
func (c Config) ClientConfig(redisClient *redis.Client) client.Config {
	cfg := client.DefaultConfig(c.APIKey)
	cfg.BaseURL = c.BaseURL
	cfg.WebhookURL = c.WebhookURL
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.Timeout
	cfg.Retry.MaxAttempts = c.RetryAttempts
	cfg.Retry.InitialBackoff = c.RetryBackoff
	cfg.Retry.MaxBackoff = c.RetryMaxBackoff
	cfg.Quota.MaxWait = c.QuotaMaxWait
	cfg.Redis = redisClient
	cfg.CacheTTL = c.CacheTTL
	return cfg
}

// DriverConfig returns the run configuration.
func (c Config) DriverConfig(runID string) enrich.Config {
	return enrich.Config{
		MaxPages:     c.MaxPages,
		PerPage:      c.PerPage,
		Locations:    append([]string(nil), c.Locations...),
		PaceInterval: c.PaceInterval,
		PageTimeout:  c.PageTimeout,
		Normalize:    c.Normalize,
		PhoneRegion:  c.PhoneRegion,
		RunID:        runID,
	}
}

// RedisOptions returns the Redis options, nil when Redis is not configured.
func (c Config) RedisOptions() *redis.Options {
	if c.RedisAddr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Pretty = c.LogPretty
	return cfg
}

// MarshalZerologObject logs the configuration without secrets.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("base_url", c.BaseURL).
		Bool("webhook", c.WebhookURL != "").
		Strs("locations", c.Locations).
		Int("max_pages", c.MaxPages).
		Int("per_page", c.PerPage).
		Dur("pace_interval", c.PaceInterval).
		Int("retry_attempts", c.RetryAttempts).
		Bool("redis", c.RedisAddr != "").
		Dur("cache_ttl", c.CacheTTL).
		Str("output", string(c.Output))
}

// stringList reads a list value. Strings from the environment are split on
// ";" because locations contain commas.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ";")
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
