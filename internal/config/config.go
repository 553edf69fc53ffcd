package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/jub0bs/cors"
)

// PlaceholderPicketKey is used when PICKET_PUBLISHABLE_KEY is not set. The page still renders but every call to the Picket API will be rejected.
const PlaceholderPicketKey = "YOUR_API_KEY_HERE"

const (
	SessionCookieName = "incremental_auth_session"

	// Operational timeouts
	ServerShutdownTimeout = 10 * time.Second
	RequestTimeout        = 60 * time.Second

	CORSMaxAgeInSeconds = 86400 // 24 hours
)

// Config is loaded once at start-up and is not modified afterwards
type Config struct {
	Environment  string        `env:"ENVIRONMENT,default=dev"`
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         int           `env:"PORT,default=3000"`
	LogLevel     string        `env:"LOG_LEVEL,default=debug"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s"`

	PicketAPIKey     string        `env:"PICKET_PUBLISHABLE_KEY,default=YOUR_API_KEY_HERE"`
	PicketAPIURL     string        `env:"PICKET_API_URL,default=https://picketapi.com/api/v1"`
	PicketTimeout    time.Duration `env:"PICKET_TIMEOUT,default=10s"`
	PicketMaxRetries int           `env:"PICKET_MAX_RETRIES,default=3"`

	SessionStore string        `env:"SESSION_STORE,default=memory"`
	SessionTTL   time.Duration `env:"SESSION_TTL,default=24h"`
	RedisURL     string        `env:"REDIS_URL"`

	CommunitiesFile string `env:"COMMUNITIES_FILE"`
	StaticDir       string `env:"STATIC_DIR,default=./web/static"`

	AllowedOrigins    []string `env:"ALLOWED_ORIGINS,separator=|"`
	RateLimitRPS      int32    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst    int32    `env:"RATE_LIMIT_BURST,default=10"`
	MaxAPIRequestSize int64    `env:"MAX_API_REQUEST_SIZE,default=16384"` // 16KB
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"perf":    true,
	"prod":    true,
	"staging": true,
}

var validSessionStores = map[string]bool{
	"memory": true,
	"redis":  true,
}

// NewConfig loads the environment variables, applies defaults and validates the result
func NewConfig() (*Config, error) {
	var cfg Config

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// UsingPlaceholderKey reports whether the Picket key fell back to the placeholder value
func (c *Config) UsingPlaceholderKey() bool {
	return c.PicketAPIKey == PlaceholderPicketKey
}

// IsProd is true for environments that are served over https
func (c *Config) IsProd() bool {
	return c.Environment == "prod" || c.Environment == "staging"
}

func validateConfig(cfg *Config) error {
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT '%s'. Valid environments: dev, test, perf, staging, prod", cfg.Environment)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}

	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("READ_TIMEOUT must be positive, got %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be positive, got %v", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT must be positive, got %v", cfg.IdleTimeout)
	}
	if cfg.PicketTimeout <= 0 {
		return fmt.Errorf("PICKET_TIMEOUT must be positive, got %v", cfg.PicketTimeout)
	}
	if cfg.PicketMaxRetries < 0 {
		return fmt.Errorf("PICKET_MAX_RETRIES must be 0 or greater, got %d", cfg.PicketMaxRetries)
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", cfg.SessionTTL)
	}
	if cfg.MaxAPIRequestSize <= 0 {
		return fmt.Errorf("MAX_API_REQUEST_SIZE must be positive, got %d", cfg.MaxAPIRequestSize)
	}

	u, err := url.ParseRequestURI(cfg.PicketAPIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("PICKET_API_URL is not a valid URL: %s", cfg.PicketAPIURL)
	}
	cfg.PicketAPIURL = strings.TrimRight(cfg.PicketAPIURL, "/")

	if cfg.PicketAPIKey == "" {
		cfg.PicketAPIKey = PlaceholderPicketKey
	}

	if !validSessionStores[cfg.SessionStore] {
		return fmt.Errorf("invalid SESSION_STORE '%s'. Valid stores: memory, redis", cfg.SessionStore)
	}
	if cfg.SessionStore == "redis" && cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
	}

	if cfg.Environment == "prod" {
		if cfg.UsingPlaceholderKey() {
			return fmt.Errorf("PICKET_PUBLISHABLE_KEY must be set in %s environment", cfg.Environment)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("PICKET_API_URL must use https in %s environment: %s", cfg.Environment, cfg.PicketAPIURL)
		}
	}

	if cfg.IsProd() {
		if len(cfg.AllowedOrigins) == 0 {
			return fmt.Errorf("ALLOWED_ORIGINS must be set in %v", cfg.Environment)
		}
		if cfg.AllowedOrigins[0] == "*" {
			return fmt.Errorf("ALLOWED_ORIGINS must not be set to '*' in %v", cfg.Environment)
		}
	}

	// default to all origins when not in prod/staging
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	return nil
}

// NewAPICORS builds the CORS middleware used for the JSON endpoints under /api
func NewAPICORS(cfg *Config) (*cors.Middleware, error) {
	origins := make([]string, len(cfg.AllowedOrigins))
	for i, origin := range cfg.AllowedOrigins {
		origins[i] = strings.TrimSpace(origin)
	}

	corsConfig := cors.Config{
		Origins: origins,
		Methods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		RequestHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Requested-With",
		},
		MaxAgeInSeconds: CORSMaxAgeInSeconds,
	}

	m, err := cors.NewMiddleware(corsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create API CORS middleware: %w", err)
	}
	return m, nil
}
