// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/Tyrowin/sofarelay/internal/location"
	"github.com/Tyrowin/sofarelay/internal/role"
)

// Role assignment modes.
const (
	RoleModeReferer = "referer"
	RoleModeToken   = "token"
)

// minTokenSecretLen is the shortest accepted HS256 secret.
const minTokenSecretLen = 32

// defaultMaxMessageSize matches the socket.io default buffer of 1e6 bytes,
// rounded to 1 MiB.
const defaultMaxMessageSize = 1 << 20

// RateLimitConfig defines the parameters for per-connection message rate
// limiting. A zero Burst disables the limiter.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	RateLimit       RateLimitConfig
	RoleMode        string
	AdminMarker     string
	TokenSecret     string
	IDPolicy        string
	StaticDir       string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           ":3000",
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          0,
			RefillInterval: time.Second,
		},
		RoleMode:        RoleModeReferer,
		AdminMarker:     role.DefaultMarker,
		IDPolicy:        location.CountPolicy.String(),
		StaticDir:       ".",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or
// cannot be parsed.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseNonNegativeInt(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if mode := os.Getenv("ROLE_MODE"); mode != "" {
		cfg.RoleMode = strings.ToLower(strings.TrimSpace(mode))
	}

	if marker := os.Getenv("ADMIN_MARKER"); marker != "" {
		cfg.AdminMarker = marker
	}

	cfg.TokenSecret = os.Getenv("ADMIN_TOKEN_SECRET")

	if policy := os.Getenv("ID_POLICY"); policy != "" {
		cfg.IDPolicy = policy
	}

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return cfg
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Port == "" {
		problems = append(problems, "port must not be empty")
	}
	if c.MaxMessageSize <= 0 {
		problems = append(problems, "max message size must be positive")
	}
	if c.SendBufferSize <= 0 {
		problems = append(problems, "send buffer size must be positive")
	}
	if c.RateLimit.Burst < 0 {
		problems = append(problems, "rate limit burst must not be negative")
	}
	if c.RateLimit.Enabled() && c.RateLimit.RefillInterval <= 0 {
		problems = append(problems, "rate limit refill interval must be positive")
	}
	if _, err := location.ParseIDPolicy(c.IDPolicy); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.RoleMode {
	case RoleModeReferer:
		if c.AdminMarker == "" {
			problems = append(problems, "admin marker must not be empty in referer mode")
		}
	case RoleModeToken:
		if len(c.TokenSecret) < minTokenSecretLen {
			problems = append(problems, fmt.Sprintf("ADMIN_TOKEN_SECRET must be at least %d characters in token mode", minTokenSecretLen))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown role mode %q", c.RoleMode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Enabled reports whether inbound frames are throttled.
func (r RateLimitConfig) Enabled() bool {
	return r.Burst > 0
}

// Classifier returns the role classifier selected by RoleMode.
func (c *Config) Classifier() role.Classifier {
	if c.RoleMode == RoleModeToken {
		return role.TokenClassifier{Secret: []byte(c.TokenSecret)}
	}
	return role.RefererClassifier{Marker: c.AdminMarker}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := cast.ToInt64E(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := cast.ToIntE(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseNonNegativeInt(value string, defaultValue int) int {
	if parsed, err := cast.ToIntE(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a bare number of seconds or a Go duration string.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := cast.ToIntE(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := cast.ToDurationE(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
