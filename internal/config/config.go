// Package config provides centralized configuration management for Garuda.
// Configuration is loaded from environment variables with sensible defaults.
// Required configuration that is missing will cause the application to fail
// fast with helpful error messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session configuration
	SessionTTL     time.Duration
	ExpiryPollRate time.Duration

	// Logic Controller configuration
	LogicHookDeadline time.Duration

	// Rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Channels to fork, by plugin identifier (e.g. "websocket", "loopback")
	Channels []string
	Port     int

	// JWT authentication configuration
	JWTAccessExpiry time.Duration

	// Process configuration
	RunLoop  bool
	Banner   bool
	LogLevel string

	// K8s provisioner logic plugin (disabled unless a rest name is set)
	K8sProvisionerRestName string
	K8sNamespace           string
	K8sKubeconfig          string
	K8sContainerImage      string

	// Audit archive logic plugin (disabled unless a bucket is set)
	AuditArchiveBucket   string
	AuditArchiveRegion   string
	AuditArchiveEndpoint string
	AuditArchivePrefix   string
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisDB            = 0
	DefaultSessionTTL         = 30 * time.Minute
	DefaultExpiryPollRate     = 1 * time.Second
	DefaultLogicHookDeadline  = 2 * time.Second
	DefaultRateLimitPerSecond = 20.0
	DefaultRateLimitBurst     = 40
	DefaultPort               = 8080
	DefaultJWTAccessExpiry    = 15 * time.Minute
	DefaultLogLevel           = "info"
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		RedisAddr:          DefaultRedisAddr,
		RedisDB:            DefaultRedisDB,
		SessionTTL:         DefaultSessionTTL,
		ExpiryPollRate:     DefaultExpiryPollRate,
		LogicHookDeadline:  DefaultLogicHookDeadline,
		RateLimitPerSecond: DefaultRateLimitPerSecond,
		RateLimitBurst:     DefaultRateLimitBurst,
		Channels:           []string{"websocket"},
		Port:               DefaultPort,
		JWTAccessExpiry:    DefaultJWTAccessExpiry,
		RunLoop:            true,
		Banner:             true,
		LogLevel:           DefaultLogLevel,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("GARUDA_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}

	if v := os.Getenv("GARUDA_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}

	if v := os.Getenv("GARUDA_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_REDIS_DB",
				Message: fmt.Sprintf("invalid db index: %q (must be an integer)", v),
			})
		} else {
			c.RedisDB = db
		}
	}

	if v := os.Getenv("GARUDA_SESSION_TTL"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_SESSION_TTL",
				Message: fmt.Sprintf("invalid ttl: %q (must be an integer representing seconds)", v),
			})
		} else if seconds <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_SESSION_TTL",
				Message: fmt.Sprintf("ttl must be positive: %d", seconds),
			})
		} else {
			c.SessionTTL = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("GARUDA_EXPIRY_POLL_RATE"); v != "" {
		millis, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_EXPIRY_POLL_RATE",
				Message: fmt.Sprintf("invalid rate: %q (must be an integer representing milliseconds)", v),
			})
		} else if millis <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_EXPIRY_POLL_RATE",
				Message: fmt.Sprintf("rate must be positive: %d", millis),
			})
		} else {
			c.ExpiryPollRate = time.Duration(millis) * time.Millisecond
		}
	}

	if v := os.Getenv("GARUDA_LOGIC_HOOK_DEADLINE"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_LOGIC_HOOK_DEADLINE",
				Message: fmt.Sprintf("invalid deadline: %q (must be an integer representing seconds)", v),
			})
		} else if seconds <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_LOGIC_HOOK_DEADLINE",
				Message: fmt.Sprintf("deadline must be positive: %d", seconds),
			})
		} else {
			c.LogicHookDeadline = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("GARUDA_RATE_LIMIT_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_RATE_LIMIT_PER_SECOND",
				Message: fmt.Sprintf("invalid rate: %q (must be a positive number)", v),
			})
		} else {
			c.RateLimitPerSecond = rps
		}
	}

	if v := os.Getenv("GARUDA_RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_RATE_LIMIT_BURST",
				Message: fmt.Sprintf("invalid burst: %q (must be a positive integer)", v),
			})
		} else {
			c.RateLimitBurst = burst
		}
	}

	if v := os.Getenv("GARUDA_CHANNELS"); v != "" {
		var channels []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				channels = append(channels, name)
			}
		}
		if len(channels) == 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_CHANNELS",
				Message: fmt.Sprintf("no channel names found in %q", v),
			})
		} else {
			c.Channels = channels
		}
	}

	if v := os.Getenv("GARUDA_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_PORT",
				Message: fmt.Sprintf("invalid port number: %q (must be an integer)", v),
			})
		} else {
			c.Port = port
		}
	}

	if v := os.Getenv("GARUDA_JWT_ACCESS_EXPIRY"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_JWT_ACCESS_EXPIRY",
				Message: fmt.Sprintf("invalid expiry: %q (must be an integer representing minutes)", v),
			})
		} else if minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "GARUDA_JWT_ACCESS_EXPIRY",
				Message: fmt.Sprintf("expiry must be positive: %d", minutes),
			})
		} else {
			c.JWTAccessExpiry = time.Duration(minutes) * time.Minute
		}
	}

	if v := os.Getenv("GARUDA_RUN_LOOP"); v != "" {
		c.RunLoop = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("GARUDA_BANNER"); v != "" {
		c.Banner = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("GARUDA_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("GARUDA_K8S_PROVISIONER_REST_NAME"); v != "" {
		c.K8sProvisionerRestName = v
	}
	if v := os.Getenv("GARUDA_K8S_NAMESPACE"); v != "" {
		c.K8sNamespace = v
	}
	if v := os.Getenv("GARUDA_K8S_KUBECONFIG"); v != "" {
		c.K8sKubeconfig = v
	}
	if v := os.Getenv("GARUDA_K8S_CONTAINER_IMAGE"); v != "" {
		c.K8sContainerImage = v
	}

	if v := os.Getenv("GARUDA_AUDIT_ARCHIVE_BUCKET"); v != "" {
		c.AuditArchiveBucket = v
	}
	if v := os.Getenv("GARUDA_AUDIT_ARCHIVE_REGION"); v != "" {
		c.AuditArchiveRegion = v
	}
	if v := os.Getenv("GARUDA_AUDIT_ARCHIVE_ENDPOINT"); v != "" {
		c.AuditArchiveEndpoint = v
	}
	if v := os.Getenv("GARUDA_AUDIT_ARCHIVE_PREFIX"); v != "" {
		c.AuditArchivePrefix = v
	}

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "GARUDA_REDIS_ADDR",
			Message: "redis address cannot be empty",
		})
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "GARUDA_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "GARUDA_SESSION_TTL",
			Message: "session ttl must be positive",
		})
	}

	if len(c.Channels) == 0 {
		errs = append(errs, ValidationError{
			Field:   "GARUDA_CHANNELS",
			Message: "at least one channel must be configured",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "GARUDA_LOG_LEVEL",
			Message: fmt.Sprintf("unknown log level %q (valid: debug, info, warn, error)", c.LogLevel),
		})
	}

	return errs
}

// MustLoad loads configuration and, if that fails, prints the errors to
// stderr and exits the process with status 1.
// Use this for application startup where configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n\n", err)
		os.Exit(1)
	}
	return cfg
}
