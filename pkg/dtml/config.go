package dtml

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config contains all configuration options for the template engine
type Config struct {
	// CacheMaxSize is the maximum number of file templates to cache. 0 disables caching.
	CacheMaxSize int `yaml:"cache_max_size" validate:"gte=0"`
	// CacheTTL is the time-to-live for cached templates. 0 means no expiration.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	// LogLevel controls the verbosity of logging (debug, info, warn, error, off)
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error off"`
	// MaxRenderDepth bounds nested template calls
	MaxRenderDepth int `yaml:"max_render_depth" validate:"gt=0"`
	// StrictMode turns tolerated conditions, such as a missing template file, into errors
	StrictMode bool `yaml:"strict_mode"`
	// Encoding is the output character encoding of rendered templates
	Encoding string `yaml:"encoding" validate:"required"`
	// FallbackEncoding decodes byte fragments joined with text
	FallbackEncoding string `yaml:"fallback_encoding" validate:"required"`
	// Locale selects collation for locale sorts and digit grouping for locale-number
	Locale string `yaml:"locale" validate:"required"`
}

var (
	globalConfig      *Config
	globalConfigMutex sync.RWMutex
	configOnce        sync.Once
)

func loadGlobalConfig() {
	configOnce.Do(func() {
		cfg := ConfigFromEnvironment()
		globalConfigMutex.Lock()
		globalConfig = cfg
		globalConfigMutex.Unlock()
	})
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		CacheMaxSize:     100,
		CacheTTL:         0,
		LogLevel:         "info",
		MaxRenderDepth:   200,
		StrictMode:       false,
		Encoding:         "utf-8",
		FallbackEncoding: "latin-1",
		Locale:           "en",
	}
}

// ConfigFromEnvironment creates a configuration from environment variables
func ConfigFromEnvironment() *Config {
	config := DefaultConfig()
	applyEnvironment(config)
	return config
}

func applyEnvironment(config *Config) {
	// DTML_CACHE_MAX_SIZE
	if val := os.Getenv("DTML_CACHE_MAX_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.CacheMaxSize = size
		}
	}

	// DTML_CACHE_TTL
	if val := os.Getenv("DTML_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.CacheTTL = duration
		}
	}

	if val := os.Getenv("DTML_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	if val := os.Getenv("DTML_MAX_RENDER_DEPTH"); val != "" {
		if depth, err := strconv.Atoi(val); err == nil {
			config.MaxRenderDepth = depth
		}
	}

	if val := os.Getenv("DTML_STRICT_MODE"); val != "" {
		config.StrictMode = parseBool(val)
	}

	if val := os.Getenv("DTML_ENCODING"); val != "" {
		config.Encoding = val
	}

	if val := os.Getenv("DTML_FALLBACK_ENCODING"); val != "" {
		config.FallbackEncoding = val
	}

	if val := os.Getenv("DTML_LOCALE"); val != "" {
		config.Locale = val
	}
}

// LoadConfigFile reads a YAML configuration file. Keys absent from the file
// keep their defaults and the environment still overrides the file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, WithContext(err, "parse config", map[string]interface{}{"path": path})
	}
	applyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// NewConfigWithDefaults creates a new configuration with defaults applied to unset fields
func NewConfigWithDefaults(overrides *Config) *Config {
	defaults := DefaultConfig()

	if overrides == nil {
		return defaults
	}

	config := *overrides

	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}

	if config.MaxRenderDepth == 0 {
		config.MaxRenderDepth = defaults.MaxRenderDepth
	}

	if config.Encoding == "" {
		config.Encoding = defaults.Encoding
	}

	if config.FallbackEncoding == "" {
		config.FallbackEncoding = defaults.FallbackEncoding
	}

	if config.Locale == "" {
		config.Locale = defaults.Locale
	}

	return &config
}

var configValidator = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Validate checks if the configuration is valid. All problems are reported
// together as a *ValidationError.
func (c *Config) Validate() error {
	var issues []ValidationIssue

	if err := configValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			issues = append(issues, ValidationIssue{
				Field:   fe.Field(),
				Message: validationMessage(fe),
			})
		}
	}

	if c.Encoding != "" {
		if _, err := lookupEncoding(c.Encoding); err != nil {
			issues = append(issues, ValidationIssue{Field: "Encoding", Message: "unknown encoding: " + c.Encoding})
		}
	}
	if c.FallbackEncoding != "" {
		if _, err := lookupEncoding(c.FallbackEncoding); err != nil {
			issues = append(issues, ValidationIssue{Field: "FallbackEncoding", Message: "unknown encoding: " + c.FallbackEncoding})
		}
	}
	if c.Locale != "" {
		if _, err := language.Parse(c.Locale); err != nil {
			issues = append(issues, ValidationIssue{Field: "Locale", Message: "invalid locale: " + c.Locale})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "cannot be negative"
	case "gt":
		return "must be positive"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return "is invalid"
	}
}

// GetGlobalConfig returns the global configuration
func GetGlobalConfig() *Config {
	loadGlobalConfig()
	globalConfigMutex.RLock()
	defer globalConfigMutex.RUnlock()

	if globalConfig == nil {
		return DefaultConfig()
	}

	// Return a copy to prevent modification
	configCopy := *globalConfig
	return &configCopy
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config *Config) {
	loadGlobalConfig()
	globalConfigMutex.Lock()
	globalConfig = config
	globalConfigMutex.Unlock()

	// Update logger based on new config (outside the lock to avoid deadlock)
	UpdateLoggerFromConfig()
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
