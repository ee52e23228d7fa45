package dtml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.CacheMaxSize != 100 {
		t.Errorf("CacheMaxSize = %d, want 100", config.CacheMaxSize)
	}
	if config.CacheTTL != 0 {
		t.Errorf("CacheTTL = %v, want 0", config.CacheTTL)
	}
	if config.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", config.LogLevel)
	}
	if config.MaxRenderDepth != 200 {
		t.Errorf("MaxRenderDepth = %d, want 200", config.MaxRenderDepth)
	}
	if config.StrictMode {
		t.Error("StrictMode = true, want false")
	}
	if config.Encoding != "utf-8" || config.FallbackEncoding != "latin-1" || config.Locale != "en" {
		t.Errorf("encodings and locale = %s, %s, %s", config.Encoding, config.FallbackEncoding, config.Locale)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default configuration is invalid: %v", err)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, config *Config)
	}{
		{
			name: "cache",
			env:  map[string]string{"DTML_CACHE_MAX_SIZE": "50", "DTML_CACHE_TTL": "5m"},
			check: func(t *testing.T, config *Config) {
				if config.CacheMaxSize != 50 || config.CacheTTL != 5*time.Minute {
					t.Errorf("cache = %d, %v", config.CacheMaxSize, config.CacheTTL)
				}
			},
		},
		{
			name: "log level and depth",
			env:  map[string]string{"DTML_LOG_LEVEL": "debug", "DTML_MAX_RENDER_DEPTH": "20"},
			check: func(t *testing.T, config *Config) {
				if config.LogLevel != "debug" || config.MaxRenderDepth != 20 {
					t.Errorf("got %s, %d", config.LogLevel, config.MaxRenderDepth)
				}
			},
		},
		{
			name: "strict mode",
			env:  map[string]string{"DTML_STRICT_MODE": "yes"},
			check: func(t *testing.T, config *Config) {
				if !config.StrictMode {
					t.Error("StrictMode = false, want true")
				}
			},
		},
		{
			name: "encodings and locale",
			env:  map[string]string{"DTML_ENCODING": "latin-1", "DTML_FALLBACK_ENCODING": "windows-1252", "DTML_LOCALE": "de"},
			check: func(t *testing.T, config *Config) {
				if config.Encoding != "latin-1" || config.FallbackEncoding != "windows-1252" || config.Locale != "de" {
					t.Errorf("got %s, %s, %s", config.Encoding, config.FallbackEncoding, config.Locale)
				}
			},
		},
		{
			name: "invalid numbers keep defaults",
			env:  map[string]string{"DTML_CACHE_MAX_SIZE": "many", "DTML_CACHE_TTL": "soon"},
			check: func(t *testing.T, config *Config) {
				if config.CacheMaxSize != 100 || config.CacheTTL != 0 {
					t.Errorf("cache = %d, %v, want the defaults", config.CacheMaxSize, config.CacheTTL)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.check(t, ConfigFromEnvironment())
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtml.yaml")
	data := "cache_max_size: 10\ncache_ttl: 90s\nstrict_mode: true\nlocale: fr\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DTML_LOG_LEVEL", "warn")

	config, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if config.CacheMaxSize != 10 || config.CacheTTL != 90*time.Second || !config.StrictMode || config.Locale != "fr" {
		t.Errorf("file values not applied: %+v", config)
	}
	if config.MaxRenderDepth != 200 || config.Encoding != "utf-8" {
		t.Errorf("missing keys lost their defaults: %+v", config)
	}
	if config.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want the environment's warn", config.LogLevel)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file loaded without error")
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("cache_max_size: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfigFile(broken)
	ce, ok := err.(*ContextError)
	if !ok {
		t.Fatalf("error = %T %v, want *ContextError", err, err)
	}
	if ce.Context["path"] != broken {
		t.Errorf("context = %v, want the file path", ce.Context)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(invalid); err == nil {
		t.Error("invalid log level accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	config := &Config{
		CacheMaxSize:     -1,
		LogLevel:         "loud",
		MaxRenderDepth:   0,
		Encoding:         "no-such-charset",
		FallbackEncoding: "latin-1",
		Locale:           "not a locale",
	}
	err := config.Validate()
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Validate() = %v, want *ValidationError", err)
	}

	fields := map[string]string{}
	for _, issue := range ve.Issues {
		fields[issue.Field] = issue.Message
	}
	want := map[string]string{
		"CacheMaxSize":   "cannot be negative",
		"MaxRenderDepth": "must be positive",
		"Encoding":       "unknown encoding: no-such-charset",
		"Locale":         "invalid locale: not a locale",
	}
	for field, msg := range want {
		if fields[field] != msg {
			t.Errorf("%s issue = %q, want %q", field, fields[field], msg)
		}
	}
	if !strings.HasPrefix(fields["LogLevel"], "must be one of") {
		t.Errorf("LogLevel issue = %q", fields["LogLevel"])
	}
	if ErrorType(err) != "ValueError" {
		t.Errorf("ErrorType = %q, want ValueError", ErrorType(err))
	}
}

func TestNewConfigWithDefaults(t *testing.T) {
	config := NewConfigWithDefaults(&Config{CacheMaxSize: 5, StrictMode: true})
	if config.CacheMaxSize != 5 || !config.StrictMode {
		t.Errorf("overrides lost: %+v", config)
	}
	if config.LogLevel != "info" || config.MaxRenderDepth != 200 || config.Encoding != "utf-8" || config.Locale != "en" {
		t.Errorf("defaults not applied: %+v", config)
	}
	if got := NewConfigWithDefaults(nil); got.CacheMaxSize != 100 {
		t.Errorf("nil overrides = %+v, want the defaults", got)
	}
}

func TestGlobalConfig(t *testing.T) {
	original := GetGlobalConfig()
	t.Cleanup(func() { SetGlobalConfig(original) })

	config := DefaultConfig()
	config.CacheMaxSize = 7
	config.LogLevel = "error"
	SetGlobalConfig(config)

	got := GetGlobalConfig()
	if got.CacheMaxSize != 7 {
		t.Errorf("CacheMaxSize = %d, want 7", got.CacheMaxSize)
	}
	got.CacheMaxSize = 99
	if GetGlobalConfig().CacheMaxSize != 7 {
		t.Error("GetGlobalConfig returned the shared value")
	}
	if GetLogger().Level() != LogError {
		t.Errorf("logger level = %v, want ERROR", GetLogger().Level())
	}
}
