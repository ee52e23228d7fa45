package dtml

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/language"
)

// environment is the immutable configuration a render call runs with:
// builtins, commands, formats, access policy and encodings. Templates hold
// it by reference; engines replace it rather than mutate it.
type environment struct {
	config     *Config
	builtins   *Builtins
	commands   *CommandRegistry
	formats    map[string]SpecialFormat
	exceptions *ExceptionTypes
	getter     AttributeGetter
	items      ItemGetter
	loader     SourceLoader
	logger     *Logger
	charset    encoding.Encoding
	fallback   encoding.Encoding
	locale     language.Tag
}

func newEnvironment(config *Config) (*environment, error) {
	env := &environment{
		config:     config,
		builtins:   DefaultBuiltins(),
		commands:   NewCommandRegistry(),
		formats:    standardFormats(),
		exceptions: DefaultExceptionTypes(),
		getter:     ReflectAccess{},
		items:      ReflectAccess{},
		loader:     FileLoader{},
		logger:     GetLogger(),
	}

	var err error
	if env.charset, err = lookupEncoding(config.Encoding); err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", config.Encoding, err)
	}
	if env.fallback, err = lookupEncoding(config.FallbackEncoding); err != nil {
		return nil, fmt.Errorf("unknown fallback encoding %q: %w", config.FallbackEncoding, err)
	}
	if env.locale, err = language.Parse(config.Locale); err != nil {
		return nil, fmt.Errorf("unknown locale %q: %w", config.Locale, err)
	}
	return env, nil
}

var (
	sharedEnv     *environment
	sharedEnvOnce sync.Once
)

// defaultEnv is the environment of templates created without an engine,
// built from the global configuration on first use.
func defaultEnv() *environment {
	sharedEnvOnce.Do(func() {
		env, err := newEnvironment(GetGlobalConfig())
		if err != nil {
			Warn("Invalid global configuration, using defaults: %v", err)
			env, _ = newEnvironment(DefaultConfig())
		}
		sharedEnv = env
	})
	return sharedEnv
}

// Engine provides the main API for working with templates.
// Use New() to create a new engine instance.
type Engine struct {
	mu         sync.Mutex
	config     *Config
	cache      *TemplateCache
	registry   *DefaultFunctionRegistry
	commands   *CommandRegistry
	formats    map[string]SpecialFormat
	exceptions *ExceptionTypes
	loader     SourceLoader
	env        *environment
}

// New creates a new template engine with the global configuration.
func New() *Engine {
	return &Engine{
		config:     GetGlobalConfig(),
		cache:      defaultCache,
		registry:   NewFunctionRegistry(),
		commands:   NewCommandRegistry(),
		formats:    standardFormats(),
		exceptions: DefaultExceptionTypes(),
		loader:     FileLoader{},
	}
}

// NewWithConfig creates a new template engine with custom configuration
// and its own template cache.
func NewWithConfig(config *Config) (*Engine, error) {
	config = NewConfigWithDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := New()
	e.config = config
	e.cache = NewTemplateCacheWithConfig(CacheConfig{MaxSize: config.CacheMaxSize, TTL: config.CacheTTL})
	if _, err := e.environment(); err != nil {
		return nil, err
	}
	return e, nil
}

// environment returns the engine's environment, building it after every
// registration.
func (e *Engine) environment() (*environment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.env != nil {
		return e.env, nil
	}
	env, err := newEnvironment(e.config)
	if err != nil {
		return nil, err
	}
	env.builtins = e.registry.Snapshot(DefaultBuiltins())
	env.commands = e.commands.Clone()
	env.formats = maps.Clone(e.formats)
	env.exceptions = e.exceptions
	env.loader = e.loader
	e.env = env
	return env, nil
}

// changed drops the built environment and the cached templates compiled
// with it.
func (e *Engine) changed() {
	e.mu.Lock()
	e.env = nil
	e.mu.Unlock()
	e.ClearCache()
}

// NewString creates a string-syntax template using the engine's
// functions, commands and formats.
func (e *Engine) NewString(source string, opts ...TemplateOption) (*Template, error) {
	env, err := e.environment()
	if err != nil {
		return nil, err
	}
	return newTemplate(env, StringSyntax, source, "", opts), nil
}

// NewHTML creates an HTML-syntax template using the engine's functions,
// commands and formats.
func (e *Engine) NewHTML(source string, opts ...TemplateOption) (*Template, error) {
	env, err := e.environment()
	if err != nil {
		return nil, err
	}
	return newTemplate(env, HTMLSyntax, source, "", opts), nil
}

// PrepareFile loads and compiles an HTML-syntax template file. Compiled
// templates are cached by path when caching is enabled in the configuration.
func (e *Engine) PrepareFile(path string, opts ...TemplateOption) (*Template, error) {
	return e.cache.Prepare(path, func() (*Template, error) {
		env, err := e.environment()
		if err != nil {
			return nil, err
		}
		start := time.Now()
		tmpl := newTemplate(env, HTMLSyntax, "", path, opts)
		if err := tmpl.Check(); err != nil {
			return nil, err
		}
		env.logger.WithFields(Fields{"path": path, "elapsed": time.Since(start)}).Debug("Prepared template")
		return tmpl, nil
	})
}

// CheckFiles prepares every file and reports all parse and read errors
// together.
func (e *Engine) CheckFiles(paths ...string) error {
	errs := NewMultiError()
	for _, path := range paths {
		if _, err := e.PrepareFile(path); err != nil {
			errs.Add(WithContext(err, "check", map[string]interface{}{"path": path}))
		}
	}
	return errs.Err()
}

// RegisterFunction adds a function callable from template expressions.
// Templates created afterwards see it.
func (e *Engine) RegisterFunction(fn Function) error {
	if err := e.registry.RegisterFunction(fn); err != nil {
		return err
	}
	e.changed()
	return nil
}

// RegisterCommand adds or replaces a tag command.
func (e *Engine) RegisterCommand(cmd *Command) error {
	if err := e.commands.Register(cmd); err != nil {
		return err
	}
	e.changed()
	return nil
}

// RegisterSpecialFormat adds a named format usable in fmt= attributes.
func (e *Engine) RegisterSpecialFormat(name string, format SpecialFormat) error {
	if name == "" {
		return errors.New("special format name cannot be empty")
	}
	if format == nil {
		return fmt.Errorf("special format %s is nil", name)
	}
	e.mu.Lock()
	e.formats[name] = format
	e.mu.Unlock()
	e.changed()
	return nil
}

// RegisterExceptionType declares an exception type for raise and except
// tags, deriving from base (Exception when empty).
func (e *Engine) RegisterExceptionType(name, base string) error {
	if name == "" {
		return errors.New("exception type name cannot be empty")
	}
	e.mu.Lock()
	e.exceptions = e.exceptions.With(name, base)
	e.mu.Unlock()
	e.changed()
	return nil
}

// SetLoader sets the loader used for file templates.
func (e *Engine) SetLoader(loader SourceLoader) {
	e.mu.Lock()
	e.loader = loader
	e.mu.Unlock()
	e.changed()
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// ClearCache removes all templates from the cache.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Option represents a configuration option for the engine.
type Option func(*Engine)

// WithConfig returns an option that sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(e *Engine) {
		config = NewConfigWithDefaults(config)
		e.config = config
		e.cache = NewTemplateCacheWithConfig(CacheConfig{MaxSize: config.CacheMaxSize, TTL: config.CacheTTL})
	}
}

// WithCache returns an option that gives the engine its own cache of the
// given size (0 disables caching).
func WithCache(maxSize int) Option {
	return func(e *Engine) {
		config := *e.config
		config.CacheMaxSize = maxSize
		e.config = &config
		e.cache = NewTemplateCacheWithConfig(CacheConfig{MaxSize: maxSize, TTL: config.CacheTTL})
	}
}

// WithFunction returns an option that registers a custom function.
func WithFunction(fn Function) Option {
	return func(e *Engine) {
		e.registry.RegisterFunction(fn)
	}
}

// WithSourceLoader returns an option that sets the loader of file templates,
// such as an FSLoader over an embed.FS.
func WithSourceLoader(loader SourceLoader) Option {
	return func(e *Engine) {
		e.loader = loader
	}
}

// NewWithOptions creates a new engine with the specified options.
func NewWithOptions(opts ...Option) *Engine {
	engine := New()
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// DefaultEngine is the engine used by the package-level functions.
var DefaultEngine = New()

// PrepareFile loads and compiles an HTML-syntax template file using the default engine.
func PrepareFile(path string) (*Template, error) {
	return DefaultEngine.PrepareFile(path)
}

// RegisterGlobalFunction adds a function to the default engine.
func RegisterGlobalFunction(fn Function) error {
	return DefaultEngine.RegisterFunction(fn)
}

// ClearCache clears the default engine's template cache.
func ClearCache() {
	DefaultEngine.ClearCache()
}

// SetCacheConfig updates the global cache configuration.
func SetCacheConfig(maxSize int, ttl time.Duration) {
	config := GetGlobalConfig()
	config.CacheMaxSize = maxSize
	config.CacheTTL = ttl
	SetGlobalConfig(config)
}
