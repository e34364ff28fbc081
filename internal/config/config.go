// Package config loads gh-finder settings from a YAML file with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Configuration errors.
var (
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidDuration = errors.New("invalid duration")
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	GitHub  GitHubConfig  `yaml:"github"`
	Search  SearchConfig  `yaml:"search"`
	History HistoryConfig `yaml:"history"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the web server.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GitHubConfig configures the GitHub REST client.
type GitHubConfig struct {
	URL                   string        `yaml:"url" env:"GITHUB_URL"`
	Token                 string        `yaml:"token" env:"GITHUB_TOKEN"`
	Timeout               time.Duration `yaml:"timeout" env:"GITHUB_TIMEOUT"`
	CacheTTL              time.Duration `yaml:"cache_ttl" env:"GITHUB_CACHE_TTL"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests" env:"GITHUB_MAX_CONCURRENT_REQUESTS"`
}

// SearchConfig tunes the search controller.
type SearchConfig struct {
	DebounceDelay   time.Duration `yaml:"debounce_delay" env:"SEARCH_DEBOUNCE_DELAY"`
	RecentCapacity  int           `yaml:"recent_capacity" env:"SEARCH_RECENT_CAPACITY"`
	SuggestionLimit int           `yaml:"suggestion_limit" env:"SEARCH_SUGGESTION_LIMIT"`
	MinQueryLength  int           `yaml:"min_query_length" env:"SEARCH_MIN_QUERY_LENGTH"`
}

// HistoryConfig selects where recent searches are persisted.
type HistoryConfig struct {
	Backend  string `yaml:"backend" env:"HISTORY_BACKEND"` // memory | file | redis
	FilePath string `yaml:"file_path" env:"HISTORY_FILE"`
	Key      string `yaml:"key" env:"HISTORY_KEY"`
}

// RedisConfig configures the Redis history backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

// SessionConfig configures browser sessions.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"SESSION_TTL"`
	CookieName string        `yaml:"cookie_name" env:"SESSION_COOKIE"`
	// CookieMaxAge is how long the browser keeps the session cookie, and
	// with it the persisted recent list.
	CookieMaxAge time.Duration `yaml:"cookie_max_age" env:"SESSION_COOKIE_MAX_AGE"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | console
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GitHub: GitHubConfig{
			URL:                   "https://api.github.com",
			Timeout:               10 * time.Second,
			CacheTTL:              time.Minute,
			MaxConcurrentRequests: 5,
		},
		Search: SearchConfig{
			DebounceDelay:   300 * time.Millisecond,
			RecentCapacity:  5,
			SuggestionLimit: 5,
			MinQueryLength:  2,
		},
		History: HistoryConfig{
			Backend:  BackendFile,
			FilePath: ".gh-finder-history.json",
			Key:      "recentUsers",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "ghfinder:",
		},
		Session: SessionConfig{
			TTL:          30 * time.Minute,
			CookieName:   "gh_finder_session",
			CookieMaxAge: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// HasGitHubToken returns true if an access token is configured.
func (c *Config) HasGitHubToken() bool {
	return c.GitHub.Token != ""
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}
	if c.GitHub.URL == "" {
		errs = append(errs, errors.New("github.url is required"))
	}
	if c.GitHub.MaxConcurrentRequests <= 0 {
		errs = append(errs, errors.New("github.max_concurrent_requests must be positive"))
	}
	if c.GitHub.CacheTTL < 0 {
		errs = append(errs, errors.New("github.cache_ttl must not be negative"))
	}
	if c.Search.DebounceDelay < 0 {
		errs = append(errs, errors.New("search.debounce_delay must not be negative"))
	}
	if c.Search.RecentCapacity <= 0 || c.Search.SuggestionLimit <= 0 || c.Search.MinQueryLength <= 0 {
		errs = append(errs, errors.New("search limits must be positive"))
	}

	switch strings.ToLower(c.History.Backend) {
	case BackendMemory:
	case BackendFile:
		if c.History.FilePath == "" {
			errs = append(errs, errors.New("history.file_path is required for the file backend"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend must be memory, file or redis, got %q", c.History.Backend))
	}
	if c.History.Key == "" {
		errs = append(errs, errors.New("history.key is required"))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.CookieMaxAge <= 0 {
		errs = append(errs, errors.New("session.cookie_max_age must be positive"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Load loads configuration from the default locations and the environment.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from path. If path is empty, CONFIG_PATH
// and then the standard locations are tried; a missing file is not an error
// unless it was asked for explicitly.
func LoadFromPath(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Loader reads configuration from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a Loader searching the standard locations.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
		},
	}
}

// WithConfigPaths replaces the locations searched when no path is given.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load builds the configuration: defaults, then file, then environment.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	configPath := path
	if configPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
			explicit = true
		} else {
			for _, p := range l.configPaths {
				if _, err := os.Stat(p); err == nil {
					configPath = p
					break
				}
			}
		}
	}

	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil && explicit {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := l.loadEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadEnvToStruct walks nested structs and applies every set env tag.
func (l *Loader) loadEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.loadEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}
	return nil
}

//nolint:exhaustive // config only uses strings, ints and durations
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDuration, value)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(i)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
