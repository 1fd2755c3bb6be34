package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the duel service.
type Config struct {
	BindAddr              string        `yaml:"bind_addr"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	ViewInactivityTimeout time.Duration `yaml:"view_inactivity_timeout"`
	MetricsNamespace      string        `yaml:"metrics_namespace"`
	AllowAnyOrigin        bool          `yaml:"allow_any_origin"`
	LogLevel              string        `yaml:"log_level"`
	LogFormat             string        `yaml:"log_format"`
	PublicBaseURL         string        `yaml:"public_base_url"`
	NoticeTTL             time.Duration `yaml:"notice_ttl"`
	// ConfirmStart holds resolved audio in ready until the client reports
	// that playback began.
	ConfirmStart bool `yaml:"confirm_start"`

	BackendURL               string        `yaml:"backend_url"`
	BackendMode              string        `yaml:"backend_mode"`
	BackendTimeout           time.Duration `yaml:"backend_timeout"`
	BackendTTSTimeout        time.Duration `yaml:"backend_tts_timeout"`
	BackendHealthTimeout     time.Duration `yaml:"backend_health_timeout"`
	BackendKeepAliveInterval time.Duration `yaml:"backend_keepalive_interval"`

	DatabaseURL   string `yaml:"database_url"`
	MongoDatabase string `yaml:"mongo_database"`

	SupabaseURL    string `yaml:"supabase_url"`
	SupabaseKey    string `yaml:"supabase_key"`
	SupabaseBucket string `yaml:"supabase_bucket"`

	MetadataRetries int `yaml:"metadata_retries"`

	// StaticTokens maps bearer tokens to user ids when Supabase auth is off.
	// Only settable from the config file.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// Defaults returns the configuration used when neither a file nor the
// environment overrides a value.
func Defaults() Config {
	return Config{
		BindAddr:                 ":8080",
		ShutdownTimeout:          15 * time.Second,
		ViewInactivityTimeout:    30 * time.Minute,
		MetricsNamespace:         "robocomic",
		LogLevel:                 "info",
		LogFormat:                "json",
		PublicBaseURL:            "http://localhost:8080",
		NoticeTTL:                8 * time.Second,
		BackendURL:               "http://localhost:8000",
		BackendMode:              "http",
		BackendTimeout:           120 * time.Second,
		BackendTTSTimeout:        60 * time.Second,
		BackendHealthTimeout:     5 * time.Second,
		BackendKeepAliveInterval: 14 * time.Minute,
		MongoDatabase:            "robocomic",
		SupabaseBucket:           "tts-audio",
		MetadataRetries:          3,
	}
}

// Load reads the optional YAML file named by APP_CONFIG_FILE, then applies
// environment variables on top of it.
func Load() (Config, error) {
	cfg := Defaults()
	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = strings.ToLower(envOrDefault("APP_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("APP_LOG_FORMAT", cfg.LogFormat))
	cfg.PublicBaseURL = strings.TrimRight(envOrDefault("APP_PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")
	cfg.BackendURL = strings.TrimRight(envOrDefault("BACKEND_URL", cfg.BackendURL), "/")
	cfg.BackendMode = strings.ToLower(envOrDefault("BACKEND_MODE", cfg.BackendMode))
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.MongoDatabase = envOrDefault("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.SupabaseURL = envOrDefault("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseKey = envOrDefault("SUPABASE_KEY", cfg.SupabaseKey)
	cfg.SupabaseBucket = envOrDefault("SUPABASE_BUCKET", cfg.SupabaseBucket)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_VIEW_INACTIVITY_TIMEOUT", &cfg.ViewInactivityTimeout},
		{"APP_NOTICE_TTL", &cfg.NoticeTTL},
		{"BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"BACKEND_TTS_TIMEOUT", &cfg.BackendTTSTimeout},
		{"BACKEND_HEALTH_TIMEOUT", &cfg.BackendHealthTimeout},
		{"BACKEND_KEEPALIVE_INTERVAL", &cfg.BackendKeepAliveInterval},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ConfirmStart, err = boolFromEnv("APP_CONFIRM_START", cfg.ConfirmStart)
	if err != nil {
		return Config{}, err
	}
	cfg.MetadataRetries, err = intFromEnv("TTS_METADATA_RETRIES", cfg.MetadataRetries)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.ViewInactivityTimeout < 5*time.Second {
		errs = append(errs, fmt.Errorf("APP_VIEW_INACTIVITY_TIMEOUT must be at least 5s"))
	}
	if c.BackendTimeout <= 0 || c.BackendTTSTimeout <= 0 || c.BackendHealthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backend timeouts must be positive"))
	}
	if c.BackendKeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("BACKEND_KEEPALIVE_INTERVAL must be >= 0"))
	}
	if c.NoticeTTL <= 0 {
		errs = append(errs, fmt.Errorf("APP_NOTICE_TTL must be positive"))
	}
	switch c.BackendMode {
	case "http", "mock":
	default:
		errs = append(errs, fmt.Errorf("BACKEND_MODE must be http or mock, got %q", c.BackendMode))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("APP_LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("APP_LOG_FORMAT must be json or text"))
	}
	if c.MetadataRetries < 1 {
		errs = append(errs, fmt.Errorf("TTS_METADATA_RETRIES must be positive"))
	}
	if (c.SupabaseURL == "") != (c.SupabaseKey == "") {
		errs = append(errs, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY must be set together"))
	}
	if c.DatabaseURL != "" && !isPostgresURL(c.DatabaseURL) && !IsMongoURL(c.DatabaseURL) {
		errs = append(errs, fmt.Errorf("DATABASE_URL must be a postgres:// or mongodb:// URL"))
	}
	return errors.Join(errs...)
}

// SupabaseEnabled reports whether hosted storage and auth are configured.
func (c Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

// IsMongoURL reports whether url selects the MongoDB store.
func IsMongoURL(url string) bool {
	return strings.HasPrefix(url, "mongodb://") || strings.HasPrefix(url, "mongodb+srv://")
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	if err := decodeYAML(f, cfg); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
