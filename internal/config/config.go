package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DriverPostgres = "pgx"
	DriverDuckDB   = "duckdb"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	LLM           LLMConfig
	Pipeline      PipelineConfig
	Session       SessionConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	Schema          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ConnectionString returns the explicit DSN when set, otherwise a postgres URL
// assembled from the discrete host/port/name/user/password settings.
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" || c.Driver == DriverDuckDB {
		return c.DSN
	}
	if c.Host == "" || c.Name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host,
		Path:   "/" + c.Name,
	}
	if c.Port > 0 {
		u.Host = c.Host + ":" + strconv.Itoa(c.Port)
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

type LLMConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

type PipelineConfig struct {
	Debug          bool
	RequestTimeout time.Duration
	SampleRows     int
	MaxRows        int
	RepairEnabled  bool
}

type SessionConfig struct {
	Secret     string
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

type ArchiveConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

// LoadFromEnv reads .env and .env.local (when present) into the process
// environment and then resolves the configuration from it.
func LoadFromEnv(serviceName string) (Config, error) {
	if err := loadDotEnv(".env", ".env.local"); err != nil {
		return Config{}, err
	}
	return Load(serviceName, os.LookupEnv)
}

func loadDotEnv(base, local string) error {
	if err := godotenv.Load(base); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", base, err)
	}
	if err := godotenv.Overload(local); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", local, err)
	}
	return nil
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKSQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKSQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "ASKSQL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "ASKSQL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "ASKSQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKSQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKSQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "ASKSQL_DB_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "ASKSQL_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "ASKSQL_DB_HOST", &cfg.Database.Host) },
		func() error { return applyInt(lookup, "ASKSQL_DB_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "ASKSQL_DB_NAME", &cfg.Database.Name) },
		func() error { return applyString(lookup, "ASKSQL_DB_USER", &cfg.Database.User) },
		func() error { return applyString(lookup, "ASKSQL_DB_PASSWORD", &cfg.Database.Password) },
		func() error { return applyString(lookup, "ASKSQL_DB_SSLMODE", &cfg.Database.SSLMode) },
		func() error { return applyString(lookup, "ASKSQL_DB_SCHEMA", &cfg.Database.Schema) },
		func() error { return applyInt(lookup, "ASKSQL_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKSQL_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "ASKSQL_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "ASKSQL_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},

		func() error { return applyString(lookup, "ASKSQL_LLM_PROVIDER", &cfg.LLM.Provider) },
		func() error { return applyString(lookup, "ASKSQL_LLM_BASE_URL", &cfg.LLM.BaseURL) },
		func() error { return applyString(lookup, "GOOGLE_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "ASKSQL_LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "ASKSQL_LLM_MODEL", &cfg.LLM.Model) },
		func() error { return applyFloat(lookup, "ASKSQL_LLM_TEMPERATURE", &cfg.LLM.Temperature) },
		func() error { return applyFloat(lookup, "ASKSQL_LLM_TOP_P", &cfg.LLM.TopP) },
		func() error { return applyDuration(lookup, "ASKSQL_LLM_TIMEOUT", &cfg.LLM.Timeout) },

		func() error { return applyBool(lookup, "ASKSQL_PIPELINE_DEBUG", &cfg.Pipeline.Debug) },
		func() error {
			return applyDuration(lookup, "ASKSQL_PIPELINE_REQUEST_TIMEOUT", &cfg.Pipeline.RequestTimeout)
		},
		func() error { return applyInt(lookup, "ASKSQL_PIPELINE_SAMPLE_ROWS", &cfg.Pipeline.SampleRows) },
		func() error { return applyInt(lookup, "ASKSQL_PIPELINE_MAX_ROWS", &cfg.Pipeline.MaxRows) },
		func() error { return applyBool(lookup, "ASKSQL_PIPELINE_REPAIR_ENABLED", &cfg.Pipeline.RepairEnabled) },

		func() error { return applyString(lookup, "ASKSQL_SESSION_SECRET", &cfg.Session.Secret) },
		func() error { return applyString(lookup, "ASKSQL_SESSION_COOKIE_NAME", &cfg.Session.CookieName) },
		func() error { return applyDuration(lookup, "ASKSQL_SESSION_MAX_AGE", &cfg.Session.MaxAge) },
		func() error { return applyBool(lookup, "ASKSQL_SESSION_SECURE", &cfg.Session.Secure) },

		func() error { return applyBool(lookup, "ASKSQL_ARCHIVE_ENABLED", &cfg.Archive.Enabled) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_REGION", &cfg.Archive.Region) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_BUCKET", &cfg.Archive.Bucket) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKeyID) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_SECRET_KEY", &cfg.Archive.SecretAccessKey) },
		func() error { return applyBool(lookup, "ASKSQL_ARCHIVE_USE_SSL", &cfg.Archive.UseSSL) },
		func() error { return applyString(lookup, "ASKSQL_ARCHIVE_PREFIX", &cfg.Archive.Prefix) },
		func() error {
			return applyBool(lookup, "ASKSQL_ARCHIVE_AUTO_CREATE_BUCKET", &cfg.Archive.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "ASKSQL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKSQL_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	switch cfg.Database.Driver {
	case DriverPostgres, DriverDuckDB:
	default:
		return Config{}, fmt.Errorf("invalid ASKSQL_DB_DRIVER: %q", cfg.Database.Driver)
	}
	switch cfg.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, fmt.Errorf("invalid ASKSQL_LLM_PROVIDER: %q", cfg.LLM.Provider)
	}
	if cfg.Database.Driver == DriverDuckDB && cfg.Database.Schema == "public" {
		cfg.Database.Schema = "main"
	}
	if cfg.Pipeline.SampleRows < 0 {
		return Config{}, fmt.Errorf("ASKSQL_PIPELINE_SAMPLE_ROWS must be >= 0")
	}
	if cfg.Pipeline.MaxRows < 0 {
		return Config{}, fmt.Errorf("ASKSQL_PIPELINE_MAX_ROWS must be >= 0")
	}
	if cfg.Profile == ProfileProd && cfg.Session.Secret == "" {
		return Config{}, fmt.Errorf("ASKSQL_SESSION_SECRET is required in prod profile")
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		return Config{}, fmt.Errorf("ASKSQL_ARCHIVE_BUCKET is required when archive is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "asksql-api"},
		HTTP: HTTPConfig{
			Address:      ":5010",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			Name:            "postgres",
			User:            "postgres",
			Password:        "postgres",
			SSLMode:         "disable",
			Schema:          "public",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    ProviderGemini,
			Model:       "gemini-1.5-pro-latest",
			Temperature: 0.1,
			TopP:        0.8,
			Timeout:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Debug:          true,
			RequestTimeout: 60 * time.Second,
			SampleRows:     3,
			MaxRows:        0,
			RepairEnabled:  false,
		},
		Session: SessionConfig{
			Secret:     "asksql-dev-insecure-secret",
			CookieName: "asksql_session",
			MaxAge:     12 * time.Hour,
			Secure:     false,
		},
		Archive: ArchiveConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "asksql-runs",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":15010"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Pipeline.Debug = false
		cfg.Session.Secret = ""
		cfg.Session.Secure = true
		cfg.Database.SSLMode = "require"
		cfg.Archive.UseSSL = true
		cfg.Archive.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
