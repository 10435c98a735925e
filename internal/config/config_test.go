package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("asksql-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":5010" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("Database.Driver = %q", cfg.Database.Driver)
	}
	if cfg.Database.Schema != "public" {
		t.Fatalf("Database.Schema = %q", cfg.Database.Schema)
	}
	if cfg.LLM.Provider != ProviderGemini {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.LLM.TopP != 0.8 {
		t.Fatalf("LLM sampling = %f/%f", cfg.LLM.Temperature, cfg.LLM.TopP)
	}
	if cfg.Pipeline.SampleRows != 3 {
		t.Fatalf("Pipeline.SampleRows = %d", cfg.Pipeline.SampleRows)
	}
	if cfg.Pipeline.MaxRows != 0 {
		t.Fatalf("Pipeline.MaxRows = %d", cfg.Pipeline.MaxRows)
	}
	if cfg.Pipeline.RepairEnabled {
		t.Fatal("Pipeline.RepairEnabled should default to false")
	}
	if !cfg.Pipeline.Debug {
		t.Fatal("Pipeline.Debug should default to true in dev")
	}
	if cfg.Session.Secret == "" {
		t.Fatal("Session.Secret should have a dev default")
	}
	if cfg.Archive.Enabled {
		t.Fatal("Archive.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ASKSQL_PROFILE":        "prod",
		"ASKSQL_SESSION_SECRET": "s3cret",
	})
	cfg, err := Load("asksql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Pipeline.Debug {
		t.Fatal("Pipeline.Debug should default to false in prod")
	}
	if !cfg.Session.Secure {
		t.Fatal("Session.Secure should default to true in prod")
	}
	if cfg.Database.SSLMode != "require" {
		t.Fatalf("Database.SSLMode = %q", cfg.Database.SSLMode)
	}
}

func TestLoadProdRequiresSessionSecret(t *testing.T) {
	_, err := Load("asksql-api", mapLookup(map[string]string{"ASKSQL_PROFILE": "prod"}))
	if err == nil {
		t.Fatal("expected error without ASKSQL_SESSION_SECRET")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ASKSQL_PROFILE":                  "test",
		"ASKSQL_SERVICE_NAME":             "asksql-custom",
		"ASKSQL_HTTP_ADDR":                ":9999",
		"ASKSQL_HTTP_READ_TIMEOUT":        "2s",
		"ASKSQL_HTTP_WRITE_TIMEOUT":       "3s",
		"ASKSQL_LOG_LEVEL":                "error",
		"ASKSQL_DB_HOST":                  "db.internal",
		"ASKSQL_DB_PORT":                  "6543",
		"ASKSQL_DB_NAME":                  "shop",
		"ASKSQL_DB_USER":                  "reader",
		"ASKSQL_DB_PASSWORD":              "pw",
		"ASKSQL_DB_MAX_OPEN_CONNS":        "42",
		"ASKSQL_LLM_PROVIDER":             "openai",
		"ASKSQL_LLM_BASE_URL":             "https://api.example.com",
		"GOOGLE_API_KEY":                  "google-key",
		"ASKSQL_LLM_API_KEY":              "secret-key",
		"ASKSQL_LLM_MODEL":                "gpt-5.2",
		"ASKSQL_LLM_TEMPERATURE":          "0.3",
		"ASKSQL_LLM_TOP_P":                "0.5",
		"ASKSQL_LLM_TIMEOUT":              "21s",
		"ASKSQL_PIPELINE_DEBUG":           "false",
		"ASKSQL_PIPELINE_REQUEST_TIMEOUT": "45s",
		"ASKSQL_PIPELINE_SAMPLE_ROWS":     "5",
		"ASKSQL_PIPELINE_MAX_ROWS":        "100",
		"ASKSQL_PIPELINE_REPAIR_ENABLED":  "true",
		"ASKSQL_SESSION_COOKIE_NAME":      "sid",
		"ASKSQL_SESSION_MAX_AGE":          "1h",
		"ASKSQL_ARCHIVE_ENABLED":          "true",
		"ASKSQL_ARCHIVE_BUCKET":           "runs",
		"ASKSQL_ARCHIVE_PREFIX":           "tenant-a",
	})
	cfg, err := Load("asksql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "asksql-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if got, want := cfg.Database.ConnectionString(), "postgres://reader:pw@db.internal:6543/shop?sslmode=disable"; got != want {
		t.Fatalf("ConnectionString() = %q, want %q", got, want)
	}
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "secret-key" {
		t.Fatalf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-5.2" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 || cfg.LLM.TopP != 0.5 {
		t.Fatalf("LLM sampling = %f/%f", cfg.LLM.Temperature, cfg.LLM.TopP)
	}
	if cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM.Timeout = %s", cfg.LLM.Timeout)
	}
	if cfg.Pipeline.Debug {
		t.Fatal("Pipeline.Debug = true, want false")
	}
	if cfg.Pipeline.RequestTimeout != 45*time.Second {
		t.Fatalf("Pipeline.RequestTimeout = %s", cfg.Pipeline.RequestTimeout)
	}
	if cfg.Pipeline.SampleRows != 5 || cfg.Pipeline.MaxRows != 100 {
		t.Fatalf("Pipeline rows = %d/%d", cfg.Pipeline.SampleRows, cfg.Pipeline.MaxRows)
	}
	if !cfg.Pipeline.RepairEnabled {
		t.Fatal("Pipeline.RepairEnabled = false, want true")
	}
	if cfg.Session.CookieName != "sid" || cfg.Session.MaxAge != time.Hour {
		t.Fatalf("Session = %+v", cfg.Session)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "runs" || cfg.Archive.Prefix != "tenant-a" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
}

func TestLoadFallsBackToGoogleAPIKey(t *testing.T) {
	cfg, err := Load("asksql-api", mapLookup(map[string]string{"GOOGLE_API_KEY": "google-key"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "google-key" {
		t.Fatalf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestLoadDuckDBDriverUsesMainSchema(t *testing.T) {
	cfg, err := Load("asksql-api", mapLookup(map[string]string{
		"ASKSQL_DB_DRIVER": "duckdb",
		"ASKSQL_DB_DSN":    "/tmp/shop.duckdb",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Schema != "main" {
		t.Fatalf("Database.Schema = %q", cfg.Database.Schema)
	}
	if got := cfg.Database.ConnectionString(); got != "/tmp/shop.duckdb" {
		t.Fatalf("ConnectionString() = %q", got)
	}
}

func TestConnectionStringPrefersExplicitDSN(t *testing.T) {
	c := DatabaseConfig{Driver: DriverPostgres, DSN: "postgres://explicit", Host: "ignored", Name: "x"}
	if got := c.ConnectionString(); got != "postgres://explicit" {
		t.Fatalf("ConnectionString() = %q", got)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKSQL_PROFILE": "oops"},
		{"ASKSQL_HTTP_READ_TIMEOUT": "NaN"},
		{"ASKSQL_DB_MAX_OPEN_CONNS": "oops"},
		{"ASKSQL_DB_DRIVER": "mysql"},
		{"ASKSQL_LLM_PROVIDER": "anthropic"},
		{"ASKSQL_LLM_TEMPERATURE": "bad"},
		{"ASKSQL_PIPELINE_DEBUG": "not-bool"},
		{"ASKSQL_PIPELINE_SAMPLE_ROWS": "-1"},
		{"ASKSQL_PIPELINE_MAX_ROWS": "-5"},
		{"ASKSQL_ARCHIVE_ENABLED": "true", "ASKSQL_ARCHIVE_BUCKET": ""},
		{"ASKSQL_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("asksql-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadDotEnvLocalOverridesBase(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	local := filepath.Join(dir, ".env.local")
	if err := os.WriteFile(base, []byte("ASKSQL_TEST_DOTENV=base\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(local, []byte("ASKSQL_TEST_DOTENV=local\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("ASKSQL_TEST_DOTENV") })

	if err := loadDotEnv(base, local); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("ASKSQL_TEST_DOTENV"); got != "local" {
		t.Fatalf("ASKSQL_TEST_DOTENV = %q", got)
	}
}

func TestLoadDotEnvIgnoresMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local")); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
