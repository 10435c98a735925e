// Package database opens the target database the assistant queries.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	duckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/asksql/asksql/internal/config"
)

// Open connects with the configured driver and verifies the connection.
// An empty DSN is only accepted for duckdb, where it means in-memory.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = config.DriverPostgres
	}
	dsn := cfg.ConnectionString()
	switch driver {
	case config.DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
	case config.DriverDuckDB:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// SupportsReadOnlyTx reports whether the driver honours sql.TxOptions.ReadOnly.
func SupportsReadOnlyTx(driver string) bool {
	return driver == "" || driver == config.DriverPostgres
}

// NormalizeValues converts driver values into JSON and template friendly
// forms. It returns a new slice.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	case duckdb.Decimal:
		return typed.Float64()
	default:
		return typed
	}
}
