// Package migrations applies the demo shop dataset (customers, products,
// orders) to the target database.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS asksql_schema_migrations (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	selectVersionsSQL = `SELECT version FROM asksql_schema_migrations ORDER BY version ASC`
	insertVersionSQL  = `INSERT INTO asksql_schema_migrations (version) VALUES ($1)`
	deleteVersionSQL  = `DELETE FROM asksql_schema_migrations WHERE version = $1`
)

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Status summarises which migrations have been applied.
type Status struct {
	Applied []int64
	Pending []int64
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// Up applies pending migrations in version order. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	st, err := r.inspect(ctx, db)
	if err != nil {
		return 0, err
	}
	pending := st.pending()
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}
	for i, item := range pending {
		if err := runStep(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Down reverts the newest applied migrations. steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	st, err := r.inspect(ctx, db)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := len(st.applied) - 1; i >= 0 && done < steps; i-- {
		version := st.applied[i]
		item, ok := st.byVersion[version]
		if !ok {
			return done, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := runStep(ctx, db, version, item.DownSQL, false); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	st, err := r.inspect(ctx, db)
	if err != nil {
		return Status{}, err
	}
	status := Status{Applied: st.applied}
	for _, item := range st.pending() {
		status.Pending = append(status.Pending, item.Version)
	}
	return status, nil
}

type state struct {
	available []migration
	byVersion map[int64]migration
	applied   []int64
}

func (s state) pending() []migration {
	seen := make(map[int64]bool, len(s.applied))
	for _, version := range s.applied {
		seen[version] = true
	}
	var out []migration
	for _, item := range s.available {
		if !seen[item.Version] {
			out = append(out, item)
		}
	}
	return out
}

// inspect loads the embedded scripts and the versions recorded in the
// bookkeeping table, creating the table on first use.
func (r *Runner) inspect(ctx context.Context, db *sql.DB) (state, error) {
	available, err := loadMigrations(r.fsys)
	if err != nil {
		return state{}, err
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return state{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return state{}, err
	}
	byVersion := make(map[int64]migration, len(available))
	for _, item := range available {
		byVersion[item.Version] = item
	}
	return state{available: available, byVersion: byVersion, applied: applied}, nil
}

// noTxDirective marks a script that must run statement by statement in
// autocommit mode. DuckDB rejects deleting a parent row whose child rows were
// deleted earlier in the same transaction, so such scripts cannot share one.
// Marked scripts must be safe to re-run.
const noTxDirective = "-- asksql:no-transaction"

// runStep executes one script and records the version change. Unless the
// script carries noTxDirective both happen in a single transaction.
func runStep(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	action, record := "revert", deleteVersionSQL
	if up {
		action, record = "apply", insertVersionSQL
	}
	if strings.HasPrefix(strings.TrimSpace(script), noTxDirective) {
		if _, err := db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("%s migration %d: %w", action, version, err)
		}
		if _, err := db.ExecContext(ctx, record, version); err != nil {
			return fmt.Errorf("%s migration %d: record version: %w", action, version, err)
		}
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s migration %d: begin: %w", action, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", action, version, err)
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return fmt.Errorf("%s migration %d: record version: %w", action, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s migration %d: commit: %w", action, version, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) ([]int64, error) {
	rows, err := db.QueryContext(ctx, selectVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		m := migrationNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if entry.IsDir() || m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", entry.Name(), err)
		}
		item := items[version]
		item.Version = version
		if m[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	migrations := make([]migration, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.UpSQL) == "" || strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d needs both up and down SQL", item.Version)
		}
		migrations = append(migrations, item)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
