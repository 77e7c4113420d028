// Package store keeps an audit trail of translation jobs in SQL.
//
// Postgres is reached through the pgx database/sql driver. A DSN starting
// with "sqlite:" opens a local SQLite file instead, which is handy for
// single-host deployments and tests.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const sqlitePrefix = "sqlite:"

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driver() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "pgx"
}

func (d Dialect) placeholders() sq.PlaceholderFormat {
	if d == DialectSQLite {
		return sq.Question
	}
	return sq.Dollar
}

// ParseDSN splits a configured DSN into its dialect and driver DSN.
func ParseDSN(dsn string) (Dialect, string) {
	if rest, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		return DialectSQLite, strings.TrimPrefix(rest, "//")
	}
	return DialectPostgres, dsn
}

// Open connects to the database named by dsn, applies migrations and
// returns a ready repository.
func Open(ctx context.Context, dsn string) (*JobRepo, error) {
	dialect, driverDSN := ParseDSN(dsn)
	if dialect == DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(driverDSN), 0o755); err != nil {
			return nil, fmt.Errorf("make db dir: %w", err)
		}
	}

	db, err := sql.Open(dialect.driver(), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	repo := NewJobRepo(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Repo is the base for squirrel-built repositories.
type Repo struct {
	DB *sql.DB
	SQ sq.StatementBuilderType
}

func NewRepo(db *sql.DB, dialect Dialect) *Repo {
	return &Repo{DB: db, SQ: sq.StatementBuilder.PlaceholderFormat(dialect.placeholders())}
}

// Migrate applies pending embedded migrations in file name order.
func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		applied, err := r.isApplied(ctx, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(b)) {
			if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
		q := r.SQ.Insert("schema_migrations").Columns("name", "applied_at").
			Values(name, formatTime(time.Now()))
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return err
		}
		if _, err := r.DB.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repo) isApplied(ctx context.Context, name string) (bool, error) {
	sqlStr, args, err := r.SQ.Select("1").From("schema_migrations").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return false, err
	}
	var n int
	err = r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	return true, nil
}

func (r *Repo) Close() error {
	return r.DB.Close()
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
