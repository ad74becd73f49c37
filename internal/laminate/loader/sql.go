package loader

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lucsky/cuid"
	_ "github.com/mattn/go-sqlite3"
)

// Driver selects the SQL flavour of a SQLStore
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// Record is one stored template
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLStore keeps templates in a SQL table and serves them as a Loader
type SQLStore struct {
	db     *sql.DB
	driver Driver
}

// OpenSQLite opens (creating if needed) a SQLite database file
func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open(string(DriverSQLite), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	store, err := NewSQLStore(db, DriverSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects through pgx's database/sql driver
func OpenPostgres(dsn string) (*SQLStore, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	store, err := NewSQLStore(db, DriverPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and creates the templates table
func NewSQLStore(db *sql.DB, driver Driver) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_updated_at ON templates(updated_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load implements Loader
func (s *SQLStore) Load(ctx context.Context, name string) (string, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return rec.Source, nil
}

// Get returns the stored record for name
func (s *SQLStore) Get(ctx context.Context, name string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, source, created_at, updated_at FROM templates WHERE name = ?`), name)

	var rec Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, &MissingTemplateError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %q: %w", name, err)
	}
	return &rec, nil
}

// Save creates or replaces a template. The ID of an existing template is
// kept.
func (s *SQLStore) Save(ctx context.Context, name, source string) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO templates (id, name, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at`),
		cuid.New(), name, source, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save template %q: %w", name, err)
	}
	return s.Get(ctx, name)
}

// Delete removes a template
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM templates WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("failed to delete template %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &MissingTemplateError{Name: name}
	}
	return nil
}

// List returns every template without its source, ordered by name
func (s *SQLStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Health pings the database
func (s *SQLStore) Health() error {
	return s.db.Ping()
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
