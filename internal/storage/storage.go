package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*/*.sql
var migrationFiles embed.FS

// Storage handles all database operations for the pipeline.
// Queries are written with ? placeholders and rebound for the active driver.
type Storage struct {
	db     *sqlx.DB // nil when the Storage is bound to a transaction
	q      sqlx.ExtContext
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		q:      db,
		logger: logger,
	}
}

// InTx runs fn against a Storage bound to one transaction. fn's error rolls the
// transaction back. Nested calls reuse the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(tx *Storage) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStorage := &Storage{q: tx, logger: s.logger}
	if err := fn(txStorage); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction",
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations for the connection's driver
func (s *Storage) Migrate(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("migrations cannot run inside a transaction")
	}

	dialect := s.db.DriverName()
	if dialect != "postgres" && dialect != "sqlite" {
		return fmt.Errorf("no migrations for driver %q", dialect)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", dialect)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}

		var applied int
		if err := s.db.GetContext(ctx, &applied, s.db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}

		s.logger.Info("Applied migration",
			slog.String("dialect", dialect),
			slog.String("file", entry.Name()),
		)
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration filename ("001_init.sql" -> 1)
func migrationVersion(name string) int {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

func (s *Storage) get(ctx context.Context, dest any, what string, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
		}
		return fmt.Errorf("failed to get %s: %w", what, err)
	}
	return nil
}

func (s *Storage) selectAll(ctx context.Context, dest any, what string, query string, args ...any) error {
	if err := sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to list %s: %w", what, err)
	}
	return nil
}

func (s *Storage) exec(ctx context.Context, what string, query string, args ...any) (int64, error) {
	result, err := s.q.ExecContext(ctx, s.q.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func now() time.Time {
	return time.Now().UTC()
}

// The helpers below keep query arguments to driver-native types.

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func statusStrings[T ~string](statuses []T) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
