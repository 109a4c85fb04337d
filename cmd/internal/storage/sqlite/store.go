// Package sqlite provides a single-node SQLite implementation of every
// workflow store: magic links, order approval, change requests and the audit log.
//
// All statements go through one connection, so the conditional updates and
// per-order transactions the workflow relies on are serialized by the database
// handle itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"orderdesk/cmd/internal/storage/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists workflow state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func fromNullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// OrderSeed describes an order row owned by the order system.
type OrderSeed struct {
	ID           string
	CustomerName string
	EventDate    *time.Time
	CreatedAt    time.Time
}

// PutOrder inserts or renames an order. Approval state is left untouched on update.
func (s *Store) PutOrder(ctx context.Context, in OrderSeed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return fmt.Errorf("order id is required")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var eventDate sql.NullString
	if in.EventDate != nil {
		eventDate = sql.NullString{String: in.EventDate.Format(time.DateOnly), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO orders (id, customer_name, event_date, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET customer_name = excluded.customer_name, event_date = excluded.event_date`,
		id, strings.TrimSpace(in.CustomerName), eventDate, toMillis(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// PutStaff inserts or renames a staff member.
func (s *Store) PutStaff(ctx context.Context, id, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("staff id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO staff_members (id, display_name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
		id, strings.TrimSpace(displayName),
	)
	if err != nil {
		return fmt.Errorf("put staff: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
