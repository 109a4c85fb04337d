// Package pgschema holds the PostgreSQL schema for the order approval workflow
// and the identifier helpers shared by every Postgres store.
//
// Production schema changes are rolled out by the migration tooling; Apply is
// used by integration tests and by ORDERDESK_DB_AUTO_MIGRATE for local runs.
package pgschema

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "orderdesk"

// ErrInvalidSchema is returned for schema names that are not legal identifiers.
var ErrInvalidSchema = errors.New("pgschema: invalid schema identifier")

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Execer is the subset of pgx pools, conns and transactions Apply needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ValidSchema reports whether schema is a legal unquoted PostgreSQL identifier.
func ValidSchema(schema string) bool {
	schema = strings.TrimSpace(schema)
	return schema != "" && len(schema) <= 63 && identRe.MatchString(schema)
}

// Ident returns the sanitized, schema-qualified table identifier.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// Apply creates the schema and all tables if they do not exist.
func Apply(ctx context.Context, db Execer, schema string) error {
	if db == nil {
		return errors.New("pgschema: nil db")
	}
	if !ValidSchema(schema) {
		return ErrInvalidSchema
	}
	if _, err := db.Exec(ctx, DDL(schema)); err != nil {
		return fmt.Errorf("pgschema: apply: %w", err)
	}
	return nil
}

// DDL renders the idempotent schema definition for schema.
func DDL(schema string) string {
	s := pgx.Identifier{schema}.Sanitize()
	orders := Ident(schema, "orders")
	staff := Ident(schema, "staff_members")
	links := Ident(schema, "magic_links")
	changes := Ident(schema, "change_requests")
	audit := Ident(schema, "audit_log")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  customer_name TEXT NOT NULL DEFAULT '',
  event_date DATE NULL,
  approval_status TEXT NOT NULL DEFAULT 'PENDING',
  is_locked BOOLEAN NOT NULL DEFAULT false,
  approved_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_orders_approval_status CHECK (approval_status IN ('PENDING', 'APPROVED', 'REJECTED'))
);

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS %[4]s (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES %[2]s(id),
  token_hash TEXT NOT NULL,
  created_by TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ NULL,
  last_accessed_at TIMESTAMPTZ NULL,
  access_count BIGINT NOT NULL DEFAULT 0,
  CONSTRAINT chk_magic_links_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_magic_links_token_hash_len CHECK (char_length(token_hash) = 64),
  CONSTRAINT chk_magic_links_access_count CHECK (access_count >= 0),
  CONSTRAINT chk_magic_links_expiry CHECK (expires_at > created_at)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_magic_links_token_hash ON %[4]s (token_hash);
CREATE INDEX IF NOT EXISTS ix_magic_links_order ON %[4]s (order_id, created_at);

CREATE TABLE IF NOT EXISTS %[5]s (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES %[2]s(id),
  changes JSONB NOT NULL DEFAULT '{}'::jsonb,
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  requested_at TIMESTAMPTZ NOT NULL,
  reviewed_by TEXT NULL,
  reviewed_at TIMESTAMPTZ NULL,
  review_notes TEXT NULL,
  CONSTRAINT chk_change_requests_reason CHECK (char_length(reason) > 0),
  CONSTRAINT chk_change_requests_status CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
  CONSTRAINT chk_change_requests_reviewed CHECK ((status = 'PENDING') = (reviewed_at IS NULL))
);

CREATE INDEX IF NOT EXISTS ix_change_requests_status ON %[5]s (status, id);
CREATE INDEX IF NOT EXISTS ix_change_requests_order ON %[5]s (order_id, id);

CREATE TABLE IF NOT EXISTS %[6]s (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL,
  actor_type TEXT NOT NULL,
  actor_id TEXT NULL,
  action TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_audit_log_actor_type CHECK (actor_type IN ('CLIENT', 'STAFF', 'SYSTEM'))
);

CREATE INDEX IF NOT EXISTS ix_audit_log_order ON %[6]s (order_id, id);
CREATE INDEX IF NOT EXISTS ix_audit_log_action ON %[6]s (action, id);
`, s, orders, staff, links, changes, audit)
}
