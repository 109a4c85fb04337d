// Package pgtest opens an isolated Postgres schema for integration tests.
//
// Tests are enabled when ORDERDESK_DATABASE_URL is set. Outside CI an
// unreachable server skips instead of failing.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"orderdesk/cmd/internal/ids"
	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable holding the test database URL.
const EnvDatabaseURL = "ORDERDESK_DATABASE_URL"

// Open connects to the test database and applies the full DDL to a fresh
// schema named prefix_<ulid>. The schema is dropped and the pool closed on cleanup.
func Open(t *testing.T, prefix string) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		pool.Close()
		t.Fatalf("schema id: %v", err)
	}
	schema := prefix + "_" + strings.ToLower(id)

	if err := pgschema.Apply(ctx, pool, schema); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = pool.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})
	return pool, schema
}

// InsertOrder seeds a PENDING order.
func InsertOrder(t *testing.T, pool *pgxpool.Pool, schema, id, customer string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	orders := pgschema.Ident(schema, "orders")
	if _, err := pool.Exec(ctx,
		`INSERT INTO `+orders+` (id, customer_name, event_date) VALUES ($1, $2, CURRENT_DATE + 30)`,
		id, customer,
	); err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

// InsertStaff seeds a staff member.
func InsertStaff(t *testing.T, pool *pgxpool.Pool, schema, id, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	staff := pgschema.Ident(schema, "staff_members")
	if _, err := pool.Exec(ctx, `INSERT INTO `+staff+` (id, display_name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("insert staff: %v", err)
	}
}

func shouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
