package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"orderdesk/cmd/internal/approval"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/changerequest"
	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/storage/pgschema"
	"orderdesk/cmd/internal/storage/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// It does not run migrations; see ORDERDESK_DB_AUTO_MIGRATE.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// backend bundles the stores of one storage engine with its lifecycle.
type backend struct {
	name string

	links    magiclink.Store
	orders   approval.Store
	requests changerequest.Store
	audit    audit.Store

	ping  func(ctx context.Context) error
	close func() error
}

// openBackend selects Postgres when DatabaseURL is set and the SQLite file store otherwise.
func openBackend(ctx context.Context, cfg Config, log *slog.Logger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		return openSQLite(cfg, log)
	}
	return openPostgres(ctx, cfg, log)
}

func openSQLite(cfg Config, log *slog.Logger) (*backend, error) {
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	st, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)

	return &backend{
		name:     "sqlite",
		links:    st,
		orders:   st,
		requests: st,
		audit:    st,
		ping:     st.Ping,
		close:    st.Close,
	}, nil
}

func openPostgres(ctx context.Context, cfg Config, log *slog.Logger) (*backend, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*backend, error) {
		pool.Close()
		return nil, err
	}

	if cfg.DBAutoMigrate {
		if err := pgschema.Apply(ctx, pool, cfg.DBSchema); err != nil {
			return fail(fmt.Errorf("apply schema: %w", err))
		}
		log.Info("db.migrated", "schema", cfg.DBSchema)
	}

	links, err := magiclink.NewPostgresStore(pool, magiclink.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	orders, err := approval.NewPostgresStore(pool, approval.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	requests, err := changerequest.NewPostgresStore(pool, changerequest.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	auditStore, err := audit.NewPostgresStore(pool, audit.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// The app owns the pool; the stores never close it.
	return &backend{
		name:     "postgres",
		links:    links,
		orders:   orders,
		requests: requests,
		audit:    auditStore,
		ping: func(ctx context.Context) error {
			return PingDB(ctx, pool, cfg.ReadinessTimeout)
		},
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}
