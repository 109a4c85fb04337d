package magiclink

import (
	"context"
	"errors"
	"strings"
	"time"

	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const linkColumns = `id, order_id, token_hash, created_by, created_at, expires_at, revoked_at, last_accessed_at, access_count`

// PostgresStore persists magic links in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "orderdesk").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidSchema(schema) {
			return pgschema.ErrInvalidSchema
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// IssueLink returns the active link of in.OrderID or inserts in.
// The order row is locked for the duration of the transaction.
func (s *PostgresStore) IssueLink(ctx context.Context, in CreateRecord) (Link, bool, error) {
	if err := s.checkCreate(ctx, in); err != nil {
		return Link{}, false, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Link{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.lockOrder(ctx, tx, in.OrderID); err != nil {
		return Link{}, false, err
	}

	links := pgschema.Ident(s.schema, "magic_links")
	existing, err := scanLink(tx.QueryRow(ctx,
		`SELECT `+linkColumns+`
		   FROM `+links+`
		  WHERE order_id = $1
		    AND revoked_at IS NULL
		    AND expires_at > $2
		  ORDER BY created_at DESC
		  LIMIT 1`,
		in.OrderID, in.CreatedAt,
	))
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return Link{}, false, err
		}
		return existing, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Link{}, false, err
	}

	if err := s.insert(ctx, tx, in); err != nil {
		return Link{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Link{}, false, err
	}
	return linkFromRecord(in), true, nil
}

// ReplaceLinks revokes every non-revoked link of in.OrderID and inserts in.
func (s *PostgresStore) ReplaceLinks(ctx context.Context, in CreateRecord) (int, Link, error) {
	if err := s.checkCreate(ctx, in); err != nil {
		return 0, Link{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, Link{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.lockOrder(ctx, tx, in.OrderID); err != nil {
		return 0, Link{}, err
	}

	links := pgschema.Ident(s.schema, "magic_links")
	tag, err := tx.Exec(ctx,
		`UPDATE `+links+`
		    SET revoked_at = $2
		  WHERE order_id = $1
		    AND revoked_at IS NULL`,
		in.OrderID, in.CreatedAt,
	)
	if err != nil {
		return 0, Link{}, err
	}

	if err := s.insert(ctx, tx, in); err != nil {
		return 0, Link{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, Link{}, err
	}
	return int(tag.RowsAffected()), linkFromRecord(in), nil
}

// FindLinkByHash fetches a link by token hash.
func (s *PostgresStore) FindLinkByHash(ctx context.Context, tokenHash string) (Link, error) {
	if s == nil || s.pool == nil {
		return Link{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Link{}, ErrInvalidInput
	}

	links := pgschema.Ident(s.schema, "magic_links")
	l, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM `+links+` WHERE token_hash = $1`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, err
	}
	return l, nil
}

// GetLink fetches a link by id.
func (s *PostgresStore) GetLink(ctx context.Context, id string) (Link, error) {
	if s == nil || s.pool == nil {
		return Link{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}

	links := pgschema.Ident(s.schema, "magic_links")
	l, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM `+links+` WHERE id = $1`,
		strings.TrimSpace(id),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, err
	}
	return l, nil
}

// RevokeLink sets revoked_at once. The first revocation wins.
func (s *PostgresStore) RevokeLink(ctx context.Context, id string, now time.Time) (Link, bool, error) {
	if s == nil || s.pool == nil {
		return Link{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Link{}, false, err
	}

	links := pgschema.Ident(s.schema, "magic_links")
	l, err := scanLink(s.pool.QueryRow(ctx,
		`UPDATE `+links+`
		    SET revoked_at = $2
		  WHERE id = $1
		    AND revoked_at IS NULL
		RETURNING `+linkColumns,
		strings.TrimSpace(id), now,
	))
	if err == nil {
		return l, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Link{}, false, err
	}

	// Already revoked, or missing.
	l, err = s.GetLink(ctx, id)
	if err != nil {
		return Link{}, false, err
	}
	return l, false, nil
}

// RecordAccess increments access_count in a single conditional update.
func (s *PostgresStore) RecordAccess(ctx context.Context, id string, now time.Time) (Link, error) {
	if s == nil || s.pool == nil {
		return Link{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}

	links := pgschema.Ident(s.schema, "magic_links")
	l, err := scanLink(s.pool.QueryRow(ctx,
		`UPDATE `+links+`
		    SET access_count = access_count + 1,
		        last_accessed_at = $2
		  WHERE id = $1
		    AND revoked_at IS NULL
		    AND expires_at > $2
		RETURNING `+linkColumns,
		strings.TrimSpace(id), now,
	))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Link{}, err
	}
	if _, gerr := s.GetLink(ctx, id); gerr != nil {
		return Link{}, gerr
	}
	return Link{}, ErrNotActive
}

// ListLinks returns every link of orderID, newest first.
func (s *PostgresStore) ListLinks(ctx context.Context, orderID string) ([]Link, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orders := pgschema.Ident(s.schema, "orders")
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+orders+` WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrOrderNotFound
	}

	links := pgschema.Ident(s.schema, "magic_links")
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM `+links+` WHERE order_id = $1 ORDER BY created_at DESC, id DESC`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) checkCreate(ctx context.Context, in CreateRecord) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return ErrInvalidInput
	}
	if !in.ExpiresAt.After(in.CreatedAt) {
		return ErrInvalidInput
	}
	return nil
}

func (s *PostgresStore) lockOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	orders := pgschema.Ident(s.schema, "orders")
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM `+orders+` WHERE id = $1 FOR UPDATE`, orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, tx pgx.Tx, in CreateRecord) error {
	links := pgschema.Ident(s.schema, "magic_links")
	_, err := tx.Exec(ctx,
		`INSERT INTO `+links+` (
		     id, order_id, token_hash, created_by, created_at, expires_at, revoked_at, last_accessed_at, access_count
		   ) VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, 0)`,
		in.ID,
		in.OrderID,
		in.TokenHash,
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err, "uq_magic_links_token_hash") {
			return ErrHashConflict
		}
		return err
	}
	return nil
}

func linkFromRecord(in CreateRecord) Link {
	return Link{
		ID:        in.ID,
		OrderID:   in.OrderID,
		TokenHash: in.TokenHash,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	if err := row.Scan(
		&l.ID,
		&l.OrderID,
		&l.TokenHash,
		&l.CreatedBy,
		&l.CreatedAt,
		&l.ExpiresAt,
		&l.RevokedAt,
		&l.LastAccessedAt,
		&l.AccessCount,
	); err != nil {
		return Link{}, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	if l.RevokedAt != nil {
		t := l.RevokedAt.UTC()
		l.RevokedAt = &t
	}
	if l.LastAccessedAt != nil {
		t := l.LastAccessedAt.UTC()
		l.LastAccessedAt = &t
	}
	return l, nil
}

func pgIsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
