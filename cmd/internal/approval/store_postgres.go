package approval

import (
	"context"
	"errors"
	"strings"
	"time"

	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, customer_name, event_date, approval_status, is_locked, approved_at`

// PostgresStore persists order approval state in PostgreSQL.
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

// GetOrder fetches an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}

	orders := pgschema.Ident(s.schema, "orders")
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM `+orders+` WHERE id = $1`,
		strings.TrimSpace(id),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// UpdateOrderApproval applies from -> to as a compare-and-swap on approval_status.
func (s *PostgresStore) UpdateOrderApproval(ctx context.Context, id string, from, to Status, at time.Time) (Order, bool, error) {
	if s == nil || s.pool == nil {
		return Order{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	if !from.Valid() || !to.Valid() || from == to {
		return Order{}, false, ErrInvalidInput
	}

	orders := pgschema.Ident(s.schema, "orders")
	var (
		sql  string
		args []any
	)
	if to == StatusApproved {
		sql = `UPDATE ` + orders + `
		          SET approval_status = $3, approved_at = $4, is_locked = true
		        WHERE id = $1 AND approval_status = $2
		    RETURNING ` + orderColumns
		args = []any{id, string(from), string(to), at}
	} else {
		sql = `UPDATE ` + orders + `
		          SET approval_status = $3
		        WHERE id = $1 AND approval_status = $2
		    RETURNING ` + orderColumns
		args = []any{id, string(from), string(to)}
	}

	o, err := scanOrder(s.pool.QueryRow(ctx, sql, args...))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, err
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return current, false, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerName, &o.EventDate, &status, &o.IsLocked, &o.ApprovedAt); err != nil {
		return Order{}, err
	}
	o.ApprovalStatus = Status(status)
	if o.ApprovedAt != nil {
		t := o.ApprovedAt.UTC()
		o.ApprovedAt = &t
	}
	return o, nil
}
