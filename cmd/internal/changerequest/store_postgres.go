package changerequest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const requestColumns = `id, order_id, changes::text, reason, status, requested_at, reviewed_by, reviewed_at, review_notes`

// PostgresStore persists change requests in PostgreSQL.
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

// CreateChangeRequest inserts a PENDING request.
func (s *PostgresStore) CreateChangeRequest(ctx context.Context, in ChangeRequest) (ChangeRequest, error) {
	if s == nil || s.pool == nil {
		return ChangeRequest{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ChangeRequest{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.Reason) == "" {
		return ChangeRequest{}, ErrInvalidInput
	}
	if len(in.Changes) == 0 {
		in.Changes = []byte("{}")
	}

	requests := pgschema.Ident(s.schema, "change_requests")
	cr, err := scanRequest(s.pool.QueryRow(ctx,
		`INSERT INTO `+requests+` (id, order_id, changes, reason, status, requested_at)
		 VALUES ($1, $2, $3::jsonb, $4, 'PENDING', $5)
		 RETURNING `+requestColumns,
		in.ID, in.OrderID, string(in.Changes), in.Reason, in.RequestedAt,
	))
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return ChangeRequest{}, ErrOrderNotFound
		}
		return ChangeRequest{}, err
	}
	return cr, nil
}

// ReviewChangeRequest is a compare-and-swap on status = 'PENDING'.
func (s *PostgresStore) ReviewChangeRequest(ctx context.Context, in ReviewRecord) (ChangeRequest, error) {
	if s == nil || s.pool == nil {
		return ChangeRequest{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ChangeRequest{}, err
	}
	if in.To != StatusApproved && in.To != StatusRejected {
		return ChangeRequest{}, ErrInvalidInput
	}

	requests := pgschema.Ident(s.schema, "change_requests")
	cr, err := scanRequest(s.pool.QueryRow(ctx,
		`UPDATE `+requests+`
		    SET status = $2, reviewed_by = $3, reviewed_at = $4, review_notes = $5
		  WHERE id = $1 AND status = 'PENDING'
		RETURNING `+requestColumns,
		in.ID, string(in.To), in.ReviewerID, in.At, in.Notes,
	))
	if err == nil {
		return cr, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ChangeRequest{}, err
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+requests+` WHERE id = $1)`, in.ID).Scan(&exists); err != nil {
		return ChangeRequest{}, err
	}
	if !exists {
		return ChangeRequest{}, ErrNotFound
	}
	return ChangeRequest{}, ErrNotPending
}

// GetChangeRequest fetches one request with its display fields.
func (s *PostgresStore) GetChangeRequest(ctx context.Context, id string) (Summary, error) {
	if s == nil || s.pool == nil {
		return Summary{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	sum, err := scanSummary(s.pool.QueryRow(ctx, s.summarySelect()+` WHERE cr.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, err
	}
	return sum, nil
}

// ListChangeRequests returns a page of summaries ordered by id DESC.
func (s *PostgresStore) ListChangeRequests(ctx context.Context, f ListFilter) (Page, error) {
	if s == nil || s.pool == nil {
		return Page{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if f.PageSize <= 0 {
		return Page{}, ErrInvalidInput
	}

	where := []string{"TRUE"}
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("cr.status = $%d", len(args)))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("cr.order_id = $%d", len(args)))
	}
	if f.PageToken != "" {
		args = append(args, f.PageToken)
		where = append(where, fmt.Sprintf("cr.id < $%d", len(args)))
	}
	args = append(args, f.PageSize+1)

	rows, err := s.pool.Query(ctx,
		s.summarySelect()+`
		  WHERE `+strings.Join(where, " AND ")+`
		  ORDER BY cr.id DESC
		  LIMIT $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	page := Page{Requests: make([]Summary, 0, f.PageSize)}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return Page{}, err
		}
		page.Requests = append(page.Requests, sum)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	if len(page.Requests) > f.PageSize {
		page.Requests = page.Requests[:f.PageSize]
		page.NextPageToken = page.Requests[f.PageSize-1].ID
	}
	return page, nil
}

func (s *PostgresStore) summarySelect() string {
	requests := pgschema.Ident(s.schema, "change_requests")
	orders := pgschema.Ident(s.schema, "orders")
	staff := pgschema.Ident(s.schema, "staff_members")
	return `SELECT cr.id, cr.order_id, cr.changes::text, cr.reason, cr.status, cr.requested_at,
	               cr.reviewed_by, cr.reviewed_at, cr.review_notes,
	               o.customer_name, st.display_name
	          FROM ` + requests + ` cr
	          JOIN ` + orders + ` o ON o.id = cr.order_id
	          LEFT JOIN ` + staff + ` st ON st.id = cr.reviewed_by`
}

func scanRequest(row pgx.Row) (ChangeRequest, error) {
	var (
		cr      ChangeRequest
		changes string
		status  string
	)
	if err := row.Scan(&cr.ID, &cr.OrderID, &changes, &cr.Reason, &status, &cr.RequestedAt, &cr.ReviewedBy, &cr.ReviewedAt, &cr.ReviewNotes); err != nil {
		return ChangeRequest{}, err
	}
	finishRequest(&cr, changes, status)
	return cr, nil
}

func scanSummary(row pgx.Row) (Summary, error) {
	var (
		sum     Summary
		changes string
		status  string
	)
	cr := &sum.ChangeRequest
	if err := row.Scan(&cr.ID, &cr.OrderID, &changes, &cr.Reason, &status, &cr.RequestedAt, &cr.ReviewedBy, &cr.ReviewedAt, &cr.ReviewNotes,
		&sum.CustomerName, &sum.ReviewerName); err != nil {
		return Summary{}, err
	}
	finishRequest(cr, changes, status)
	return sum, nil
}

func finishRequest(cr *ChangeRequest, changes, status string) {
	cr.Changes = []byte(changes)
	cr.Status = Status(status)
	cr.RequestedAt = cr.RequestedAt.UTC()
	if cr.ReviewedAt != nil {
		t := cr.ReviewedAt.UTC()
		cr.ReviewedAt = &t
	}
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
