package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderdesk/cmd/internal/storage/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists audit entries in PostgreSQL.
// The pool is owned by the caller.
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

// Append inserts one entry and returns its id.
func (s *PostgresStore) Append(ctx context.Context, in AppendRecord) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(string(in.Action)) == "" || !in.ActorType.Valid() {
		return 0, ErrInvalidInput
	}
	if in.At.IsZero() {
		in.At = time.Now().UTC()
	}
	meta := in.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}

	table := pgschema.Ident(s.schema, "audit_log")
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (order_id, actor_type, actor_id, action, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 RETURNING id`,
		in.OrderID,
		string(in.ActorType),
		in.ActorID,
		string(in.Action),
		string(meta),
		in.At,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Query returns entries matching f ordered by id DESC.
func (s *PostgresStore) Query(ctx context.Context, f Filter) (RecordPage, error) {
	if s == nil || s.pool == nil {
		return RecordPage{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return RecordPage{}, err
	}
	if f.PageSize <= 0 {
		return RecordPage{}, ErrInvalidInput
	}

	where := []string{"TRUE"}
	args := []any{}
	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if f.PageToken != "" {
		before, err := strconv.ParseInt(f.PageToken, 10, 64)
		if err != nil || before <= 0 {
			return RecordPage{}, fmt.Errorf("%w: page token", ErrInvalidInput)
		}
		args = append(args, before)
		where = append(where, fmt.Sprintf("id < $%d", len(args)))
	}
	args = append(args, f.PageSize+1)

	table := pgschema.Ident(s.schema, "audit_log")
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, actor_type, actor_id, action, metadata::text, created_at
		   FROM `+table+`
		  WHERE `+strings.Join(where, " AND ")+`
		  ORDER BY id DESC
		  LIMIT $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return RecordPage{}, err
	}
	defer rows.Close()

	page := RecordPage{Records: make([]Record, 0, f.PageSize)}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return RecordPage{}, err
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return RecordPage{}, err
	}
	if len(page.Records) > f.PageSize {
		page.Records = page.Records[:f.PageSize]
		page.NextPageToken = strconv.FormatInt(page.Records[f.PageSize-1].ID, 10)
	}
	return page, nil
}

// PatchStatus merges {"status": status} into the entry's metadata.
func (s *PostgresStore) PatchStatus(ctx context.Context, id int64, status TriageStatus) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if id <= 0 || !status.Valid() {
		return Record{}, ErrInvalidInput
	}

	table := pgschema.Ident(s.schema, "audit_log")
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE `+table+`
		    SET metadata = metadata || jsonb_build_object('status', $2::text)
		  WHERE id = $1 AND action = $3
		RETURNING id, order_id, actor_type, actor_id, action, metadata::text, created_at`,
		id, string(status), string(ActionLinkRequested),
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return Record{}, err
	}
	if exists {
		return Record{}, ErrNotTriageable
	}
	return Record{}, ErrNotFound
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		actorType string
		action    string
		meta      string
	)
	if err := row.Scan(&rec.ID, &rec.OrderID, &actorType, &rec.ActorID, &action, &meta, &rec.At); err != nil {
		return Record{}, err
	}
	rec.ActorType = ActorType(actorType)
	rec.Action = Action(action)
	rec.Meta = []byte(meta)
	rec.At = rec.At.UTC()
	return rec, nil
}
