package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderdesk/cmd/internal/audit"
)

var _ audit.Store = (*Store)(nil)

const auditColumns = `id, order_id, actor_type, actor_id, action, metadata, created_at`

// Append inserts one audit entry.
func (s *Store) Append(ctx context.Context, in audit.AppendRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(string(in.Action)) == "" || !in.ActorType.Valid() {
		return 0, audit.ErrInvalidInput
	}
	if in.At.IsZero() {
		in.At = time.Now().UTC()
	}
	meta := string(in.Meta)
	if strings.TrimSpace(meta) == "" {
		meta = "{}"
	}
	var actorID sql.NullString
	if in.ActorID != nil {
		actorID = sql.NullString{String: *in.ActorID, Valid: true}
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_log (order_id, actor_type, actor_id, action, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.OrderID, string(in.ActorType), actorID, string(in.Action), meta, toMillis(in.At),
	)
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	return id, nil
}

// Query returns entries ordered by id descending.
func (s *Store) Query(ctx context.Context, f audit.Filter) (audit.RecordPage, error) {
	if err := s.ready(ctx); err != nil {
		return audit.RecordPage{}, err
	}
	if f.PageSize <= 0 {
		return audit.RecordPage{}, audit.ErrInvalidInput
	}

	where := []string{"1 = 1"}
	args := []any{}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.PageToken != "" {
		before, err := strconv.ParseInt(f.PageToken, 10, 64)
		if err != nil || before <= 0 {
			return audit.RecordPage{}, fmt.Errorf("%w: page token", audit.ErrInvalidInput)
		}
		where = append(where, "id < ?")
		args = append(args, before)
	}
	args = append(args, f.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE `+strings.Join(where, " AND ")+` ORDER BY id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return audit.RecordPage{}, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	page := audit.RecordPage{Records: make([]audit.Record, 0, f.PageSize)}
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return audit.RecordPage{}, fmt.Errorf("scan audit entry: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return audit.RecordPage{}, fmt.Errorf("iterate audit log: %w", err)
	}
	if len(page.Records) > f.PageSize {
		page.Records = page.Records[:f.PageSize]
		page.NextPageToken = strconv.FormatInt(page.Records[f.PageSize-1].ID, 10)
	}
	return page, nil
}

// PatchStatus merges {"status": status} into the entry's metadata.
func (s *Store) PatchStatus(ctx context.Context, id int64, status audit.TriageStatus) (audit.Record, error) {
	if err := s.ready(ctx); err != nil {
		return audit.Record{}, err
	}
	if id <= 0 || !status.Valid() {
		return audit.Record{}, audit.ErrInvalidInput
	}
	rec, err := scanAudit(s.sqlDB.QueryRowContext(ctx,
		`UPDATE audit_log SET metadata = json_set(metadata, '$.status', ?)
		  WHERE id = ? AND action = ?
		RETURNING `+auditColumns,
		string(status), id, string(audit.ActionLinkRequested),
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, fmt.Errorf("patch audit status: %w", err)
	}

	var exists bool
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM audit_log WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return audit.Record{}, fmt.Errorf("patch audit status: %w", err)
	}
	if exists {
		return audit.Record{}, audit.ErrNotTriageable
	}
	return audit.Record{}, audit.ErrNotFound
}

func scanAudit(row rowScanner) (audit.Record, error) {
	var (
		rec       audit.Record
		actorType string
		actorID   sql.NullString
		action    string
		meta      string
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.OrderID, &actorType, &actorID, &action, &meta, &createdAt); err != nil {
		return audit.Record{}, err
	}
	rec.ActorType = audit.ActorType(actorType)
	rec.ActorID = fromNullString(actorID)
	rec.Action = audit.Action(action)
	rec.Meta = []byte(meta)
	rec.At = fromMillis(createdAt)
	return rec, nil
}
