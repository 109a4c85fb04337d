package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"orderdesk/cmd/internal/changerequest"
)

var _ changerequest.Store = (*Store)(nil)

const requestColumns = `id, order_id, changes, reason, status, requested_at, reviewed_by, reviewed_at, review_notes`

const summarySelect = `SELECT cr.id, cr.order_id, cr.changes, cr.reason, cr.status, cr.requested_at,
       cr.reviewed_by, cr.reviewed_at, cr.review_notes,
       o.customer_name, st.display_name
  FROM change_requests cr
  JOIN orders o ON o.id = cr.order_id
  LEFT JOIN staff_members st ON st.id = cr.reviewed_by`

// CreateChangeRequest inserts a PENDING request.
func (s *Store) CreateChangeRequest(ctx context.Context, in changerequest.ChangeRequest) (changerequest.ChangeRequest, error) {
	if err := s.ready(ctx); err != nil {
		return changerequest.ChangeRequest{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.Reason) == "" {
		return changerequest.ChangeRequest{}, changerequest.ErrInvalidInput
	}
	changes := string(in.Changes)
	if strings.TrimSpace(changes) == "" {
		changes = "{}"
	}

	cr, err := scanRequest(s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO change_requests (id, order_id, changes, reason, status, requested_at)
		 VALUES (?, ?, ?, ?, 'PENDING', ?)
		 RETURNING `+requestColumns,
		in.ID, in.OrderID, changes, in.Reason, toMillis(in.RequestedAt),
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return changerequest.ChangeRequest{}, changerequest.ErrOrderNotFound
		}
		if isUniqueViolation(err) {
			return changerequest.ChangeRequest{}, changerequest.ErrInvalidInput
		}
		return changerequest.ChangeRequest{}, fmt.Errorf("create change request: %w", err)
	}
	return cr, nil
}

// ReviewChangeRequest applies a review while the request is PENDING.
func (s *Store) ReviewChangeRequest(ctx context.Context, in changerequest.ReviewRecord) (changerequest.ChangeRequest, error) {
	if err := s.ready(ctx); err != nil {
		return changerequest.ChangeRequest{}, err
	}
	if in.To != changerequest.StatusApproved && in.To != changerequest.StatusRejected {
		return changerequest.ChangeRequest{}, changerequest.ErrInvalidInput
	}
	var notes sql.NullString
	if in.Notes != nil {
		notes = sql.NullString{String: *in.Notes, Valid: true}
	}

	cr, err := scanRequest(s.sqlDB.QueryRowContext(ctx,
		`UPDATE change_requests
		    SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?
		  WHERE id = ? AND status = 'PENDING'
		RETURNING `+requestColumns,
		string(in.To), in.ReviewerID, toMillis(in.At), notes, in.ID,
	))
	if err == nil {
		return cr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return changerequest.ChangeRequest{}, fmt.Errorf("review change request: %w", err)
	}

	var found int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM change_requests WHERE id = ?`, in.ID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return changerequest.ChangeRequest{}, changerequest.ErrNotFound
	}
	if err != nil {
		return changerequest.ChangeRequest{}, fmt.Errorf("check change request: %w", err)
	}
	return changerequest.ChangeRequest{}, changerequest.ErrNotPending
}

// GetChangeRequest returns one request with its display fields.
func (s *Store) GetChangeRequest(ctx context.Context, id string) (changerequest.Summary, error) {
	if err := s.ready(ctx); err != nil {
		return changerequest.Summary{}, err
	}
	sum, err := scanSummary(s.sqlDB.QueryRowContext(ctx, summarySelect+` WHERE cr.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return changerequest.Summary{}, changerequest.ErrNotFound
		}
		return changerequest.Summary{}, fmt.Errorf("get change request: %w", err)
	}
	return sum, nil
}

// ListChangeRequests returns summaries ordered by id descending.
func (s *Store) ListChangeRequests(ctx context.Context, f changerequest.ListFilter) (changerequest.Page, error) {
	if err := s.ready(ctx); err != nil {
		return changerequest.Page{}, err
	}
	if f.PageSize <= 0 {
		return changerequest.Page{}, changerequest.ErrInvalidInput
	}

	where := []string{"1 = 1"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "cr.status = ?")
		args = append(args, string(f.Status))
	}
	if f.OrderID != "" {
		where = append(where, "cr.order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.PageToken != "" {
		where = append(where, "cr.id < ?")
		args = append(args, f.PageToken)
	}
	args = append(args, f.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx,
		summarySelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY cr.id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return changerequest.Page{}, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	page := changerequest.Page{Requests: make([]changerequest.Summary, 0, f.PageSize)}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return changerequest.Page{}, fmt.Errorf("scan change request: %w", err)
		}
		page.Requests = append(page.Requests, sum)
	}
	if err := rows.Err(); err != nil {
		return changerequest.Page{}, fmt.Errorf("iterate change requests: %w", err)
	}
	if len(page.Requests) > f.PageSize {
		page.Requests = page.Requests[:f.PageSize]
		page.NextPageToken = page.Requests[f.PageSize-1].ID
	}
	return page, nil
}

type requestRow struct {
	changes     string
	status      string
	requestedAt int64
	reviewedBy  sql.NullString
	reviewedAt  sql.NullInt64
	notes       sql.NullString
}

func (r requestRow) apply(cr *changerequest.ChangeRequest) {
	cr.Changes = []byte(r.changes)
	cr.Status = changerequest.Status(r.status)
	cr.RequestedAt = fromMillis(r.requestedAt)
	cr.ReviewedBy = fromNullString(r.reviewedBy)
	cr.ReviewedAt = fromNullMillis(r.reviewedAt)
	cr.ReviewNotes = fromNullString(r.notes)
}

func scanRequest(row rowScanner) (changerequest.ChangeRequest, error) {
	var (
		cr changerequest.ChangeRequest
		r  requestRow
	)
	if err := row.Scan(&cr.ID, &cr.OrderID, &r.changes, &cr.Reason, &r.status, &r.requestedAt, &r.reviewedBy, &r.reviewedAt, &r.notes); err != nil {
		return changerequest.ChangeRequest{}, err
	}
	r.apply(&cr)
	return cr, nil
}

func scanSummary(row rowScanner) (changerequest.Summary, error) {
	var (
		sum      changerequest.Summary
		r        requestRow
		reviewer sql.NullString
	)
	cr := &sum.ChangeRequest
	if err := row.Scan(&cr.ID, &cr.OrderID, &r.changes, &cr.Reason, &r.status, &r.requestedAt, &r.reviewedBy, &r.reviewedAt, &r.notes,
		&sum.CustomerName, &reviewer); err != nil {
		return changerequest.Summary{}, err
	}
	r.apply(cr)
	sum.ReviewerName = fromNullString(reviewer)
	return sum, nil
}
