package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"orderdesk/cmd/internal/approval"
)

var _ approval.Store = (*Store)(nil)

const orderColumns = `id, customer_name, event_date, approval_status, is_locked, approved_at`

// GetOrder fetches the approval view of an order.
func (s *Store) GetOrder(ctx context.Context, id string) (approval.Order, error) {
	if err := s.ready(ctx); err != nil {
		return approval.Order{}, err
	}
	o, err := scanOrder(s.sqlDB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return approval.Order{}, approval.ErrNotFound
		}
		return approval.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdateOrderApproval applies from -> to as a single conditional update.
func (s *Store) UpdateOrderApproval(ctx context.Context, id string, from, to approval.Status, at time.Time) (approval.Order, bool, error) {
	if err := s.ready(ctx); err != nil {
		return approval.Order{}, false, err
	}
	if !from.Valid() || !to.Valid() || from == to {
		return approval.Order{}, false, approval.ErrInvalidInput
	}
	id = strings.TrimSpace(id)

	var row *sql.Row
	if to == approval.StatusApproved {
		row = s.sqlDB.QueryRowContext(ctx,
			`UPDATE orders SET approval_status = ?, approved_at = ?, is_locked = 1
			  WHERE id = ? AND approval_status = ?
			RETURNING `+orderColumns,
			string(to), toMillis(at), id, string(from),
		)
	} else {
		row = s.sqlDB.QueryRowContext(ctx,
			`UPDATE orders SET approval_status = ?
			  WHERE id = ? AND approval_status = ?
			RETURNING `+orderColumns,
			string(to), id, string(from),
		)
	}
	o, err := scanOrder(row)
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return approval.Order{}, false, fmt.Errorf("update order approval: %w", err)
	}

	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return approval.Order{}, false, err
	}
	return current, false, nil
}

func scanOrder(row rowScanner) (approval.Order, error) {
	var (
		o          approval.Order
		eventDate  sql.NullString
		status     string
		locked     int64
		approvedAt sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.CustomerName, &eventDate, &status, &locked, &approvedAt); err != nil {
		return approval.Order{}, err
	}
	if eventDate.Valid {
		if d, err := time.Parse(time.DateOnly, eventDate.String); err == nil {
			o.EventDate = &d
		}
	}
	o.ApprovalStatus = approval.Status(status)
	o.IsLocked = locked != 0
	o.ApprovedAt = fromNullMillis(approvedAt)
	return o, nil
}
