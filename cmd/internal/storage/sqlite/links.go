package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"orderdesk/cmd/internal/magiclink"
)

var _ magiclink.Store = (*Store)(nil)

const linkColumns = `id, order_id, token_hash, created_by, created_at, expires_at, revoked_at, last_accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...any) error
}

// IssueLink returns the active link of the order or inserts in, in one transaction.
func (s *Store) IssueLink(ctx context.Context, in magiclink.CreateRecord) (magiclink.Link, bool, error) {
	if err := s.checkLinkCreate(ctx, in); err != nil {
		return magiclink.Link{}, false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return magiclink.Link{}, false, fmt.Errorf("begin issue link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := orderExists(ctx, tx, in.OrderID, magiclink.ErrOrderNotFound); err != nil {
		return magiclink.Link{}, false, err
	}

	existing, err := scanLink(tx.QueryRowContext(ctx,
		`SELECT `+linkColumns+`
		   FROM magic_links
		  WHERE order_id = ? AND revoked_at IS NULL AND expires_at > ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1`,
		in.OrderID, toMillis(in.CreatedAt),
	))
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return magiclink.Link{}, false, fmt.Errorf("commit issue link: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return magiclink.Link{}, false, fmt.Errorf("find active link: %w", err)
	}

	if err := insertLink(ctx, tx, in); err != nil {
		return magiclink.Link{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return magiclink.Link{}, false, fmt.Errorf("commit issue link: %w", err)
	}
	return linkFromRecord(in), true, nil
}

// ReplaceLinks revokes every non-revoked link of the order and inserts in.
func (s *Store) ReplaceLinks(ctx context.Context, in magiclink.CreateRecord) (int, magiclink.Link, error) {
	if err := s.checkLinkCreate(ctx, in); err != nil {
		return 0, magiclink.Link{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, magiclink.Link{}, fmt.Errorf("begin replace links: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := orderExists(ctx, tx, in.OrderID, magiclink.ErrOrderNotFound); err != nil {
		return 0, magiclink.Link{}, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE magic_links SET revoked_at = ? WHERE order_id = ? AND revoked_at IS NULL`,
		toMillis(in.CreatedAt), in.OrderID,
	)
	if err != nil {
		return 0, magiclink.Link{}, fmt.Errorf("revoke links: %w", err)
	}
	revoked, err := res.RowsAffected()
	if err != nil {
		return 0, magiclink.Link{}, fmt.Errorf("revoke links: %w", err)
	}

	if err := insertLink(ctx, tx, in); err != nil {
		return 0, magiclink.Link{}, err
	}
	if err := tx.Commit(); err != nil {
		return 0, magiclink.Link{}, fmt.Errorf("commit replace links: %w", err)
	}
	return int(revoked), linkFromRecord(in), nil
}

// FindLinkByHash fetches a link by token hash.
func (s *Store) FindLinkByHash(ctx context.Context, tokenHash string) (magiclink.Link, error) {
	if err := s.ready(ctx); err != nil {
		return magiclink.Link{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return magiclink.Link{}, magiclink.ErrInvalidInput
	}
	l, err := scanLink(s.sqlDB.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM magic_links WHERE token_hash = ?`, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return magiclink.Link{}, magiclink.ErrNotFound
		}
		return magiclink.Link{}, fmt.Errorf("find link by hash: %w", err)
	}
	return l, nil
}

// GetLink fetches a link by id.
func (s *Store) GetLink(ctx context.Context, id string) (magiclink.Link, error) {
	if err := s.ready(ctx); err != nil {
		return magiclink.Link{}, err
	}
	l, err := scanLink(s.sqlDB.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM magic_links WHERE id = ?`, strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return magiclink.Link{}, magiclink.ErrNotFound
		}
		return magiclink.Link{}, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// RevokeLink sets revoked_at unless already set.
func (s *Store) RevokeLink(ctx context.Context, id string, now time.Time) (magiclink.Link, bool, error) {
	if err := s.ready(ctx); err != nil {
		return magiclink.Link{}, false, err
	}
	id = strings.TrimSpace(id)
	l, err := scanLink(s.sqlDB.QueryRowContext(ctx,
		`UPDATE magic_links SET revoked_at = ?
		  WHERE id = ? AND revoked_at IS NULL
		RETURNING `+linkColumns,
		toMillis(now), id,
	))
	if err == nil {
		return l, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, false, fmt.Errorf("revoke link: %w", err)
	}
	l, err = s.GetLink(ctx, id)
	if err != nil {
		return magiclink.Link{}, false, err
	}
	return l, false, nil
}

// RecordAccess increments access_count when the link is valid at now.
func (s *Store) RecordAccess(ctx context.Context, id string, now time.Time) (magiclink.Link, error) {
	if err := s.ready(ctx); err != nil {
		return magiclink.Link{}, err
	}
	id = strings.TrimSpace(id)
	at := toMillis(now)
	l, err := scanLink(s.sqlDB.QueryRowContext(ctx,
		`UPDATE magic_links
		    SET access_count = access_count + 1, last_accessed_at = ?
		  WHERE id = ? AND revoked_at IS NULL AND expires_at > ?
		RETURNING `+linkColumns,
		at, id, at,
	))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return magiclink.Link{}, fmt.Errorf("record access: %w", err)
	}
	if _, err := s.GetLink(ctx, id); err != nil {
		return magiclink.Link{}, err
	}
	return magiclink.Link{}, magiclink.ErrNotActive
}

// ListLinks returns every link of the order, newest first.
func (s *Store) ListLinks(ctx context.Context, orderID string) ([]magiclink.Link, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if err := orderExists(ctx, s.sqlDB, orderID, magiclink.ErrOrderNotFound); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM magic_links WHERE order_id = ? ORDER BY created_at DESC, id DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	out := []magiclink.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) checkLinkCreate(ctx context.Context, in magiclink.CreateRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return magiclink.ErrInvalidInput
	}
	if toMillis(in.ExpiresAt) <= toMillis(in.CreatedAt) {
		return magiclink.ErrInvalidInput
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func orderExists(ctx context.Context, q queryer, orderID string, notFound error) error {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		return fmt.Errorf("check order: %w", err)
	}
	return nil
}

func insertLink(ctx context.Context, tx *sql.Tx, in magiclink.CreateRecord) error {
	var createdBy sql.NullString
	if in.CreatedBy != nil {
		createdBy = sql.NullString{String: *in.CreatedBy, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO magic_links (
		   id, order_id, token_hash, created_by, created_at, expires_at, revoked_at, last_accessed_at, access_count
		 ) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, 0)`,
		in.ID, in.OrderID, in.TokenHash, createdBy, toMillis(in.CreatedAt), toMillis(in.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(strings.ToLower(err.Error()), "token_hash") {
			return magiclink.ErrHashConflict
		}
		if isUniqueViolation(err) {
			return magiclink.ErrInvalidInput
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func linkFromRecord(in magiclink.CreateRecord) magiclink.Link {
	return magiclink.Link{
		ID:        in.ID,
		OrderID:   in.OrderID,
		TokenHash: in.TokenHash,
		CreatedBy: in.CreatedBy,
		CreatedAt: fromMillis(toMillis(in.CreatedAt)),
		ExpiresAt: fromMillis(toMillis(in.ExpiresAt)),
	}
}

func scanLink(row rowScanner) (magiclink.Link, error) {
	var (
		l         magiclink.Link
		createdBy sql.NullString
		createdAt int64
		expiresAt int64
		revoked   sql.NullInt64
		accessed  sql.NullInt64
	)
	if err := row.Scan(&l.ID, &l.OrderID, &l.TokenHash, &createdBy, &createdAt, &expiresAt, &revoked, &accessed, &l.AccessCount); err != nil {
		return magiclink.Link{}, err
	}
	l.CreatedBy = fromNullString(createdBy)
	l.CreatedAt = fromMillis(createdAt)
	l.ExpiresAt = fromMillis(expiresAt)
	l.RevokedAt = fromNullMillis(revoked)
	l.LastAccessedAt = fromNullMillis(accessed)
	return l, nil
}
