package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Table describes where a document type is stored. Names are compile-time constants, never
// user input.
type Table struct {
	Header       string
	NumberColumn string
	Lines        string
	LineFK       string
	WeightColumn string
}

// Insert writes a header row with its assigned number.
func (t Table) Insert(ctx context.Context, q db.DBTX, number int64, h Header) (Created, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, ref_no, ref_date, party_id, remarks, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at`, t.Header, t.NumberColumn)
	out := Created{Number: number}
	if err := q.QueryRow(ctx, query, number, h.RefNo, h.RefDate, h.PartyID, h.Remarks, h.CreatorID).Scan(&out.ID, &out.CreatedAt); err != nil {
		return Created{}, MapWriteError(err)
	}
	return out, nil
}

// Lock row-locks the header for the rest of the transaction.
func (t Table) Lock(ctx context.Context, q db.DBTX, id int64) error {
	var found int64
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, t.Header), id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

// UpdateHeader rewrites the editable header fields. The document number never changes.
func (t Table) UpdateHeader(ctx context.Context, q db.DBTX, id int64, h Header) error {
	query := fmt.Sprintf(`
		UPDATE %s SET ref_no = $2, ref_date = $3, party_id = $4, remarks = $5, creator_id = $6, updated_at = NOW()
		WHERE id = $1`, t.Header)
	tag, err := q.Exec(ctx, query, id, h.RefNo, h.RefDate, h.PartyID, h.Remarks, h.CreatorID)
	if err != nil {
		return MapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteLines removes every line of a document.
func (t Table) DeleteLines(ctx context.Context, q db.DBTX, id int64) error {
	_, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.Lines, t.LineFK), id)
	return err
}

// Delete removes the header row. Lines must already be gone.
func (t Table) Delete(ctx context.Context, q db.DBTX, id int64) error {
	tag, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.Header), id)
	if err != nil {
		return MapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Get loads a header with party and creator names.
func (t Table) Get(ctx context.Context, q db.DBTX, id int64) (Stored, error) {
	query := fmt.Sprintf(`
		SELECT h.id, h.%s, h.ref_no, h.ref_date, h.party_id, h.remarks, h.creator_id,
		       p.name, u.name, h.created_at, h.updated_at
		FROM %s h
		JOIN parties p ON p.id = h.party_id
		JOIN users u ON u.id = h.creator_id
		WHERE h.id = $1`, t.NumberColumn, t.Header)
	var s Stored
	err := q.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Number, &s.Header.RefNo, &s.Header.RefDate, &s.Header.PartyID, &s.Header.Remarks, &s.Header.CreatorID,
		&s.PartyName, &s.CreatorName, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stored{}, shared.ErrNotFound
	}
	if err != nil {
		return Stored{}, fmt.Errorf("document: get %s: %w", t.Header, err)
	}
	return s, nil
}

// List returns one page of summaries ordered by number, newest first. Line weights of
// excludeVariantID are left out of the total; pass 0 to count every line.
func (t Table) List(ctx context.Context, q db.DBTX, filter ListFilter, excludeVariantID int64) ([]Summary, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if s := strings.TrimSpace(filter.Query); s != "" {
		conditions = append(conditions, fmt.Sprintf("(CAST(h.%s AS TEXT) = $%d OR h.ref_no ILIKE $%d OR p.name ILIKE $%d)",
			t.NumberColumn, argPos, argPos+1, argPos+1))
		args = append(args, s, "%"+s+"%")
		argPos += 2
	}
	if filter.PartyID != nil {
		conditions = append(conditions, fmt.Sprintf("h.party_id = $%d", argPos))
		args = append(args, *filter.PartyID)
		argPos++
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("h.ref_date >= $%d", argPos))
		args = append(args, *filter.DateFrom)
		argPos++
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("h.ref_date <= $%d", argPos))
		args = append(args, *filter.DateTo)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s h JOIN parties p ON p.id = h.party_id %s`, t.Header, whereClause)
	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("document: count %s: %w", t.Header, err)
	}

	query := fmt.Sprintf(`
		SELECT h.id, h.%[1]s, h.ref_date, h.ref_no, h.party_id, p.name, h.remarks, u.name,
		       COALESCE(lt.total, 0)
		FROM %[2]s h
		JOIN parties p ON p.id = h.party_id
		JOIN users u ON u.id = h.creator_id
		LEFT JOIN (
			SELECT %[3]s AS doc_id, SUM(%[4]s) FILTER (WHERE variant_id <> $%[6]d) AS total
			FROM %[5]s
			GROUP BY %[3]s
		) lt ON lt.doc_id = h.id
		%[7]s
		ORDER BY h.%[1]s DESC
		LIMIT $%[8]d OFFSET $%[9]d`,
		t.NumberColumn, t.Header, t.LineFK, t.WeightColumn, t.Lines,
		argPos, whereClause, argPos+1, argPos+2)
	args = append(args, excludeVariantID, filter.Page.Limit(), filter.Page.Offset())

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("document: list %s: %w", t.Header, err)
	}
	defer rows.Close()

	items := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Number, &s.RefDate, &s.RefNo, &s.PartyID, &s.PartyName, &s.Remarks, &s.CreatorName, &s.TotalWeight); err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// MapWriteError converts constraint failures into rule errors.
func MapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return shared.NewRuleError(shared.RuleUnique, shared.ErrConflict, "duplicate "+db.ConstraintName(err))
	case db.IsForeignKeyViolation(err):
		return shared.NewRuleError(shared.RuleReference, shared.ErrNotFound, "missing reference "+db.ConstraintName(err))
	case db.IsNumericOutOfRange(err):
		return shared.NewRuleError(shared.RuleValidation, shared.ErrValidation, "numeric value out of range")
	}
	return err
}
