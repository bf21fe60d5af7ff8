package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// RefQuery lists the master records a document refers to.
type RefQuery struct {
	PartyID     int64
	CreatorID   int64
	MaterialIDs []int64
	VariantIDs  []int64
}

// RefSnapshot is what LoadReferences found. Materials maps id to active flag; Variants holds
// every existing variant id.
type RefSnapshot struct {
	PartyFound   bool
	PartyActive  bool
	CreatorFound bool
	Materials    map[int64]bool
	Variants     map[int64]bool
}

// NewRefQuery collects the distinct ids referenced by header and pairs.
func NewRefQuery(header Header, pairs []shared.Pair) RefQuery {
	q := RefQuery{PartyID: header.PartyID, CreatorID: header.CreatorID}
	seenM := map[int64]bool{}
	seenV := map[int64]bool{}
	for _, p := range pairs {
		if !seenM[p.MaterialID] {
			seenM[p.MaterialID] = true
			q.MaterialIDs = append(q.MaterialIDs, p.MaterialID)
		}
		if !seenV[p.VariantID] {
			seenV[p.VariantID] = true
			q.VariantIDs = append(q.VariantIDs, p.VariantID)
		}
	}
	return q
}

// CheckReferences returns the first broken reference: the party must exist and be active, the
// creator must exist, each line's material must exist and be active and its variant must exist.
// pairs are indexed like the document lines.
func CheckReferences(snap RefSnapshot, pairs []shared.Pair) error {
	if !snap.PartyFound {
		return fieldError(shared.ErrNotFound, "PartyID", "party not found", -1)
	}
	if !snap.PartyActive {
		return fieldError(shared.ErrInactive, "PartyID", "party is inactive", -1)
	}
	if !snap.CreatorFound {
		return fieldError(shared.ErrNotFound, "CreatorID", "creator not found", -1)
	}
	for i, p := range pairs {
		active, ok := snap.Materials[p.MaterialID]
		if !ok {
			return fieldError(shared.ErrNotFound, "MaterialID", fmt.Sprintf("material %d not found", p.MaterialID), i)
		}
		if !active {
			return fieldError(shared.ErrInactive, "MaterialID", fmt.Sprintf("material %d is inactive", p.MaterialID), i)
		}
		if !snap.Variants[p.VariantID] {
			return fieldError(shared.ErrNotFound, "VariantID", fmt.Sprintf("variant %d not found", p.VariantID), i)
		}
	}
	return nil
}

func fieldError(err error, field, detail string, line int) error {
	re := shared.NewRuleError(shared.RuleReference, err, detail).AtLine(line)
	re.Field = field
	return re
}

// LoadReferences reads the referenced master rows. Run it inside the document transaction.
func LoadReferences(ctx context.Context, q db.DBTX, refs RefQuery) (RefSnapshot, error) {
	snap := RefSnapshot{Materials: map[int64]bool{}, Variants: map[int64]bool{}}

	err := q.QueryRow(ctx, `SELECT active FROM parties WHERE id = $1`, refs.PartyID).Scan(&snap.PartyActive)
	switch {
	case err == nil:
		snap.PartyFound = true
	case !errors.Is(err, pgx.ErrNoRows):
		return snap, fmt.Errorf("document: load party: %w", err)
	}

	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, refs.CreatorID).Scan(&snap.CreatorFound); err != nil {
		return snap, fmt.Errorf("document: load creator: %w", err)
	}

	if len(refs.MaterialIDs) > 0 {
		rows, err := q.Query(ctx, `SELECT id, active FROM materials WHERE id = ANY($1)`, refs.MaterialIDs)
		if err != nil {
			return snap, fmt.Errorf("document: load materials: %w", err)
		}
		for rows.Next() {
			var id int64
			var active bool
			if err := rows.Scan(&id, &active); err != nil {
				rows.Close()
				return snap, err
			}
			snap.Materials[id] = active
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return snap, err
		}
	}

	if len(refs.VariantIDs) > 0 {
		rows, err := q.Query(ctx, `SELECT id FROM variants WHERE id = ANY($1)`, refs.VariantIDs)
		if err != nil {
			return snap, fmt.Errorf("document: load variants: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return snap, err
		}
		for _, id := range ids {
			snap.Variants[id] = true
		}
	}
	return snap, nil
}
