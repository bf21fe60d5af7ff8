package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/clothstock/internal/platform/db"
	"github.com/odyssey-erp/clothstock/internal/shared"
)

// Repository persists master data.
type Repository interface {
	ListRecords(ctx context.Context, cat Catalog, filters ListFilters) ([]Record, int, error)
	GetRecord(ctx context.Context, cat Catalog, id int64) (Record, error)
	FindRecordByKey(ctx context.Context, cat Catalog, key string) (Record, error)
	CreateRecord(ctx context.Context, cat Catalog, rec Record, key string) (Record, error)
	RenameRecord(ctx context.Context, cat Catalog, id int64, name, key string) error
	SetRecordActive(ctx context.Context, cat Catalog, id int64, active bool) error

	ListParties(ctx context.Context, filters ListFilters) ([]Party, int, error)
	GetParty(ctx context.Context, id int64) (Party, error)
	CreateParty(ctx context.Context, party Party) (Party, error)
	UpdateParty(ctx context.Context, id int64, party Party) error
	SetPartyActive(ctx context.Context, id int64, active bool) error
}

// ErrDuplicate is returned when a unique name or tax id is already taken.
var ErrDuplicate = errors.New("masterdata: duplicate entry")

type repo struct {
	db db.DBTX
}

// NewRepository creates a new master data repository.
func NewRepository(conn db.DBTX) Repository {
	return &repo{db: conn}
}

func (r *repo) ListRecords(ctx context.Context, cat Catalog, filters ListFilters) ([]Record, int, error) {
	where, args := listWhere(filters)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, cat, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT id, name, active, owner_id, created_at, updated_at FROM %s%s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`,
		cat, where, len(args)+1, len(args)+2)
	args = append(args, filters.Page.Limit(), filters.Page.Offset())
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Active, &rec.OwnerID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (r *repo) GetRecord(ctx context.Context, cat Catalog, id int64) (Record, error) {
	query := fmt.Sprintf(`SELECT id, name, active, owner_id, created_at, updated_at FROM %s WHERE id = $1`, cat)
	return r.scanRecord(r.db.QueryRow(ctx, query, id))
}

func (r *repo) FindRecordByKey(ctx context.Context, cat Catalog, key string) (Record, error) {
	query := fmt.Sprintf(`SELECT id, name, active, owner_id, created_at, updated_at FROM %s WHERE name_key = $1`, cat)
	return r.scanRecord(r.db.QueryRow(ctx, query, key))
}

func (r *repo) scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.Active, &rec.OwnerID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, shared.ErrNotFound
	}
	return rec, err
}

func (r *repo) CreateRecord(ctx context.Context, cat Catalog, rec Record, key string) (Record, error) {
	query := fmt.Sprintf(`INSERT INTO %s (name, name_key, active, owner_id, created_at, updated_at)
	          VALUES ($1, $2, TRUE, $3, $4, $4) RETURNING id`, cat)
	now := time.Now()
	if err := r.db.QueryRow(ctx, query, rec.Name, key, rec.OwnerID, now).Scan(&rec.ID); err != nil {
		return Record{}, mapWriteError(err)
	}
	rec.Active = true
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec, nil
}

func (r *repo) RenameRecord(ctx context.Context, cat Catalog, id int64, name, key string) error {
	query := fmt.Sprintf(`UPDATE %s SET name = $2, name_key = $3, updated_at = NOW() WHERE id = $1`, cat)
	tag, err := r.db.Exec(ctx, query, id, name, key)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetRecordActive(ctx context.Context, cat Catalog, id int64, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET active = $2, updated_at = NOW() WHERE id = $1`, cat)
	tag, err := r.db.Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const partyColumns = `id, name, address_line_1, address_line_2, city, COALESCE(pincode, ''), phone, COALESCE(tax_id, ''), active, owner_id, created_at, updated_at`

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(&p.ID, &p.Name, &p.AddressLine1, &p.AddressLine2, &p.City, &p.Pincode, &p.Phone, &p.TaxID, &p.Active, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repo) ListParties(ctx context.Context, filters ListFilters) ([]Party, int, error) {
	where, args := listWhere(filters)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM parties`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + partyColumns + ` FROM parties` + where +
		` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filters.Page.Limit(), filters.Page.Offset())
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, 0, err
		}
		parties = append(parties, p)
	}
	return parties, total, rows.Err()
}

func (r *repo) GetParty(ctx context.Context, id int64) (Party, error) {
	p, err := scanParty(r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, shared.ErrNotFound
	}
	return p, err
}

func (r *repo) CreateParty(ctx context.Context, party Party) (Party, error) {
	query := `INSERT INTO parties (name, address_line_1, address_line_2, city, pincode, phone, tax_id, active, owner_id, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), TRUE, $8, $9, $9) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, party.Name, party.AddressLine1, party.AddressLine2, party.City,
		party.Pincode, party.Phone, party.TaxID, party.OwnerID, now).Scan(&party.ID)
	if err != nil {
		return Party{}, mapWriteError(err)
	}
	party.Active = true
	party.CreatedAt = now
	party.UpdatedAt = now
	return party, nil
}

func (r *repo) UpdateParty(ctx context.Context, id int64, party Party) error {
	query := `UPDATE parties SET name = $2, address_line_1 = $3, address_line_2 = $4, city = $5,
	          pincode = NULLIF($6, ''), phone = $7, tax_id = NULLIF($8, ''), updated_at = NOW()
	          WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, party.Name, party.AddressLine1, party.AddressLine2, party.City,
		party.Pincode, party.Phone, party.TaxID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetPartyActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE parties SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func listWhere(filters ListFilters) (string, []any) {
	var conditions []string
	var args []any
	if filters.Active != nil {
		args = append(args, *filters.Active)
		conditions = append(conditions, "active = $"+strconv.Itoa(len(args)))
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, "%"+s+"%")
		conditions = append(conditions, "name ILIKE $"+strconv.Itoa(len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, db.ConstraintName(err))
	}
	return err
}
