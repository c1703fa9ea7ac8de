package repositories

import (
	"context"

	"count-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const countEntryColumns = `id, sector_count_id, product_id, system_stock,
	quantity_user_a, formula_user_a, quantity_user_b, formula_user_b,
	entry_kind, round, created_at, updated_at`

func scanCountEntries(rows pgx.Rows) ([]*models.CountEntry, error) {
	defer rows.Close()

	var entries []*models.CountEntry
	for rows.Next() {
		var e models.CountEntry
		err := rows.Scan(&e.ID, &e.SectorCountID, &e.ProductID, &e.SystemStock,
			&e.QuantityUserA, &e.FormulaUserA, &e.QuantityUserB, &e.FormulaUserB,
			&e.Kind, &e.Round, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListCountEntries returns the sector's live rows in submission order
func (r *pgRepo) ListCountEntries(ctx context.Context, sectorCountID int) ([]*models.CountEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+countEntryColumns+` FROM count_entries
         WHERE sector_count_id=$1 AND NOT deleted
         ORDER BY created_at, id`, sectorCountID)
	if err != nil {
		return nil, err
	}
	return scanCountEntries(rows)
}

func (r *pgRepo) ListCountEntriesByProduct(ctx context.Context, sectorCountID, productID int) ([]*models.CountEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+countEntryColumns+` FROM count_entries
         WHERE sector_count_id=$1 AND product_id=$2 AND NOT deleted
         ORDER BY created_at, id`, sectorCountID, productID)
	if err != nil {
		return nil, err
	}
	return scanCountEntries(rows)
}

func (r *pgRepo) CreateCountEntry(ctx context.Context, e *models.CountEntry) error {
	return r.q.QueryRow(ctx,
		`INSERT INTO count_entries(sector_count_id, product_id, system_stock,
            quantity_user_a, formula_user_a, quantity_user_b, formula_user_b, entry_kind, round)
         VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
         RETURNING id, created_at, updated_at`,
		e.SectorCountID, e.ProductID, e.SystemStock,
		e.QuantityUserA, e.FormulaUserA, e.QuantityUserB, e.FormulaUserB, e.Kind, e.Round,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// UpdateCountEntry overwrites both slots as held in e; callers change only their own slot
func (r *pgRepo) UpdateCountEntry(ctx context.Context, e *models.CountEntry) error {
	err := r.q.QueryRow(ctx,
		`UPDATE count_entries SET quantity_user_a=$1, formula_user_a=$2, quantity_user_b=$3, formula_user_b=$4,
            entry_kind=$5, round=$6, updated_at=clock_timestamp()
         WHERE id=$7 AND NOT deleted
         RETURNING updated_at`,
		e.QuantityUserA, e.FormulaUserA, e.QuantityUserB, e.FormulaUserB, e.Kind, e.Round, e.ID,
	).Scan(&e.UpdatedAt)
	return notFound(err)
}

// DeleteCountEntries physically removes rows; only consolidation cleanup calls it
func (r *pgRepo) DeleteCountEntries(ctx context.Context, sectorCountID int, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx,
		`DELETE FROM count_entries WHERE sector_count_id=$1 AND id = ANY($2)`, sectorCountID, ids)
	return err
}
