package repositories

import (
	"context"
	"time"

	"count-backend/internal/models"
)

func (r *pgRepo) ListRecountEntries(ctx context.Context, sectorCountID, round int) ([]*models.RecountEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, sector_count_id, product_id, user_id, round, quantity, formula, created_at, updated_at
         FROM recount_entries
         WHERE sector_count_id=$1 AND round=$2 AND NOT deleted
         ORDER BY updated_at, id`, sectorCountID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.RecountEntry
	for rows.Next() {
		var e models.RecountEntry
		if err := rows.Scan(&e.ID, &e.SectorCountID, &e.ProductID, &e.UserID, &e.Round,
			&e.Quantity, &e.Formula, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SaveRecountEntry inserts the user's entry for the round or replaces its quantity.
// The round of an existing row is never changed.
func (r *pgRepo) SaveRecountEntry(ctx context.Context, e *models.RecountEntry) error {
	return r.q.QueryRow(ctx,
		`INSERT INTO recount_entries(sector_count_id, product_id, user_id, round, quantity, formula)
         VALUES($1, $2, $3, $4, $5, $6)
         ON CONFLICT (sector_count_id, round, product_id, user_id) WHERE NOT deleted
         DO UPDATE SET quantity=EXCLUDED.quantity, formula=EXCLUDED.formula, updated_at=clock_timestamp()
         RETURNING id, created_at, updated_at`,
		e.SectorCountID, e.ProductID, e.UserID, e.Round, e.Quantity, e.Formula,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *pgRepo) GetRecountRound(ctx context.Context, sectorCountID, round int) (*models.RecountRound, error) {
	var rr models.RecountRound
	err := r.q.QueryRow(ctx,
		`SELECT sector_count_id, round, product_ids, verdicts, opened_at, closed_at
         FROM recount_rounds WHERE sector_count_id=$1 AND round=$2`, sectorCountID, round,
	).Scan(&rr.SectorCountID, &rr.Round, &rr.ProductIDs, &rr.Verdicts, &rr.OpenedAt, &rr.ClosedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rr, nil
}

func (r *pgRepo) CreateRecountRound(ctx context.Context, rr *models.RecountRound) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO recount_rounds(sector_count_id, round, product_ids, verdicts, opened_at)
         VALUES($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb), $5)`,
		rr.SectorCountID, rr.Round, rr.ProductIDs, rr.Verdicts, rr.OpenedAt)
	return err
}

func (r *pgRepo) CloseRecountRound(ctx context.Context, sectorCountID, round int, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE recount_rounds SET closed_at=$1 WHERE sector_count_id=$2 AND round=$3 AND closed_at IS NULL`,
		at, sectorCountID, round)
	return err
}
