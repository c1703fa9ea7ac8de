package repositories

import (
	"context"

	"count-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const cycleColumns = `id, company_id, status, started_by_user_id, started_at, finished_at,
	total_sectors, completed_sectors, sectors_with_differences, sectors_in_progress, created_at, updated_at`

func scanCycle(row pgx.Row) (*models.InventoryCycle, error) {
	var c models.InventoryCycle
	err := row.Scan(&c.ID, &c.CompanyID, &c.Status, &c.StartedByUserID, &c.StartedAt, &c.FinishedAt,
		&c.TotalSectors, &c.CompletedSectors, &c.SectorsWithDifferences, &c.SectorsInProgress,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *pgRepo) GetCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	return scanCycle(r.q.QueryRow(ctx, `SELECT `+cycleColumns+` FROM inventory_cycles WHERE id=$1`, id))
}

// FindActiveCycle returns the company's PENDING or IN_PROGRESS cycle, if any
func (r *pgRepo) FindActiveCycle(ctx context.Context, companyID int) (*models.InventoryCycle, error) {
	return scanCycle(r.q.QueryRow(ctx,
		`SELECT `+cycleColumns+` FROM inventory_cycles
         WHERE company_id=$1 AND status IN ($2, $3)
         ORDER BY id DESC LIMIT 1`,
		companyID, models.CyclePending, models.CycleInProgress))
}

func (r *pgRepo) LockCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	return scanCycle(r.q.QueryRow(ctx, `SELECT `+cycleColumns+` FROM inventory_cycles WHERE id=$1 FOR UPDATE`, id))
}

// LockCompany serializes cycle creation per company for the rest of the transaction
func (r *pgRepo) LockCompany(ctx context.Context, companyID int) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(companyID))
	return err
}

func (r *pgRepo) CreateCycle(ctx context.Context, c *models.InventoryCycle) error {
	return r.q.QueryRow(ctx,
		`INSERT INTO inventory_cycles(company_id, status, started_by_user_id, started_at, total_sectors)
         VALUES($1, $2, $3, $4, $5)
         RETURNING id, created_at, updated_at`,
		c.CompanyID, c.Status, c.StartedByUserID, c.StartedAt, c.TotalSectors,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *pgRepo) UpdateCycle(ctx context.Context, c *models.InventoryCycle) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE inventory_cycles SET status=$1, started_at=$2, finished_at=$3, total_sectors=$4,
            completed_sectors=$5, sectors_with_differences=$6, sectors_in_progress=$7, updated_at=NOW()
         WHERE id=$8`,
		c.Status, c.StartedAt, c.FinishedAt, c.TotalSectors,
		c.CompletedSectors, c.SectorsWithDifferences, c.SectorsInProgress, c.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
