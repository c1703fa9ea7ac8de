package repositories

import (
	"context"
	"fmt"
	"time"

	"count-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const sectorCountColumns = `sc.id, sc.cycle_id, sc.sector_id, COALESCE(s.name, ''), sc.user_a_id, sc.user_b_id, sc.status,
	sc.current_round, sc.finished_by_user_id, sc.round_started_at, sc.legacy_marker,
	sc.total_products, sc.products_counted, sc.products_with_differences, sc.percent_complete,
	sc.started_at, sc.finished_at, sc.forced_by_user_id, sc.force_reason, sc.version, sc.created_at, sc.updated_at`

const sectorCountFrom = `FROM sector_counts sc LEFT JOIN sectors s ON s.id = sc.sector_id`

func scanSectorCount(row pgx.Row) (*models.SectorCount, error) {
	var sc models.SectorCount
	err := row.Scan(&sc.ID, &sc.CycleID, &sc.SectorID, &sc.SectorName, &sc.UserAID, &sc.UserBID, &sc.Status,
		&sc.Marker.Round, &sc.Marker.FinishedByUserID, &sc.Marker.RoundStartedAt, &sc.LegacyMarker,
		&sc.TotalProducts, &sc.ProductsCounted, &sc.ProductsWithDifferences, &sc.PercentComplete,
		&sc.StartedAt, &sc.FinishedAt, &sc.ForcedByUserID, &sc.ForceReason, &sc.Version, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (r *pgRepo) GetSectorCount(ctx context.Context, id int) (*models.SectorCount, error) {
	return scanSectorCount(r.q.QueryRow(ctx,
		`SELECT `+sectorCountColumns+` `+sectorCountFrom+` WHERE sc.id=$1`, id))
}

// lockSectorCount takes the row lock that serializes every mutation of one sector
func (r *pgRepo) lockSectorCount(ctx context.Context, id int) (*models.SectorCount, error) {
	return scanSectorCount(r.q.QueryRow(ctx,
		`SELECT `+sectorCountColumns+` `+sectorCountFrom+` WHERE sc.id=$1 FOR UPDATE OF sc`, id))
}

func (r *pgRepo) FindSectorCount(ctx context.Context, cycleID, sectorID int) (*models.SectorCount, error) {
	return scanSectorCount(r.q.QueryRow(ctx,
		`SELECT `+sectorCountColumns+` `+sectorCountFrom+` WHERE sc.cycle_id=$1 AND sc.sector_id=$2`,
		cycleID, sectorID))
}

func (r *pgRepo) ListSectorCounts(ctx context.Context, cycleID int) ([]*models.SectorCount, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+sectorCountColumns+` `+sectorCountFrom+` WHERE sc.cycle_id=$1 ORDER BY sc.id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.SectorCount
	for rows.Next() {
		sc, err := scanSectorCount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sc)
	}
	return list, rows.Err()
}

func (r *pgRepo) CreateSectorCount(ctx context.Context, sc *models.SectorCount) error {
	if sc.Status == "" {
		sc.Status = models.SectorPending
	}
	return r.q.QueryRow(ctx,
		`INSERT INTO sector_counts(cycle_id, sector_id, user_a_id, user_b_id, status, current_round, percent_complete)
         VALUES($1, $2, $3, $4, $5, $6, $7)
         RETURNING id, version, created_at, updated_at`,
		sc.CycleID, sc.SectorID, sc.UserAID, sc.UserBID, sc.Status, sc.Marker.Round, sc.PercentComplete,
	).Scan(&sc.ID, &sc.Version, &sc.CreatedAt, &sc.UpdatedAt)
}

// UpdateSectorCount writes every mutable column and bumps the version.
// The legacy marker is cleared once the typed marker has been written.
func (r *pgRepo) UpdateSectorCount(ctx context.Context, sc *models.SectorCount) error {
	err := r.q.QueryRow(ctx,
		`UPDATE sector_counts SET
            user_a_id=$1, user_b_id=$2, status=$3, current_round=$4, finished_by_user_id=$5, round_started_at=$6,
            legacy_marker=NULL, total_products=$7, products_counted=$8, products_with_differences=$9,
            percent_complete=$10, started_at=$11, finished_at=$12, forced_by_user_id=$13, force_reason=$14,
            version=version+1, updated_at=NOW()
         WHERE id=$15 AND version=$16
         RETURNING version, updated_at`,
		sc.UserAID, sc.UserBID, sc.Status, sc.Marker.Round, sc.Marker.FinishedByUserID, sc.Marker.RoundStartedAt,
		sc.TotalProducts, sc.ProductsCounted, sc.ProductsWithDifferences,
		sc.PercentComplete, sc.StartedAt, sc.FinishedAt, sc.ForcedByUserID, sc.ForceReason,
		sc.ID, sc.Version,
	).Scan(&sc.Version, &sc.UpdatedAt)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return fmt.Errorf("sector count %d: %w", sc.ID, ErrConcurrentUpdate)
		}
		return err
	}
	sc.LegacyMarker = nil
	return nil
}

func (r *pgRepo) CancelOpenSectors(ctx context.Context, cycleID int, at time.Time) (int, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE sector_counts SET status=$1, finished_at=$2, version=version+1, updated_at=NOW()
         WHERE cycle_id=$3 AND status NOT IN ($4, $1)`,
		models.SectorCancelled, at, cycleID, models.SectorCompleted)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
