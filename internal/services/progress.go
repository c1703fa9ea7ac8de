package services

import (
	"context"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/timeutil"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// ProgressTracker recomputes a sector's stored statistics after every write
type ProgressTracker struct {
	clock  timeutil.Clock
	rounds *RoundManager
	logger *zap.Logger
}

func NewProgressTracker(clock timeutil.Clock, rounds *RoundManager, logger *zap.Logger) *ProgressTracker {
	return &ProgressTracker{clock: clock, rounds: rounds, logger: logger}
}

// Stats are the progress counters derived from a set of totals
type Stats struct {
	TotalProducts           int             `json:"total_products"`
	ProductsCounted         int             `json:"products_counted"`
	ProductsWithDifferences int             `json:"products_with_differences"`
	PercentComplete         decimal.Decimal `json:"percent_complete"`
}

// ComputeStats derives the counters; percent is rounded to two decimals
func ComputeStats(totals Totals) Stats {
	d := Detect(totals)
	s := Stats{
		TotalProducts:           len(totals),
		ProductsCounted:         d.Counted,
		ProductsWithDifferences: len(d.Differing),
		PercentComplete:         decimal.Zero,
	}
	if s.TotalProducts > 0 {
		s.PercentComplete = decimal.NewFromInt(int64(s.ProductsCounted)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(s.TotalProducts))).
			Round(2)
	}
	return s
}

// Recompute refreshes sc's counters from the sector's entries in its current mode.
// A sector WITH_DIFFERENCES whose totals no longer differ and are fully counted is
// completed here; the return value reports that. The caller persists sc.
func (p *ProgressTracker) Recompute(ctx context.Context, tx repositories.Tx, sc *models.SectorCount) (bool, error) {
	entries, err := tx.ListCountEntries(ctx, sc.ID)
	if err != nil {
		return false, err
	}
	stats := ComputeStats(Consolidate(LinesFromCountEntries(entries), sc.CountMode()))

	sc.TotalProducts = stats.TotalProducts
	sc.ProductsCounted = stats.ProductsCounted
	sc.ProductsWithDifferences = stats.ProductsWithDifferences
	sc.PercentComplete = stats.PercentComplete

	if sc.Status != models.SectorWithDifferences ||
		stats.ProductsWithDifferences != 0 ||
		stats.TotalProducts == 0 ||
		stats.ProductsCounted != stats.TotalProducts {
		return false, nil
	}

	if err := p.rounds.Close(ctx, tx, sc); err != nil {
		return false, err
	}
	now := p.clock.Now()
	sc.Status = models.SectorCompleted
	sc.FinishedAt = &now
	sc.Marker.FinishedByUserID = nil

	p.logger.Info("sector completed by recount",
		zap.Int("sector_count_id", sc.ID),
		zap.Int("round", sc.Marker.Round))
	return true, nil
}
