package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/timeutil"

	"go.uber.org/zap"
)

// RoundManager owns the numbered recount rounds of a sector. Round numbers only grow
// and a round's scope never exceeds the previous round's scope.
type RoundManager struct {
	clock  timeutil.Clock
	logger *zap.Logger
}

func NewRoundManager(clock timeutil.Clock, logger *zap.Logger) *RoundManager {
	return &RoundManager{clock: clock, logger: logger}
}

// Open closes the current round (if any) and opens the next one scoped to productIDs.
// verdicts records why each product needs a recount; entries outside the scope are dropped.
// The sector's marker moves to the new round with no finisher; the caller persists sc.
func (m *RoundManager) Open(ctx context.Context, tx repositories.Tx, sc *models.SectorCount, productIDs []int,
	verdicts map[int]Classification) (*models.RecountRound, error) {
	scope := dedupe(productIDs)

	if sc.Marker.Round > 0 {
		prev, err := m.Current(ctx, tx, sc)
		if err != nil {
			return nil, err
		}
		scope = intersect(scope, prev.ProductIDs)
	}
	if len(scope) == 0 {
		return nil, fmt.Errorf("sector count %d: recount round needs at least one product", sc.ID)
	}

	now := m.clock.Now()
	if sc.Marker.Round > 0 {
		if err := tx.CloseRecountRound(ctx, sc.ID, sc.Marker.Round, now); err != nil {
			return nil, fmt.Errorf("close round %d: %w", sc.Marker.Round, err)
		}
	}

	rr := &models.RecountRound{
		SectorCountID: sc.ID,
		Round:         sc.Marker.Round + 1,
		ProductIDs:    scope,
		Verdicts:      make(map[int]string, len(scope)),
		OpenedAt:      now,
	}
	for _, id := range scope {
		if c, ok := verdicts[id]; ok {
			rr.Verdicts[id] = string(c)
		}
	}
	if err := tx.CreateRecountRound(ctx, rr); err != nil {
		return nil, fmt.Errorf("open round %d: %w", rr.Round, err)
	}

	sc.Marker = models.RoundMarker{Round: rr.Round, RoundStartedAt: &now}
	m.logger.Info("recount round opened",
		zap.Int("sector_count_id", sc.ID),
		zap.Int("round", rr.Round),
		zap.Ints("product_ids", scope))
	return rr, nil
}

// Close stamps the current round closed; no-op during the initial pass
func (m *RoundManager) Close(ctx context.Context, tx repositories.Tx, sc *models.SectorCount) error {
	if sc.Marker.Round == 0 {
		return nil
	}
	return tx.CloseRecountRound(ctx, sc.ID, sc.Marker.Round, m.clock.Now())
}

// Current loads the sector's open round
func (m *RoundManager) Current(ctx context.Context, r repositories.Reader, sc *models.SectorCount) (*models.RecountRound, error) {
	if sc.Marker.Round == 0 {
		return nil, newError(KindInvalidTransition, sc.ID, "sector is not in a recount round")
	}
	rr, err := r.GetRecountRound(ctx, sc.ID, sc.Marker.Round)
	if err != nil {
		return nil, fmt.Errorf("load round %d: %w", sc.Marker.Round, err)
	}
	return rr, nil
}

// Ensure returns the current round, rebuilding it when an imported sector points at a
// round that was never recorded. The rebuilt scope is the products that differ now, or
// every counted product when nothing differs.
func (m *RoundManager) Ensure(ctx context.Context, tx repositories.Tx, sc *models.SectorCount) (*models.RecountRound, error) {
	rr, err := m.Current(ctx, tx, sc)
	if err == nil || !errors.Is(err, repositories.ErrNotFound) {
		return rr, err
	}

	entries, err := tx.ListCountEntries(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	if err := collapseInitialEntries(ctx, tx, sc.ID, entries); err != nil {
		return nil, err
	}
	entries, err = tx.ListCountEntries(ctx, sc.ID)
	if err != nil {
		return nil, err
	}

	totals := Consolidate(LinesFromCountEntries(entries), models.ModeRecount)
	d := Detect(totals)
	scope := d.Differing
	if len(scope) == 0 {
		scope = totals.ProductIDs()
	}

	rr = &models.RecountRound{
		SectorCountID: sc.ID,
		Round:         sc.Marker.Round,
		ProductIDs:    scope,
		Verdicts:      make(map[int]string, len(scope)),
		OpenedAt:      m.clock.Now(),
	}
	for id, c := range d.Verdicts() {
		if rr.Contains(id) {
			rr.Verdicts[id] = string(c)
		}
	}
	if err := tx.CreateRecountRound(ctx, rr); err != nil {
		return nil, fmt.Errorf("rebuild round %d: %w", rr.Round, err)
	}
	m.logger.Warn("rebuilt missing recount round",
		zap.Int("sector_count_id", sc.ID),
		zap.Int("round", rr.Round),
		zap.Ints("product_ids", scope))
	return rr, nil
}

// Complete reports whether both assignees have at least one entry in the current round
func (m *RoundManager) Complete(ctx context.Context, r repositories.Reader, sc *models.SectorCount) (bool, error) {
	if sc.Marker.Round == 0 {
		return false, nil
	}
	entries, err := r.ListRecountEntries(ctx, sc.ID, sc.Marker.Round)
	if err != nil {
		return false, err
	}
	var seenA, seenB bool
	for _, p := range Consolidate(LinesFromRecountEntries(entries, sc), models.ModeRecount) {
		seenA = seenA || p.UserA.Counted
		seenB = seenB || p.UserB.Counted
	}
	return seenA && seenB, nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func intersect(a, b []int) []int {
	in := make(map[int]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	var out []int
	for _, id := range a {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}
