package services

import (
	"context"
	"errors"
	"fmt"

	"count-backend/internal/cache"
	"count-backend/internal/models"
	"count-backend/internal/repositories"

	"github.com/shopspring/decimal"
)

type UserProductCount struct {
	ProductID int             `json:"product_id"`
	Total     decimal.Decimal `json:"total"`
	Formulas  string          `json:"formulas,omitempty"`
}

// UserCountsView is what one counter may see: their own totals only
type UserCountsView struct {
	SectorCountID int                `json:"sector_count_id"`
	UserID        int                `json:"user_id"`
	Round         int                `json:"round"`
	Mode          models.CountMode   `json:"mode"`
	Products      []UserProductCount `json:"products"`
}

type ComparisonView struct {
	SectorCountID  int                 `json:"sector_count_id"`
	Round          int                 `json:"round"`
	Status         models.SectorStatus `json:"status"`
	HasDifferences bool                `json:"has_differences"`
	Rows           []ComparisonRow     `json:"rows"`
}

type ProgressView struct {
	SectorCountID    int                 `json:"sector_count_id"`
	Status           models.SectorStatus `json:"status"`
	Round            int                 `json:"round"`
	FinishedByUserID *int                `json:"finished_by_user_id,omitempty"`
	RoundComplete    bool                `json:"round_complete"`
	Stats
}

// cacheKey includes the row version so a view cached before a write is never served after it
func cacheKey(sc *models.SectorCount, kind string) string {
	return cache.Key(sc.ID, sc.Marker.Round, fmt.Sprintf("%s:v%d", kind, sc.Version))
}

func (s *SectorCountService) currentTotals(ctx context.Context, sc *models.SectorCount) (Totals, error) {
	entries, err := s.store.ListCountEntries(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	return Consolidate(LinesFromCountEntries(entries), sc.CountMode()), nil
}

// ConsolidatedCountsForUser returns the caller's own consolidated totals
func (s *SectorCountService) ConsolidatedCountsForUser(ctx context.Context, sectorCountID, userID int) (*UserCountsView, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	slot, ok := sc.Slot(userID)
	if !ok {
		return nil, newError(KindUnauthorized, sc.ID, "user %d is not assigned to this sector", userID)
	}

	key := cacheKey(sc, userKind(userID))
	var view UserCountsView
	if s.cache.Get(ctx, key, &view) {
		return &view, nil
	}

	totals, err := s.currentTotals(ctx, sc)
	if err != nil {
		return nil, err
	}

	view = UserCountsView{
		SectorCountID: sc.ID,
		UserID:        userID,
		Round:         sc.Marker.Round,
		Mode:          sc.CountMode(),
		Products:      []UserProductCount{},
	}
	for _, id := range totals.ProductIDs() {
		t := totals[id].For(slot)
		if !t.Counted {
			continue
		}
		view.Products = append(view.Products, UserProductCount{ProductID: id, Total: t.Total, Formulas: t.Formulas})
	}

	s.cache.Set(ctx, key, view)
	return &view, nil
}

// ComparisonView shows both users' totals side by side. Counters only get it once both
// have finished a pass, and while a recount round is open they see their own side of
// the recounted products only. Operators always see everything.
func (s *SectorCountService) ComparisonView(ctx context.Context, sectorCountID, userID int) (*ComparisonView, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	operator, err := s.authorizeReviewer(ctx, sc, userID)
	if err != nil {
		return nil, err
	}
	view, err := s.comparison(ctx, sc)
	if err != nil || operator || !recountOpen(sc) {
		return view, err
	}

	slot, _ := sc.Slot(userID)
	rr, err := s.currentRound(ctx, sc)
	if err != nil {
		return nil, err
	}
	return blindComparison(view, slot, rr), nil
}

// recountOpen reports whether the sector has a recount round whose values are not verified yet
func recountOpen(sc *models.SectorCount) bool {
	return sc.Marker.Round > 0 && sc.Status != models.SectorCompleted
}

// currentRound is rounds.Current with a missing round reported as nil
func (s *SectorCountService) currentRound(ctx context.Context, sc *models.SectorCount) (*models.RecountRound, error) {
	rr, err := s.rounds.Current(ctx, s.store, sc)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return rr, err
}

// verdictOf returns the product's classification when the round opened. rr nil means
// every product is treated as recounted.
func verdictOf(rr *models.RecountRound, productID int) (Classification, bool) {
	if rr == nil {
		return Mismatch, true
	}
	if !rr.Contains(productID) {
		return "", false
	}
	if c, ok := rr.Verdicts[productID]; ok {
		return Classification(c), true
	}
	return Mismatch, true
}

// blindComparison copies view with the other counter's side of every recounted product
// removed. Those rows carry the verdict the round opened with.
func blindComparison(view *ComparisonView, slot models.UserSlot, rr *models.RecountRound) *ComparisonView {
	out := *view
	out.HasDifferences = true
	out.Rows = make([]ComparisonRow, 0, len(view.Rows))
	for _, row := range view.Rows {
		c, recounted := verdictOf(rr, row.ProductID)
		if !recounted {
			out.Rows = append(out.Rows, row)
			continue
		}
		own := row.TotalUserA
		if slot == models.SlotA {
			row.TotalUserB, row.FormulasUserB = decimal.Zero, ""
		} else {
			own = row.TotalUserB
			row.TotalUserA, row.FormulasUserA = decimal.Zero, ""
		}
		row.Difference = decimal.Zero
		row.Variance = meanPositive(own, decimal.Zero).Sub(row.SystemStock)
		row.Classification = c
		row.OtherHidden = true
		out.Rows = append(out.Rows, row)
	}
	return &out
}

func (s *SectorCountService) comparison(ctx context.Context, sc *models.SectorCount) (*ComparisonView, error) {
	key := cacheKey(sc, "comparison")
	var view ComparisonView
	if s.cache.Get(ctx, key, &view) {
		return &view, nil
	}

	totals, err := s.currentTotals(ctx, sc)
	if err != nil {
		return nil, err
	}
	products, err := s.productIndex(ctx, totals.ProductIDs())
	if err != nil {
		return nil, err
	}

	rows := BuildComparison(totals, products)
	view = ComparisonView{
		SectorCountID:  sc.ID,
		Round:          sc.Marker.Round,
		Status:         sc.Status,
		HasDifferences: Detect(totals).HasDifferences,
		Rows:           rows,
	}
	s.cache.Set(ctx, key, view)
	return &view, nil
}

// authorizeReviewer admits assigned counters once the initial pass is verified, and
// operators at any time. operator reports which of the two the caller is.
func (s *SectorCountService) authorizeReviewer(ctx context.Context, sc *models.SectorCount, userID int) (operator bool, err error) {
	if sc.IsAssigned(userID) {
		if sc.Marker.Round == 0 && sc.Status != models.SectorCompleted {
			return false, newError(KindInvalidTransition, sc.ID, "comparison is hidden until both counters finish")
		}
		return false, nil
	}
	if err := s.requireOperator(ctx, sc, userID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SectorCountService) requireOperator(ctx context.Context, sc *models.SectorCount, userID int) error {
	u, err := s.master.GetUser(ctx, userID)
	if err != nil {
		return s.wrapNotFound(err, "user", userID)
	}
	if u.Role != models.RoleOperator {
		return newError(KindUnauthorized, sc.ID, "user %d may not review this sector", userID)
	}
	return nil
}

func (s *SectorCountService) productIndex(ctx context.Context, ids []int) (map[int]*models.Product, error) {
	list, err := s.master.ListProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	idx := make(map[int]*models.Product, len(list))
	for _, p := range list {
		idx[p.ID] = p
	}
	return idx, nil
}

// ProductsWithDifferences lists the current round's products with their live verdict.
// Operators only; it is empty during the initial pass.
func (s *SectorCountService) ProductsWithDifferences(ctx context.Context, sectorCountID, userID int) ([]ProductDifference, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOperator(ctx, sc, userID); err != nil {
		return nil, err
	}
	if sc.Marker.Round == 0 {
		return []ProductDifference{}, nil
	}

	totals, err := s.currentTotals(ctx, sc)
	if err != nil {
		return nil, err
	}
	rr, err := s.currentRound(ctx, sc)
	if err != nil {
		return nil, err
	}
	if rr != nil {
		totals = totals.Restrict(rr.ProductIDs)
	}

	out := []ProductDifference{}
	for _, p := range Detect(totals).Products {
		if p.Classification.Differs() {
			out = append(out, p)
		}
	}
	return out, nil
}

// DifferenceSummary is what a counter learns about a product to recount
type DifferenceSummary struct {
	ProductID      int            `json:"product_id"`
	Classification Classification `json:"classification"`
}

// RecountScope lists the products of the open recount round with the verdict each had
// when the round opened. Live totals are never consulted, so it is safe for counters.
// Empty during the initial pass and once the sector is completed.
func (s *SectorCountService) RecountScope(ctx context.Context, sectorCountID, userID int) ([]DifferenceSummary, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	if !sc.IsAssigned(userID) {
		if err := s.requireOperator(ctx, sc, userID); err != nil {
			return nil, err
		}
	}
	out := []DifferenceSummary{}
	if !recountOpen(sc) {
		return out, nil
	}

	rr, err := s.currentRound(ctx, sc)
	if err != nil {
		return nil, err
	}
	if rr == nil {
		// round not recorded yet; it is rebuilt on the next write
		return out, nil
	}
	for _, id := range rr.ProductIDs {
		c, _ := verdictOf(rr, id)
		out = append(out, DifferenceSummary{ProductID: id, Classification: c})
	}
	return out, nil
}

// CurrentRoundNumber returns 0 during the initial pass, else the recount round
func (s *SectorCountService) CurrentRoundNumber(ctx context.Context, sectorCountID int) (int, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return 0, err
	}
	return sc.Marker.Round, nil
}

func (s *SectorCountService) Progress(ctx context.Context, sectorCountID int) (*ProgressView, error) {
	sc, err := s.Get(ctx, sectorCountID)
	if err != nil {
		return nil, err
	}
	complete, err := s.rounds.Complete(ctx, s.store, sc)
	if err != nil {
		return nil, err
	}
	return &ProgressView{
		SectorCountID:    sc.ID,
		Status:           sc.Status,
		Round:            sc.Marker.Round,
		FinishedByUserID: sc.Marker.FinishedByUserID,
		RoundComplete:    complete,
		Stats: Stats{
			TotalProducts:           sc.TotalProducts,
			ProductsCounted:         sc.ProductsCounted,
			ProductsWithDifferences: sc.ProductsWithDifferences,
			PercentComplete:         sc.PercentComplete,
		},
	}, nil
}
