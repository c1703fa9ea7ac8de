package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"count-backend/internal/cache"
	"count-backend/internal/metrics"
	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/timeutil"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SectorCountService runs the two-person blind counting state machine of a sector
type SectorCountService struct {
	store    repositories.Store
	master   repositories.MasterData
	cycles   *InventoryCycleService
	cache    *cache.ConsolidationCache
	rounds   *RoundManager
	progress *ProgressTracker
	clock    timeutil.Clock
	logger   *zap.Logger
}

func NewSectorCountService(
	store repositories.Store,
	master repositories.MasterData,
	cycles *InventoryCycleService,
	cache *cache.ConsolidationCache,
	clock timeutil.Clock,
	logger *zap.Logger,
) *SectorCountService {
	rounds := NewRoundManager(clock, logger)
	return &SectorCountService{
		store:    store,
		master:   master,
		cycles:   cycles,
		cache:    cache,
		rounds:   rounds,
		progress: NewProgressTracker(clock, rounds, logger),
		clock:    clock,
		logger:   logger,
	}
}

// SubmitCountInput is one count submission
type SubmitCountInput struct {
	SectorCountID int
	UserID        int
	ProductID     int
	Quantity      decimal.Decimal
	Formula       string
}

// SubmitResult echoes the caller's entry; Entry never carries the other counter's slot
type SubmitResult struct {
	Sector     *models.SectorCount `json:"sector"`
	Entry      *models.CountEntry  `json:"entry"`
	SelfHealed bool                `json:"self_healed"`
}

// FinalizeOutcome tells the caller which way a finalize went
type FinalizeOutcome string

const (
	OutcomeAwaitingVerification FinalizeOutcome = "AWAITING_VERIFICATION"
	OutcomeCompleted            FinalizeOutcome = "COMPLETED"
	OutcomeWithDifferences      FinalizeOutcome = "WITH_DIFFERENCES"
)

type FinalizeResult struct {
	Sector            *models.SectorCount `json:"sector"`
	Outcome           FinalizeOutcome     `json:"outcome"`
	Round             int                 `json:"round"`
	DifferingProducts []int               `json:"differing_product_ids,omitempty"`
}

// withSector runs fn under the sector's row lock. Missing sectors become ErrNotFound and
// imported markers are resolved before fn sees the sector.
func (s *SectorCountService) withSector(ctx context.Context, id int, fn func(tx repositories.Tx, sc *models.SectorCount) error) error {
	return s.store.InSectorTx(ctx, id, func(tx repositories.Tx, sc *models.SectorCount) error {
		s.resolveMarker(sc)
		return fn(tx, sc)
	})
}

func (s *SectorCountService) wrapNotFound(err error, what string, id int) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return newError(KindNotFound, 0, "%s %d not found", what, id)
	}
	return err
}

// resolveMarker replaces an imported free-text marker with its typed form. An
// unreadable marker keeps the recorded round, or the first pass of the current phase,
// with no finisher.
func (s *SectorCountService) resolveMarker(sc *models.SectorCount) {
	if sc.LegacyMarker == nil {
		return
	}
	raw := *sc.LegacyMarker
	m, err := models.ParseLegacyMarker(raw, sc, sc.Marker)
	if err != nil {
		m = models.FallbackMarker(sc)
		s.logger.Warn("unreadable legacy round marker, using fallback",
			zap.Int("sector_count_id", sc.ID),
			zap.String("marker", raw),
			zap.Int("fallback_round", m.Round),
			zap.Error(err))
	}
	sc.Marker = m
	sc.LegacyMarker = nil
}

// Get loads a sector count
func (s *SectorCountService) Get(ctx context.Context, id int) (*models.SectorCount, error) {
	sc, err := s.store.GetSectorCount(ctx, id)
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", id)
	}
	s.resolveMarker(sc)
	return sc, nil
}

// EnsureSectorCount returns the cycle's SectorCount for sectorID, creating it when the
// sector joined after the cycle started.
func (s *SectorCountService) EnsureSectorCount(ctx context.Context, cycleID, sectorID int) (*models.SectorCount, error) {
	sc, err := s.store.FindSectorCount(ctx, cycleID, sectorID)
	if err == nil {
		s.resolveMarker(sc)
		return sc, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	sector, err := s.master.GetSector(ctx, sectorID)
	if err != nil {
		return nil, s.wrapNotFound(err, "sector", sectorID)
	}

	err = s.store.InTx(ctx, func(tx repositories.Tx) error {
		cycle, err := tx.LockCycle(ctx, cycleID)
		if err != nil {
			return s.wrapNotFound(err, "cycle", cycleID)
		}
		if !cycle.Status.IsActive() {
			return newError(KindInvalidTransition, 0, "cycle %d is %s", cycleID, cycle.Status)
		}
		if sector.CompanyID != cycle.CompanyID {
			return newError(KindNotFound, 0, "sector %d not found in company %d", sectorID, cycle.CompanyID)
		}

		sc, err = tx.FindSectorCount(ctx, cycleID, sectorID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		sc = &models.SectorCount{
			CycleID:    cycleID,
			SectorID:   sectorID,
			SectorName: sector.Name,
			Status:     models.SectorPending,
		}
		if err := tx.CreateSectorCount(ctx, sc); err != nil {
			return fmt.Errorf("create sector count: %w", err)
		}
		cycle.TotalSectors++
		return tx.UpdateCycle(ctx, cycle)
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// AssignUsers sets the two counters of a sector and resets it to PENDING
func (s *SectorCountService) AssignUsers(ctx context.Context, sectorCountID, userAID, userBID int) (*models.SectorCount, error) {
	if userAID == userBID {
		return nil, newError(KindInvalidAssignment, sectorCountID, "a sector needs two different counters")
	}
	for _, id := range []int{userAID, userBID} {
		u, err := s.master.GetUser(ctx, id)
		if err != nil {
			return nil, s.wrapNotFound(err, "user", id)
		}
		if !u.IsActive {
			return nil, newError(KindInvalidAssignment, sectorCountID, "user %d is suspended", id)
		}
	}

	var out *models.SectorCount
	var from models.SectorStatus
	err := s.withSector(ctx, sectorCountID, func(tx repositories.Tx, sc *models.SectorCount) error {
		if sc.Status.IsTerminal() || sc.Marker.Round > 0 {
			return newError(KindInvalidTransition, sc.ID, "cannot reassign a %s sector in round %d", sc.Status, sc.Marker.Round)
		}
		from = sc.Status
		a, b := userAID, userBID
		sc.UserAID = &a
		sc.UserBID = &b
		sc.Status = models.SectorPending
		sc.Marker.FinishedByUserID = nil

		if err := tx.UpdateSectorCount(ctx, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", sectorCountID)
	}

	metrics.ObserveTransition(string(from), string(out.Status))
	s.cache.InvalidateSector(ctx, sectorCountID)
	s.logger.Info("sector counters assigned",
		zap.Int("sector_count_id", sectorCountID),
		zap.Int("user_a_id", userAID),
		zap.Int("user_b_id", userBID))
	return out, nil
}

// StartCounting moves a PENDING sector to IN_PROGRESS. Calling it again is a no-op.
func (s *SectorCountService) StartCounting(ctx context.Context, sectorCountID, userID int) (*models.SectorCount, error) {
	var out *models.SectorCount
	started := false
	err := s.withSector(ctx, sectorCountID, func(tx repositories.Tx, sc *models.SectorCount) error {
		if !sc.IsAssigned(userID) {
			return newError(KindUnauthorized, sc.ID, "user %d is not assigned to this sector", userID)
		}
		if sc.Status.IsTerminal() {
			return newError(KindInvalidTransition, sc.ID, "sector is %s", sc.Status)
		}
		out = sc
		if sc.Status != models.SectorPending {
			return nil
		}
		s.start(sc)
		started = true
		return tx.UpdateSectorCount(ctx, sc)
	})
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", sectorCountID)
	}

	if started {
		metrics.ObserveTransition(string(models.SectorPending), string(out.Status))
		s.logger.Info("sector counting started", zap.Int("sector_count_id", sectorCountID), zap.Int("user_id", userID))
		s.refreshCycle(ctx, out.CycleID)
	}
	return out, nil
}

func (s *SectorCountService) start(sc *models.SectorCount) {
	now := s.clock.Now()
	sc.Status = models.SectorInProgress
	if sc.StartedAt == nil {
		sc.StartedAt = &now
	}
}

// SubmitCount records one submission. During the initial pass every submission is a new
// row and adds to the user's total; during a recount it replaces the user's number for
// the product.
func (s *SectorCountService) SubmitCount(ctx context.Context, in SubmitCountInput) (*SubmitResult, error) {
	var res SubmitResult
	var from models.SectorStatus
	var mode models.CountMode

	err := s.withSector(ctx, in.SectorCountID, func(tx repositories.Tx, sc *models.SectorCount) error {
		slot, ok := sc.Slot(in.UserID)
		if !ok {
			return newError(KindUnauthorized, sc.ID, "user %d is not assigned to this sector", in.UserID)
		}
		if sc.Status.IsTerminal() {
			return newError(KindInvalidTransition, sc.ID, "sector is %s", sc.Status)
		}
		if sc.FinishedBy(in.UserID) {
			return newError(KindInvalidTransition, sc.ID, "user %d already finalized this pass", in.UserID)
		}
		if !in.Quantity.IsPositive() {
			return newError(KindInvalidQuantity, sc.ID, "quantity %s must be positive", in.Quantity)
		}

		product, err := s.master.GetProduct(ctx, in.ProductID)
		if err != nil {
			return s.wrapNotFound(err, "product", in.ProductID)
		}

		from = sc.Status
		mode = sc.CountMode()
		if sc.Status == models.SectorPending {
			s.start(sc)
		}

		var formula *string
		if in.Formula != "" {
			f := in.Formula
			formula = &f
		}

		if mode == models.ModeInitial {
			entry := &models.CountEntry{
				SectorCountID: sc.ID,
				ProductID:     product.ID,
				SystemStock:   product.SystemStock,
				Kind:          models.EntryInitial,
				Round:         0,
			}
			entry.SetQuantity(slot, in.Quantity, formula)
			if err := tx.CreateCountEntry(ctx, entry); err != nil {
				return fmt.Errorf("create count entry: %w", err)
			}
			res.Entry = entry
		} else {
			entry, err := s.submitRecount(ctx, tx, sc, slot, in, product, formula)
			if err != nil {
				return err
			}
			// the working row also holds the other counter's number
			res.Entry = entry.OnlySlot(slot)
		}

		healed, err := s.progress.Recompute(ctx, tx, sc)
		if err != nil {
			return err
		}
		if err := tx.UpdateSectorCount(ctx, sc); err != nil {
			return err
		}
		res.Sector = sc
		res.SelfHealed = healed
		return nil
	})
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", in.SectorCountID)
	}

	metrics.CountSubmissions.WithLabelValues(string(mode)).Inc()
	metrics.ObserveTransition(string(from), string(res.Sector.Status))
	if res.SelfHealed {
		metrics.SectorSelfHeals.Inc()
	}
	s.cache.InvalidateSector(ctx, in.SectorCountID)
	s.logger.Debug("count submitted",
		zap.Int("sector_count_id", in.SectorCountID),
		zap.Int("user_id", in.UserID),
		zap.Int("product_id", in.ProductID),
		zap.String("mode", string(mode)),
		zap.String("quantity", in.Quantity.String()))
	if from != res.Sector.Status {
		s.refreshCycle(ctx, res.Sector.CycleID)
	}
	return &res, nil
}

// submitRecount upserts the user's RecountEntry and overwrites the user's slot on the
// product's working row, leaving the other user's slot untouched.
func (s *SectorCountService) submitRecount(ctx context.Context, tx repositories.Tx, sc *models.SectorCount,
	slot models.UserSlot, in SubmitCountInput, product *models.Product, formula *string) (*models.CountEntry, error) {
	rr, err := s.rounds.Ensure(ctx, tx, sc)
	if err != nil {
		return nil, err
	}
	if !rr.Contains(product.ID) {
		return nil, newError(KindProductNotInRecountScope, sc.ID,
			"product %d is not part of recount round %d", product.ID, rr.Round)
	}

	re := &models.RecountEntry{
		SectorCountID: sc.ID,
		ProductID:     product.ID,
		UserID:        in.UserID,
		Round:         rr.Round,
		Quantity:      in.Quantity,
		Formula:       formula,
	}
	if err := tx.SaveRecountEntry(ctx, re); err != nil {
		return nil, fmt.Errorf("save recount entry: %w", err)
	}

	rows, err := tx.ListCountEntriesByProduct(ctx, sc.ID, product.ID)
	if err != nil {
		return nil, err
	}
	working := pickWorkingRow(rows, slot)
	if working == nil {
		working = &models.CountEntry{
			SectorCountID: sc.ID,
			ProductID:     product.ID,
			SystemStock:   product.SystemStock,
			Kind:          models.EntryRecount,
			Round:         rr.Round,
		}
		working.SetQuantity(slot, in.Quantity, formula)
		if err := tx.CreateCountEntry(ctx, working); err != nil {
			return nil, fmt.Errorf("create recount row: %w", err)
		}
		return working, nil
	}

	working.SetQuantity(slot, in.Quantity, formula)
	working.Kind = models.EntryRecount
	working.Round = rr.Round
	if err := tx.UpdateCountEntry(ctx, working); err != nil {
		return nil, fmt.Errorf("overwrite recount row: %w", err)
	}
	return working, nil
}

// pickWorkingRow prefers the latest row already holding the user's quantity, then the
// most recent row of the product. rows are in submission order.
func pickWorkingRow(rows []*models.CountEntry, slot models.UserSlot) *models.CountEntry {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].HasQuantity(slot) {
			return rows[i]
		}
	}
	if len(rows) > 0 {
		return rows[len(rows)-1]
	}
	return nil
}

// FinalizeCount closes a user's initial pass
func (s *SectorCountService) FinalizeCount(ctx context.Context, sectorCountID, userID int) (*FinalizeResult, error) {
	return s.finalize(ctx, sectorCountID, userID, false)
}

// FinalizeRecount closes a user's pass of the current recount round
func (s *SectorCountService) FinalizeRecount(ctx context.Context, sectorCountID, userID int) (*FinalizeResult, error) {
	return s.finalize(ctx, sectorCountID, userID, true)
}

func (s *SectorCountService) finalize(ctx context.Context, sectorCountID, userID int, recount bool) (*FinalizeResult, error) {
	var res FinalizeResult
	var from models.SectorStatus

	err := s.withSector(ctx, sectorCountID, func(tx repositories.Tx, sc *models.SectorCount) error {
		if !sc.IsAssigned(userID) {
			return newError(KindUnauthorized, sc.ID, "user %d is not assigned to this sector", userID)
		}
		if !canFinalize(sc, recount) {
			return newError(KindInvalidTransition, sc.ID, "cannot finalize %s pass from %s (round %d)",
				passName(recount), sc.Status, sc.Marker.Round)
		}
		if sc.FinishedBy(userID) {
			return newError(KindInvalidTransition, sc.ID, "user %d already finalized this pass", userID)
		}

		from = sc.Status
		res.Sector = sc

		if sc.Marker.FinishedByUserID == nil {
			if sc.Status == models.SectorPending && sc.StartedAt == nil {
				now := s.clock.Now()
				sc.StartedAt = &now
			}
			id := userID
			sc.Marker.FinishedByUserID = &id
			sc.Status = models.SectorAwaitingVerification
			res.Outcome = OutcomeAwaitingVerification
			res.Round = sc.Marker.Round
			return tx.UpdateSectorCount(ctx, sc)
		}

		if err := s.verify(ctx, tx, sc, &res); err != nil {
			return err
		}
		if _, err := s.progress.Recompute(ctx, tx, sc); err != nil {
			return err
		}
		return tx.UpdateSectorCount(ctx, sc)
	})
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", sectorCountID)
	}

	metrics.ObserveTransition(string(from), string(res.Sector.Status))
	if res.Outcome == OutcomeWithDifferences {
		metrics.RecountRoundsOpened.Inc()
	}
	s.cache.InvalidateSector(ctx, sectorCountID)
	s.logger.Info("sector pass finalized",
		zap.Int("sector_count_id", sectorCountID),
		zap.Int("user_id", userID),
		zap.String("from", string(from)),
		zap.String("to", string(res.Sector.Status)),
		zap.Int("round", res.Round))
	s.refreshCycle(ctx, res.Sector.CycleID)
	return &res, nil
}

func canFinalize(sc *models.SectorCount, recount bool) bool {
	switch sc.Status {
	case models.SectorPending, models.SectorInProgress:
		return !recount && sc.Marker.Round == 0
	case models.SectorWithDifferences:
		return recount
	case models.SectorAwaitingVerification:
		return recount == (sc.Marker.Round > 0)
	default:
		return false
	}
}

func passName(recount bool) string {
	if recount {
		return "recount"
	}
	return "initial"
}

// verify runs when the second user finalizes: compare the two totals and either
// complete the sector or open the next recount round on the differing products.
func (s *SectorCountService) verify(ctx context.Context, tx repositories.Tx, sc *models.SectorCount, res *FinalizeResult) error {
	entries, err := tx.ListCountEntries(ctx, sc.ID)
	if err != nil {
		return err
	}
	totals := Consolidate(LinesFromCountEntries(entries), sc.CountMode())

	if sc.Marker.Round > 0 {
		rr, err := s.rounds.Ensure(ctx, tx, sc)
		if err != nil {
			return err
		}
		totals = totals.Restrict(rr.ProductIDs)
	}

	d := Detect(totals)
	if !d.HasDifferences {
		if err := s.rounds.Close(ctx, tx, sc); err != nil {
			return err
		}
		now := s.clock.Now()
		res.Round = sc.Marker.Round
		sc.Status = models.SectorCompleted
		sc.FinishedAt = &now
		sc.Marker.FinishedByUserID = nil
		res.Outcome = OutcomeCompleted
		return nil
	}

	if sc.Marker.Round == 0 {
		if err := collapseInitialEntries(ctx, tx, sc.ID, entries); err != nil {
			return err
		}
	}
	rr, err := s.rounds.Open(ctx, tx, sc, d.Differing, d.Verdicts())
	if err != nil {
		return err
	}
	sc.Status = models.SectorWithDifferences
	res.Outcome = OutcomeWithDifferences
	res.Round = rr.Round
	res.DifferingProducts = rr.ProductIDs
	return nil
}

// ForceComplete lets an operator close a sector that will not converge
func (s *SectorCountService) ForceComplete(ctx context.Context, sectorCountID, operatorID int, reason string) (*models.SectorCount, error) {
	op, err := s.master.GetUser(ctx, operatorID)
	if err != nil {
		return nil, s.wrapNotFound(err, "user", operatorID)
	}
	if op.Role != models.RoleOperator || !op.IsActive {
		return nil, newError(KindUnauthorized, sectorCountID, "user %d is not an operator", operatorID)
	}

	var out *models.SectorCount
	var from models.SectorStatus
	err = s.withSector(ctx, sectorCountID, func(tx repositories.Tx, sc *models.SectorCount) error {
		if sc.Status != models.SectorWithDifferences && sc.Status != models.SectorAwaitingVerification {
			return newError(KindInvalidTransition, sc.ID, "cannot force-complete a %s sector", sc.Status)
		}
		if err := s.rounds.Close(ctx, tx, sc); err != nil {
			return err
		}
		from = sc.Status
		now := s.clock.Now()
		sc.Status = models.SectorCompleted
		sc.FinishedAt = &now
		sc.Marker.FinishedByUserID = nil
		sc.ForcedByUserID = &op.ID
		if reason != "" {
			r := reason
			sc.ForceReason = &r
		}
		out = sc
		return tx.UpdateSectorCount(ctx, sc)
	})
	if err != nil {
		return nil, s.wrapNotFound(err, "sector count", sectorCountID)
	}

	metrics.ObserveTransition(string(from), string(out.Status))
	s.cache.InvalidateSector(ctx, sectorCountID)
	s.logger.Warn("sector force-completed",
		zap.Int("sector_count_id", sectorCountID),
		zap.Int("operator_id", operatorID),
		zap.String("from", string(from)),
		zap.String("reason", reason))
	s.refreshCycle(ctx, out.CycleID)
	return out, nil
}

// refreshCycle recomputes the owning cycle after the sector transaction committed.
// Cycle stats are derived, so a failure here is logged and retried on the next change.
func (s *SectorCountService) refreshCycle(ctx context.Context, cycleID int) {
	if s.cycles == nil {
		return
	}
	if _, err := s.cycles.RefreshCycleStats(ctx, cycleID); err != nil {
		s.logger.Warn("cycle stats refresh failed", zap.Int("cycle_id", cycleID), zap.Error(err))
	}
}

func userKind(userID int) string {
	return "user:" + strconv.Itoa(userID)
}
