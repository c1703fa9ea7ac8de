package services

import (
	"context"
	"errors"
	"fmt"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/timeutil"

	"go.uber.org/zap"
)

// InventoryCycleService manages company-wide counting cycles
type InventoryCycleService struct {
	store  repositories.Store
	master repositories.MasterData
	clock  timeutil.Clock
	logger *zap.Logger
}

func NewInventoryCycleService(store repositories.Store, master repositories.MasterData, clock timeutil.Clock, logger *zap.Logger) *InventoryCycleService {
	return &InventoryCycleService{store: store, master: master, clock: clock, logger: logger}
}

// StartCycle opens a cycle with one PENDING SectorCount per active sector of the company
func (s *InventoryCycleService) StartCycle(ctx context.Context, companyID, operatorID int) (*models.InventoryCycle, error) {
	sectors, err := s.master.ListActiveSectors(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load sectors: %w", err)
	}

	var cycle *models.InventoryCycle
	err = s.store.InTx(ctx, func(tx repositories.Tx) error {
		if err := tx.LockCompany(ctx, companyID); err != nil {
			return err
		}
		active, err := tx.FindActiveCycle(ctx, companyID)
		if err == nil {
			return newError(KindAlreadyActiveCycle, 0, "company %d already has cycle %d %s", companyID, active.ID, active.Status)
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		now := s.clock.Now()
		op := operatorID
		cycle = &models.InventoryCycle{
			CompanyID:       companyID,
			Status:          models.CyclePending,
			StartedByUserID: &op,
			StartedAt:       &now,
			TotalSectors:    len(sectors),
		}
		if err := tx.CreateCycle(ctx, cycle); err != nil {
			return fmt.Errorf("create cycle: %w", err)
		}

		for _, sector := range sectors {
			sc := &models.SectorCount{
				CycleID:    cycle.ID,
				SectorID:   sector.ID,
				SectorName: sector.Name,
				Status:     models.SectorPending,
			}
			if err := tx.CreateSectorCount(ctx, sc); err != nil {
				return fmt.Errorf("create sector count for sector %d: %w", sector.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("inventory cycle started",
		zap.Int("cycle_id", cycle.ID),
		zap.Int("company_id", companyID),
		zap.Int("sectors", len(sectors)))
	return cycle, nil
}

// CancelCycle cancels the cycle and every sector still open in it
func (s *InventoryCycleService) CancelCycle(ctx context.Context, cycleID int) (*models.InventoryCycle, error) {
	var cycle *models.InventoryCycle
	cancelled := 0
	err := s.store.InTx(ctx, func(tx repositories.Tx) error {
		c, err := tx.LockCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if !c.Status.IsActive() {
			return newError(KindInvalidTransition, 0, "cycle %d is already %s", cycleID, c.Status)
		}

		now := s.clock.Now()
		cancelled, err = tx.CancelOpenSectors(ctx, cycleID, now)
		if err != nil {
			return fmt.Errorf("cancel sectors: %w", err)
		}

		c.Status = models.CycleCancelled
		c.FinishedAt = &now
		if err := s.applyStats(ctx, tx, c); err != nil {
			return err
		}
		cycle = c
		return tx.UpdateCycle(ctx, c)
	})
	if err != nil {
		return nil, wrapCycleNotFound(err, cycleID)
	}

	s.logger.Warn("inventory cycle cancelled", zap.Int("cycle_id", cycleID), zap.Int("sectors_cancelled", cancelled))
	return cycle, nil
}

// RefreshCycleStats recomputes the cycle's counters from its sectors. A PENDING cycle
// becomes IN_PROGRESS once any sector moves, and COMPLETED once every sector is.
func (s *InventoryCycleService) RefreshCycleStats(ctx context.Context, cycleID int) (*models.InventoryCycle, error) {
	var cycle *models.InventoryCycle
	err := s.store.InTx(ctx, func(tx repositories.Tx) error {
		c, err := tx.LockCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		cycle = c
		if !c.Status.IsActive() {
			return nil
		}

		if err := s.applyStats(ctx, tx, c); err != nil {
			return err
		}

		from := c.Status
		switch {
		case c.TotalSectors > 0 && c.CompletedSectors == c.TotalSectors:
			now := s.clock.Now()
			c.Status = models.CycleCompleted
			c.FinishedAt = &now
		case c.Status == models.CyclePending && (c.CompletedSectors > 0 || c.SectorsInProgress > 0 || c.SectorsWithDifferences > 0):
			c.Status = models.CycleInProgress
		}
		if from != c.Status {
			s.logger.Info("inventory cycle status changed",
				zap.Int("cycle_id", c.ID),
				zap.String("from", string(from)),
				zap.String("to", string(c.Status)))
		}
		return tx.UpdateCycle(ctx, c)
	})
	if err != nil {
		return nil, wrapCycleNotFound(err, cycleID)
	}
	return cycle, nil
}

func (s *InventoryCycleService) applyStats(ctx context.Context, tx repositories.Tx, c *models.InventoryCycle) error {
	sectors, err := tx.ListSectorCounts(ctx, c.ID)
	if err != nil {
		return err
	}
	c.TotalSectors = 0
	c.CompletedSectors = 0
	c.SectorsWithDifferences = 0
	c.SectorsInProgress = 0
	for _, sc := range sectors {
		if sc.Status == models.SectorCancelled {
			continue
		}
		c.TotalSectors++
		switch sc.Status {
		case models.SectorCompleted:
			c.CompletedSectors++
		case models.SectorWithDifferences:
			c.SectorsWithDifferences++
		case models.SectorInProgress, models.SectorAwaitingVerification:
			c.SectorsInProgress++
		}
	}
	return nil
}

func (s *InventoryCycleService) GetCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	c, err := s.store.GetCycle(ctx, id)
	if err != nil {
		return nil, wrapCycleNotFound(err, id)
	}
	return c, nil
}

func (s *InventoryCycleService) ListSectorCounts(ctx context.Context, cycleID int) ([]*models.SectorCount, error) {
	if _, err := s.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.store.ListSectorCounts(ctx, cycleID)
}

func wrapCycleNotFound(err error, cycleID int) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return newError(KindNotFound, 0, "cycle %d not found", cycleID)
	}
	return err
}
