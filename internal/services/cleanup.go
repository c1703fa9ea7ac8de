package services

import (
	"context"
	"fmt"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
)

// collapseInitialEntries folds each product's INITIAL rows into its earliest row,
// holding both users' summed totals and formula trails, and deletes the rest.
// Totals are unchanged; afterwards a product has a single row, so latest-wins reads
// during recount see the initial totals until a user overwrites their slot.
func collapseInitialEntries(ctx context.Context, tx repositories.Tx, sectorCountID int, entries []*models.CountEntry) error {
	byProduct := make(map[int][]*models.CountEntry)
	var order []int
	for _, e := range entries {
		if e.Kind != models.EntryInitial || e.Deleted {
			continue
		}
		if _, ok := byProduct[e.ProductID]; !ok {
			order = append(order, e.ProductID)
		}
		byProduct[e.ProductID] = append(byProduct[e.ProductID], e)
	}

	var doomed []int
	for _, productID := range order {
		rows := byProduct[productID]
		if len(rows) == 1 {
			continue
		}

		totals := Consolidate(LinesFromCountEntries(rows), models.ModeInitial)[productID]
		keep := rows[0]
		setConsolidated(keep, models.SlotA, totals.UserA)
		setConsolidated(keep, models.SlotB, totals.UserB)
		if err := tx.UpdateCountEntry(ctx, keep); err != nil {
			return fmt.Errorf("consolidate product %d: %w", productID, err)
		}
		for _, r := range rows[1:] {
			doomed = append(doomed, r.ID)
		}
	}

	if err := tx.DeleteCountEntries(ctx, sectorCountID, doomed); err != nil {
		return fmt.Errorf("delete consolidated rows: %w", err)
	}
	return nil
}

func setConsolidated(e *models.CountEntry, slot models.UserSlot, t UserTotal) {
	if !t.Counted {
		if slot == models.SlotA {
			e.QuantityUserA.Valid = false
			e.FormulaUserA = nil
		} else {
			e.QuantityUserB.Valid = false
			e.FormulaUserB = nil
		}
		return
	}
	var formula *string
	if t.Formulas != "" {
		f := t.Formulas
		formula = &f
	}
	e.SetQuantity(slot, t.Total, formula)
}
