package services

import (
	"sort"
	"strings"
	"time"

	"count-backend/internal/models"

	"github.com/shopspring/decimal"
)

// FormulaSeparator joins a user's formulas in the audit trail
const FormulaSeparator = " + "

// CountLine is one user's contribution to one product, normalized from either a
// CountEntry slot or a RecountEntry.
type CountLine struct {
	ProductID   int
	Slot        models.UserSlot
	Quantity    decimal.Decimal
	Formula     *string
	SystemStock decimal.Decimal
	UpdatedAt   time.Time
	Seq         int // row id, breaks UpdatedAt ties
}

// UserTotal is one user's consolidated total for a product
type UserTotal struct {
	Total    decimal.Decimal `json:"total"`
	Formulas string          `json:"formulas,omitempty"`
	Counted  bool            `json:"counted"`

	latestAt  time.Time
	latestSeq int
	formulas  []string
}

// ProductTotals holds both users' totals for one product
type ProductTotals struct {
	ProductID   int             `json:"product_id"`
	UserA       UserTotal       `json:"user_a"`
	UserB       UserTotal       `json:"user_b"`
	SystemStock decimal.Decimal `json:"system_stock"`
}

// For returns the total of one slot
func (p *ProductTotals) For(slot models.UserSlot) *UserTotal {
	if slot == models.SlotA {
		return &p.UserA
	}
	return &p.UserB
}

// Totals maps product id to consolidated totals
type Totals map[int]*ProductTotals

// ProductIDs returns the products in ascending id order
func (t Totals) ProductIDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Restrict keeps only the given products
func (t Totals) Restrict(productIDs []int) Totals {
	out := make(Totals, len(productIDs))
	for _, id := range productIDs {
		if p, ok := t[id]; ok {
			out[id] = p
		}
	}
	return out
}

// Consolidate reduces raw lines to one total per user per product.
// Lines must be in submission order. ModeInitial sums every positive quantity; ModeRecount
// keeps the most recently updated positive line per user.
func Consolidate(lines []CountLine, mode models.CountMode) Totals {
	totals := make(Totals)

	for _, l := range lines {
		p, ok := totals[l.ProductID]
		if !ok {
			p = &ProductTotals{ProductID: l.ProductID}
			totals[l.ProductID] = p
		}
		if !l.SystemStock.IsZero() {
			p.SystemStock = l.SystemStock
		}

		if !l.Quantity.IsPositive() {
			continue
		}
		u := p.For(l.Slot)

		switch mode {
		case models.ModeRecount:
			if u.Counted && !newer(l, u) {
				continue
			}
			u.Total = l.Quantity
			u.formulas = nil
			if l.Formula != nil && *l.Formula != "" {
				u.formulas = []string{*l.Formula}
			}
		default:
			u.Total = u.Total.Add(l.Quantity)
			if l.Formula != nil && *l.Formula != "" {
				u.formulas = append(u.formulas, *l.Formula)
			}
		}
		u.Counted = true
		u.latestAt = l.UpdatedAt
		u.latestSeq = l.Seq
	}

	for _, p := range totals {
		p.UserA.Formulas = strings.Join(p.UserA.formulas, FormulaSeparator)
		p.UserB.Formulas = strings.Join(p.UserB.formulas, FormulaSeparator)
	}
	return totals
}

func newer(l CountLine, u *UserTotal) bool {
	if l.UpdatedAt.Equal(u.latestAt) {
		return l.Seq > u.latestSeq
	}
	return l.UpdatedAt.After(u.latestAt)
}

// LinesFromCountEntries splits each row into one line per filled slot
func LinesFromCountEntries(entries []*models.CountEntry) []CountLine {
	lines := make([]CountLine, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		filled := false
		for _, slot := range []models.UserSlot{models.SlotA, models.SlotB} {
			q, f := e.Quantity(slot)
			if !q.Valid {
				continue
			}
			filled = true
			lines = append(lines, CountLine{
				ProductID:   e.ProductID,
				Slot:        slot,
				Quantity:    q.Decimal,
				Formula:     f,
				SystemStock: e.SystemStock,
				UpdatedAt:   e.UpdatedAt,
				Seq:         e.ID,
			})
		}
		if !filled {
			// keeps the product visible to totalProducts
			lines = append(lines, CountLine{ProductID: e.ProductID, Slot: models.SlotA, SystemStock: e.SystemStock,
				UpdatedAt: e.UpdatedAt, Seq: e.ID})
		}
	}
	return lines
}

// LinesFromRecountEntries maps each entry to the submitting user's slot.
// Entries of users no longer assigned to sc are dropped.
func LinesFromRecountEntries(entries []*models.RecountEntry, sc *models.SectorCount) []CountLine {
	lines := make([]CountLine, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		slot, ok := sc.Slot(e.UserID)
		if !ok {
			continue
		}
		lines = append(lines, CountLine{
			ProductID: e.ProductID,
			Slot:      slot,
			Quantity:  e.Quantity,
			Formula:   e.Formula,
			UpdatedAt: e.UpdatedAt,
			Seq:       e.ID,
		})
	}
	return lines
}
