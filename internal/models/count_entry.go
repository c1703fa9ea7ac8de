package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryInitial EntryKind = "INITIAL"
	EntryRecount EntryKind = "RECOUNT"
)

type UserSlot string

const (
	SlotA UserSlot = "A"
	SlotB UserSlot = "B"
)

// CountEntry is one raw submission. A row carries exactly one user's contribution,
// except a working row reused during recount, which keeps both slots.
type CountEntry struct {
	ID            int                 `json:"id"`
	SectorCountID int                 `json:"sector_count_id"`
	ProductID     int                 `json:"product_id"`
	SystemStock   decimal.Decimal     `json:"system_stock"` // book stock snapshot at submission time
	QuantityUserA decimal.NullDecimal `json:"quantity_user_a"`
	FormulaUserA  *string             `json:"formula_user_a,omitempty"`
	QuantityUserB decimal.NullDecimal `json:"quantity_user_b"`
	FormulaUserB  *string             `json:"formula_user_b,omitempty"`
	Kind          EntryKind           `json:"entry_kind"`
	Round         int                 `json:"round"`
	Deleted       bool                `json:"-"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Quantity returns the slot's quantity and formula
func (e *CountEntry) Quantity(slot UserSlot) (decimal.NullDecimal, *string) {
	if slot == SlotA {
		return e.QuantityUserA, e.FormulaUserA
	}
	return e.QuantityUserB, e.FormulaUserB
}

// HasQuantity reports whether the slot holds a non-empty quantity
func (e *CountEntry) HasQuantity(slot UserSlot) bool {
	q, _ := e.Quantity(slot)
	return q.Valid
}

// SetQuantity overwrites one slot and leaves the other untouched
func (e *CountEntry) SetQuantity(slot UserSlot, qty decimal.Decimal, formula *string) {
	if slot == SlotA {
		e.QuantityUserA = decimal.NewNullDecimal(qty)
		e.FormulaUserA = formula
		return
	}
	e.QuantityUserB = decimal.NewNullDecimal(qty)
	e.FormulaUserB = formula
}

// OnlySlot returns a copy of e with the other slot's quantity and formula cleared
func (e *CountEntry) OnlySlot(slot UserSlot) *CountEntry {
	x := *e
	if slot == SlotA {
		x.QuantityUserB = decimal.NullDecimal{}
		x.FormulaUserB = nil
	} else {
		x.QuantityUserA = decimal.NullDecimal{}
		x.FormulaUserA = nil
	}
	return &x
}

// RecountEntry is one user's recount submission for one product in one round
type RecountEntry struct {
	ID            int             `json:"id"`
	SectorCountID int             `json:"sector_count_id"`
	ProductID     int             `json:"product_id"`
	UserID        int             `json:"user_id"`
	Round         int             `json:"round"` // immutable once assigned
	Quantity      decimal.Decimal `json:"quantity"`
	Formula       *string         `json:"formula,omitempty"`
	Deleted       bool            `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RecountRound holds the products eligible for recount in one numbered round
type RecountRound struct {
	SectorCountID int   `json:"sector_count_id"`
	Round         int   `json:"round"`
	ProductIDs    []int `json:"product_ids"`
	// Verdicts holds each scoped product's classification when the round opened
	Verdicts map[int]string `json:"verdicts,omitempty"`
	OpenedAt time.Time      `json:"opened_at"`
	ClosedAt *time.Time     `json:"closed_at,omitempty"`
}

// Contains reports whether productID is eligible in this round
func (r *RecountRound) Contains(productID int) bool {
	for _, id := range r.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// SubmitCountRequest represents the request body for a count submission
type SubmitCountRequest struct {
	ProductID int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Formula   string          `json:"formula"` // e.g. "2 pallets x 48"
}
