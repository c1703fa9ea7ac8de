package services

import (
	"count-backend/internal/models"

	"github.com/shopspring/decimal"
)

// Classification is the per-product verdict of comparing the two users' totals
type Classification string

const (
	Match      Classification = "MATCH"      // both counted, equal
	Mismatch   Classification = "MISMATCH"   // both counted, unequal
	Asymmetric Classification = "ASYMMETRIC" // only one user counted
	Uncounted  Classification = "UNCOUNTED"  // neither counted; never reported
)

// Differs reports whether the product needs a recount
func (c Classification) Differs() bool {
	return c == Mismatch || c == Asymmetric
}

func Classify(a, b decimal.Decimal) Classification {
	countedA, countedB := a.IsPositive(), b.IsPositive()
	switch {
	case countedA && countedB:
		if a.Equal(b) {
			return Match
		}
		return Mismatch
	case countedA || countedB:
		return Asymmetric
	default:
		return Uncounted
	}
}

type ProductDifference struct {
	ProductID      int             `json:"product_id"`
	TotalUserA     decimal.Decimal `json:"total_user_a"`
	TotalUserB     decimal.Decimal `json:"total_user_b"`
	Classification Classification  `json:"classification"`
}

// Detection is the sector-level verdict over a set of totals
type Detection struct {
	Products       []ProductDifference `json:"products"` // UNCOUNTED excluded, ascending product id
	Differing      []int               `json:"differing_product_ids"`
	Counted        int                 `json:"counted"`
	HasDifferences bool                `json:"has_differences"`
}

func Detect(totals Totals) Detection {
	var d Detection
	for _, id := range totals.ProductIDs() {
		p := totals[id]
		c := Classify(p.UserA.Total, p.UserB.Total)
		if c == Uncounted {
			continue
		}
		d.Counted++
		d.Products = append(d.Products, ProductDifference{
			ProductID:      id,
			TotalUserA:     p.UserA.Total,
			TotalUserB:     p.UserB.Total,
			Classification: c,
		})
		if c.Differs() {
			d.Differing = append(d.Differing, id)
		}
	}
	d.HasDifferences = len(d.Differing) > 0
	return d
}

// Verdicts maps each counted product to its classification
func (d Detection) Verdicts() map[int]Classification {
	out := make(map[int]Classification, len(d.Products))
	for _, p := range d.Products {
		out[p.ProductID] = p.Classification
	}
	return out
}

// ComparisonRow is the denormalized per-product record shown to reviewers
type ComparisonRow struct {
	ProductID      int             `json:"product_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	TotalUserA     decimal.Decimal `json:"total_user_a"`
	FormulasUserA  string          `json:"formulas_user_a,omitempty"`
	TotalUserB     decimal.Decimal `json:"total_user_b"`
	FormulasUserB  string          `json:"formulas_user_b,omitempty"`
	Difference     decimal.Decimal `json:"difference"` // A - B
	SystemStock    decimal.Decimal `json:"system_stock"`
	Variance       decimal.Decimal `json:"variance"` // mean of the positive totals minus system stock
	Classification Classification  `json:"classification"`
	OtherHidden    bool            `json:"other_hidden,omitempty"` // the other counter's side is withheld
}

// BuildComparison projects totals into display rows; products may be nil or partial
func BuildComparison(totals Totals, products map[int]*models.Product) []ComparisonRow {
	rows := make([]ComparisonRow, 0, len(totals))
	for _, id := range totals.ProductIDs() {
		p := totals[id]
		c := Classify(p.UserA.Total, p.UserB.Total)
		if c == Uncounted {
			continue
		}
		row := ComparisonRow{
			ProductID:      id,
			TotalUserA:     p.UserA.Total,
			FormulasUserA:  p.UserA.Formulas,
			TotalUserB:     p.UserB.Total,
			FormulasUserB:  p.UserB.Formulas,
			Difference:     p.UserA.Total.Sub(p.UserB.Total),
			SystemStock:    p.SystemStock,
			Classification: c,
		}
		if prod, ok := products[id]; ok {
			row.SKU = prod.SKU
			row.Name = prod.Name
			if row.SystemStock.IsZero() {
				row.SystemStock = prod.SystemStock
			}
		}
		row.Variance = meanPositive(p.UserA.Total, p.UserB.Total).Sub(row.SystemStock)
		rows = append(rows, row)
	}
	return rows
}

func meanPositive(a, b decimal.Decimal) decimal.Decimal {
	sum, n := decimal.Zero, int64(0)
	for _, v := range []decimal.Decimal{a, b} {
		if v.IsPositive() {
			sum = sum.Add(v)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(n))
}
