package services

import (
	"testing"

	"count-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want Classification
	}{
		{"equal", "5", "5", Match},
		{"equal with scale", "5.0", "5", Match},
		{"unequal", "5", "4", Mismatch},
		{"only a", "5", "0", Asymmetric},
		{"only b", "0", "3", Asymmetric},
		{"neither", "0", "0", Uncounted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(dec(tt.a), dec(tt.b)))
		})
	}
}

func totalsOf(rows map[int][2]string) Totals {
	out := Totals{}
	for id, r := range rows {
		out[id] = &ProductTotals{
			ProductID: id,
			UserA:     UserTotal{Total: dec(r[0]), Counted: dec(r[0]).IsPositive()},
			UserB:     UserTotal{Total: dec(r[1]), Counted: dec(r[1]).IsPositive()},
		}
	}
	return out
}

func TestDetect(t *testing.T) {
	d := Detect(totalsOf(map[int][2]string{
		1: {"10", "10"},
		2: {"5", "4"},
		3: {"0", "0"},
		4: {"0", "7"},
	}))

	assert.True(t, d.HasDifferences)
	assert.Equal(t, []int{2, 4}, d.Differing)
	assert.Equal(t, 3, d.Counted)
	require.Len(t, d.Products, 3)
	assert.Equal(t, Match, d.Products[0].Classification)
	assert.Equal(t, Mismatch, d.Products[1].Classification)
	assert.Equal(t, Asymmetric, d.Products[2].Classification)
}

func TestDetectNoDifferences(t *testing.T) {
	d := Detect(totalsOf(map[int][2]string{1: {"3", "3"}}))
	assert.False(t, d.HasDifferences)
	assert.Empty(t, d.Differing)
}

func TestBuildComparison(t *testing.T) {
	totals := totalsOf(map[int][2]string{
		1: {"12", "8"},
		2: {"0", "6"},
		3: {"0", "0"},
	})
	products := map[int]*models.Product{
		1: {ID: 1, SKU: "P-001", Name: "Potatoes", SystemStock: decimal.NewFromInt(9)},
	}

	rows := BuildComparison(totals, products)
	require.Len(t, rows, 2)

	assert.Equal(t, "P-001", rows[0].SKU)
	assert.True(t, rows[0].Difference.Equal(decimal.NewFromInt(4)))
	assert.True(t, rows[0].SystemStock.Equal(decimal.NewFromInt(9)))
	assert.True(t, rows[0].Variance.Equal(decimal.NewFromInt(1)), "mean(12,8) - 9")

	assert.Equal(t, Asymmetric, rows[1].Classification)
	assert.Empty(t, rows[1].SKU)
	assert.True(t, rows[1].Variance.Equal(decimal.NewFromInt(6)))
}
