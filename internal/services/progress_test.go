package services

import (
	"context"
	"testing"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComputeStats(t *testing.T) {
	s := ComputeStats(totalsOf(map[int][2]string{
		1: {"3", "3"},
		2: {"1", "0"},
		3: {"0", "0"},
	}))
	assert.Equal(t, 3, s.TotalProducts)
	assert.Equal(t, 2, s.ProductsCounted)
	assert.Equal(t, 1, s.ProductsWithDifferences)
	assert.Equal(t, "66.67", s.PercentComplete.StringFixed(2))

	empty := ComputeStats(Totals{})
	assert.True(t, empty.PercentComplete.IsZero())
}

func TestRecomputeOnlyHealsRecountSectors(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeClock()
	store := testutil.NewMemStore(clock)
	rounds := NewRoundManager(clock, zap.NewNop())
	p := NewProgressTracker(clock, rounds, zap.NewNop())
	sc := seededSector(t, store)

	require.NoError(t, store.InTx(ctx, func(tx repositories.Tx) error {
		e := &models.CountEntry{SectorCountID: sc.ID, ProductID: 1, Kind: models.EntryInitial}
		e.SetQuantity(models.SlotA, dec("4"), nil)
		e.SetQuantity(models.SlotB, dec("4"), nil)
		if err := tx.CreateCountEntry(ctx, e); err != nil {
			return err
		}

		healed, err := p.Recompute(ctx, tx, sc)
		require.NoError(t, err)
		assert.False(t, healed, "IN_PROGRESS never self-heals")
		assert.Equal(t, 1, sc.ProductsCounted)

		if _, err := rounds.Open(ctx, tx, sc, []int{1}, nil); err != nil {
			return err
		}
		sc.Status = models.SectorWithDifferences
		healed, err = p.Recompute(ctx, tx, sc)
		require.NoError(t, err)
		assert.True(t, healed)
		assert.Equal(t, models.SectorCompleted, sc.Status)
		assert.NotNil(t, sc.FinishedAt)

		rr, err := tx.GetRecountRound(ctx, sc.ID, 1)
		require.NoError(t, err)
		assert.NotNil(t, rr.ClosedAt)
		return nil
	}))
}

func TestRecomputeWaitsForEveryProduct(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeClock()
	store := testutil.NewMemStore(clock)
	p := NewProgressTracker(clock, NewRoundManager(clock, zap.NewNop()), zap.NewNop())
	sc := seededSector(t, store)
	sc.Status = models.SectorWithDifferences
	sc.Marker.Round = 1

	require.NoError(t, store.InTx(ctx, func(tx repositories.Tx) error {
		counted := &models.CountEntry{SectorCountID: sc.ID, ProductID: 1, Kind: models.EntryRecount, Round: 1}
		counted.SetQuantity(models.SlotA, dec("2"), nil)
		counted.SetQuantity(models.SlotB, dec("2"), nil)
		blank := &models.CountEntry{SectorCountID: sc.ID, ProductID: 2, Kind: models.EntryRecount, Round: 1}
		for _, e := range []*models.CountEntry{counted, blank} {
			if err := tx.CreateCountEntry(ctx, e); err != nil {
				return err
			}
		}

		healed, err := p.Recompute(ctx, tx, sc)
		require.NoError(t, err)
		assert.False(t, healed)
		assert.Equal(t, 2, sc.TotalProducts)
		assert.Equal(t, 1, sc.ProductsCounted)
		assert.Equal(t, models.SectorWithDifferences, sc.Status)
		return nil
	}))
}
