package services

import (
	"errors"
	"testing"

	"count-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCycleCreatesSectorCounts(t *testing.T) {
	f := newFixture(t)

	cycle, err := f.cycles.StartCycle(f.ctx, companyID, operatorID)
	require.NoError(t, err)
	assert.Equal(t, models.CyclePending, cycle.Status)
	assert.Equal(t, 2, cycle.TotalSectors, "inactive sectors are skipped")
	require.NotNil(t, cycle.StartedByUserID)
	assert.Equal(t, operatorID, *cycle.StartedByUserID)

	sectors, err := f.cycles.ListSectorCounts(f.ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, sectors, 2)
	for _, sc := range sectors {
		assert.Equal(t, models.SectorPending, sc.Status)
		assert.Equal(t, 0, sc.Marker.Round)
	}
	assert.Equal(t, "Cold room A", sectors[0].SectorName)
}

func TestStartCycleRejectsSecondActiveCycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.cycles.StartCycle(f.ctx, companyID, operatorID)
	require.NoError(t, err)
	_, err = f.cycles.StartCycle(f.ctx, companyID, operatorID)
	assert.ErrorIs(t, err, ErrAlreadyActiveCycle)

	// a different company is unaffected
	f.store.AddSector(models.Sector{ID: 50, CompanyID: 2, Name: "Annex", IsActive: true})
	other, err := f.cycles.StartCycle(f.ctx, 2, operatorID)
	require.NoError(t, err)
	assert.Equal(t, 1, other.TotalSectors)
}

func TestStartCycleRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("insert failed")
	f.store.FailOn("CreateSectorCount", boom)

	_, err := f.cycles.StartCycle(f.ctx, companyID, operatorID)
	require.ErrorIs(t, err, boom)

	_, err = f.store.FindActiveCycle(f.ctx, companyID)
	assert.Error(t, err, "no half-created cycle is left behind")

	_, err = f.cycles.StartCycle(f.ctx, companyID, operatorID)
	assert.NoError(t, err)
}

func TestCancelCycleCascades(t *testing.T) {
	f := newFixture(t)
	sc := f.assignedSector()

	// complete the first sector so it survives cancellation
	f.finalize(sc.ID, userA)
	f.finalize(sc.ID, userB)

	cycle, err := f.cycles.CancelCycle(f.ctx, sc.CycleID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleCancelled, cycle.Status)
	assert.NotNil(t, cycle.FinishedAt)
	assert.Equal(t, 1, cycle.TotalSectors)
	assert.Equal(t, 1, cycle.CompletedSectors)

	sectors, err := f.cycles.ListSectorCounts(f.ctx, sc.CycleID)
	require.NoError(t, err)
	assert.Equal(t, models.SectorCompleted, sectors[0].Status)
	assert.Equal(t, models.SectorCancelled, sectors[1].Status)

	_, err = f.cycles.CancelCycle(f.ctx, sc.CycleID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// the company may start again
	_, err = f.cycles.StartCycle(f.ctx, companyID, operatorID)
	assert.NoError(t, err)
}

func TestCycleCompletesWithLastSector(t *testing.T) {
	f := newFixture(t)
	cycle, err := f.cycles.StartCycle(f.ctx, companyID, operatorID)
	require.NoError(t, err)
	sectors, err := f.cycles.ListSectorCounts(f.ctx, cycle.ID)
	require.NoError(t, err)

	for i, sc := range sectors {
		_, err := f.counts.AssignUsers(f.ctx, sc.ID, userA, userB)
		require.NoError(t, err)
		f.submit(sc.ID, userA, 1, "2", "")
		f.submit(sc.ID, userB, 1, "2", "")
		f.finalize(sc.ID, userA)
		f.finalize(sc.ID, userB)

		got, err := f.cycles.GetCycle(f.ctx, cycle.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, got.CompletedSectors)
	}

	got, err := f.cycles.GetCycle(f.ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestCycleStatsTrackDifferences(t *testing.T) {
	f := newFixture(t)
	sc := openRound(f)

	cycle, err := f.cycles.GetCycle(f.ctx, sc.CycleID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleInProgress, cycle.Status)
	assert.Equal(t, 1, cycle.SectorsWithDifferences)
	assert.Equal(t, 0, cycle.SectorsInProgress)
}

func TestCycleNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.cycles.GetCycle(f.ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.cycles.CancelCycle(f.ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.cycles.ListSectorCounts(f.ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
