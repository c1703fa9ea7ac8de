package services

import (
	"context"
	"testing"

	"count-backend/internal/cache"
	"count-backend/internal/models"
	"count-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	companyID  = 1
	userA      = 10
	userB      = 11
	operatorID = 90
	outsiderID = 99
)

// fixture wires the services over an in-memory store seeded with one company,
// two sectors, three products, two counters and an operator.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *testutil.FakeClock
	store  *testutil.MemStore
	cycles *InventoryCycleService
	counts *SectorCountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewFakeClock()
	store := testutil.NewMemStore(clock)

	store.AddSector(models.Sector{ID: 1, CompanyID: companyID, Name: "Cold room A", IsActive: true})
	store.AddSector(models.Sector{ID: 2, CompanyID: companyID, Name: "Cold room B", IsActive: true})
	store.AddSector(models.Sector{ID: 3, CompanyID: companyID, Name: "Closed dock", IsActive: false})
	store.AddProduct(models.Product{ID: 1, CompanyID: companyID, SKU: "P-001", Name: "Potatoes", SystemStock: decimal.NewFromInt(10)})
	store.AddProduct(models.Product{ID: 2, CompanyID: companyID, SKU: "P-002", Name: "Onions", SystemStock: decimal.NewFromInt(5)})
	store.AddProduct(models.Product{ID: 3, CompanyID: companyID, SKU: "P-003", Name: "Carrots", SystemStock: decimal.NewFromInt(8)})
	store.AddUser(models.User{ID: userA, Name: "Ana", Role: models.RoleCounter, IsActive: true})
	store.AddUser(models.User{ID: userB, Name: "Ben", Role: models.RoleCounter, IsActive: true})
	store.AddUser(models.User{ID: operatorID, Name: "Olga", Role: models.RoleOperator, IsActive: true})
	store.AddUser(models.User{ID: outsiderID, Name: "Otto", Role: models.RoleCounter, IsActive: true})

	logger := zap.NewNop()
	cycles := NewInventoryCycleService(store, store, clock, logger)
	counts := NewSectorCountService(store, store, cycles, cache.NewConsolidationCache(nil, 0, logger), clock, logger)

	return &fixture{t: t, ctx: context.Background(), clock: clock, store: store, cycles: cycles, counts: counts}
}

// assignedSector starts a cycle and assigns userA and userB to its first sector
func (f *fixture) assignedSector() *models.SectorCount {
	f.t.Helper()
	cycle, err := f.cycles.StartCycle(f.ctx, companyID, operatorID)
	require.NoError(f.t, err)
	sectors, err := f.cycles.ListSectorCounts(f.ctx, cycle.ID)
	require.NoError(f.t, err)
	require.NotEmpty(f.t, sectors)

	sc, err := f.counts.AssignUsers(f.ctx, sectors[0].ID, userA, userB)
	require.NoError(f.t, err)
	return sc
}

func (f *fixture) submit(scID, userID, productID int, qty string, formula string) *SubmitResult {
	f.t.Helper()
	res, err := f.counts.SubmitCount(f.ctx, SubmitCountInput{
		SectorCountID: scID,
		UserID:        userID,
		ProductID:     productID,
		Quantity:      decimal.RequireFromString(qty),
		Formula:       formula,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) submitErr(scID, userID, productID int, qty string) error {
	f.t.Helper()
	_, err := f.counts.SubmitCount(f.ctx, SubmitCountInput{
		SectorCountID: scID,
		UserID:        userID,
		ProductID:     productID,
		Quantity:      decimal.RequireFromString(qty),
	})
	return err
}

func (f *fixture) finalize(scID, userID int) *FinalizeResult {
	f.t.Helper()
	res, err := f.counts.FinalizeCount(f.ctx, scID, userID)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) finalizeRecount(scID, userID int) *FinalizeResult {
	f.t.Helper()
	res, err := f.counts.FinalizeRecount(f.ctx, scID, userID)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) sector(id int) *models.SectorCount {
	f.t.Helper()
	sc, err := f.counts.Get(f.ctx, id)
	require.NoError(f.t, err)
	return sc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
