package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"count-backend/internal/cache"
	"count-backend/internal/models"
	"count-backend/internal/services"
	"count-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const operatorID = 90

// memBackend runs the commands against services over the in-memory store
type memBackend struct {
	cycles   *services.InventoryCycleService
	counts   *services.SectorCountService
	migrated bool
	closed   bool
}

func (b *memBackend) Migrate(ctx context.Context) error {
	b.migrated = true
	return nil
}

func (b *memBackend) CancelCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	return b.cycles.CancelCycle(ctx, id)
}

func (b *memBackend) ForceComplete(ctx context.Context, id, operatorID int, reason string) (*models.SectorCount, error) {
	return b.counts.ForceComplete(ctx, id, operatorID, reason)
}

func (b *memBackend) ArchiveCycle(ctx context.Context, id int) ([]services.ArchivedReport, error) {
	return nil, errors.New("report archive is not configured")
}

func (b *memBackend) Close() { b.closed = true }

func newBackend(t *testing.T) (*memBackend, *models.InventoryCycle) {
	t.Helper()
	clock := testutil.NewFakeClock()
	store := testutil.NewMemStore(clock)
	store.AddSector(models.Sector{ID: 1, CompanyID: 1, Name: "Cold room A", IsActive: true})
	store.AddProduct(models.Product{ID: 1, CompanyID: 1, SKU: "P-001", Name: "Potatoes", SystemStock: decimal.NewFromInt(10)})
	store.AddUser(models.User{ID: operatorID, Name: "Olga", Role: models.RoleOperator, IsActive: true})
	store.AddUser(models.User{ID: 10, Name: "Ana", Role: models.RoleCounter, IsActive: true})
	store.AddUser(models.User{ID: 11, Name: "Ben", Role: models.RoleCounter, IsActive: true})

	logger := zap.NewNop()
	cycles := services.NewInventoryCycleService(store, store, clock, logger)
	counts := services.NewSectorCountService(store, store, cycles, cache.NewConsolidationCache(nil, 0, logger), clock, logger)

	cycle, err := cycles.StartCycle(context.Background(), 1, operatorID)
	require.NoError(t, err)
	return &memBackend{cycles: cycles, counts: counts}, cycle
}

func run(t *testing.T, b Backend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(ctx context.Context, opts *RootOptions) (Backend, error) {
		return b, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, path := range [][]string{{"migrate"}, {"cycle", "cancel"}, {"sector", "force-complete"}, {"report", "archive"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestMigrate(t *testing.T) {
	b, _ := newBackend(t)
	out, err := run(t, b, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")
	assert.True(t, b.migrated)
	assert.True(t, b.closed)
}

func TestCycleCancel(t *testing.T) {
	b, cycle := newBackend(t)
	out, err := run(t, b, "cycle", "cancel", "--format", "json", strconv.Itoa(cycle.ID))
	require.NoError(t, err)

	var got models.InventoryCycle
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, cycle.ID, got.ID)
	assert.Equal(t, models.CycleCancelled, got.Status)

	_, err = run(t, b, "cycle", "cancel", strconv.Itoa(cycle.ID))
	assert.True(t, errors.Is(err, services.ErrInvalidTransition))
}

func TestSectorForceComplete(t *testing.T) {
	b, cycle := newBackend(t)
	ctx := context.Background()
	sectors, err := b.cycles.ListSectorCounts(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, sectors, 1)
	id := sectors[0].ID

	// one counter finished, the other never will
	_, err = b.counts.AssignUsers(ctx, id, 10, 11)
	require.NoError(t, err)
	_, err = b.counts.SubmitCount(ctx, services.SubmitCountInput{SectorCountID: id, UserID: 10, ProductID: 1, Quantity: decimal.NewFromInt(7)})
	require.NoError(t, err)
	_, err = b.counts.FinalizeCount(ctx, id, 10)
	require.NoError(t, err)

	_, err = run(t, b, "sector", "force-complete", strconv.Itoa(id))
	assert.EqualError(t, err, "--operator is required")

	out, err := run(t, b, "sector", "force-complete", "--operator", "90", "--reason", "scale broken", strconv.Itoa(id))
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")

	sc, err := b.counts.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sc.ForceReason)
	assert.Equal(t, "scale broken", *sc.ForceReason)
}

func TestArgumentErrors(t *testing.T) {
	b, _ := newBackend(t)

	_, err := run(t, b, "cycle", "cancel", "abc")
	assert.EqualError(t, err, `invalid cycle id "abc"`)

	_, err = run(t, b, "report", "archive", "1")
	assert.EqualError(t, err, "report archive is not configured")

	_, err = run(t, b, "--format", "yaml", "migrate")
	assert.Error(t, err)
	assert.False(t, b.migrated)
}
