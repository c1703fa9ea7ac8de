package repositories

import (
	"context"
	"errors"
	"time"

	"count-backend/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist (or is soft-deleted)
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentUpdate is returned when an optimistic version check fails
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

// Reader holds the lookups the counting engine needs.
// All list methods return rows in submission order (created_at, id).
type Reader interface {
	GetCycle(ctx context.Context, id int) (*models.InventoryCycle, error)
	FindActiveCycle(ctx context.Context, companyID int) (*models.InventoryCycle, error)

	GetSectorCount(ctx context.Context, id int) (*models.SectorCount, error)
	FindSectorCount(ctx context.Context, cycleID, sectorID int) (*models.SectorCount, error)
	ListSectorCounts(ctx context.Context, cycleID int) ([]*models.SectorCount, error)

	ListCountEntries(ctx context.Context, sectorCountID int) ([]*models.CountEntry, error)
	ListCountEntriesByProduct(ctx context.Context, sectorCountID, productID int) ([]*models.CountEntry, error)

	ListRecountEntries(ctx context.Context, sectorCountID, round int) ([]*models.RecountEntry, error)
	GetRecountRound(ctx context.Context, sectorCountID, round int) (*models.RecountRound, error)
}

// Writer holds the mutations. Writers are only reachable inside a transaction.
type Writer interface {
	LockCompany(ctx context.Context, companyID int) error
	LockCycle(ctx context.Context, id int) (*models.InventoryCycle, error)
	CreateCycle(ctx context.Context, c *models.InventoryCycle) error
	UpdateCycle(ctx context.Context, c *models.InventoryCycle) error

	CreateSectorCount(ctx context.Context, sc *models.SectorCount) error
	UpdateSectorCount(ctx context.Context, sc *models.SectorCount) error
	CancelOpenSectors(ctx context.Context, cycleID int, at time.Time) (int, error)

	CreateCountEntry(ctx context.Context, e *models.CountEntry) error
	UpdateCountEntry(ctx context.Context, e *models.CountEntry) error
	DeleteCountEntries(ctx context.Context, sectorCountID int, ids []int) error

	SaveRecountEntry(ctx context.Context, e *models.RecountEntry) error
	CreateRecountRound(ctx context.Context, r *models.RecountRound) error
	CloseRecountRound(ctx context.Context, sectorCountID, round int, at time.Time) error
}

type Tx interface {
	Reader
	Writer
}

// Store is the persistence collaborator of the counting engine
type Store interface {
	Reader

	// InTx runs fn in a single transaction; any error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// InSectorTx runs fn in a single transaction holding a row lock on the sector
	// count, so concurrent callers on the same sector are serialized.
	InSectorTx(ctx context.Context, sectorCountID int, fn func(tx Tx, sc *models.SectorCount) error) error
}

// MasterData is the read-only view over companies, sectors, products and users
type MasterData interface {
	GetSector(ctx context.Context, id int) (*models.Sector, error)
	ListActiveSectors(ctx context.Context, companyID int) ([]*models.Sector, error)
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	ListProducts(ctx context.Context, ids []int) ([]*models.Product, error)
	GetUser(ctx context.Context, id int) (*models.User, error)
}
