package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"count-backend/internal/models"
	"count-backend/internal/repositories"
)

// MemStore is an in-memory repositories.Store and repositories.MasterData.
// Transactions are serialized by one mutex and roll back by restoring a snapshot, so a
// failed operation leaves every row exactly as it was. Master data has its own lock so
// it can be read from inside a transaction.
type MemStore struct {
	mu    sync.Mutex
	clock *FakeClock
	data  *memData
	fail  map[string]error

	masterMu sync.RWMutex
	sectors  map[int]*models.Sector
	products map[int]*models.Product
	users    map[int]*models.User
}

type roundKey struct{ sectorCountID, round int }

type memData struct {
	nextID   int
	cycles   map[int]*models.InventoryCycle
	sectors  map[int]*models.SectorCount
	entries  map[int]*models.CountEntry
	recounts map[int]*models.RecountEntry
	rounds   map[roundKey]*models.RecountRound
}

func NewMemStore(clock *FakeClock) *MemStore {
	return &MemStore{
		clock: clock,
		data: &memData{
			cycles:   map[int]*models.InventoryCycle{},
			sectors:  map[int]*models.SectorCount{},
			entries:  map[int]*models.CountEntry{},
			recounts: map[int]*models.RecountEntry{},
			rounds:   map[roundKey]*models.RecountRound{},
		},
		fail:     map[string]error{},
		sectors:  map[int]*models.Sector{},
		products: map[int]*models.Product{},
		users:    map[int]*models.User{},
	}
}

func (s *MemStore) AddSector(sec models.Sector) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	s.sectors[sec.ID] = &sec
}

func (s *MemStore) AddProduct(p models.Product) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	s.products[p.ID] = &p
}

func (s *MemStore) AddUser(u models.User) {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	s.users[u.ID] = &u
}

// FailOn makes the next call of the named write method return err
func (s *MemStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{s: s, d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemStore) InSectorTx(ctx context.Context, sectorCountID int, fn func(tx repositories.Tx, sc *models.SectorCount) error) error {
	return s.InTx(ctx, func(tx repositories.Tx) error {
		sc, err := tx.GetSectorCount(ctx, sectorCountID)
		if err != nil {
			return err
		}
		return fn(tx, sc)
	})
}

func (s *MemStore) read() *memTx {
	return &memTx{s: s, d: s.data}
}

func (s *MemStore) GetCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetCycle(ctx, id)
}

func (s *MemStore) FindActiveCycle(ctx context.Context, companyID int) (*models.InventoryCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().FindActiveCycle(ctx, companyID)
}

func (s *MemStore) GetSectorCount(ctx context.Context, id int) (*models.SectorCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetSectorCount(ctx, id)
}

func (s *MemStore) FindSectorCount(ctx context.Context, cycleID, sectorID int) (*models.SectorCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().FindSectorCount(ctx, cycleID, sectorID)
}

func (s *MemStore) ListSectorCounts(ctx context.Context, cycleID int) ([]*models.SectorCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListSectorCounts(ctx, cycleID)
}

func (s *MemStore) ListCountEntries(ctx context.Context, sectorCountID int) ([]*models.CountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListCountEntries(ctx, sectorCountID)
}

func (s *MemStore) ListCountEntriesByProduct(ctx context.Context, sectorCountID, productID int) ([]*models.CountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListCountEntriesByProduct(ctx, sectorCountID, productID)
}

func (s *MemStore) ListRecountEntries(ctx context.Context, sectorCountID, round int) ([]*models.RecountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListRecountEntries(ctx, sectorCountID, round)
}

func (s *MemStore) GetRecountRound(ctx context.Context, sectorCountID, round int) (*models.RecountRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetRecountRound(ctx, sectorCountID, round)
}

// Master data

func (s *MemStore) GetSector(ctx context.Context, id int) (*models.Sector, error) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	sec, ok := s.sectors[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *sec
	return &c, nil
}

func (s *MemStore) ListActiveSectors(ctx context.Context, companyID int) ([]*models.Sector, error) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	var out []*models.Sector
	for _, sec := range s.sectors {
		if sec.CompanyID == companyID && sec.IsActive {
			c := *sec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *MemStore) ListProducts(ctx context.Context, ids []int) ([]*models.Product, error) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	var out []*models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemStore) GetUser(ctx context.Context, id int) (*models.User, error) {
	s.masterMu.RLock()
	defer s.masterMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *u
	return &c, nil
}

// AllCountEntries returns every row including deleted ones, for assertions
func (s *MemStore) AllCountEntries(sectorCountID int) []*models.CountEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CountEntry
	for _, e := range s.data.entries {
		if e.SectorCountID == sectorCountID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLegacyMarker simulates a row imported with a free-text marker
func (s *MemStore) SetLegacyMarker(sectorCountID int, status models.SectorStatus, marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.data.sectors[sectorCountID]
	sc.Status = status
	sc.Marker = models.RoundMarker{}
	m := marker
	sc.LegacyMarker = &m
}

func (d *memData) clone() *memData {
	c := &memData{
		nextID:   d.nextID,
		cycles:   make(map[int]*models.InventoryCycle, len(d.cycles)),
		sectors:  make(map[int]*models.SectorCount, len(d.sectors)),
		entries:  make(map[int]*models.CountEntry, len(d.entries)),
		recounts: make(map[int]*models.RecountEntry, len(d.recounts)),
		rounds:   make(map[roundKey]*models.RecountRound, len(d.rounds)),
	}
	for k, v := range d.cycles {
		x := *v
		c.cycles[k] = &x
	}
	for k, v := range d.sectors {
		x := *v
		c.sectors[k] = &x
	}
	for k, v := range d.entries {
		x := *v
		c.entries[k] = &x
	}
	for k, v := range d.recounts {
		x := *v
		c.recounts[k] = &x
	}
	for k, v := range d.rounds {
		x := *v
		x.ProductIDs = append([]int(nil), v.ProductIDs...)
		c.rounds[k] = &x
	}
	return c
}

// memTx reads and writes memData without locking; the caller holds the store mutex
type memTx struct {
	s *MemStore
	d *memData
}

func (t *memTx) id() int {
	t.d.nextID++
	return t.d.nextID
}

func (t *memTx) now() time.Time {
	return t.s.clock.Now()
}

func (t *memTx) failed(method string) error {
	if err, ok := t.s.fail[method]; ok {
		delete(t.s.fail, method)
		return err
	}
	return nil
}

func (t *memTx) GetCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	c, ok := t.d.cycles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	x := *c
	return &x, nil
}

func (t *memTx) FindActiveCycle(ctx context.Context, companyID int) (*models.InventoryCycle, error) {
	for _, c := range t.d.cycles {
		if c.CompanyID == companyID && c.Status.IsActive() {
			x := *c
			return &x, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (t *memTx) GetSectorCount(ctx context.Context, id int) (*models.SectorCount, error) {
	sc, ok := t.d.sectors[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	x := *sc
	return &x, nil
}

func (t *memTx) FindSectorCount(ctx context.Context, cycleID, sectorID int) (*models.SectorCount, error) {
	for _, sc := range t.d.sectors {
		if sc.CycleID == cycleID && sc.SectorID == sectorID {
			x := *sc
			return &x, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (t *memTx) ListSectorCounts(ctx context.Context, cycleID int) ([]*models.SectorCount, error) {
	var out []*models.SectorCount
	for _, sc := range t.d.sectors {
		if sc.CycleID == cycleID {
			x := *sc
			out = append(out, &x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListCountEntries(ctx context.Context, sectorCountID int) ([]*models.CountEntry, error) {
	return t.listEntries(func(e *models.CountEntry) bool { return e.SectorCountID == sectorCountID }), nil
}

func (t *memTx) ListCountEntriesByProduct(ctx context.Context, sectorCountID, productID int) ([]*models.CountEntry, error) {
	return t.listEntries(func(e *models.CountEntry) bool {
		return e.SectorCountID == sectorCountID && e.ProductID == productID
	}), nil
}

func (t *memTx) listEntries(keep func(*models.CountEntry) bool) []*models.CountEntry {
	var out []*models.CountEntry
	for _, e := range t.d.entries {
		if !e.Deleted && keep(e) {
			x := *e
			out = append(out, &x)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *memTx) ListRecountEntries(ctx context.Context, sectorCountID, round int) ([]*models.RecountEntry, error) {
	var out []*models.RecountEntry
	for _, e := range t.d.recounts {
		if !e.Deleted && e.SectorCountID == sectorCountID && e.Round == round {
			x := *e
			out = append(out, &x)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (t *memTx) GetRecountRound(ctx context.Context, sectorCountID, round int) (*models.RecountRound, error) {
	rr, ok := t.d.rounds[roundKey{sectorCountID, round}]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	x := *rr
	x.ProductIDs = append([]int(nil), rr.ProductIDs...)
	x.Verdicts = copyVerdicts(rr.Verdicts)
	return &x, nil
}

func (t *memTx) LockCompany(ctx context.Context, companyID int) error {
	return t.failed("LockCompany")
}

func (t *memTx) LockCycle(ctx context.Context, id int) (*models.InventoryCycle, error) {
	return t.GetCycle(ctx, id)
}

func (t *memTx) CreateCycle(ctx context.Context, c *models.InventoryCycle) error {
	if err := t.failed("CreateCycle"); err != nil {
		return err
	}
	c.ID = t.id()
	c.CreatedAt = t.now()
	c.UpdatedAt = c.CreatedAt
	x := *c
	t.d.cycles[c.ID] = &x
	return nil
}

func (t *memTx) UpdateCycle(ctx context.Context, c *models.InventoryCycle) error {
	if err := t.failed("UpdateCycle"); err != nil {
		return err
	}
	if _, ok := t.d.cycles[c.ID]; !ok {
		return repositories.ErrNotFound
	}
	c.UpdatedAt = t.now()
	x := *c
	t.d.cycles[c.ID] = &x
	return nil
}

func (t *memTx) CreateSectorCount(ctx context.Context, sc *models.SectorCount) error {
	if err := t.failed("CreateSectorCount"); err != nil {
		return err
	}
	for _, existing := range t.d.sectors {
		if existing.CycleID == sc.CycleID && existing.SectorID == sc.SectorID {
			return fmt.Errorf("duplicate sector count for cycle %d sector %d", sc.CycleID, sc.SectorID)
		}
	}
	sc.ID = t.id()
	sc.Version = 1
	sc.CreatedAt = t.now()
	sc.UpdatedAt = sc.CreatedAt
	x := *sc
	t.d.sectors[sc.ID] = &x
	return nil
}

func (t *memTx) UpdateSectorCount(ctx context.Context, sc *models.SectorCount) error {
	if err := t.failed("UpdateSectorCount"); err != nil {
		return err
	}
	cur, ok := t.d.sectors[sc.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != sc.Version {
		return fmt.Errorf("sector count %d: %w", sc.ID, repositories.ErrConcurrentUpdate)
	}
	sc.Version++
	sc.UpdatedAt = t.now()
	sc.LegacyMarker = nil
	x := *sc
	t.d.sectors[sc.ID] = &x
	return nil
}

func (t *memTx) CancelOpenSectors(ctx context.Context, cycleID int, at time.Time) (int, error) {
	if err := t.failed("CancelOpenSectors"); err != nil {
		return 0, err
	}
	n := 0
	for _, sc := range t.d.sectors {
		if sc.CycleID == cycleID && !sc.Status.IsTerminal() {
			sc.Status = models.SectorCancelled
			ts := at
			sc.FinishedAt = &ts
			sc.Version++
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateCountEntry(ctx context.Context, e *models.CountEntry) error {
	if err := t.failed("CreateCountEntry"); err != nil {
		return err
	}
	e.ID = t.id()
	e.CreatedAt = t.now()
	e.UpdatedAt = e.CreatedAt
	x := *e
	t.d.entries[e.ID] = &x
	return nil
}

func (t *memTx) UpdateCountEntry(ctx context.Context, e *models.CountEntry) error {
	if err := t.failed("UpdateCountEntry"); err != nil {
		return err
	}
	cur, ok := t.d.entries[e.ID]
	if !ok || cur.Deleted {
		return repositories.ErrNotFound
	}
	e.UpdatedAt = t.now()
	x := *e
	t.d.entries[e.ID] = &x
	return nil
}

func (t *memTx) DeleteCountEntries(ctx context.Context, sectorCountID int, ids []int) error {
	if err := t.failed("DeleteCountEntries"); err != nil {
		return err
	}
	for _, id := range ids {
		if e, ok := t.d.entries[id]; ok && e.SectorCountID == sectorCountID {
			delete(t.d.entries, id)
		}
	}
	return nil
}

func (t *memTx) SaveRecountEntry(ctx context.Context, e *models.RecountEntry) error {
	if err := t.failed("SaveRecountEntry"); err != nil {
		return err
	}
	if _, ok := t.d.rounds[roundKey{e.SectorCountID, e.Round}]; !ok {
		return fmt.Errorf("recount round %d of sector count %d does not exist", e.Round, e.SectorCountID)
	}
	for _, cur := range t.d.recounts {
		if !cur.Deleted && cur.SectorCountID == e.SectorCountID && cur.Round == e.Round &&
			cur.ProductID == e.ProductID && cur.UserID == e.UserID {
			cur.Quantity = e.Quantity
			cur.Formula = e.Formula
			cur.UpdatedAt = t.now()
			e.ID = cur.ID
			e.CreatedAt = cur.CreatedAt
			e.UpdatedAt = cur.UpdatedAt
			return nil
		}
	}
	e.ID = t.id()
	e.CreatedAt = t.now()
	e.UpdatedAt = e.CreatedAt
	x := *e
	t.d.recounts[e.ID] = &x
	return nil
}

func (t *memTx) CreateRecountRound(ctx context.Context, rr *models.RecountRound) error {
	if err := t.failed("CreateRecountRound"); err != nil {
		return err
	}
	k := roundKey{rr.SectorCountID, rr.Round}
	if _, ok := t.d.rounds[k]; ok {
		return fmt.Errorf("recount round %d of sector count %d already exists", rr.Round, rr.SectorCountID)
	}
	x := *rr
	x.ProductIDs = append([]int(nil), rr.ProductIDs...)
	x.Verdicts = copyVerdicts(rr.Verdicts)
	t.d.rounds[k] = &x
	return nil
}

func (t *memTx) CloseRecountRound(ctx context.Context, sectorCountID, round int, at time.Time) error {
	if rr, ok := t.d.rounds[roundKey{sectorCountID, round}]; ok && rr.ClosedAt == nil {
		ts := at
		rr.ClosedAt = &ts
	}
	return nil
}

func copyVerdicts(m map[int]string) map[int]string {
	if m == nil {
		return nil
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// compile-time checks
var (
	_ repositories.Store      = (*MemStore)(nil)
	_ repositories.MasterData = (*MemStore)(nil)
	_ repositories.Tx         = (*memTx)(nil)
)
