package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fieldops/internal/models"
)

// MemoryStore keeps every collection in process memory. It is used by tests
// and by the demo mode of the server. Transactions work on a copy of the data
// that replaces the live copy on commit; writers are serialized.
type MemoryStore struct {
	mu   sync.RWMutex
	txMu *sync.Mutex
	data *memoryData
	inTx bool
}

type memoryData struct {
	jobs        map[int64]*models.Job
	technicians map[string]*models.Technician
	assets      map[string]*models.Asset
	checkouts   map[int64]*models.Checkout
	consumables map[string]*models.Consumable
	usages      map[int64]*models.Usage

	nextJobID      int64
	nextCheckoutID int64
	nextUsageID    int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txMu: &sync.Mutex{},
		data: &memoryData{
			jobs:        map[int64]*models.Job{},
			technicians: map[string]*models.Technician{},
			assets:      map[string]*models.Asset{},
			checkouts:   map[int64]*models.Checkout{},
			consumables: map[string]*models.Consumable{},
			usages:      map[int64]*models.Usage{},
		},
	}
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		jobs:           make(map[int64]*models.Job, len(d.jobs)),
		technicians:    make(map[string]*models.Technician, len(d.technicians)),
		assets:         make(map[string]*models.Asset, len(d.assets)),
		checkouts:      make(map[int64]*models.Checkout, len(d.checkouts)),
		consumables:    make(map[string]*models.Consumable, len(d.consumables)),
		usages:         make(map[int64]*models.Usage, len(d.usages)),
		nextJobID:      d.nextJobID,
		nextCheckoutID: d.nextCheckoutID,
		nextUsageID:    d.nextUsageID,
	}
	// Stored values are replaced on write, never mutated, so pointers can be shared.
	for k, v := range d.jobs {
		out.jobs[k] = v
	}
	for k, v := range d.technicians {
		out.technicians[k] = v
	}
	for k, v := range d.assets {
		out.assets[k] = v
	}
	for k, v := range d.checkouts {
		out.checkouts[k] = v
	}
	for k, v := range d.consumables {
		out.consumables[k] = v
	}
	for k, v := range d.usages {
		out.usages[k] = v
	}
	return out
}

// write runs fn with exclusive access to the data. Outside a transaction it
// also waits for any running transaction to finish.
func (m *MemoryStore) write(fn func(d *memoryData) error) error {
	if !m.inTx {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

func (m *MemoryStore) read(fn func(d *memoryData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

// Transact implements Store.
func (m *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	tx := &MemoryStore{txMu: m.txMu, data: snapshot, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = tx.data
	m.mu.Unlock()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// InsertJob implements JobCollection.
func (m *MemoryStore) InsertJob(ctx context.Context, job *models.Job) error {
	return m.write(func(d *memoryData) error {
		if _, ok := d.jobs[job.ID]; ok {
			return ErrDuplicate
		}
		for _, existing := range d.jobs {
			if existing.JobNumber == job.JobNumber {
				return ErrDuplicate
			}
		}
		if job.ID == 0 {
			job.ID = d.nextJobID + 1
		}
		if job.ID > d.nextJobID {
			d.nextJobID = job.ID
		}
		d.jobs[job.ID] = job.Clone()
		return nil
	})
}

// FindJobByID implements JobCollection.
func (m *MemoryStore) FindJobByID(ctx context.Context, id int64) (*models.Job, error) {
	var out *models.Job
	err := m.read(func(d *memoryData) error {
		job, ok := d.jobs[id]
		if !ok {
			return ErrNotFound
		}
		out = job.Clone()
		return nil
	})
	return out, err
}

// FindJobByNumber implements JobCollection.
func (m *MemoryStore) FindJobByNumber(ctx context.Context, number string) (*models.Job, error) {
	var out *models.Job
	err := m.read(func(d *memoryData) error {
		for _, job := range d.jobs {
			if job.JobNumber == number {
				out = job.Clone()
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

// FindJobs implements JobCollection. Results are ordered by schedule then id.
func (m *MemoryStore) FindJobs(ctx context.Context, filter JobFilter) ([]models.Job, error) {
	var out []models.Job
	err := m.read(func(d *memoryData) error {
		for _, job := range d.jobs {
			if filter.TechnicianID != "" && job.TechnicianID != filter.TechnicianID {
				continue
			}
			if !filter.ScheduledFrom.IsZero() && job.ScheduledAt.Before(filter.ScheduledFrom) {
				continue
			}
			if !filter.ScheduledTo.IsZero() && !job.ScheduledAt.Before(filter.ScheduledTo) {
				continue
			}
			if filter.OnlyUnsynced && !job.NeedsSync {
				continue
			}
			out = append(out, *job.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// UpdateJob implements JobCollection.
func (m *MemoryStore) UpdateJob(ctx context.Context, job *models.Job) error {
	return m.write(func(d *memoryData) error {
		current, ok := d.jobs[job.ID]
		if !ok {
			return ErrNotFound
		}
		if current.Version != job.Version {
			return ErrConflict
		}
		job.Version++
		d.jobs[job.ID] = job.Clone()
		return nil
	})
}

// InsertTechnician implements TechnicianCollection.
func (m *MemoryStore) InsertTechnician(ctx context.Context, technician *models.Technician) error {
	return m.write(func(d *memoryData) error {
		if _, ok := d.technicians[technician.ID]; ok {
			return ErrDuplicate
		}
		for _, existing := range d.technicians {
			if existing.Username == technician.Username {
				return ErrDuplicate
			}
		}
		cp := *technician
		d.technicians[technician.ID] = &cp
		return nil
	})
}

// FindTechnicianByID implements TechnicianCollection.
func (m *MemoryStore) FindTechnicianByID(ctx context.Context, id string) (*models.Technician, error) {
	var out *models.Technician
	err := m.read(func(d *memoryData) error {
		technician, ok := d.technicians[id]
		if !ok {
			return ErrNotFound
		}
		cp := *technician
		out = &cp
		return nil
	})
	return out, err
}

// FindTechnicianByUsername implements TechnicianCollection.
func (m *MemoryStore) FindTechnicianByUsername(ctx context.Context, username string) (*models.Technician, error) {
	var out *models.Technician
	err := m.read(func(d *memoryData) error {
		for _, technician := range d.technicians {
			if technician.Username == username {
				cp := *technician
				out = &cp
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

// UpdateLastLogin implements TechnicianCollection.
func (m *MemoryStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return m.write(func(d *memoryData) error {
		technician, ok := d.technicians[id]
		if !ok {
			return ErrNotFound
		}
		cp := *technician
		cp.LastLogin = &at
		cp.UpdatedAt = at
		d.technicians[id] = &cp
		return nil
	})
}

// InsertAsset implements AssetCollection.
func (m *MemoryStore) InsertAsset(ctx context.Context, asset *models.Asset) error {
	return m.write(func(d *memoryData) error {
		if _, ok := d.assets[asset.Code]; ok {
			return ErrDuplicate
		}
		d.assets[asset.Code] = asset.Clone()
		return nil
	})
}

// FindAssetByCode implements AssetCollection.
func (m *MemoryStore) FindAssetByCode(ctx context.Context, code string) (*models.Asset, error) {
	var out *models.Asset
	err := m.read(func(d *memoryData) error {
		asset, ok := d.assets[code]
		if !ok {
			return ErrNotFound
		}
		out = asset.Clone()
		return nil
	})
	return out, err
}

// FindAssets implements AssetCollection. Results are ordered by code.
func (m *MemoryStore) FindAssets(ctx context.Context, filter AssetFilter) ([]models.Asset, error) {
	var out []models.Asset
	err := m.read(func(d *memoryData) error {
		for _, asset := range d.assets {
			if filter.Category != "" && asset.Category != filter.Category {
				continue
			}
			if filter.Available != nil && asset.Available != *filter.Available {
				continue
			}
			if filter.Holder != "" && (asset.Holder == nil || *asset.Holder != filter.Holder) {
				continue
			}
			out = append(out, *asset.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

// UpdateAsset implements AssetCollection.
func (m *MemoryStore) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	return m.write(func(d *memoryData) error {
		current, ok := d.assets[asset.Code]
		if !ok {
			return ErrNotFound
		}
		if current.Version != asset.Version {
			return ErrConflict
		}
		asset.Version++
		d.assets[asset.Code] = asset.Clone()
		return nil
	})
}

// InsertCheckout implements CheckoutCollection.
func (m *MemoryStore) InsertCheckout(ctx context.Context, checkout *models.Checkout) error {
	return m.write(func(d *memoryData) error {
		d.nextCheckoutID++
		checkout.ID = d.nextCheckoutID
		d.checkouts[checkout.ID] = checkout.Clone()
		return nil
	})
}

// FindCheckoutByID implements CheckoutCollection.
func (m *MemoryStore) FindCheckoutByID(ctx context.Context, id int64) (*models.Checkout, error) {
	var out *models.Checkout
	err := m.read(func(d *memoryData) error {
		checkout, ok := d.checkouts[id]
		if !ok {
			return ErrNotFound
		}
		out = checkout.Clone()
		return nil
	})
	return out, err
}

// FindCheckouts implements CheckoutCollection. Results are ordered by id.
func (m *MemoryStore) FindCheckouts(ctx context.Context, filter CheckoutFilter) ([]models.Checkout, error) {
	var out []models.Checkout
	err := m.read(func(d *memoryData) error {
		for _, checkout := range d.checkouts {
			if filter.AssetCode != "" && checkout.AssetCode != filter.AssetCode {
				continue
			}
			if filter.Holder != "" && checkout.Holder != filter.Holder {
				continue
			}
			if filter.JobID != nil && (checkout.JobID == nil || *checkout.JobID != *filter.JobID) {
				continue
			}
			if filter.OpenOnly && !checkout.IsOpen() {
				continue
			}
			out = append(out, *checkout.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// CloseCheckout implements CheckoutCollection.
func (m *MemoryStore) CloseCheckout(ctx context.Context, id int64, at time.Time, condition models.Condition, notes string) (*models.Checkout, error) {
	var out *models.Checkout
	err := m.write(func(d *memoryData) error {
		current, ok := d.checkouts[id]
		if !ok {
			return ErrNotFound
		}
		if !current.IsOpen() {
			return ErrGuardFailed
		}
		closed := current.Clone()
		closed.ReturnedAt = &at
		closed.ConditionIn = condition
		closed.ReturnNotes = notes
		d.checkouts[id] = closed
		out = closed.Clone()
		return nil
	})
	return out, err
}

// InsertConsumable implements ConsumableCollection.
func (m *MemoryStore) InsertConsumable(ctx context.Context, consumable *models.Consumable) error {
	return m.write(func(d *memoryData) error {
		if _, ok := d.consumables[consumable.Code]; ok {
			return ErrDuplicate
		}
		cp := *consumable
		d.consumables[consumable.Code] = &cp
		return nil
	})
}

// FindConsumableByCode implements ConsumableCollection.
func (m *MemoryStore) FindConsumableByCode(ctx context.Context, code string) (*models.Consumable, error) {
	var out *models.Consumable
	err := m.read(func(d *memoryData) error {
		consumable, ok := d.consumables[code]
		if !ok {
			return ErrNotFound
		}
		cp := *consumable
		out = &cp
		return nil
	})
	return out, err
}

// FindConsumables implements ConsumableCollection. Results are ordered by code.
func (m *MemoryStore) FindConsumables(ctx context.Context, filter ConsumableFilter) ([]models.Consumable, error) {
	var out []models.Consumable
	err := m.read(func(d *memoryData) error {
		for _, consumable := range d.consumables {
			if filter.Category != "" && consumable.Category != filter.Category {
				continue
			}
			out = append(out, *consumable)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

// AdjustStock implements ConsumableCollection.
func (m *MemoryStore) AdjustStock(ctx context.Context, code string, delta float64, at time.Time) (*models.Consumable, error) {
	var out *models.Consumable
	err := m.write(func(d *memoryData) error {
		current, ok := d.consumables[code]
		if !ok {
			return ErrNotFound
		}
		if current.CurrentStock+delta < 0 {
			return ErrGuardFailed
		}
		next := *current
		next.CurrentStock += delta
		next.Version++
		next.UpdatedAt = at
		d.consumables[code] = &next
		cp := next
		out = &cp
		return nil
	})
	return out, err
}

// InsertUsage implements UsageCollection.
func (m *MemoryStore) InsertUsage(ctx context.Context, usage *models.Usage) error {
	return m.write(func(d *memoryData) error {
		d.nextUsageID++
		usage.ID = d.nextUsageID
		cp := *usage
		d.usages[usage.ID] = &cp
		return nil
	})
}

// FindUsages implements UsageCollection. Results are ordered by id.
func (m *MemoryStore) FindUsages(ctx context.Context, filter UsageFilter) ([]models.Usage, error) {
	var out []models.Usage
	err := m.read(func(d *memoryData) error {
		for _, usage := range d.usages {
			if filter.JobID != nil && usage.JobID != *filter.JobID {
				continue
			}
			if filter.ConsumableCode != "" && usage.ConsumableCode != filter.ConsumableCode {
				continue
			}
			out = append(out, *usage)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
