package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/eventlog"
	"github.com/ukydev/fieldops/internal/models"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close(context.Background()) })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newJob(id int64, tech string) *models.Job {
	return &models.Job{
		ID:           id,
		JobNumber:    fmt.Sprintf("JOB-%04d", id),
		TechnicianID: tech,
		Kind:         models.JobKindRepair,
		Priority:     models.PriorityMedium,
		Title:        "Fix it",
		ScheduledAt:  t0.Add(time.Duration(id) * time.Hour),
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func TestStore_JobRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := newJob(1, "tech-1")
		job.Customer = models.Customer{Name: "Cafe", Phone: "555"}
		job.Site = models.Location{Lat: 1.5, Lon: 2.5}
		job.History = eventlog.Append(nil, string(models.StatusEnRoute), t0, "", "alex")
		job.BeforeEvidence = models.AttachmentList{{URI: "file://a.jpg", Notes: "leak"}}
		job.UsageSummary = models.UsageSummary{"C-10": 2}
		require.NoError(t, s.InsertJob(ctx, job))

		got, err := s.FindJobByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Cafe", got.Customer.Name)
		assert.Equal(t, 2.5, got.Site.Lon)
		assert.Equal(t, models.StatusEnRoute, got.Status())
		assert.Equal(t, "alex", got.History[0].Actor)
		assert.Equal(t, "leak", got.BeforeEvidence[0].Notes)
		assert.Equal(t, 2.0, got.UsageSummary["C-10"])

		byNumber, err := s.FindJobByNumber(ctx, job.JobNumber)
		require.NoError(t, err)
		assert.Equal(t, int64(1), byNumber.ID)

		_, err = s.FindJobByID(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_InsertJobAssignsID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertJob(ctx, newJob(5, "tech-1")))
		job := newJob(0, "tech-1")
		job.JobNumber = "JOB-NEW"
		require.NoError(t, s.InsertJob(ctx, job))
		assert.Greater(t, job.ID, int64(5))

		dup := newJob(7, "tech-1")
		dup.JobNumber = "JOB-NEW"
		assert.ErrorIs(t, s.InsertJob(ctx, dup), ErrDuplicate)
	})
}

func TestStore_UpdateJobVersioned(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertJob(ctx, newJob(1, "tech-1")))

		a, _ := s.FindJobByID(ctx, 1)
		b, _ := s.FindJobByID(ctx, 1)

		a.History = eventlog.Append(a.History, string(models.StatusEnRoute), t0, "", "")
		a.NeedsSync = true
		require.NoError(t, s.UpdateJob(ctx, a))
		assert.Equal(t, int64(1), a.Version)

		b.History = eventlog.Append(b.History, string(models.StatusCancelled), t0, "", "")
		assert.ErrorIs(t, s.UpdateJob(ctx, b), ErrConflict)

		got, _ := s.FindJobByID(ctx, 1)
		assert.Equal(t, models.StatusEnRoute, got.Status())
		assert.True(t, got.NeedsSync)
		assert.Equal(t, int64(1), got.Version)

		missing := newJob(42, "tech-1")
		assert.ErrorIs(t, s.UpdateJob(ctx, missing), ErrNotFound)
	})
}

func TestStore_FindJobsFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, tech := range []string{"tech-1", "tech-2", "tech-1", "tech-1"} {
			job := newJob(int64(4-i), tech)
			job.NeedsSync = i%2 == 0
			require.NoError(t, s.InsertJob(ctx, job))
		}

		jobs, err := s.FindJobs(ctx, JobFilter{TechnicianID: "tech-1"})
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, []int64{1, 2, 4}, []int64{jobs[0].ID, jobs[1].ID, jobs[2].ID})

		jobs, err = s.FindJobs(ctx, JobFilter{ScheduledFrom: t0.Add(2 * time.Hour), ScheduledTo: t0.Add(4 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		jobs, err = s.FindJobs(ctx, JobFilter{OnlyUnsynced: true})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})
}

func TestStore_Technicians(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tech := &models.Technician{ID: "tech-1", Username: "alex", Name: "Alex", IsActive: true, CreatedAt: t0}
		require.NoError(t, s.InsertTechnician(ctx, tech))
		assert.ErrorIs(t, s.InsertTechnician(ctx, &models.Technician{ID: "tech-9", Username: "alex"}), ErrDuplicate)

		got, err := s.FindTechnicianByUsername(ctx, "alex")
		require.NoError(t, err)
		assert.Equal(t, "tech-1", got.ID)

		require.NoError(t, s.UpdateLastLogin(ctx, "tech-1", t0.Add(time.Hour)))
		got, err = s.FindTechnicianByID(ctx, "tech-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastLogin)
		assert.True(t, got.LastLogin.Equal(t0.Add(time.Hour)))

		assert.ErrorIs(t, s.UpdateLastLogin(ctx, "nobody", t0), ErrNotFound)
	})
}

func TestStore_AssetsAndCheckouts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertAsset(ctx, &models.Asset{Code: "A-1", Name: "Drill", Category: models.AssetCategoryTool, Available: true}))
		require.NoError(t, s.InsertAsset(ctx, &models.Asset{Code: "A-2", Name: "Ladder", Category: models.AssetCategoryEquipment, Available: true}))

		asset, err := s.FindAssetByCode(ctx, "A-1")
		require.NoError(t, err)
		holder := "tech-1"
		asset.Available = false
		asset.Holder = &holder
		asset.History = eventlog.Append(nil, string(models.AssetCheckedOut), t0, "", holder)
		require.NoError(t, s.UpdateAsset(ctx, asset))

		stale, _ := s.FindAssetByCode(ctx, "A-1")
		stale.Version = 0
		assert.ErrorIs(t, s.UpdateAsset(ctx, stale), ErrConflict)

		unavailable := false
		held, err := s.FindAssets(ctx, AssetFilter{Available: &unavailable})
		require.NoError(t, err)
		require.Len(t, held, 1)
		assert.Equal(t, "A-1", held[0].Code)
		assert.True(t, held[0].CustodyOpen())

		byHolder, err := s.FindAssets(ctx, AssetFilter{Holder: "tech-1"})
		require.NoError(t, err)
		assert.Len(t, byHolder, 1)

		jobID := int64(3)
		first := &models.Checkout{AssetCode: "A-1", Holder: holder, JobID: &jobID, ConditionOut: models.ConditionGood, CheckedOutAt: t0}
		second := &models.Checkout{AssetCode: "A-2", Holder: holder, CheckedOutAt: t0}
		require.NoError(t, s.InsertCheckout(ctx, first))
		require.NoError(t, s.InsertCheckout(ctx, second))
		assert.NotZero(t, first.ID)
		assert.Greater(t, second.ID, first.ID)

		forJob, err := s.FindCheckouts(ctx, CheckoutFilter{JobID: &jobID, OpenOnly: true})
		require.NoError(t, err)
		require.Len(t, forJob, 1)
		assert.Equal(t, first.ID, forJob[0].ID)

		closed, err := s.CloseCheckout(ctx, first.ID, t0.Add(time.Hour), models.ConditionFair, "scuffed")
		require.NoError(t, err)
		assert.False(t, closed.IsOpen())
		assert.Equal(t, models.ConditionFair, closed.ConditionIn)

		_, err = s.CloseCheckout(ctx, first.ID, t0.Add(2*time.Hour), models.ConditionGood, "")
		assert.ErrorIs(t, err, ErrGuardFailed)
		_, err = s.CloseCheckout(ctx, 999, t0, models.ConditionGood, "")
		assert.ErrorIs(t, err, ErrNotFound)

		open, err := s.FindCheckouts(ctx, CheckoutFilter{Holder: holder, OpenOnly: true})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "A-2", open[0].AssetCode)
	})
}

func TestStore_AdjustStockGuard(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertConsumable(ctx, &models.Consumable{Code: "C-1", Name: "Ties", CurrentStock: 10, MinimumStock: 5}))

		c, err := s.AdjustStock(ctx, "C-1", -6, t0)
		require.NoError(t, err)
		assert.Equal(t, 4.0, c.CurrentStock)
		assert.True(t, c.LowStock())

		_, err = s.AdjustStock(ctx, "C-1", -5, t0)
		assert.ErrorIs(t, err, ErrGuardFailed)

		c, err = s.FindConsumableByCode(ctx, "C-1")
		require.NoError(t, err)
		assert.Equal(t, 4.0, c.CurrentStock)

		c, err = s.AdjustStock(ctx, "C-1", 6, t0)
		require.NoError(t, err)
		assert.Equal(t, 10.0, c.CurrentStock)

		_, err = s.AdjustStock(ctx, "missing", 1, t0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Usages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, code := range []string{"C-1", "C-2", "C-1"} {
			require.NoError(t, s.InsertUsage(ctx, &models.Usage{JobID: 1, ConsumableCode: code, Quantity: 1, UsedAt: t0}))
		}
		require.NoError(t, s.InsertUsage(ctx, &models.Usage{JobID: 2, ConsumableCode: "C-1", Quantity: 3, UsedAt: t0}))

		jobID := int64(1)
		usages, err := s.FindUsages(ctx, UsageFilter{JobID: &jobID})
		require.NoError(t, err)
		assert.Len(t, usages, 3)

		usages, err = s.FindUsages(ctx, UsageFilter{ConsumableCode: "C-1"})
		require.NoError(t, err)
		assert.Len(t, usages, 3)
	})
}

func TestStore_TransactRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertConsumable(ctx, &models.Consumable{Code: "C-1", CurrentStock: 10}))
		require.NoError(t, s.InsertJob(ctx, newJob(1, "tech-1")))

		boom := errors.New("boom")
		err := s.Transact(ctx, func(ctx context.Context, tx Store) error {
			if _, err := tx.AdjustStock(ctx, "C-1", -3, t0); err != nil {
				return err
			}
			job, err := tx.FindJobByID(ctx, 1)
			if err != nil {
				return err
			}
			job.NeedsSync = true
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		c, _ := s.FindConsumableByCode(ctx, "C-1")
		assert.Equal(t, 10.0, c.CurrentStock)
		job, _ := s.FindJobByID(ctx, 1)
		assert.False(t, job.NeedsSync)
		assert.Equal(t, int64(0), job.Version)
	})
}

func TestStore_TransactCommits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertConsumable(ctx, &models.Consumable{Code: "C-1", CurrentStock: 10}))

		err := s.Transact(ctx, func(ctx context.Context, tx Store) error {
			if _, err := tx.AdjustStock(ctx, "C-1", -3, t0); err != nil {
				return err
			}
			// nested calls join the outer transaction
			return tx.Transact(ctx, func(ctx context.Context, inner Store) error {
				return inner.InsertUsage(ctx, &models.Usage{JobID: 1, ConsumableCode: "C-1", Quantity: 3, UsedAt: t0})
			})
		})
		require.NoError(t, err)

		c, _ := s.FindConsumableByCode(ctx, "C-1")
		assert.Equal(t, 7.0, c.CurrentStock)
		usages, _ := s.FindUsages(ctx, UsageFilter{ConsumableCode: "C-1"})
		assert.Len(t, usages, 1)
	})
}

func TestStore_ConcurrentDrawsNeverOverdraw(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertConsumable(ctx, &models.Consumable{Code: "C-1", CurrentStock: 10}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AdjustStock(ctx, "C-1", -1, t0); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		c, _ := s.FindConsumableByCode(ctx, "C-1")
		assert.Equal(t, 10, succeeded)
		assert.Equal(t, 0.0, c.CurrentStock)
	})
}

func TestSQLite_MalformedHistoryReadsAsEmpty(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
	require.NoError(t, err)
	defer s.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, s.InsertJob(ctx, newJob(1, "tech-1")))
	require.NoError(t, s.db.Exec("UPDATE jobs SET status_history = ?, before_evidence = ? WHERE id = ?", "{{broken", "nope", 1).Error)

	job, err := s.FindJobByID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, job.History)
	assert.Equal(t, models.DefaultJobStatus, job.Status())
	assert.Empty(t, job.BeforeEvidence)
}

func TestSeed_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, Seed(ctx, s, t0))
		require.NoError(t, Seed(ctx, s, t0))

		jobs, err := s.FindJobs(ctx, JobFilter{TechnicianID: "tech-1"})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		for _, j := range jobs {
			assert.Equal(t, models.DefaultJobStatus, j.Status())
		}

		tech, err := s.FindTechnicianByUsername(ctx, "alex")
		require.NoError(t, err)
		assert.NotEmpty(t, tech.PINHash)

		c, err := s.FindConsumableByCode(ctx, "C-30")
		require.NoError(t, err)
		assert.True(t, c.LowStock())
	})
}
