package inventory

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

var (
	now  = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	alex = models.Session{TechnicianID: "tech-1", Username: "alex"}
	sam  = models.Session{TechnicianID: "tech-2", Username: "sam"}
)

func forEachStore(t *testing.T, fn func(t *testing.T, store db.Store, l *Ledger)) {
	stores := map[string]func(t *testing.T) db.Store{
		"memory": func(t *testing.T) db.Store { return db.NewMemoryStore() },
		"sqlite": func(t *testing.T) db.Store {
			s, err := db.OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close(context.Background()) })
			return s
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			require.NoError(t, db.Seed(context.Background(), store, now))
			logger := log.New()
			logger.SetOutput(io.Discard)
			fn(t, store, New(store, Options{Logger: logger, Now: func() time.Time { return now }}))
		})
	}
}

func TestDraw_CrossesLowStock(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()

		before, err := l.Consumable(ctx, "C-10")
		require.NoError(t, err)
		assert.Equal(t, 10.0, before.CurrentStock)
		assert.False(t, before.LowStock)

		res, err := l.Draw(ctx, alex, 1, "C-10", 6)
		require.NoError(t, err)
		assert.Equal(t, 4.0, res.Consumable.CurrentStock)
		assert.True(t, res.Consumable.LowStock)
		assert.Equal(t, int64(1), res.Usage.JobID)
		assert.Equal(t, "pack", res.Usage.Unit)
		assert.NotZero(t, res.Usage.ID)

		job, err := store.FindJobByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 6.0, job.UsageSummary["C-10"])
		assert.True(t, job.NeedsSync)

		usages, err := l.Usages(ctx, db.UsageFilter{ConsumableCode: "C-10"})
		require.NoError(t, err)
		require.Len(t, usages, 1)
		assert.Equal(t, "tech-1", usages[0].TechnicianID)
	})
}

func TestDraw_ThenRestoreRoundTrips(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()
		job := int64(2)

		_, err := l.Draw(ctx, alex, job, "C-40", 2.5)
		require.NoError(t, err)
		restored, err := l.Restore(ctx, alex, "C-40", 2.5, &job)
		require.NoError(t, err)
		assert.Equal(t, 12.5, restored.CurrentStock)

		stored, err := store.FindJobByID(ctx, job)
		require.NoError(t, err)
		_, ok := stored.UsageSummary["C-40"]
		assert.False(t, ok)

		usages, err := l.Usages(ctx, db.UsageFilter{JobID: &job})
		require.NoError(t, err)
		assert.Len(t, usages, 1, "restores do not rewrite draw records")
	})
}

func TestDraw_OverdrawChangesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()

		_, err := l.Draw(ctx, alex, 1, "C-30", 3.5)
		assert.ErrorIs(t, err, outcome.ErrInvariantViolation)

		c, err := l.Consumable(ctx, "C-30")
		require.NoError(t, err)
		assert.Equal(t, 3.0, c.CurrentStock)

		usages, err := l.Usages(ctx, db.UsageFilter{})
		require.NoError(t, err)
		assert.Empty(t, usages)

		job, err := store.FindJobByID(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, job.UsageSummary)
		assert.Zero(t, job.Version)

		res, err := l.Draw(ctx, alex, 1, "C-30", 3)
		require.NoError(t, err)
		assert.Zero(t, res.Consumable.CurrentStock)
	})
}

func TestDraw_Rejects(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()
		for _, q := range []float64{0, -1, math.NaN(), math.Inf(1)} {
			_, err := l.Draw(ctx, alex, 1, "C-10", q)
			assert.ErrorIs(t, err, outcome.ErrInvalidArgument, "quantity %v", q)
		}
		_, err := l.Draw(ctx, models.Session{}, 1, "C-10", 1)
		assert.ErrorIs(t, err, outcome.ErrInvalidArgument)
		_, err = l.Draw(ctx, alex, 1, "C-99", 1)
		assert.ErrorIs(t, err, outcome.ErrNotFound)
		_, err = l.Draw(ctx, alex, 4, "C-10", 1)
		assert.ErrorIs(t, err, outcome.ErrNotFound, "job belongs to another technician")
		_, err = l.Restore(ctx, alex, "C-99", 1, nil)
		assert.ErrorIs(t, err, outcome.ErrNotFound)

		c, err := l.Consumable(ctx, "C-10")
		require.NoError(t, err)
		assert.Equal(t, 10.0, c.CurrentStock)
	})
}

func TestDraw_ConcurrentNeverOverdraws(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				session, job := alex, int64(1+i%3)
				if i%2 == 1 {
					session, job = sam, 4
				}
				if _, err := l.Draw(ctx, session, job, "C-30", 1); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 3, wins)
		c, err := l.Consumable(ctx, "C-30")
		require.NoError(t, err)
		assert.Zero(t, c.CurrentStock)
	})
}

func TestLowStock(t *testing.T) {
	forEachStore(t, func(t *testing.T, store db.Store, l *Ledger) {
		ctx := context.Background()
		low, err := l.LowStock(ctx)
		require.NoError(t, err)
		require.Len(t, low, 1)
		assert.Equal(t, "C-30", low[0].Code)

		_, err = l.Draw(ctx, alex, 1, "C-20", 40)
		require.NoError(t, err)
		low, err = l.LowStock(ctx)
		require.NoError(t, err)
		assert.Len(t, low, 2)

		plumbing, err := l.Consumables(ctx, db.ConsumableFilter{Category: "plumbing"})
		require.NoError(t, err)
		assert.Len(t, plumbing, 2)
	})
}
