package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fieldops/internal/lifecycle"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

func TestCreateJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		v, err := f.engine.CreateJob(ctx, alex, lifecycle.NewJob{
			JobNumber:   " JOB-0100 ",
			Kind:        models.JobKindRepair,
			Title:       "Burst pipe",
			ScheduledAt: day0.Add(10 * time.Hour),
			Customer:    models.Customer{Name: "Corner Deli"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.ID)
		assert.Equal(t, "JOB-0100", v.JobNumber)
		assert.Equal(t, models.StatusPending, v.Status)
		assert.Equal(t, models.PriorityMedium, v.Priority)
		assert.Equal(t, alex.TechnicianID, v.TechnicianID)
		require.Len(t, v.History, 1)
		assert.True(t, v.NeedsSync)

		v, err = f.engine.CreateJob(ctx, alex, lifecycle.NewJob{
			JobNumber:     "JOB-0101",
			Kind:          models.JobKindService,
			Title:         "Follow-up visit",
			InitialStatus: models.StatusAwaiting,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusAwaiting, v.Status)

		got, err := f.engine.Get(ctx, alex, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "Follow-up visit", got.Title)
	})
}

func TestCreateJob_Rejects(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		valid := lifecycle.NewJob{JobNumber: "JOB-0200", Kind: models.JobKindRepair, Title: "Fix"}

		cases := map[string]func(n *lifecycle.NewJob){
			"missing number":   func(n *lifecycle.NewJob) { n.JobNumber = "" },
			"missing title":    func(n *lifecycle.NewJob) { n.Title = " " },
			"unknown kind":     func(n *lifecycle.NewJob) { n.Kind = "painting" },
			"negative length":  func(n *lifecycle.NewJob) { n.DurationMinutes = -5 },
			"starts in motion": func(n *lifecycle.NewJob) { n.InitialStatus = models.StatusBusy },
			"duplicate number": func(n *lifecycle.NewJob) { n.JobNumber = "JOB-0001" },
		}
		for name, mutate := range cases {
			req := valid
			mutate(&req)
			_, err := f.engine.CreateJob(ctx, alex, req)
			assert.ErrorIs(t, err, outcome.ErrInvalidArgument, name)
		}

		_, err := f.engine.CreateJob(ctx, models.Session{}, valid)
		assert.ErrorIs(t, err, outcome.ErrInvalidArgument)
	})
}

func TestMarkSynced(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.engine.Start(ctx, alex, 1)
		require.NoError(t, err)

		unsynced, err := f.engine.List(ctx, alex, lifecycle.ListFilter{OnlyUnsynced: true})
		require.NoError(t, err)
		require.Len(t, unsynced, 1)

		v, err := f.engine.MarkSynced(ctx, alex, 1)
		require.NoError(t, err)
		assert.False(t, v.NeedsSync)
		require.NotNil(t, v.SyncedAt)
		assert.Len(t, v.History, 1, "syncing is not a transition")
		assert.Equal(t, models.StatusEnRoute, v.Status)

		unsynced, err = f.engine.List(ctx, alex, lifecycle.ListFilter{OnlyUnsynced: true})
		require.NoError(t, err)
		assert.Empty(t, unsynced)

		_, err = f.engine.MarkSynced(ctx, sam, 1)
		assert.ErrorIs(t, err, outcome.ErrNotFound)
	})
}

func TestList_FiltersByDayAndStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.engine.CreateJob(ctx, alex, lifecycle.NewJob{
			JobNumber:   "JOB-0300",
			Kind:        models.JobKindInspection,
			Title:       "Tomorrow",
			ScheduledAt: day0.AddDate(0, 0, 1),
		})
		require.NoError(t, err)
		_, err = f.engine.Start(ctx, alex, 2)
		require.NoError(t, err)

		today, err := f.engine.List(ctx, alex, lifecycle.ListFilter{Day: day0})
		require.NoError(t, err)
		require.Len(t, today, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{today[0].ID, today[1].ID, today[2].ID})

		pending, err := f.engine.List(ctx, alex, lifecycle.ListFilter{Status: models.StatusPending})
		require.NoError(t, err)
		assert.Len(t, pending, 3)

		all, err := f.engine.List(ctx, sam, lifecycle.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)

		active, err := f.engine.ActiveJob(ctx, sam)
		require.NoError(t, err)
		assert.Nil(t, active)
	})
}
