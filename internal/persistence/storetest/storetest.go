// Package storetest holds behaviour checks shared by every domain.Store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

// Run exercises store against the domain.Store contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) domain.Store) {
	t.Run("activities round trip", func(t *testing.T) {
		testActivities(t, newStore(t))
	})
	t.Run("base tasks", func(t *testing.T) {
		testBaseTasks(t, newStore(t))
	})
	t.Run("history newest first", func(t *testing.T) {
		testHistory(t, newStore(t))
	})
}

func testActivities(t *testing.T, store domain.Store) {
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	plank, err := domain.NewTask("Plank", domain.KindTimed, 45)
	require.NoError(t, err)
	squats, err := domain.NewTask("Squats", domain.KindCount, 20)
	require.NoError(t, err)

	first := domain.NewActivity("Morning", created).AddTask(plank).AddTask(squats)
	second := domain.NewActivity("Evening", created.Add(time.Hour))

	require.NoError(t, store.SaveActivity(ctx, second))
	require.NoError(t, store.SaveActivity(ctx, first))

	all, err := store.LoadActivities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, first.ID, all[0].ID, "ordered by creation time")
	require.Len(t, all[0].Tasks, 2)
	require.Equal(t, "Squats", all[0].Tasks[1].Name)
	require.Equal(t, domain.KindCount, all[0].Tasks[1].Kind)

	completedAt := created.Add(2 * time.Hour)
	first.IsCompleted = true
	first.LastCompletedAt = &completedAt
	first.Tasks[0].Progress = 45
	first.Tasks[0].IsCompleted = true
	require.NoError(t, store.SaveActivity(ctx, first))

	got, err := store.GetActivity(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, got.IsCompleted)
	require.NotNil(t, got.LastCompletedAt)
	require.True(t, completedAt.Equal(*got.LastCompletedAt))
	require.InDelta(t, 45, got.Tasks[0].Progress, 1e-9)

	require.NoError(t, store.DeleteActivity(ctx, first.ID))
	_, err = store.GetActivity(ctx, first.ID)
	require.ErrorIs(t, err, domain.ErrActivityNotFound)
	require.ErrorIs(t, store.DeleteActivity(ctx, first.ID), domain.ErrActivityNotFound)
}

func testBaseTasks(t *testing.T, store domain.Store) {
	ctx := context.Background()
	run := domain.BaseTask{ID: "bt-run", Name: "Run", Kind: domain.KindTimed, Duration: 600}
	lunges := domain.BaseTask{ID: "bt-lunge", Name: "Lunges", Kind: domain.KindCount, Duration: 12}

	require.NoError(t, store.SaveBaseTask(ctx, run))
	require.NoError(t, store.SaveBaseTask(ctx, lunges))
	run.Duration = 900
	require.NoError(t, store.SaveBaseTask(ctx, run))

	tasks, err := store.LoadBaseTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.BaseTask{lunges, run}, tasks)

	require.NoError(t, store.DeleteBaseTask(ctx, lunges.ID))
	require.ErrorIs(t, store.DeleteBaseTask(ctx, lunges.ID), domain.ErrTaskNotFound)
}

func testHistory(t *testing.T, store domain.Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveCompleted(ctx, domain.CompletedActivity{
			ID:          "rec-" + string(rune('a'+i)),
			ActivityID:  "act-1",
			Name:        "Morning",
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i)*time.Hour + 20*time.Minute),
			Tasks: []domain.CompletedTask{
				{TaskID: "t1", Name: "Plank", Kind: domain.KindTimed, PlannedDuration: 45, ActualDuration: 47.5},
			},
		}))
	}

	records, err := store.LoadCompleted(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "rec-c", records[0].ID)
	require.Equal(t, "rec-b", records[1].ID)
	require.InDelta(t, 47.5, records[0].ActualTotal(), 1e-9)
	require.Equal(t, 45, records[0].PlannedTotal())

	all, err := store.LoadCompleted(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
