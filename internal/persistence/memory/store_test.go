package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/persistence/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.Store { return New() })
}

func TestSavedActivityIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	task, err := domain.NewTask("Plank", domain.KindTimed, 30)
	require.NoError(t, err)
	a := domain.Activity{ID: "a", Name: "Core", Tasks: []domain.ActivityTask{task}}
	require.NoError(t, s.SaveActivity(ctx, a))

	a.Tasks[0].Name = "changed"
	got, err := s.GetActivity(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "Plank", got.Tasks[0].Name)
}
