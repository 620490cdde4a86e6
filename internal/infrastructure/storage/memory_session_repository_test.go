package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"skin-triage/internal/domain/entity"
)

func TestMemorySessionRepository_GetCreatesDefault(t *testing.T) {
	repo := NewMemorySessionRepository()

	s, err := repo.Get(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, s.State)
	require.Equal(t, entity.DefaultThreshold, s.Threshold)
}

func TestMemorySessionRepository_SaveAndUpdateState(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	s, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.NoError(t, s.SetThreshold(0.9))

	// Изменения не видны, пока сессия не сохранена
	fresh, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.DefaultThreshold, fresh.Threshold)

	require.NoError(t, repo.Save(ctx, s))
	require.NoError(t, repo.UpdateState(ctx, 1, entity.StateProcessing))

	fresh, err = repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 0.9, fresh.Threshold)
	require.Equal(t, entity.StateProcessing, fresh.State)
}

func TestMemorySessionRepository_Concurrent(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s, err := repo.Get(ctx, id%5, id)
			require.NoError(t, err)
			s.SetState(entity.StateAwaitingPhoto)
			require.NoError(t, repo.Save(ctx, s))
		}(int64(i))
	}
	wg.Wait()

	for id := int64(0); id < 5; id++ {
		s, err := repo.Get(ctx, id, id)
		require.NoError(t, err)
		require.Equal(t, entity.StateAwaitingPhoto, s.State)
	}
}
