// Package memory keeps peer data in process for loopback runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/activitysync/internal/domain"
)

// Store implements domain.Store in memory.
type Store struct {
	mu         sync.RWMutex
	activities map[string]domain.Activity
	baseTasks  map[string]domain.BaseTask
	history    []domain.CompletedActivity
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		activities: make(map[string]domain.Activity),
		baseTasks:  make(map[string]domain.BaseTask),
	}
}

// LoadActivities implements domain.ActivityStore.
func (s *Store) LoadActivities(ctx context.Context) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetActivity implements domain.ActivityStore.
func (s *Store) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activities[id]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	clone := a.Clone()
	return &clone, nil
}

// SaveActivity implements domain.ActivityStore.
func (s *Store) SaveActivity(ctx context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity.Clone()
	return nil
}

// DeleteActivity implements domain.ActivityStore.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return domain.ErrActivityNotFound
	}
	delete(s.activities, id)
	return nil
}

// LoadBaseTasks implements domain.BaseTaskStore.
func (s *Store) LoadBaseTasks(ctx context.Context) ([]domain.BaseTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BaseTask, 0, len(s.baseTasks))
	for _, t := range s.baseTasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveBaseTask implements domain.BaseTaskStore.
func (s *Store) SaveBaseTask(ctx context.Context, task domain.BaseTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseTasks[task.ID] = task
	return nil
}

// DeleteBaseTask implements domain.BaseTaskStore.
func (s *Store) DeleteBaseTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baseTasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(s.baseTasks, id)
	return nil
}

// LoadCompleted implements domain.HistoryStore, newest first.
func (s *Store) LoadCompleted(ctx context.Context, limit int) ([]domain.CompletedActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CompletedActivity, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.history[i])
	}
	return out, nil
}

// SaveCompleted implements domain.HistoryStore.
func (s *Store) SaveCompleted(ctx context.Context, record domain.CompletedActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Tasks = append([]domain.CompletedTask(nil), record.Tasks...)
	s.history = append(s.history, record)
	return nil
}

// Close implements domain.Store.
func (s *Store) Close() error { return nil }
