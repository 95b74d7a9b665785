package domain

import "context"

// ActivityStore persists user activities. Saves are last-write-wins upserts keyed by id.
type ActivityStore interface {
	LoadActivities(ctx context.Context) ([]Activity, error)
	GetActivity(ctx context.Context, id string) (*Activity, error)
	SaveActivity(ctx context.Context, activity Activity) error
	DeleteActivity(ctx context.Context, id string) error
}

// BaseTaskStore persists task templates.
type BaseTaskStore interface {
	LoadBaseTasks(ctx context.Context) ([]BaseTask, error)
	SaveBaseTask(ctx context.Context, task BaseTask) error
	DeleteBaseTask(ctx context.Context, id string) error
}

// HistoryStore persists completed runs. Records are never updated.
type HistoryStore interface {
	LoadCompleted(ctx context.Context, limit int) ([]CompletedActivity, error)
	SaveCompleted(ctx context.Context, record CompletedActivity) error
}

// Store bundles every persistence concern a peer needs.
type Store interface {
	ActivityStore
	BaseTaskStore
	HistoryStore
	Close() error
}
