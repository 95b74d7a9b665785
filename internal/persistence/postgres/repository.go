// Package postgres persists peer data in Postgres. Task lists are stored as
// JSONB next to the activity row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// Repository implements domain.Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// LoadActivities implements domain.ActivityStore.
func (r *Repository) LoadActivities(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT activity_id, name, tasks, is_completed, created_at, last_completed_at
        FROM activities ORDER BY created_at, activity_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a     domain.Activity
		tasks []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &tasks, &a.IsCompleted, &a.CreatedAt, &a.LastCompletedAt); err != nil {
		return domain.Activity{}, err
	}
	if err := json.Unmarshal(tasks, &a.Tasks); err != nil {
		return domain.Activity{}, fmt.Errorf("decode tasks of %s: %w", a.ID, err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if a.LastCompletedAt != nil {
		ts := a.LastCompletedAt.UTC()
		a.LastCompletedAt = &ts
	}
	return a, nil
}

// GetActivity implements domain.ActivityStore.
func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	const query = `SELECT activity_id, name, tasks, is_completed, created_at, last_completed_at
        FROM activities WHERE activity_id=$1`

	a, err := scanActivity(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SaveActivity implements domain.ActivityStore.
func (r *Repository) SaveActivity(ctx context.Context, activity domain.Activity) error {
	tasks := activity.Tasks
	if tasks == nil {
		tasks = []domain.ActivityTask{}
	}
	body, err := json.Marshal(tasks)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO activities (activity_id, name, tasks, is_completed, created_at, last_completed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (activity_id) DO UPDATE
        SET name = EXCLUDED.name,
            tasks = EXCLUDED.tasks,
            is_completed = EXCLUDED.is_completed,
            last_completed_at = EXCLUDED.last_completed_at,
            updated_at = NOW()`

	_, err = r.pool.Exec(ctx, stmt, activity.ID, activity.Name, body, activity.IsCompleted, activity.CreatedAt, activity.LastCompletedAt)
	return err
}

// DeleteActivity implements domain.ActivityStore.
func (r *Repository) DeleteActivity(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// LoadBaseTasks implements domain.BaseTaskStore.
func (r *Repository) LoadBaseTasks(ctx context.Context) ([]domain.BaseTask, error) {
	rows, err := r.pool.Query(ctx, `SELECT task_id, name, kind, duration FROM base_tasks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BaseTask, 0)
	for rows.Next() {
		var (
			t    domain.BaseTask
			kind string
		)
		if err := rows.Scan(&t.ID, &t.Name, &kind, &t.Duration); err != nil {
			return nil, err
		}
		t.Kind = domain.DurationKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveBaseTask implements domain.BaseTaskStore.
func (r *Repository) SaveBaseTask(ctx context.Context, task domain.BaseTask) error {
	const stmt = `INSERT INTO base_tasks (task_id, name, kind, duration, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (task_id) DO UPDATE
        SET name = EXCLUDED.name, kind = EXCLUDED.kind, duration = EXCLUDED.duration, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, stmt, task.ID, task.Name, string(task.Kind), task.Duration)
	return err
}

// DeleteBaseTask implements domain.BaseTaskStore.
func (r *Repository) DeleteBaseTask(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM base_tasks WHERE task_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// LoadCompleted implements domain.HistoryStore, newest first.
func (r *Repository) LoadCompleted(ctx context.Context, limit int) ([]domain.CompletedActivity, error) {
	query := `SELECT record_id, activity_id, name, started_at, completed_at, tasks
        FROM completed_activities ORDER BY completed_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CompletedActivity, 0)
	for rows.Next() {
		var (
			rec   domain.CompletedActivity
			tasks []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.Name, &rec.StartedAt, &rec.CompletedAt, &tasks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tasks, &rec.Tasks); err != nil {
			return nil, fmt.Errorf("decode tasks of %s: %w", rec.ID, err)
		}
		rec.StartedAt = rec.StartedAt.UTC()
		rec.CompletedAt = rec.CompletedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveCompleted stores a history record together with the activity's
// completion flags in one transaction.
func (r *Repository) SaveCompleted(ctx context.Context, record domain.CompletedActivity) error {
	tasks := record.Tasks
	if tasks == nil {
		tasks = []domain.CompletedTask{}
	}
	body, err := json.Marshal(tasks)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO completed_activities (record_id, activity_id, name, started_at, completed_at, tasks)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.ActivityID, record.Name, record.StartedAt, record.CompletedAt, body)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE activities SET is_completed = TRUE, last_completed_at = $2, updated_at = NOW()
        WHERE activity_id = $1`, record.ActivityID, record.CompletedAt)
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivityCompleted(record.CompletedAt)
	return nil
}
