// Package sqlite persists peer data in a local SQLite file. The wrist peer
// uses it where no Postgres is reachable.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"example.com/activitysync/internal/domain"
)

// Store implements domain.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// Close implements domain.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		activity_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tasks TEXT NOT NULL DEFAULT '[]',
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS base_tasks (
		task_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		duration INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completed_activities (
		record_id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL,
		name TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		tasks TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_completed_at ON completed_activities(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout has fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

// LoadActivities implements domain.ActivityStore.
func (s *Store) LoadActivities(ctx context.Context) ([]domain.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT activity_id, name, tasks, is_completed, created_at, last_completed_at
		 FROM activities ORDER BY created_at, activity_id`)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (domain.Activity, error) {
	var (
		a             domain.Activity
		tasks         string
		createdAt     string
		lastCompleted sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &tasks, &a.IsCompleted, &createdAt, &lastCompleted); err != nil {
		return domain.Activity{}, err
	}
	if err := json.Unmarshal([]byte(tasks), &a.Tasks); err != nil {
		return domain.Activity{}, fmt.Errorf("decode tasks of %s: %w", a.ID, err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return domain.Activity{}, err
	}
	a.CreatedAt = ts
	if lastCompleted.Valid {
		ts, err := parseTime(lastCompleted.String)
		if err != nil {
			return domain.Activity{}, err
		}
		a.LastCompletedAt = &ts
	}
	return a, nil
}

// GetActivity implements domain.ActivityStore.
func (s *Store) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT activity_id, name, tasks, is_completed, created_at, last_completed_at
		 FROM activities WHERE activity_id = ?`, id)
	a, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SaveActivity implements domain.ActivityStore.
func (s *Store) SaveActivity(ctx context.Context, activity domain.Activity) error {
	tasks := activity.Tasks
	if tasks == nil {
		tasks = []domain.ActivityTask{}
	}
	body, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	var lastCompleted sql.NullString
	if activity.LastCompletedAt != nil {
		lastCompleted = sql.NullString{String: formatTime(*activity.LastCompletedAt), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activities (activity_id, name, tasks, is_completed, created_at, last_completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(activity_id) DO UPDATE SET
		   name = excluded.name,
		   tasks = excluded.tasks,
		   is_completed = excluded.is_completed,
		   last_completed_at = excluded.last_completed_at`,
		activity.ID, activity.Name, string(body), activity.IsCompleted, formatTime(activity.CreatedAt), lastCompleted,
	)
	return err
}

// DeleteActivity implements domain.ActivityStore.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE activity_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// LoadBaseTasks implements domain.BaseTaskStore.
func (s *Store) LoadBaseTasks(ctx context.Context) ([]domain.BaseTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, name, kind, duration FROM base_tasks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BaseTask, 0)
	for rows.Next() {
		var t domain.BaseTask
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind, &t.Duration); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveBaseTask implements domain.BaseTaskStore.
func (s *Store) SaveBaseTask(ctx context.Context, task domain.BaseTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO base_tasks (task_id, name, kind, duration) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET name = excluded.name, kind = excluded.kind, duration = excluded.duration`,
		task.ID, task.Name, string(task.Kind), task.Duration)
	return err
}

// DeleteBaseTask implements domain.BaseTaskStore.
func (s *Store) DeleteBaseTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM base_tasks WHERE task_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// LoadCompleted implements domain.HistoryStore, newest first. A limit of
// zero or less returns every record.
func (s *Store) LoadCompleted(ctx context.Context, limit int) ([]domain.CompletedActivity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, activity_id, name, started_at, completed_at, tasks
		 FROM completed_activities ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CompletedActivity, 0)
	for rows.Next() {
		var (
			rec                domain.CompletedActivity
			started, completed string
			tasks              string
		)
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.Name, &started, &completed, &tasks); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if rec.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tasks), &rec.Tasks); err != nil {
			return nil, fmt.Errorf("decode tasks of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveCompleted implements domain.HistoryStore.
func (s *Store) SaveCompleted(ctx context.Context, record domain.CompletedActivity) error {
	tasks := record.Tasks
	if tasks == nil {
		tasks = []domain.CompletedTask{}
	}
	body, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completed_activities (record_id, activity_id, name, started_at, completed_at, tasks)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.ActivityID, record.Name, formatTime(record.StartedAt), formatTime(record.CompletedAt), string(body))
	return err
}
