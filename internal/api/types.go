package api

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/session"
)

// TaskRequest describes one task in SaveActivityRequest.
type TaskRequest struct {
	ID         string              `json:"id,omitempty"`
	BaseTaskID string              `json:"base_task_id,omitempty"`
	Name       string              `json:"name"`
	Kind       domain.DurationKind `json:"kind"`
	Duration   int                 `json:"duration"`
}

// SaveActivityRequest is the payload for POST /v1/activities. An empty id
// creates a new activity.
type SaveActivityRequest struct {
	ID    string        `json:"id,omitempty"`
	Name  string        `json:"name"`
	Tasks []TaskRequest `json:"tasks"`
}

// Validate ensures request correctness.
func (r SaveActivityRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	for _, task := range r.Tasks {
		if strings.TrimSpace(task.Name) == "" {
			return errors.New("task name is required")
		}
		if !task.Kind.Valid() {
			return errors.New("task kind must be timed or count")
		}
		if task.Duration <= 0 {
			return errors.New("task duration must be > 0")
		}
	}
	return nil
}

func (r SaveActivityRequest) toActivity() domain.Activity {
	activity := domain.Activity{
		ID:    r.ID,
		Name:  strings.TrimSpace(r.Name),
		Tasks: make([]domain.ActivityTask, 0, len(r.Tasks)),
	}
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	for _, t := range r.Tasks {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		activity.Tasks = append(activity.Tasks, domain.ActivityTask{
			ID:         id,
			BaseTaskID: t.BaseTaskID,
			Name:       strings.TrimSpace(t.Name),
			Kind:       t.Kind,
			Duration:   t.Duration,
		})
	}
	return activity
}

// SaveActivityResponse describes the response body for save.
type SaveActivityResponse struct {
	ActivityID string `json:"activity_id"`
	Tasks      int    `json:"tasks"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []domain.Activity `json:"items"`
}

// StartRunRequest is the payload for POST /v1/run/start. Remote asks the
// counterpart to own the run.
type StartRunRequest struct {
	ActivityID string `json:"activity_id"`
	Remote     bool   `json:"remote"`
}

// ExtendRequest is the payload for POST /v1/run/extend.
type ExtendRequest struct {
	Seconds int `json:"seconds"`
}

// RunActionResponse reports what a run action did and the resulting view.
type RunActionResponse struct {
	Result session.Result `json:"result"`
	View   session.View   `json:"view"`
}

// HistoryResponse packages completed runs, newest first.
type HistoryResponse struct {
	Items []domain.CompletedActivity `json:"items"`
}
