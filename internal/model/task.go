package model

import "time"

// TaskStatus is the canonical status vocabulary (spec §9 Open Question:
// the source mixes queued/running/succeeded/failed/canceled with legacy
// pending/done; this repo writes only the canonical set).
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// NormalizeTaskStatus maps legacy spellings to the canonical set on read.
func NormalizeTaskStatus(raw string) TaskStatus {
	switch raw {
	case "pending":
		return TaskQueued
	case "done":
		return TaskSucceeded
	case string(TaskQueued), string(TaskRunning), string(TaskSucceeded), string(TaskFailed), string(TaskCanceled):
		return TaskStatus(raw)
	default:
		return TaskFailed
	}
}

// Task is keyed by id and owned by user_id (spec §3).
type Task struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	UserID         uint       `gorm:"index;not null" json:"userId"`
	Kind           string     `gorm:"size:32;not null" json:"kind"`
	Status         TaskStatus `gorm:"size:16;index;not null" json:"status"`
	RequestID      string     `gorm:"index:idx_user_request;size:128" json:"requestId,omitempty"`
	RequestPayload JSONMap    `gorm:"column:request_json;type:json" json:"requestPayload,omitempty"`
	Result         JSONMap    `gorm:"column:result_json;type:json" json:"result,omitempty"`
	Error          JSONMap    `gorm:"column:error_json;type:json" json:"error,omitempty"`
	ArtifactKey    string     `gorm:"size:255" json:"-"`
	CreatedAt      time.Time  `gorm:"index;autoCreateTime" json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Task) TableName() string { return "ai_tasks" }

// Terminal reports whether the task has reached a terminal state.
func (t Task) Terminal() bool {
	switch t.Status {
	case TaskSucceeded, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}
