package taskengine

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"tripplan-go/internal/model"
)

// Repository is the ai_tasks data access layer, every status transition
// wrapped in a short transaction so no DB row is held across a handler's
// LLM/provider call (spec §4.J).
type Repository interface {
	Create(ctx context.Context, task model.Task) error
	FindByID(ctx context.Context, id string) (*model.Task, error)
	CountActiveForUser(ctx context.Context, userID uint, kind string) (int64, error)
	ListQueued(ctx context.Context, kind string) ([]model.Task, error)
	ListRunning(ctx context.Context, kind string) ([]model.Task, error)
	// TransitionToRunning flips a queued row to running, returning false
	// if it was no longer queued (another worker already claimed it).
	TransitionToRunning(ctx context.Context, id string) (bool, error)
	MarkSucceeded(ctx context.Context, id string, result model.JSONMap) error
	MarkFailed(ctx context.Context, id string, errPayload model.JSONMap) error
	SetArtifactKey(ctx context.Context, id string, artifactKey string) error
	// Summary computes the admin task-summary view (spec §6 GET
	// /admin/ai/tasks/summary): status distribution, p95 finished latency,
	// failure-reason histogram and the last N tasks across all kinds.
	Summary(ctx context.Context, lastN int) (Summary, error)
}

// Summary is the aggregate admin view over ai_tasks.
type Summary struct {
	StatusCounts   map[model.TaskStatus]int64 `json:"status_counts"`
	P95LatencyMs   float64                    `json:"p95_latency_ms"`
	FailureReasons []FailureReason            `json:"failure_reasons"`
	LastTasks      []TaskSummaryRow           `json:"last_tasks"`
}

// TaskSummaryRow is the admin-facing shape of a recent task row, printing
// timestamps as "YYYY-MM-DD HH:MM:SS" the way the admin surface expects.
type TaskSummaryRow struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Status     model.TaskStatus `json:"status"`
	CreatedAt  model.LocalTime  `json:"createdAt"`
	StartedAt  *model.LocalTime `json:"startedAt,omitempty"`
	FinishedAt *model.LocalTime `json:"finishedAt,omitempty"`
}

func newTaskSummaryRow(t model.Task) TaskSummaryRow {
	row := TaskSummaryRow{ID: t.ID, Kind: t.Kind, Status: t.Status, CreatedAt: model.LocalTime(t.CreatedAt)}
	if t.StartedAt != nil {
		started := model.LocalTime(*t.StartedAt)
		row.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := model.LocalTime(*t.FinishedAt)
		row.FinishedAt = &finished
	}
	return row
}

// FailureReason is one (error kind, count) pair.
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed Repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, task model.Task) error {
	return r.db.WithContext(ctx).Create(&task).Error
}

func (r *gormRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var row model.Task
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) CountActiveForUser(ctx context.Context, userID uint, kind string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND kind = ? AND status IN ?", userID, kind, []model.TaskStatus{model.TaskQueued, model.TaskRunning}).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) ListQueued(ctx context.Context, kind string) ([]model.Task, error) {
	var rows []model.Task
	err := r.db.WithContext(ctx).Where("kind = ? AND status = ?", kind, model.TaskQueued).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListRunning(ctx context.Context, kind string) ([]model.Task, error) {
	var rows []model.Task
	err := r.db.WithContext(ctx).Where("kind = ? AND status = ?", kind, model.TaskRunning).Find(&rows).Error
	return rows, err
}

// TransitionToRunning uses a conditional UPDATE as the row lock: only one
// worker's UPDATE affects a row, satisfying "at most one worker executes
// a given task at a time" without an explicit SELECT ... FOR UPDATE.
func (r *gormRepository) TransitionToRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.TaskQueued).
		Updates(map[string]any{"status": model.TaskRunning, "started_at": now, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) MarkSucceeded(ctx context.Context, id string, result model.JSONMap) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.TaskSucceeded, "result_json": result, "error_json": nil, "finished_at": now, "updated_at": now}).Error
}

func (r *gormRepository) MarkFailed(ctx context.Context, id string, errPayload model.JSONMap) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.TaskFailed, "error_json": errPayload, "finished_at": now, "updated_at": now}).Error
}

func (r *gormRepository) SetArtifactKey(ctx context.Context, id string, artifactKey string) error {
	return r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).
		Update("artifact_key", artifactKey).Error
}

func (r *gormRepository) Summary(ctx context.Context, lastN int) (Summary, error) {
	summary := Summary{StatusCounts: make(map[model.TaskStatus]int64)}

	var statusRows []struct {
		Status model.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Select("status, count(*) as count").Group("status").Find(&statusRows).Error; err != nil {
		return Summary{}, err
	}
	for _, row := range statusRows {
		summary.StatusCounts[row.Status] = row.Count
	}

	var finished []model.Task
	if err := r.db.WithContext(ctx).
		Where("started_at IS NOT NULL AND finished_at IS NOT NULL").
		Find(&finished).Error; err != nil {
		return Summary{}, err
	}
	latencies := make([]float64, 0, len(finished))
	for _, t := range finished {
		latencies = append(latencies, float64(t.FinishedAt.Sub(*t.StartedAt).Milliseconds()))
	}
	summary.P95LatencyMs = percentile95(latencies)

	var failed []model.Task
	if err := r.db.WithContext(ctx).Where("status = ?", model.TaskFailed).Find(&failed).Error; err != nil {
		return Summary{}, err
	}
	reasonCounts := make(map[string]int64)
	for _, t := range failed {
		reason, _ := t.Error["type"].(string)
		if reason == "" {
			reason = "unknown"
		}
		reasonCounts[reason]++
	}
	for reason, count := range reasonCounts {
		summary.FailureReasons = append(summary.FailureReasons, FailureReason{Reason: reason, Count: count})
	}

	if lastN <= 0 {
		lastN = 20
	}
	var lastTasks []model.Task
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(lastN).Find(&lastTasks).Error; err != nil {
		return Summary{}, err
	}
	summary.LastTasks = make([]TaskSummaryRow, 0, len(lastTasks))
	for _, t := range lastTasks {
		summary.LastTasks = append(summary.LastTasks, newTaskSummaryRow(t))
	}
	return summary, nil
}

func percentile95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * 0.95)
	return sorted[idx]
}
