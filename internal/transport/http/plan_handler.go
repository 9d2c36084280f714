package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
	"tripplan-go/internal/planservice"
	"tripplan-go/internal/taskengine"
)

// PlanHandler exposes the planner and task-status endpoints (spec §6).
type PlanHandler struct {
	plans *planservice.Service
	tasks *taskengine.Engine
}

func NewPlanHandler(plans *planservice.Service, tasks *taskengine.Engine) *PlanHandler {
	return &PlanHandler{plans: plans, tasks: tasks}
}

type planRequestBody struct {
	UserID      uint              `json:"user_id" binding:"required"`
	Destination string            `json:"destination" binding:"required"`
	StartDate   string            `json:"start_date" binding:"required"`
	EndDate     string            `json:"end_date" binding:"required"`
	Mode        model.PlanMode    `json:"mode"`
	Save        bool              `json:"save"`
	Preferences model.Preferences `json:"preferences"`
	Seed        *int64            `json:"seed,omitempty"`
	Async       bool              `json:"async,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	SeedMode    model.SeedMode    `json:"seed_mode,omitempty"`
}

// Plan handles POST /api/ai/plan.
func (h *PlanHandler) Plan(c *gin.Context) {
	var body planRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, badParams(err))
		return
	}

	startDate, err := time.Parse("2006-01-02", body.StartDate)
	if err != nil {
		fail(c, apierr.New(apierr.KindInvalidParams, "start_date must be YYYY-MM-DD").WithPath("start_date"))
		return
	}
	endDate, err := time.Parse("2006-01-02", body.EndDate)
	if err != nil {
		fail(c, apierr.New(apierr.KindInvalidParams, "end_date must be YYYY-MM-DD").WithPath("end_date"))
		return
	}

	request := model.PlanRequest{
		UserID:      body.UserID,
		Destination: body.Destination,
		StartDate:   startDate,
		EndDate:     endDate,
		Mode:        body.Mode,
		Save:        body.Save,
		Preferences: body.Preferences,
		Seed:        body.Seed,
		Async:       body.Async,
		RequestID:   body.RequestID,
		SeedMode:    body.SeedMode,
	}

	response, err := h.plans.Plan(c.Request.Context(), request)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, response)
}

// TaskStatus handles GET /api/ai/plan/tasks/{task_id}?user_id=….
func (h *PlanHandler) TaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	userID, err := requireUintQuery(c, "user_id")
	if err != nil {
		fail(c, err)
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), taskID, userID, false)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, taskStatusView(task))
}

func taskStatusView(task model.Task) gin.H {
	traceID, _ := task.RequestPayload["trace_id"].(string)
	if traceID == "" {
		traceID = task.RequestID
	}
	view := gin.H{
		"status":     task.Status,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
		"trace_id":   traceID,
	}
	if task.StartedAt != nil {
		view["started_at"] = task.StartedAt
	}
	if task.FinishedAt != nil {
		view["finished_at"] = task.FinishedAt
	}
	if task.Result != nil {
		view["result"] = task.Result
	}
	if task.Error != nil {
		view["error"] = task.Error
	}
	return view
}
