package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/metrics"
	"tripplan-go/internal/taskengine"
)

// AdminHandler exposes the two admin observability endpoints (spec §6).
// Access control is enforced upstream by middleware.AdminAuthMiddleware.
type AdminHandler struct {
	metrics *metrics.Registry
	tasks   *taskengine.Engine
}

func NewAdminHandler(metricsRegistry *metrics.Registry, tasks *taskengine.Engine) *AdminHandler {
	return &AdminHandler{metrics: metricsRegistry, tasks: tasks}
}

// PlanSummary handles GET /admin/plan/summary. The registry snapshot
// carries every category it has seen calls for, including plan.fast/
// plan.deep's avg_days/tokens_total/fallback_count, poi's cache/api
// counters, and ai's error_types/mem0 counters (spec §4.B/§6).
func (h *AdminHandler) PlanSummary(c *gin.Context) {
	topLabels := 5
	if raw := c.Query("top_labels"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			topLabels = v
		}
	}
	ok(c, h.metrics.Snapshot(topLabels))
}

// TasksSummary handles GET /admin/ai/tasks/summary.
func (h *AdminHandler) TasksSummary(c *gin.Context) {
	lastN := 20
	if raw := c.Query("last_n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			lastN = v
		}
	}
	summary, err := h.tasks.Summary(c.Request.Context(), lastN)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, summary)
}
