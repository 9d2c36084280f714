// Package planservice is the single entry point trip-plan requests flow
// through: dispatch by mode, optional persistence, metrics (spec §4.I).
package planservice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/internal/planner"
	"tripplan-go/internal/planrepo"
	"tripplan-go/internal/taskengine"
)

// Service dispatches a PlanRequest to the right planner, persists it when
// asked, and always returns a trace_id the caller can correlate against
// logs and metrics.
type Service struct {
	fast    *planner.FastPlanner
	deep    *planner.DeepPlanner
	repo    planrepo.Repository
	tasks   taskengine.Submitter
	deepCfg config.DeepPlannerConfig
	metrics *metrics.Registry
}

// New wires the plan service's collaborators. tasks may be nil if async
// deep planning is not enabled; in that case async requests fail with
// deep_unsupported.
func New(fast *planner.FastPlanner, deep *planner.DeepPlanner, repo planrepo.Repository, tasks taskengine.Submitter, deepCfg config.DeepPlannerConfig, metricsRegistry *metrics.Registry) *Service {
	return &Service{fast: fast, deep: deep, repo: repo, tasks: tasks, deepCfg: deepCfg, metrics: metricsRegistry}
}

// Plan validates the mode, runs (or enqueues) the matching planner, and
// optionally persists the result before returning.
func (s *Service) Plan(ctx context.Context, request model.PlanRequest) (model.PlanResponse, error) {
	start := time.Now()
	if request.TraceID == "" {
		request.TraceID = uuid.NewString()
	}

	switch request.Mode {
	case model.ModeFast, "":
		request.Mode = model.ModeFast
		return s.planInline(ctx, request, start, s.fast.Plan)

	case model.ModeDeep:
		if s.deep == nil {
			return model.PlanResponse{}, apierr.New(apierr.KindDeepUnsupported, "deep planning is disabled")
		}
		if request.Async {
			return s.planAsync(ctx, request)
		}
		return s.planInline(ctx, request, start, s.deep.Plan)

	default:
		return model.PlanResponse{}, apierr.New(apierr.KindBadMode, "unknown plan mode: "+string(request.Mode))
	}
}

type planFunc func(ctx context.Context, request model.PlanRequest) (model.TripPlan, model.JSONMap, error)

func (s *Service) planInline(ctx context.Context, request model.PlanRequest, start time.Time, run planFunc) (model.PlanResponse, error) {
	plan, runMetrics, err := run(ctx, request)
	if err != nil {
		s.record(start, request, false, err.Error())
		return model.PlanResponse{}, err
	}

	if request.Save {
		saved, err := s.repo.Save(ctx, plan)
		if err != nil {
			s.record(start, request, false, err.Error())
			return model.PlanResponse{}, err
		}
		id := saved.ID
		plan.ID = &id
		plan.Status = model.TripStatusSaved
	}

	s.record(start, request, true, "")
	return model.PlanResponse{
		Plan:    &plan,
		TraceID: request.TraceID,
		Metrics: runMetrics,
	}, nil
}

// planAsync enqueues a plan:deep task and returns immediately with no
// inline plan, per spec §4.I's async deep-mode contract.
func (s *Service) planAsync(ctx context.Context, request model.PlanRequest) (model.PlanResponse, error) {
	if s.tasks == nil {
		return model.PlanResponse{}, apierr.New(apierr.KindDeepUnsupported, "async deep planning has no task engine configured")
	}
	payload := model.JSONMap{
		"destination": request.Destination,
		"start_date":  request.StartDate.Format("2006-01-02"),
		"end_date":    request.EndDate.Format("2006-01-02"),
		"preferences": request.Preferences,
		"save":        request.Save,
		"seed":        request.Seed,
		"trace_id":    request.TraceID,
	}
	taskID, err := s.tasks.Submit(ctx, request.UserID, "plan:deep", payload, request.RequestID)
	if err != nil {
		return model.PlanResponse{}, err
	}
	return model.PlanResponse{TaskID: taskID, TraceID: request.TraceID}, nil
}

func (s *Service) record(start time.Time, request model.PlanRequest, success bool, errMsg string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(metrics.CallEntry{
		Category:  "plan.service",
		Label:     string(request.Mode) + ":" + request.Destination,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:   success,
		Error:     errMsg,
	})
}
