// Package taskengine runs long-lived deep-plan jobs off the request path:
// durable rows, a bounded queue, concurrent workers, idempotent
// submission, per-user concurrency caps, and restart recovery (spec §4.J).
package taskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/metrics"
	"tripplan-go/internal/model"
	"tripplan-go/pkg/log"
)

// Handler executes one task kind. It must not hold a DB transaction
// across a blocking LLM/provider call — the engine has already committed
// the queued->running transition before invoking it.
type Handler func(ctx context.Context, task model.Task) (model.JSONMap, error)

// Submitter is the narrow surface planservice depends on, kept separate
// from Engine so callers needing only submission don't import the worker
// machinery.
type Submitter interface {
	Submit(ctx context.Context, userID uint, kind string, payload model.JSONMap, requestID string) (string, error)
}

// Engine ties together the repository, queue and registered handlers.
type Engine struct {
	cfg      config.TaskConfig
	repo     Repository
	queue    Queue
	metrics  *metrics.Registry
	handlers map[string]Handler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New wires the task engine's collaborators.
func New(cfg config.TaskConfig, repo Repository, queue Queue, metricsRegistry *metrics.Registry) *Engine {
	return &Engine{cfg: cfg, repo: repo, queue: queue, metrics: metricsRegistry, handlers: make(map[string]Handler)}
}

// RegisterHandler binds a task kind to its executor. Call before Start.
func (e *Engine) RegisterHandler(kind string, handler Handler) {
	e.handlers[kind] = handler
}

// Submit enforces idempotency-by-request_id then the per-user concurrency
// cap before inserting a queued row and enqueuing its id.
func (e *Engine) Submit(ctx context.Context, userID uint, kind string, payload model.JSONMap, requestID string) (string, error) {
	if _, ok := e.handlers[kind]; !ok {
		return "", apierr.New(apierr.KindInvalidParams, "unknown task kind: "+kind).WithPath("kind")
	}

	taskID := buildTaskID(userID, kind, requestID)
	if requestID != "" {
		existing, err := e.repo.FindByID(ctx, taskID)
		if err != nil {
			return "", apierr.Wrap(apierr.KindPersistenceFailed, "failed to look up existing task", err)
		}
		if existing != nil {
			if !payloadsEqual(existing.RequestPayload, payload) {
				return "", apierr.New(apierr.KindIdempotencyConflict, "request_id already used with a different payload").WithPath("request_id")
			}
			return existing.ID, nil
		}
	}

	maxRunning := e.cfg.MaxRunningPerUser
	if maxRunning <= 0 {
		maxRunning = 3
	}
	running, err := e.repo.CountActiveForUser(ctx, userID, kind)
	if err != nil {
		return "", apierr.Wrap(apierr.KindPersistenceFailed, "failed to count active tasks", err)
	}
	if running >= int64(maxRunning) {
		return "", apierr.New(apierr.KindRateLimited, fmt.Sprintf("too many running tasks for user (limit %d)", maxRunning))
	}

	task := model.Task{
		ID:             taskID,
		UserID:         userID,
		Kind:           kind,
		Status:         model.TaskQueued,
		RequestID:      requestID,
		RequestPayload: payload,
		CreatedAt:      time.Now(),
	}
	if err := e.repo.Create(ctx, task); err != nil {
		return "", apierr.Wrap(apierr.KindPersistenceFailed, "failed to create task", err)
	}

	if err := e.queue.Enqueue(ctx, taskID); err != nil {
		failPayload := model.JSONMap{"type": "queue_error", "message": err.Error()}
		if markErr := e.repo.MarkFailed(ctx, taskID, failPayload); markErr != nil {
			log.Error("task engine: failed to mark queue-full task as failed", markErr)
		}
		return "", apierr.Wrap(apierr.KindQueueFull, "task queue is full", err)
	}
	return taskID, nil
}

// Get fetches a task, enforcing ownership unless the requester is an admin.
func (e *Engine) Get(ctx context.Context, taskID string, requesterUserID uint, isAdmin bool) (model.Task, error) {
	task, err := e.repo.FindByID(ctx, taskID)
	if err != nil {
		return model.Task{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to load task", err)
	}
	if task == nil {
		return model.Task{}, apierr.New(apierr.KindInvalidParams, "task not found").WithPath("task_id")
	}
	if !isAdmin && task.UserID != requesterUserID {
		return model.Task{}, apierr.New(apierr.KindNotAuthorized, "task does not belong to requester")
	}
	return *task, nil
}

// Summary returns the admin task-summary view (spec §6).
func (e *Engine) Summary(ctx context.Context, lastN int) (Summary, error) {
	summary, err := e.repo.Summary(ctx, lastN)
	if err != nil {
		return Summary{}, apierr.Wrap(apierr.KindPersistenceFailed, "failed to compute task summary", err)
	}
	return summary, nil
}

// Start recovers crashed/queued work then launches WORKER_CONCURRENCY
// worker goroutines. Call once per process.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	for kind := range e.handlers {
		if err := e.recover(ctx, kind); err != nil {
			return err
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	for i := 0; i < concurrency; i++ {
		go e.workerLoop(workerCtx, i)
	}
	e.started = true
	log.Infof("task engine started: concurrency=%d", concurrency)
	return nil
}

// Stop cancels all worker goroutines. Already-running handler calls are
// not forcibly interrupted; they finish and then see a cancelled context
// on their next blocking call.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.cancel()
	e.started = false
}

// recover re-enqueues queued rows and fails running rows left behind by a
// previous process instance that crashed mid-task (spec §4.J restart
// recovery).
func (e *Engine) recover(ctx context.Context, kind string) error {
	running, err := e.repo.ListRunning(ctx, kind)
	if err != nil {
		return apierr.Wrap(apierr.KindPersistenceFailed, "failed to list running tasks for recovery", err)
	}
	for _, task := range running {
		if err := e.repo.MarkFailed(ctx, task.ID, model.JSONMap{
			"type":    string(apierr.KindWorkerRestart),
			"message": "worker restarted before task finished",
		}); err != nil {
			log.Error("task engine: failed to fail orphaned running task", err)
		}
	}

	queued, err := e.repo.ListQueued(ctx, kind)
	if err != nil {
		return apierr.Wrap(apierr.KindPersistenceFailed, "failed to list queued tasks for recovery", err)
	}
	for _, task := range queued {
		if err := e.queue.Enqueue(ctx, task.ID); err != nil {
			log.Error("task engine: failed to re-enqueue task on recovery", err)
		}
	}
	return nil
}

func (e *Engine) workerLoop(ctx context.Context, workerIndex int) {
	for {
		taskID, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("task engine: dequeue failed", err)
			continue
		}
		e.execute(ctx, taskID, workerIndex)
	}
}

func (e *Engine) execute(ctx context.Context, taskID string, workerIndex int) {
	start := time.Now()
	claimed, err := e.repo.TransitionToRunning(ctx, taskID)
	if err != nil {
		log.Error("task engine: failed to transition task to running", err)
		return
	}
	if !claimed {
		return
	}

	task, err := e.repo.FindByID(ctx, taskID)
	if err != nil || task == nil {
		log.Error("task engine: failed to reload claimed task", err)
		return
	}

	handler, ok := e.handlers[task.Kind]
	if !ok {
		e.fail(ctx, *task, fmt.Errorf("no handler registered for kind %q", task.Kind))
		return
	}

	result, err := handler(ctx, *task)
	if err != nil {
		e.record(start, *task, false)
		e.fail(ctx, *task, err)
		log.Error(fmt.Sprintf("task engine: task %s (worker %d) failed", taskID, workerIndex), err)
		return
	}

	if err := e.repo.MarkSucceeded(ctx, taskID, result); err != nil {
		log.Error("task engine: failed to mark task succeeded", err)
		return
	}
	e.record(start, *task, true)
}

func (e *Engine) fail(ctx context.Context, task model.Task, err error) {
	payload := model.JSONMap{"type": "task_error", "message": err.Error()}
	if apiErr, ok := apierr.As(err); ok {
		payload["type"] = string(apiErr.Kind)
		payload["code"] = apiErr.Code
	}
	if markErr := e.repo.MarkFailed(ctx, task.ID, payload); markErr != nil {
		log.Error("task engine: failed to persist task failure", markErr)
	}
}

func (e *Engine) record(start time.Time, task model.Task, success bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(metrics.CallEntry{
		Category:  "task." + task.Kind,
		Label:     task.Kind,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:   success,
	})
}

// buildTaskID derives a stable id from (kind, user, request_id) so a
// retried submission with the same request_id maps to the same row,
// mirroring the original's uuid5-over-a-namespaced-string scheme.
func buildTaskID(userID uint, kind, requestID string) string {
	if requestID == "" {
		return "at_" + uuid.NewString()
	}
	name := fmt.Sprintf("tripplan:ai_task:%s:%d:%s", kind, userID, requestID)
	return "at_" + uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

func payloadsEqual(a, b model.JSONMap) bool {
	aBytes, err1 := json.Marshal(a)
	bBytes, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aBytes) == string(bBytes)
}
