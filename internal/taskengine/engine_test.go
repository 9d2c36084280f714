package taskengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/config"
	"tripplan-go/internal/model"
)

const (
	dequeueTimeout = 2 * time.Second
	dequeuePoll    = 10 * time.Millisecond
)

// fakeRepository is an in-memory stand-in for the gorm-backed Repository,
// sufficient to exercise submission/idempotency/concurrency logic without a
// database.
type fakeRepository struct {
	mu    sync.Mutex
	tasks map[string]model.Task
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{tasks: make(map[string]model.Task)}
}

func (r *fakeRepository) Create(_ context.Context, task model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeRepository) FindByID(_ context.Context, id string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *fakeRepository) CountActiveForUser(_ context.Context, userID uint, kind string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.UserID == userID && t.Kind == kind && (t.Status == model.TaskQueued || t.Status == model.TaskRunning) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepository) ListQueued(_ context.Context, kind string) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Task
	for _, t := range r.tasks {
		if t.Kind == kind && t.Status == model.TaskQueued {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepository) ListRunning(_ context.Context, kind string) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Task
	for _, t := range r.tasks {
		if t.Kind == kind && t.Status == model.TaskRunning {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeRepository) TransitionToRunning(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != model.TaskQueued {
		return false, nil
	}
	t.Status = model.TaskRunning
	r.tasks[id] = t
	return true, nil
}

func (r *fakeRepository) MarkSucceeded(_ context.Context, id string, result model.JSONMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.Status = model.TaskSucceeded
	t.Result = result
	r.tasks[id] = t
	return nil
}

func (r *fakeRepository) MarkFailed(_ context.Context, id string, errPayload model.JSONMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.Status = model.TaskFailed
	t.Error = errPayload
	r.tasks[id] = t
	return nil
}

func (r *fakeRepository) SetArtifactKey(_ context.Context, id string, artifactKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.ArtifactKey = artifactKey
	r.tasks[id] = t
	return nil
}

func (r *fakeRepository) Summary(context.Context, int) (Summary, error) {
	return Summary{}, nil
}

func newTestEngine(maxRunning int) (*Engine, *fakeRepository) {
	repo := newFakeRepository()
	queue := NewChannelQueue(16)
	e := New(config.TaskConfig{MaxRunningPerUser: maxRunning, WorkerConcurrency: 1}, repo, queue, nil)
	e.RegisterHandler("plan:deep", func(context.Context, model.Task) (model.JSONMap, error) {
		return model.JSONMap{"ok": true}, nil
	})
	return e, repo
}

func TestEngine_Submit_IdempotentSamePayload(t *testing.T) {
	e, repo := newTestEngine(3)
	payload := model.JSONMap{"destination": "Guangzhou"}

	id1, err := e.Submit(context.Background(), 1, "plan:deep", payload, "req-1")
	require.NoError(t, err)

	id2, err := e.Submit(context.Background(), 1, "plan:deep", payload, "req-1")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, repo.tasks, 1)
}

func TestEngine_Submit_IdempotencyConflictOnDifferentPayload(t *testing.T) {
	e, repo := newTestEngine(3)

	_, err := e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Guangzhou"}, "req-1")
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Beijing"}, "req-1")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindIdempotencyConflict, apiErr.Kind)
	assert.Len(t, repo.tasks, 1, "conflicting submission must not create a second row")
}

func TestEngine_Submit_RateLimitedAtConcurrencyCap(t *testing.T) {
	e, _ := newTestEngine(1)

	_, err := e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Guangzhou"}, "req-1")
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Shenzhen"}, "req-2")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindRateLimited, apiErr.Kind)
}

func TestEngine_Submit_UnknownKindRejected(t *testing.T) {
	e, _ := newTestEngine(3)
	_, err := e.Submit(context.Background(), 1, "unknown:kind", model.JSONMap{}, "")
	require.Error(t, err)
}

func TestEngine_Get_OwnershipEnforced(t *testing.T) {
	e, _ := newTestEngine(3)
	id, err := e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Guangzhou"}, "req-1")
	require.NoError(t, err)

	_, err = e.Get(context.Background(), id, 2, false)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotAuthorized, apiErr.Kind)

	task, err := e.Get(context.Background(), id, 1, false)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)

	task, err = e.Get(context.Background(), id, 999, true)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
}

// TestEngine_WorkerLifecycle covers a full queued->running->succeeded
// transition through Start's worker loop (spec §8 scenario S2 step 3).
func TestEngine_WorkerLifecycle(t *testing.T) {
	e, repo := newTestEngine(3)
	id, err := e.Submit(context.Background(), 1, "plan:deep", model.JSONMap{"destination": "Guangzhou"}, "req-1")
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.Eventually(t, func() bool {
		task, _ := repo.FindByID(context.Background(), id)
		return task != nil && task.Status == model.TaskSucceeded
	}, dequeueTimeout, dequeuePoll)
}
