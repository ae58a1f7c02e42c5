package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/executor"
	"github.com/modflow/modflow/registry"
)

// executorCacheTTL controls how long an idle workflow executor stays cached. While
// cached, consecutive tasks for the same instance skip the history replay.
const executorCacheTTL = 30 * time.Second

type WorkflowTaskWorker struct {
	backend  backend.Backend
	registry *registry.Registry
	cache    *ttlcache.Cache[string, executor.WorkflowExecutor]
	clock    clock.Clock
	logger   *slog.Logger
}

type WorkflowTaskResult struct {
	task   *backend.WorkflowTask
	result *executor.ExecutionResult
}

func NewWorkflowTaskWorker(b backend.Backend, r *registry.Registry, clock clock.Clock) *WorkflowTaskWorker {
	cache := ttlcache.New[string, executor.WorkflowExecutor](
		ttlcache.WithTTL[string, executor.WorkflowExecutor](executorCacheTTL),
	)

	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, executor.WorkflowExecutor]) {
		item.Value().Close()
	})

	go cache.Start()

	return &WorkflowTaskWorker{
		backend:  b,
		registry: r,
		cache:    cache,
		clock:    clock,
		logger:   b.Options().Logger,
	}
}

func (ww *WorkflowTaskWorker) Stop() {
	ww.cache.Stop()
	ww.cache.DeleteAll()
}

func (ww *WorkflowTaskWorker) Get(ctx context.Context) (*backend.WorkflowTask, error) {
	return ww.backend.GetWorkflowTask(ctx)
}

func (ww *WorkflowTaskWorker) Extend(ctx context.Context, t *backend.WorkflowTask) error {
	return ww.backend.ExtendWorkflowTask(ctx, t)
}

func (ww *WorkflowTaskWorker) Execute(ctx context.Context, t *backend.WorkflowTask) (*WorkflowTaskResult, error) {
	e, cached := ww.getExecutor(t.WorkflowInstance)

	result, err := e.ExecuteTask(ctx, t)

	var rme *executor.ReplayMismatchError
	if errors.As(err, &rme) && cached {
		// The cached executor state may be stale, for example after its results were
		// discarded on a concurrent modification. Retry once with a fresh replay.
		ww.evictExecutor(t.WorkflowInstance)
		e, _ = ww.getExecutor(t.WorkflowInstance)
		result, err = e.ExecuteTask(ctx, t)
	}

	if errors.As(err, &rme) {
		// History and workflow code disagree on a fresh replay. Retrying cannot
		// resolve this; fail the instance and record the mismatch.
		ww.logger.ErrorContext(ctx, "replay mismatch, failing instance",
			"instance_id", t.WorkflowInstance.InstanceID, "reason", rme.Reason)
		ww.evictExecutor(t.WorkflowInstance)

		return &WorkflowTaskResult{task: t, result: executor.FailInstance(ww.clock.Now(), t, rme)}, nil
	}

	if err != nil {
		// The executor state is unusable, drop it
		ww.evictExecutor(t.WorkflowInstance)
		return nil, fmt.Errorf("executing workflow task: %w", err)
	}

	return &WorkflowTaskResult{task: t, result: result}, nil
}

func (ww *WorkflowTaskWorker) Complete(ctx context.Context, r *WorkflowTaskResult, t *backend.WorkflowTask) error {
	err := ww.backend.CompleteWorkflowTask(
		ctx, t, r.result.State,
		r.result.ExecutedEvents, r.result.TaskEvents, r.result.TimerEvents, r.result.OpenWait)

	if errors.Is(err, backend.ErrConcurrentModification) {
		// The instance changed while this task executed, usually because a signal
		// arrived. Drop the results; the backend redelivers the work including the
		// new events.
		ww.logger.DebugContext(ctx, "discarding workflow task results after concurrent modification",
			"instance_id", t.WorkflowInstance.InstanceID)
		ww.evictExecutor(t.WorkflowInstance)
		return nil
	}

	if err != nil {
		ww.evictExecutor(t.WorkflowInstance)
		return fmt.Errorf("completing workflow task: %w", err)
	}

	if r.result.Completed {
		ww.evictExecutor(t.WorkflowInstance)
	}

	return nil
}

// getExecutor returns the executor for the instance and whether it came from the
// cache. Cached executors carry state from earlier tasks and may be stale.
func (ww *WorkflowTaskWorker) getExecutor(instance *core.WorkflowInstance) (executor.WorkflowExecutor, bool) {
	key := instanceKey(instance)

	if item := ww.cache.Get(key); item != nil {
		return item.Value(), true
	}

	e := executor.NewExecutor(ww.logger, ww.registry, ww.backend, instance, ww.clock)
	ww.cache.Set(key, e, ttlcache.DefaultTTL)

	return e, false
}

func (ww *WorkflowTaskWorker) evictExecutor(instance *core.WorkflowInstance) {
	ww.cache.Delete(instanceKey(instance))
}

func instanceKey(instance *core.WorkflowInstance) string {
	return instance.InstanceID + "/" + instance.ExecutionID
}
