// Package parsercoordinator wires the three parserpool.Pool stages
// together: it implements parserpool.Callback, routing each task between
// pools according to the outcome table of spec §4.4, and owns the
// persisted retry/step bookkeeping that survives a restart.
package parsercoordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalogizer/internal/notify"
	"catalogizer/internal/parsertask"
	"catalogizer/internal/pipelinemetrics"
	"catalogizer/repository"
)

// Pool is the subset of parserpool.Pool the coordinator drives. Declared
// locally so parsercoordinator does not import parserpool's Service/Pool
// construction concerns, only the submission surface it needs.
type Pool interface {
	Submit(ctx context.Context, task *parsertask.Task) error
	TargetStep() parsertask.Step
	IsIdle() bool
	QueueLen() int
}

// Coordinator implements parserpool.Callback across the full pipeline
// (prober -> analyzer -> thumbnailer), owning task persistence and the
// step-routing table of spec §4.4.
type Coordinator struct {
	tasks   *repository.TaskRepository
	hub     *notify.Hub
	logger  *zap.Logger
	metrics *pipelinemetrics.Metrics

	pools []Pool // ordered prober, analyzer, thumbnailer

	mu       sync.Mutex
	poolIdle map[string]bool
}

// New constructs a Coordinator. pools must be supplied in step order
// (MetadataExtraction, MetadataAnalysis, Thumbnail); RegisterPool starts
// each one's tracked idle state at true (an untouched, empty pool is
// idle), flipped to false the moment a task is submitted to it. metrics
// may be nil when the caller runs without a Prometheus registry.
func New(tasks *repository.TaskRepository, hub *notify.Hub, logger *zap.Logger, metrics *pipelinemetrics.Metrics) *Coordinator {
	return &Coordinator{tasks: tasks, hub: hub, logger: logger, metrics: metrics, poolIdle: make(map[string]bool)}
}

// Ingest persists a newly discovered task and submits it to the first pool
// in the pipeline, the TaskStore.insert -> Coordinator hop of spec §2's
// data-flow diagram.
func (c *Coordinator) Ingest(ctx context.Context, task *parsertask.Task) (int64, error) {
	id, err := c.tasks.Insert(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("insert task %q: %w", task.Mrl, err)
	}
	task.ID = id

	step, ok := nextStep(task.StepDone)
	if !ok {
		return id, nil
	}
	pool := c.poolForStep(step)
	if pool == nil {
		return id, fmt.Errorf("no pool registered for step %v", step)
	}
	if err := pool.Submit(ctx, task); err != nil {
		return id, fmt.Errorf("submit task %d: %w", id, err)
	}
	return id, nil
}

// RegisterPool adds pool to the routing table, in step order.
func (c *Coordinator) RegisterPool(name string, pool Pool) {
	c.pools = append(c.pools, pool)
	c.mu.Lock()
	c.poolIdle[name] = true
	c.mu.Unlock()
}

// poolForStep returns the pool whose TargetStep is step, or nil if no pool
// advances that step (i.e. it is the last step in the chain).
func (c *Coordinator) poolForStep(step parsertask.Step) Pool {
	for _, p := range c.pools {
		if p.TargetStep() == step {
			return p
		}
	}
	return nil
}

// nextStep returns the step after done in the fixed pipeline order.
func nextStep(done parsertask.Step) (parsertask.Step, bool) {
	order := []parsertask.Step{
		parsertask.StepMetadataExtraction,
		parsertask.StepMetadataAnalysis,
		parsertask.StepThumbnail,
	}
	for _, s := range order {
		if !done.Done(s) {
			return s, true
		}
	}
	return parsertask.StepNone, false
}

// StartStep implements parserpool.Callback: it durably persists the
// retry-counter increment a worker's in-memory task.StartStep() makes, so a
// crash mid-step is still reflected in retry_count on restart.
func (c *Coordinator) StartStep(ctx context.Context, taskID int64) error {
	return c.tasks.StartStep(ctx, taskID)
}

// Done implements parserpool.Callback (spec §4.4's table).
func (c *Coordinator) Done(ctx context.Context, poolName string, task *parsertask.Task, status parsertask.Status, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveDone(poolName, status.String())
		if pool := c.findPoolByName(poolName); pool != nil {
			c.metrics.QueueDepth.WithLabelValues(poolName).Set(float64(pool.QueueLen()))
		}
	}
	switch status {
	case parsertask.StatusSuccess:
		c.onSuccess(ctx, poolName, task)
	case parsertask.StatusCompleted:
		// Whole task finished early (e.g. a playlist handled entirely at the
		// analysis step). No further persistence: the analyzer already
		// recorded whatever rows it created.
		c.logger.Debug("task completed early", zap.Int64("task_id", task.ID), zap.String("pool", poolName))
	case parsertask.StatusError:
		c.onTransientFailure(ctx, poolName, task)
	case parsertask.StatusTemporaryUnavailable:
		c.logger.Debug("task deferred: device absent", zap.Int64("task_id", task.ID))
		// Left in the tasks table untouched; restore_uncompleted_tasks will
		// pick it back up once the device reappears and fswatch triggers a
		// rescan, or on next process start.
	case parsertask.StatusFatal:
		c.logger.Warn("task failed fatally", zap.Int64("task_id", task.ID), zap.String("pool", poolName))
		// No retry. The step bit stays unset, retry_count stays at whatever
		// StartStep left it, so IsFailed() will report true once retries run
		// out; the row is kept for inspection rather than deleted.
	case parsertask.StatusDiscarded:
		if err := c.tasks.Delete(ctx, task.ID); err != nil {
			c.logger.Error("failed to delete discarded task", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
}

func (c *Coordinator) onSuccess(ctx context.Context, poolName string, task *parsertask.Task) {
	pool := c.findPoolByName(poolName)

	// MetadataExtraction deliberately does not persist its step bit or
	// advance the retry counter on success: the analyzer re-derives
	// everything from the in-memory item.Store, so a crash between the
	// probe and the analysis simply reruns the probe (spec §4.3's special
	// case for the extraction step).
	if pool != nil && pool.TargetStep() == parsertask.StepMetadataExtraction {
		task.DecrementRetry()
		if err := c.tasks.DecrementRetry(ctx, task.ID); err != nil {
			c.logger.Error("decrement retry failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		c.enqueueNext(ctx, task, parsertask.StepMetadataExtraction)
		return
	}

	step := poolTargetStep(pool)
	task.SaveStep(step)
	// The extraction bit is never persisted, but any later step's success
	// means extraction already ran for this task in this process.
	if _, more := nextStep(task.StepDone.With(parsertask.StepMetadataExtraction)); !more {
		task.SaveStep(parsertask.StepCompleted)
		step = step.With(parsertask.StepCompleted)
	}
	if err := c.tasks.SaveStep(ctx, task.ID, step); err != nil {
		c.logger.Error("save step failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}

	if task.StepDone.Done(parsertask.StepCompleted) {
		c.hub.Publish(notify.Event{Kind: notify.KindParsingStatsUpdated})
		return
	}
	c.enqueueNext(ctx, task, step.With(parsertask.StepMetadataExtraction))
}

func poolTargetStep(p Pool) parsertask.Step {
	if p == nil {
		return parsertask.StepNone
	}
	return p.TargetStep()
}

func (c *Coordinator) enqueueNext(ctx context.Context, task *parsertask.Task, justDone parsertask.Step) {
	// Route off task.StepDone.With(justDone) rather than task.StepDone alone:
	// the MetadataExtraction step deliberately never sets its own bit (see
	// onSuccess), so routing straight off task.StepDone would send an
	// extraction success right back to the prober pool instead of the
	// analyzer.
	step, ok := nextStep(task.StepDone.With(justDone))
	if !ok {
		return
	}
	next := c.poolForStep(step)
	if next == nil {
		c.logger.Error("no pool registered for step", zap.Int64("task_id", task.ID))
		return
	}
	if err := next.Submit(ctx, task); err != nil {
		c.logger.Error("submit to next pool failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

func (c *Coordinator) onTransientFailure(ctx context.Context, poolName string, task *parsertask.Task) {
	if task.IsFailed() {
		c.logger.Warn("task exhausted retries", zap.Int64("task_id", task.ID), zap.String("pool", poolName))
		return
	}
	pool := c.findPoolByName(poolName)
	if pool == nil {
		return
	}
	if c.metrics != nil {
		c.metrics.RetryCount.WithLabelValues(poolName).Inc()
	}
	if err := pool.Submit(ctx, task); err != nil {
		c.logger.Error("re-submit after error failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

func (c *Coordinator) findPoolByName(name string) Pool {
	for _, p := range c.pools {
		if namer, ok := p.(interface{ Name() string }); ok && namer.Name() == name {
			return p
		}
	}
	return nil
}

// RestoreUncompleted implements parserpool.Callback: it loads every
// persisted uncompleted task and re-submits it to the pool matching its
// current step, so a process restart resumes exactly where it left off
// (spec §4.3's RestoreUncompleted contract).
func (c *Coordinator) RestoreUncompleted(ctx context.Context) {
	tasks, err := c.tasks.FetchUncompleted(ctx)
	if err != nil {
		c.logger.Error("fetch uncompleted tasks failed", zap.Error(err))
		return
	}
	for _, t := range tasks {
		step, ok := nextStep(t.StepDone)
		if !ok {
			continue
		}
		pool := c.poolForStep(step)
		if pool == nil {
			continue
		}
		if err := pool.Submit(ctx, t); err != nil {
			c.logger.Error("restore uncompleted submit failed", zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}
	c.logger.Info("restored uncompleted tasks", zap.Int("count", len(tasks)))
}

// OnIdleChanged implements parserpool.Callback: the pipeline as a whole is
// idle iff every registered pool is idle (spec §6's onIdleChanged).
func (c *Coordinator) OnIdleChanged(poolName string, idle bool) {
	c.mu.Lock()
	c.poolIdle[poolName] = idle
	allIdle := true
	for _, v := range c.poolIdle {
		if !v {
			allIdle = false
			break
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetIdle(poolName, idle)
	}
	c.hub.Publish(notify.Event{Kind: notify.KindIdleChanged, Idle: allIdle})
}
