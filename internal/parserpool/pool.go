// Package parserpool implements one worker pool per pipeline service: a
// FIFO task queue served by a fixed thread set with an idle/pause/flush/stop
// lifecycle (spec §4.3).
package parserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalogizer/internal/parsertask"
)

// State is a pool's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Service is one stage of the pipeline: target_step/nb_threads identify it
// in the step DAG, Run executes the step, the lifecycle hooks re-seed
// caches on flush/restart.
type Service interface {
	Name() string
	TargetStep() parsertask.Step
	NbThreads() int
	// Run executes this service's step for task. Services that produce or
	// consume parsed content (prober, analyzer) read/write it through a
	// shared store keyed by task id rather than through this signature, so
	// the pool stays agnostic to the pipeline's data shape.
	Run(ctx context.Context, task *parsertask.Task) (parsertask.Status, error)
	OnFlushing()
	OnRestarted()
}

// DeviceChecker reports whether the device backing a task's file is
// currently present, used by the worker's removable-device short-circuit.
type DeviceChecker interface {
	IsTaskDeviceAbsent(ctx context.Context, task *parsertask.Task) (bool, error)
}

// Callback is the coordinator-supplied hook a pool reports task outcomes
// and idle transitions through (spec §4.4's ParserCb).
type Callback interface {
	Done(ctx context.Context, poolName string, task *parsertask.Task, status parsertask.Status, elapsed time.Duration)
	RestoreUncompleted(ctx context.Context)
	OnIdleChanged(poolName string, idle bool)
	// StartStep durably persists the retry-counter increment a step start
	// makes in memory, so a crash mid-step does not loop forever on restart.
	StartStep(ctx context.Context, taskID int64) error
}

// Pool is one service's worker pool.
type Pool struct {
	service  Service
	callback Callback
	devices  DeviceChecker
	logger   *zap.Logger
	maxQueued int

	mu      sync.Mutex
	state   State
	queue   []*parsertask.Task
	notEmpty *sync.Cond
	running int // tasks currently executing
	wg      sync.WaitGroup
	stopCh  chan struct{}
	paused  bool
}

// New constructs a Pool for service, bound to callback and devices.
// maxQueued of 0 means unbounded (spec §4.4's optional backpressure knob).
func New(service Service, callback Callback, devices DeviceChecker, logger *zap.Logger, maxQueued int) *Pool {
	p := &Pool{
		service:   service,
		callback:  callback,
		devices:   devices,
		logger:    logger,
		maxQueued: maxQueued,
		stopCh:    make(chan struct{}),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	return p
}

// Name returns the underlying service's name, used by the coordinator to
// route Done callbacks back to the originating pool.
func (p *Pool) Name() string { return p.service.Name() }

// TargetStep returns the underlying service's target step, used by the
// coordinator to pick the right pool for a task's next step.
func (p *Pool) TargetStep() parsertask.Step { return p.service.TargetStep() }

// State returns the pool's current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start spawns service.NbThreads() workers. Idempotent when already running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateRunning || p.state == StateStarting {
		p.mu.Unlock()
		return
	}
	p.state = StateStarting
	p.stopCh = make(chan struct{})
	n := p.service.NbThreads()
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()
}

// Submit enqueues a task, starting the pool on first submit, and marks the
// pool non-idle before the enqueue to eliminate a false-idle window.
func (p *Pool) Submit(ctx context.Context, task *parsertask.Task) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		p.Start(ctx)
		p.mu.Lock()
	}
	if p.maxQueued > 0 && len(p.queue) >= p.maxQueued {
		p.mu.Unlock()
		return fmt.Errorf("pool %s queue full (max %d)", p.service.Name(), p.maxQueued)
	}
	wasIdle := p.isIdleLocked()
	p.queue = append(p.queue, task)
	if wasIdle {
		p.notifyIdleLocked(false)
	}
	p.mu.Unlock()
	p.notEmpty.Signal()
	return nil
}

// Pause blocks worker threads on the paused flag without exiting them.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.state = StatePaused
	p.mu.Unlock()
}

// Resume releases paused worker threads.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	if p.state == StatePaused {
		p.state = StateRunning
	}
	p.mu.Unlock()
	p.notEmpty.Broadcast()
}

// Flush blocks the caller until idle, drops the queue, then calls
// service.OnFlushing().
func (p *Pool) Flush() {
	p.mu.Lock()
	for !p.isIdleLocked() {
		p.notEmpty.Wait()
	}
	p.queue = nil
	p.mu.Unlock()
	p.service.OnFlushing()
}

// Restart calls service.OnRestarted() to re-seed caches.
func (p *Pool) Restart() {
	p.service.OnRestarted()
}

// Stop signals all workers to exit and joins them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.state == StateStopped || p.state == StateStopping {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	close(p.stopCh)
	p.mu.Unlock()
	p.notEmpty.Broadcast()

	p.wg.Wait()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
}

// IsIdle reports whether the queue is empty and no worker is executing.
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isIdleLocked()
}

func (p *Pool) isIdleLocked() bool {
	return len(p.queue) == 0 && p.running == 0
}

// QueueLen reports the number of tasks currently queued, excluding any
// in flight, for metrics reporting.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) notifyIdleLocked(idle bool) {
	p.callback.OnIdleChanged(p.service.Name(), idle)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		task := p.popOrWait()
		if task == nil {
			return // stopping, nothing left to do
		}

		status, elapsed := p.runTask(ctx, task)

		p.mu.Lock()
		p.running--
		idleNow := p.isIdleLocked()
		p.mu.Unlock()
		if idleNow {
			p.notifyIdleLocked(true)
			p.notEmpty.Broadcast() // wake Flush waiters
		}

		p.callback.Done(ctx, p.service.Name(), task, status, elapsed)
	}
}

// popOrWait blocks until a task is available or the pool is stopping with
// an empty queue, mirroring the mainloop contract of spec §4.3 step 1.
func (p *Pool) popOrWait() *parsertask.Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		select {
		case <-p.stopCh:
			return nil
		default:
		}
		p.notEmpty.Wait()
		select {
		case <-p.stopCh:
			if len(p.queue) == 0 {
				return nil
			}
		default:
		}
	}
	for p.paused {
		p.notEmpty.Wait()
	}

	task := p.queue[0]
	p.queue = p.queue[1:]
	p.running++
	return task
}

// runTask applies steps 3-6 of the mainloop contract: the target-step
// short-circuit, the removable-device short-circuit, and the timed,
// fault-isolated service invocation.
func (p *Pool) runTask(ctx context.Context, task *parsertask.Task) (status parsertask.Status, elapsed time.Duration) {
	target := p.service.TargetStep()
	if task.StepDone.Done(target) {
		return parsertask.StatusSuccess, 0
	}

	if p.devices != nil {
		absent, err := p.devices.IsTaskDeviceAbsent(ctx, task)
		if err == nil && absent {
			return parsertask.StatusTemporaryUnavailable, 0
		}
	}

	task.StartStep()
	if err := p.callback.StartStep(ctx, task.ID); err != nil {
		p.logger.Error("persist step start failed", zap.String("pool", p.service.Name()),
			zap.Int64("task_id", task.ID), zap.Error(err))
	}
	start := time.Now()
	status = p.runServiceSafely(ctx, task)
	elapsed = time.Since(start)
	return status, elapsed
}

// runServiceSafely recovers a decoder panic into Fatal, per spec §4.3 step 5
// ("catch any fault as Fatal").
func (p *Pool) runServiceSafely(ctx context.Context, task *parsertask.Task) (status parsertask.Status) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("service run panicked", zap.String("pool", p.service.Name()), zap.Any("panic", r))
			status = parsertask.StatusFatal
		}
	}()

	st, err := p.service.Run(ctx, task)
	if err != nil {
		p.logger.Warn("service run failed", zap.String("pool", p.service.Name()), zap.Error(err))
		return parsertask.StatusError
	}
	return st
}
