package parserpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"catalogizer/internal/parsertask"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeService struct {
	name       string
	target     parsertask.Step
	threads    int
	mu         sync.Mutex
	ran        []int64
	flushed    int
	restarted  int
	runFunc    func(task *parsertask.Task) (parsertask.Status, error)
}

func (f *fakeService) Name() string                   { return f.name }
func (f *fakeService) TargetStep() parsertask.Step     { return f.target }
func (f *fakeService) NbThreads() int                  { return f.threads }
func (f *fakeService) OnFlushing()                     { f.mu.Lock(); f.flushed++; f.mu.Unlock() }
func (f *fakeService) OnRestarted()                    { f.mu.Lock(); f.restarted++; f.mu.Unlock() }

func (f *fakeService) Run(ctx context.Context, task *parsertask.Task) (parsertask.Status, error) {
	f.mu.Lock()
	f.ran = append(f.ran, task.ID)
	f.mu.Unlock()
	if f.runFunc != nil {
		return f.runFunc(task)
	}
	return parsertask.StatusSuccess, nil
}

type fakeCallback struct {
	mu          sync.Mutex
	done        []parsertask.Status
	idleChanges []bool
	doneSignal  chan struct{}
}

func newFakeCallback() *fakeCallback {
	return &fakeCallback{doneSignal: make(chan struct{}, 64)}
}

func (f *fakeCallback) Done(ctx context.Context, poolName string, task *parsertask.Task, status parsertask.Status, elapsed time.Duration) {
	f.mu.Lock()
	f.done = append(f.done, status)
	f.mu.Unlock()
	f.doneSignal <- struct{}{}
}

func (f *fakeCallback) RestoreUncompleted(ctx context.Context) {}

func (f *fakeCallback) StartStep(ctx context.Context, taskID int64) error { return nil }

func (f *fakeCallback) OnIdleChanged(poolName string, idle bool) {
	f.mu.Lock()
	f.idleChanges = append(f.idleChanges, idle)
	f.mu.Unlock()
}

func (f *fakeCallback) waitDone(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.doneSignal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d done callbacks, got %d", n, i)
		}
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 2}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 0)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 1}))
	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 2}))
	cb.waitDone(t, 2)

	svc.mu.Lock()
	assert.Len(t, svc.ran, 2)
	svc.mu.Unlock()
}

func TestPoolSkipsAlreadyDoneStep(t *testing.T) {
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 1}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 0)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	task := &parsertask.Task{ID: 1, StepDone: parsertask.StepMetadataExtraction}
	require.NoError(t, p.Submit(ctx, task))
	cb.waitDone(t, 1)

	svc.mu.Lock()
	assert.Empty(t, svc.ran)
	svc.mu.Unlock()
	cb.mu.Lock()
	assert.Equal(t, []parsertask.Status{parsertask.StatusSuccess}, cb.done)
	cb.mu.Unlock()
}

type alwaysAbsentChecker struct{}

func (alwaysAbsentChecker) IsTaskDeviceAbsent(ctx context.Context, task *parsertask.Task) (bool, error) {
	return true, nil
}

func TestPoolReportsDeviceAbsent(t *testing.T) {
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 1}
	cb := newFakeCallback()
	p := New(svc, cb, alwaysAbsentChecker{}, zap.NewNop(), 0)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 1}))
	cb.waitDone(t, 1)

	svc.mu.Lock()
	assert.Empty(t, svc.ran)
	svc.mu.Unlock()
	cb.mu.Lock()
	assert.Equal(t, []parsertask.Status{parsertask.StatusTemporaryUnavailable}, cb.done)
	cb.mu.Unlock()
}

func TestPoolMaxQueuedRejectsOverflow(t *testing.T) {
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 1,
		runFunc: func(task *parsertask.Task) (parsertask.Status, error) {
			time.Sleep(50 * time.Millisecond)
			return parsertask.StatusSuccess, nil
		},
	}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 1)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 1}))
	require.Eventually(t, func() bool { return p.QueueLen() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 2}))
	err := p.Submit(ctx, &parsertask.Task{ID: 3})
	assert.Error(t, err)

	cb.waitDone(t, 2)
}

func TestPoolFlushWaitsForIdleThenNotifiesService(t *testing.T) {
	block := make(chan struct{})
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 1,
		runFunc: func(task *parsertask.Task) (parsertask.Status, error) {
			<-block
			return parsertask.StatusSuccess, nil
		},
	}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 0)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 1}))

	flushed := make(chan struct{})
	go func() {
		p.Flush()
		close(flushed)
	}()

	close(block)
	cb.waitDone(t, 1)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("Flush did not return once the pool went idle")
	}

	assert.Equal(t, 1, svc.flushed)
	assert.True(t, p.IsIdle())
}

func TestPoolStopIsIdempotentAndJoinsWorkers(t *testing.T) {
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 3}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 0)

	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.Equal(t, StateStopped, p.State())
}

func TestPoolQueueLenReflectsPendingWork(t *testing.T) {
	block := make(chan struct{})
	svc := &fakeService{name: "prober", target: parsertask.StepMetadataExtraction, threads: 1,
		runFunc: func(task *parsertask.Task) (parsertask.Status, error) {
			<-block
			return parsertask.StatusSuccess, nil
		},
	}
	cb := newFakeCallback()
	p := New(svc, cb, nil, zap.NewNop(), 0)

	ctx := context.Background()
	p.Start(ctx)
	defer func() {
		close(block)
		p.Stop()
	}()

	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 1}))
	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 2}))
	require.NoError(t, p.Submit(ctx, &parsertask.Task{ID: 3}))

	require.Eventually(t, func() bool {
		return p.QueueLen() == 2
	}, time.Second, 10*time.Millisecond)
}
