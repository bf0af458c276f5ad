package parsercoordinator

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalogizer/database"
	"catalogizer/internal/notify"
	"catalogizer/internal/parsertask"
	"catalogizer/repository"
)

func newMockCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	tasks := repository.NewTaskRepository(database.WrapDB(sqlDB))
	return New(tasks, notify.NewHub(), zap.NewNop(), nil), mock
}

type fakePool struct {
	name    string
	target  parsertask.Step
	idle    bool
	submits []*parsertask.Task
	err     error
}

func (p *fakePool) Name() string               { return p.name }
func (p *fakePool) TargetStep() parsertask.Step { return p.target }
func (p *fakePool) IsIdle() bool                { return p.idle }
func (p *fakePool) QueueLen() int               { return len(p.submits) }

func (p *fakePool) Submit(ctx context.Context, task *parsertask.Task) error {
	if p.err != nil {
		return p.err
	}
	p.submits = append(p.submits, task)
	return nil
}

func TestCoordinatorIngestPersistsAndSubmitsToFirstPool(t *testing.T) {
	c, mock := newMockCoordinator(t)
	prober := &fakePool{name: "prober", target: parsertask.StepMetadataExtraction}
	c.RegisterPool("prober", prober)

	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(42, 1))

	task := &parsertask.Task{Mrl: "file:///a.flac", ParentFolderID: 1}
	id, err := c.Ingest(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(42), task.ID)
	require.Len(t, prober.submits, 1)
	assert.Same(t, task, prober.submits[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinatorIngestErrorsWhenNoPoolForStep(t *testing.T) {
	c, mock := newMockCoordinator(t)
	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := c.Ingest(context.Background(), &parsertask.Task{Mrl: "file:///a.flac"})
	assert.Error(t, err)
}

func TestCoordinatorDoneSuccessExtractionSkipsStepPersistence(t *testing.T) {
	c, mock := newMockCoordinator(t)
	prober := &fakePool{name: "prober", target: parsertask.StepMetadataExtraction}
	analyzer := &fakePool{name: "analyzer", target: parsertask.StepMetadataAnalysis}
	c.RegisterPool("prober", prober)
	c.RegisterPool("analyzer", analyzer)

	mock.ExpectExec("UPDATE tasks SET retry_count = MAX").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &parsertask.Task{ID: 5, RetryCount: 1}
	c.Done(context.Background(), "prober", task, parsertask.StatusSuccess, time.Millisecond)

	assert.False(t, task.StepDone.Done(parsertask.StepMetadataExtraction))
	require.Len(t, analyzer.submits, 1)
	assert.Same(t, task, analyzer.submits[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinatorDoneSuccessAdvancesAndSavesStep(t *testing.T) {
	c, mock := newMockCoordinator(t)
	analyzer := &fakePool{name: "analyzer", target: parsertask.StepMetadataAnalysis}
	thumbnailer := &fakePool{name: "thumbnailer", target: parsertask.StepThumbnail}
	c.RegisterPool("analyzer", analyzer)
	c.RegisterPool("thumbnailer", thumbnailer)

	mock.ExpectExec("UPDATE tasks SET step_done").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &parsertask.Task{ID: 9, StepDone: parsertask.StepMetadataExtraction}
	c.Done(context.Background(), "analyzer", task, parsertask.StatusSuccess, time.Millisecond)

	assert.True(t, task.StepDone.Done(parsertask.StepMetadataAnalysis))
	require.Len(t, thumbnailer.submits, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinatorDoneSuccessLastStepPublishesStatsEvent(t *testing.T) {
	c, mock := newMockCoordinator(t)
	thumbnailer := &fakePool{name: "thumbnailer", target: parsertask.StepThumbnail}
	c.RegisterPool("thumbnailer", thumbnailer)

	mock.ExpectExec("UPDATE tasks SET step_done").WillReturnResult(sqlmock.NewResult(0, 1))

	received := make(chan notify.Event, 1)
	c.hub.Subscribe(func(ev notify.Event) { received <- ev })

	task := &parsertask.Task{
		ID:       3,
		StepDone: parsertask.StepMetadataExtraction | parsertask.StepMetadataAnalysis | parsertask.StepCompleted,
	}
	c.Done(context.Background(), "thumbnailer", task, parsertask.StatusSuccess, time.Millisecond)

	select {
	case ev := <-received:
		assert.Equal(t, notify.KindParsingStatsUpdated, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected parsing-stats-updated event")
	}
	assert.Empty(t, thumbnailer.submits)
}

func TestCoordinatorDoneDiscardedDeletesTask(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectExec("DELETE FROM tasks").WithArgs(int64(11)).WillReturnResult(sqlmock.NewResult(0, 1))

	c.Done(context.Background(), "prober", &parsertask.Task{ID: 11}, parsertask.StatusDiscarded, 0)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoordinatorDoneErrorResubmitsUnlessFailed(t *testing.T) {
	c, _ := newMockCoordinator(t)
	prober := &fakePool{name: "prober", target: parsertask.StepMetadataExtraction}
	c.RegisterPool("prober", prober)

	fresh := &parsertask.Task{ID: 1, RetryCount: 1}
	c.Done(context.Background(), "prober", fresh, parsertask.StatusError, 0)
	assert.Len(t, prober.submits, 1)

	exhausted := &parsertask.Task{ID: 2, RetryCount: parsertask.MaxRetries}
	c.Done(context.Background(), "prober", exhausted, parsertask.StatusError, 0)
	assert.Len(t, prober.submits, 1, "exhausted task must not be resubmitted")
}

func TestCoordinatorOnIdleChangedPublishesAllIdleOnlyWhenEveryPoolIdle(t *testing.T) {
	c, _ := newMockCoordinator(t)
	// RegisterPool starts both pools tracked as idle (true); busy one, then
	// idle it back, to exercise the all-idle aggregation both ways.
	c.RegisterPool("prober", &fakePool{name: "prober", target: parsertask.StepMetadataExtraction})
	c.RegisterPool("analyzer", &fakePool{name: "analyzer", target: parsertask.StepMetadataAnalysis})

	var events []notify.Event
	c.hub.Subscribe(func(ev notify.Event) { events = append(events, ev) })

	c.OnIdleChanged("prober", false)
	require.Len(t, events, 1)
	assert.False(t, events[0].Idle)

	c.OnIdleChanged("prober", true)
	require.Len(t, events, 2)
	assert.True(t, events[1].Idle)
}

func TestCoordinatorRestoreUncompletedSubmitsToMatchingPool(t *testing.T) {
	c, mock := newMockCoordinator(t)
	analyzer := &fakePool{name: "analyzer", target: parsertask.StepMetadataAnalysis}
	c.RegisterPool("analyzer", analyzer)

	rows := sqlmock.NewRows([]string{"id", "step_done", "retry_count", "mrl", "file_id", "media_id",
		"parent_folder_id", "parent_playlist_id", "parent_playlist_index", "is_refresh", "created_at"}).
		AddRow(int64(1), uint8(parsertask.StepMetadataExtraction), 0, "file:///a.flac",
			nil, nil, int64(1), nil, nil, false, time.Now())

	mock.ExpectQuery("SELECT .* FROM tasks WHERE step_done").WillReturnRows(rows)

	c.RestoreUncompleted(context.Background())

	require.Len(t, analyzer.submits, 1)
	assert.Equal(t, int64(1), analyzer.submits[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
