package repository

import (
	"context"
	"database/sql"
	"fmt"

	"catalogizer/database"
	"catalogizer/internal/parsertask"
)

// TaskRepository is the persistent task store (spec §4.2): it owns a
// task's step/retry bookkeeping across process restarts.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository constructs a TaskRepository.
func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Insert atomically creates a new task with its file/media/parent-folder
// coordinates, step_done starting at zero.
func (r *TaskRepository) Insert(ctx context.Context, t *parsertask.Task) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (step_done, retry_count, mrl, file_id, media_id, parent_folder_id,
			parent_playlist_id, parent_playlist_index, is_refresh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StepDone, t.RetryCount, t.Mrl, t.FileID, t.MediaID, t.ParentFolderID,
		t.ParentPlaylistID, t.ParentPlaylistIndex, t.IsRefresh)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return id, nil
}

var taskColumns = "id, step_done, retry_count, mrl, file_id, media_id, parent_folder_id, " +
	"parent_playlist_id, parent_playlist_index, is_refresh, created_at"

func scanTask(row interface{ Scan(dest ...interface{}) error }) (*parsertask.Task, error) {
	var t parsertask.Task
	var step uint8
	err := row.Scan(&t.ID, &step, &t.RetryCount, &t.Mrl, &t.FileID, &t.MediaID, &t.ParentFolderID,
		&t.ParentPlaylistID, &t.ParentPlaylistIndex, &t.IsRefresh, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.StepDone = parsertask.Step(step)
	return &t, nil
}

// GetByID loads a single task by id, or database.ErrNotFound.
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*parsertask.Task, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// FetchUncompleted returns every task whose step_done has not reached
// StepCompleted and whose retry_count is still under MaxRetries, ordered by
// id ascending — the set a restarted pool re-enqueues via restore_uncompleted_tasks.
func (r *TaskRepository) FetchUncompleted(ctx context.Context) ([]*parsertask.Task, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM tasks WHERE step_done & ? = 0 AND retry_count < ? ORDER BY id ASC",
		taskColumns), parsertask.StepCompleted, parsertask.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("fetch uncompleted tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*parsertask.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveStep persists the OR-in of step into the task's step_done column.
// Called by the coordinator when a pool reports Success, before the task
// is routed to its next step.
func (r *TaskRepository) SaveStep(ctx context.Context, taskID int64, step parsertask.Step) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET step_done = step_done | ? WHERE id = ?`, step, taskID)
	if err != nil {
		return fmt.Errorf("save step for task %d: %w", taskID, err)
	}
	return nil
}

// StartStep increments retry_count before a step runs, durably, so a crash
// mid-step does not loop forever on restart.
func (r *TaskRepository) StartStep(ctx context.Context, taskID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET retry_count = retry_count + 1 WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("start step for task %d: %w", taskID, err)
	}
	return nil
}

// DecrementRetry undoes one StartStep increment, bounded at 0.
func (r *TaskRepository) DecrementRetry(ctx context.Context, taskID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET retry_count = MAX(0, retry_count - 1) WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("decrement retry for task %d: %w", taskID, err)
	}
	return nil
}

// Delete removes a task row. It backs the Discarded path; fatal or
// retry-exhausted tasks are left in place, and FetchUncompleted skips them
// by retry_count.
func (r *TaskRepository) Delete(ctx context.Context, taskID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	return nil
}

// SetFileAndMedia records the file/media rows a task has created, so a
// crash after step 2 of the analyzer (spec §4.6) does not recreate them.
func (r *TaskRepository) SetFileAndMedia(ctx context.Context, taskID int64, fileID, mediaID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET file_id = ?, media_id = ? WHERE id = ?`, fileID, mediaID, taskID)
	if err != nil {
		return fmt.Errorf("set file/media for task %d: %w", taskID, err)
	}
	return nil
}
