package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nhalm/taskapi/internal/task"
)

const taskColumns = `id, title, priority, done, created_at, updated_at`

// TaskStore implements task.Store on PostgreSQL.
type TaskStore struct {
	db DBTX
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore over db, which may be a *sql.DB or *sql.Tx.
func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// List returns tasks newest first, ties broken by id.
func (s *TaskStore) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1::text IS NULL OR priority = $1)
		  AND ($2::boolean IS NULL OR done = $2)
		ORDER BY created_at DESC, id DESC
	`

	priority := sql.NullString{String: string(f.Priority), Valid: f.Priority != ""}
	var done sql.NullBool
	if f.Done != nil {
		done = sql.NullBool{Bool: *f.Done, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, query, priority, done)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", mapError(err))
	}
	defer rows.Close()

	tasks := make([]task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// Create inserts a task and returns it with its generated id and timestamps.
func (s *TaskStore) Create(ctx context.Context, title string, priority task.Priority) (task.Task, error) {
	query := `
		INSERT INTO tasks (title, priority)
		VALUES ($1, $2)
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, title, string(priority)))
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to create task: %w", mapError(err))
	}
	return t, nil
}

// SetDone sets the done flag, bumps updated_at and returns the updated task.
func (s *TaskStore) SetDone(ctx context.Context, id int64, done bool) (task.Task, error) {
	query := `
		UPDATE tasks
		SET done = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, done, id))
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to update task %d: %w", id, mapError(err))
	}
	return t, nil
}

// Delete removes the task with id.
func (s *TaskStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, mapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t        task.Task
		priority string
	)
	if err := row.Scan(&t.ID, &t.Title, &priority, &t.Done, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	t.Priority = task.Priority(priority)
	return t, nil
}
