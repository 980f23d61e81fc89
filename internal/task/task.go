// Package task defines the task domain model and its storage contract.
package task

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no task has the requested id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalid is returned when the store rejects a task as violating its
	// constraints.
	ErrInvalid = errors.New("invalid task")
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority is used when a task is created without one.
const DefaultPriority = PriorityMedium

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a single to-do item.
type Task struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Priority  Priority  `json:"priority"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Priority Priority
	Done     *bool
}

// Store persists tasks.
type Store interface {
	// List returns tasks newest first.
	List(ctx context.Context, f Filter) ([]Task, error)

	// Create inserts a task and returns it as stored.
	Create(ctx context.Context, title string, priority Priority) (Task, error)

	// SetDone updates the done flag and returns the updated task, or ErrNotFound.
	SetDone(ctx context.Context, id int64, done bool) (Task, error)

	// Delete removes a task, or returns ErrNotFound.
	Delete(ctx context.Context, id int64) error
}
