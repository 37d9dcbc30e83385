// Package storage defines the interface for task queue storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/KohakuBlueleaf/DIG/internal/types"
)

// ErrNotFound is returned when no task with the requested task_id exists.
var ErrNotFound = errors.New("task not found")

// ErrNoPending is returned by ClaimNext when the queue has no pending tasks.
// The HTTP surface maps this to 404 so idle workers can poll cheaply.
var ErrNoPending = errors.New("no pending tasks")

// ErrContended is returned when an optimistic claim loses the race to another
// claimer. Callers should treat it as a benign retry signal.
var ErrContended = errors.New("task claimed by another worker")

// ErrBadState is returned when a transition is requested from a state that
// does not allow it (e.g. completing a task that is not processing). The
// error message carries the actual status.
var ErrBadState = errors.New("task in wrong state")

// Storage is the task queue persistence contract.
//
// Every mutating operation runs inside a single transaction; a failed call
// leaves no partial state. Implementations must guarantee that two
// concurrent ClaimNext calls never return the same task.
type Storage interface {
	// Submit inserts a task in state pending, or — when a row with the same
	// task_id already exists — replaces its prompt and extra_args, returns
	// it to pending, and clears the artifact reference. The previous
	// artifact reference (if any) is returned so the caller can remove the
	// sidecar file.
	Submit(ctx context.Context, task *types.Task) (prevArtifact string, err error)

	// ClaimNext atomically selects the oldest pending task (FIFO by
	// created_at, ties broken by task_id) and transitions it to processing.
	// Returns ErrNoPending on an empty queue and ErrContended when another
	// claimer won the row.
	ClaimNext(ctx context.Context) (*types.Task, error)

	// MarkCompleted transitions processing → completed and records the
	// artifact reference. Returns ErrNotFound for unknown ids and
	// ErrBadState when the task is not processing.
	MarkCompleted(ctx context.Context, taskID, artifactPath string) error

	// Reset returns a task to pending from any state and clears its
	// artifact reference. The cleared reference (if any) is returned so the
	// caller can remove the sidecar file. Returns ErrNotFound for unknown ids.
	Reset(ctx context.Context, taskID string) (prevArtifact string, err error)

	// Get loads a task by task_id. Returns ErrNotFound when absent.
	Get(ctx context.Context, taskID string) (*types.Task, error)

	// CountByStatus reports how many tasks sit in each lifecycle state.
	CountByStatus(ctx context.Context) (map[types.Status]int, error)

	// ResetStale returns every processing task last touched before the
	// cutoff to pending, clearing artifact references. Reports how many
	// rows were swept. Operator tooling for stuck workers.
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)

	// Close flushes and closes the underlying store.
	Close() error
}
