// Package store defines the authoritative task and project stores the
// scheduler, worker pool, and auto-fix loop coordinate through. All status
// mutation is compare-and-set: a transition names the status (and, for
// leased tasks, the lease token) it expects, and loses cleanly if another
// actor got there first. Contention on different tasks never blocks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/task"
)

// ErrNotFound is returned when a task or project ID is unknown.
var ErrNotFound = errors.New("not found")

// TaskStore is the shared task-graph store. Implementations must make every
// status transition atomic; returning false from a CAS method means the
// expected state did not hold and the caller's view is stale.
type TaskStore interface {
	// Insert adds a batch of tasks atomically. Dependencies must resolve to
	// existing tasks in the same project or to tasks in the batch, and the
	// resulting graph must stay acyclic; otherwise nothing is inserted and
	// a *task.StructuralError is returned. The store assigns Seq.
	Insert(ctx context.Context, tasks ...*task.Task) error

	// Get returns a clone of the task, or ErrNotFound.
	Get(ctx context.Context, id string) (*task.Task, error)

	// List returns clones of all tasks in a project in insertion order.
	List(ctx context.Context, projectID string) ([]*task.Task, error)

	// MarkReady transitions Pending -> Ready.
	MarkReady(ctx context.Context, id string) (bool, error)

	// Acquire transitions Ready -> Running and records the lease. At most
	// one caller can win for a given Ready task.
	Acquire(ctx context.Context, id, token string, deadline time.Time) (bool, error)

	// Release transitions {Running, token} -> Ready, clears the lease, and
	// increments the attempt count. A token that no longer matches (the
	// task was re-leased or completed) loses.
	Release(ctx context.Context, id, token string) (bool, error)

	// Complete transitions {Running, token} -> Done and stores the result.
	Complete(ctx context.Context, id, token string, result []byte) (bool, error)

	// Fail transitions {Running, token} -> Failed and stores the payload.
	Fail(ctx context.Context, id, token string, failure *task.ErrorPayload) (bool, error)

	// ForceFail transitions {Running, token} -> Failed without a worker
	// report, used when a task exhausts its redispatch budget.
	ForceFail(ctx context.Context, id, token string, failure *task.ErrorPayload) (bool, error)

	// ExpiredLeases returns clones of Running tasks whose lease deadline is
	// at or before now.
	ExpiredLeases(ctx context.Context, now time.Time) ([]*task.Task, error)

	// RewriteDependency repoints every Pending task in the project that
	// depends on from so it depends on to instead. The rewrite is atomic
	// and cycle-checked.
	RewriteDependency(ctx context.Context, projectID, from, to string) error
}

// ProjectStore holds project records. State changes go through SetState so
// the scheduler's transitions stay single-writer per project.
type ProjectStore interface {
	Insert(ctx context.Context, p *project.Project) error
	Get(ctx context.Context, id string) (*project.Project, error)
	List(ctx context.Context) ([]*project.Project, error)

	// SetState transitions from -> to. Returns false if the current state
	// is not from, which makes re-delivered events harmless.
	SetState(ctx context.Context, id string, from, to project.State) (bool, error)

	SetPaused(ctx context.Context, id string, paused bool) error

	// IncrementFixAttempts bumps the cumulative auto-fix counter and
	// returns the new value.
	IncrementFixAttempts(ctx context.Context, id string) (int, error)

	SetLastError(ctx context.Context, id, msg string) error
}
