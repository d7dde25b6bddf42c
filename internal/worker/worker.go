// Package worker implements the stateless pull-based executors. Each
// worker advertises a capability set, polls the orchestrator for matching
// ready tasks, runs them against an Executor, and reports the outcome
// under the task's lease token. Losing a worker mid-task only delays the
// project until the lease expires and the task is redispatched.
package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/softsmith/maker/internal/task"
)

// Queue is the worker-facing slice of the orchestrator. The worker ID on
// the poll keeps the coordinator's worker descriptor fresh.
type Queue interface {
	PollTask(ctx context.Context, workerID string, capabilities []string) (*task.Task, error)
	ReportResult(ctx context.Context, taskID, leaseToken string, outcome task.Outcome) error
}

// deregisterer is implemented by queues that track worker descriptors.
type deregisterer interface {
	DeregisterWorker(id string)
}

// Executor runs one task. Executors are opaque to the engine: the engine
// only cares whether execution produced a result or a failure payload.
type Executor interface {
	Execute(ctx context.Context, t task.Task) task.Outcome
}

// Worker polls for tasks matching its capabilities and executes them.
type Worker struct {
	id        string
	queue     Queue
	executors map[string]Executor // capability tag -> executor
}

// New creates a worker over the given capability->executor map.
func New(queue Queue, executors map[string]Executor) *Worker {
	return &Worker{
		id:        uuid.NewString(),
		queue:     queue,
		executors: executors,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() string { return w.id }

// Capabilities returns the advertised capability tags, sorted for stable
// logging.
func (w *Worker) Capabilities() []string {
	caps := make([]string, 0, len(w.executors))
	for c := range w.executors {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// Run polls until ctx is cancelled. An empty poll backs off exponentially;
// receiving work resets the backoff.
func (w *Worker) Run(ctx context.Context) error {
	caps := w.Capabilities()

	if d, ok := w.queue.(deregisterer); ok {
		defer d.DeregisterWorker(w.id)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0 // Poll forever

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := w.queue.PollTask(ctx, w.id, caps)
		if err != nil {
			log.Printf("WARNING: worker %s poll failed: %v", w.id, err)
			if !w.sleep(ctx, policy.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		if t == nil {
			if !w.sleep(ctx, policy.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}

		policy.Reset()
		w.runTask(ctx, t)
	}
}

// runTask executes one leased task and reports the outcome.
func (w *Worker) runTask(ctx context.Context, t *task.Task) {
	ex, ok := w.executors[t.RequiredCapability()]
	if !ok {
		// Should not happen: the poll filtered on our capabilities.
		w.report(ctx, t, task.Outcome{Failure: &task.ErrorPayload{
			Diagnostic: fmt.Sprintf("worker %s has no executor for capability %q", w.id, t.RequiredCapability()),
		}})
		return
	}

	// Bound execution by the lease deadline: a result produced after the
	// lease expired would be discarded anyway.
	execCtx := ctx
	if t.Lease != nil {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, t.Lease.Deadline)
		defer cancel()
	}

	outcome := ex.Execute(execCtx, *t)
	w.report(ctx, t, outcome)
}

func (w *Worker) report(ctx context.Context, t *task.Task, outcome task.Outcome) {
	token := ""
	if t.Lease != nil {
		token = t.Lease.Token
	}
	if err := w.queue.ReportResult(ctx, t.ID, token, outcome); err != nil {
		log.Printf("WARNING: worker %s report for task %s failed: %v", w.id, t.ID, err)
	}
}

// sleep waits for d or ctx cancellation; returns false on cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
