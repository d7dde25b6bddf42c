package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/task"
)

// computeReady promotes Pending tasks whose dependencies are all satisfied
// to Ready. Re-run after every completion event and by the safety sweep.
func (o *Orchestrator) computeReady(ctx context.Context, projectID string) error {
	tasks, err := o.tasks.List(ctx, projectID)
	if err != nil {
		return err
	}
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		if t.Status != task.StatusPending {
			continue
		}
		ready := true
		for _, depID := range t.DependsOn {
			dep, ok := byID[depID]
			if !ok || !depSatisfied(t, dep) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		ok, err := o.tasks.MarkReady(ctx, t.ID)
		if err != nil {
			return err
		}
		if ok {
			o.publish(events.Record{ProjectID: projectID, TaskID: t.ID, Kind: events.KindTaskReady})
		}
	}
	return nil
}

// depSatisfied reports whether a dependency edge is resolved. The only edge
// a failure satisfies is the one from a fix task to the task it repairs.
func depSatisfied(t, dep *task.Task) bool {
	if dep.Status == task.StatusDone {
		return true
	}
	if dep.Status == task.StatusFailed && t.Type == task.TypeFix && t.FixOf == dep.ID {
		return true
	}
	return false
}

// PollTask hands out at most one ready task matching the caller's
// capability set. The poll refreshes the worker's descriptor, so polling
// is also the heartbeat. Assignment is FIFO within a project and
// round-robin across projects, with a per-project in-flight cap of
// ceil(WorkerConcurrency / active projects) so no project can monopolize
// the worker pool. Returns nil when nothing is dispatchable; that is not
// an error.
func (o *Orchestrator) PollTask(ctx context.Context, workerID string, capabilities []string) (*task.Task, error) {
	o.workers.observe(workerID, capabilities, time.Now())

	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}

	all, err := o.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	var active []*project.Project
	for _, p := range all {
		if !p.State.Terminal() && !p.Paused {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	// ceil(worker_concurrency / active_projects)
	inflightCap := (o.cfg.WorkerConcurrency + len(active) - 1) / len(active)

	// The cursor only orders the scan; lease acquisition stays CAS, so
	// concurrent pollers (or replicas) cannot double-dispatch.
	o.mu.Lock()
	start := o.rr
	o.mu.Unlock()

	n := len(active)
	for i := 0; i < n; i++ {
		p := active[(start+i)%n]
		t, err := o.acquireFrom(ctx, p.ID, capSet, inflightCap)
		if err != nil {
			return nil, err
		}
		if t != nil {
			o.mu.Lock()
			o.rr = (start + i + 1) % n
			o.mu.Unlock()
			return t, nil
		}
	}
	return nil, nil
}

// acquireFrom tries to lease one ready task from a single project.
func (o *Orchestrator) acquireFrom(ctx context.Context, projectID string, capSet map[string]bool, inflightCap int) (*task.Task, error) {
	tasks, err := o.tasks.List(ctx, projectID)
	if err != nil {
		return nil, err
	}

	inflight := 0
	var candidates []*task.Task
	for _, t := range tasks {
		switch t.Status {
		case task.StatusRunning:
			inflight++
		case task.StatusReady:
			if capSet[t.RequiredCapability()] {
				candidates = append(candidates, t)
			}
		}
	}
	if inflight >= inflightCap {
		return nil, nil
	}

	// FIFO by creation sequence, ID breaks ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Seq != candidates[j].Seq {
			return candidates[i].Seq < candidates[j].Seq
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, t := range candidates {
		token := uuid.NewString()
		deadline := time.Now().Add(o.cfg.LeaseDuration)
		ok, err := o.tasks.Acquire(ctx, t.ID, token, deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // Lost the race for this task, try the next
		}
		o.publish(events.Record{ProjectID: projectID, TaskID: t.ID, Kind: events.KindTaskLeased})
		leased := t.Clone()
		leased.Status = task.StatusRunning
		leased.Lease = &task.Lease{Token: token, Deadline: deadline}
		return leased, nil
	}
	return nil, nil
}
