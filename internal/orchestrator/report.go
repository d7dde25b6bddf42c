package orchestrator

import (
	"context"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/task"
)

// ReportResult records a worker's outcome for a leased task. A report
// carrying a stale lease token (the lease expired and the task was handed
// to another worker) loses the compare-and-set and is discarded; that is
// also what makes re-delivered reports idempotent.
func (o *Orchestrator) ReportResult(ctx context.Context, taskID, leaseToken string, outcome task.Outcome) error {
	if outcome.Failed() {
		ok, err := o.tasks.Fail(ctx, taskID, leaseToken, outcome.Failure)
		if err != nil {
			return err
		}
		if !ok {
			return nil // Stale or duplicate report
		}
		t, err := o.tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		o.publish(events.Record{ProjectID: t.ProjectID, TaskID: t.ID, Kind: events.KindTaskFailed, Detail: outcome.Failure.Diagnostic})
		return o.onTaskFailed(ctx, t)
	}

	ok, err := o.tasks.Complete(ctx, taskID, leaseToken, outcome.Result)
	if err != nil {
		return err
	}
	if !ok {
		return nil // Stale or duplicate report
	}
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	o.publish(events.Record{ProjectID: t.ProjectID, TaskID: t.ID, Kind: events.KindTaskDone})
	return o.onTaskDone(ctx, t)
}

// onTaskDone expands the result, advances the project lifecycle, and
// recomputes readiness.
func (o *Orchestrator) onTaskDone(ctx context.Context, t *task.Task) error {
	children, err := o.expand(ctx, t)
	if err != nil {
		if isStructural(err) {
			o.failProject(ctx, t.ProjectID, err.Error())
			return nil
		}
		return err
	}

	switch t.Type {
	case task.TypePlan:
		o.afterPlan(ctx, t.ProjectID, children)
	case task.TypeCodegen:
		o.afterCodegen(ctx, t.ProjectID)
	case task.TypeFix:
		if err := o.afterFix(ctx, t); err != nil {
			return err
		}
	}

	if err := o.computeReady(ctx, t.ProjectID); err != nil {
		return err
	}
	return o.checkCompletion(ctx, t.ProjectID)
}

// afterPlan moves the project out of planning based on what the plan
// produced.
func (o *Orchestrator) afterPlan(ctx context.Context, projectID string, children []*task.Task) {
	hasCodegen := false
	for _, c := range children {
		if c.Type == task.TypeCodegen {
			hasCodegen = true
			break
		}
	}
	if hasCodegen {
		o.setState(ctx, projectID, project.StatePlanning, project.StateCoding)
	} else if len(children) > 0 {
		// A plan with no codegen goes straight to verification.
		o.setState(ctx, projectID, project.StatePlanning, project.StateTesting)
	}
	// An empty plan leaves the state alone; checkCompletion closes out the
	// project.
}

// afterCodegen moves coding to testing once the current wave of codegen
// tasks has fully landed. A failed task superseded by a fix counts as
// resolved; its retry copy is what blocks the transition.
func (o *Orchestrator) afterCodegen(ctx context.Context, projectID string) {
	tasks, err := o.tasks.List(ctx, projectID)
	if err != nil {
		return
	}
	fixed := make(map[string]bool)
	for _, t := range tasks {
		if t.FixOf != "" {
			fixed[t.FixOf] = true
		}
	}
	for _, t := range tasks {
		if t.Type != task.TypeCodegen || t.Status == task.StatusDone {
			continue
		}
		if t.Status == task.StatusFailed && fixed[t.ID] {
			continue
		}
		return
	}
	o.setState(ctx, projectID, project.StateCoding, project.StateTesting)
}

// checkCompletion transitions the project to its success terminal state
// when the graph has fully resolved: nothing pending, ready, or running,
// and every failure superseded by a fix.
func (o *Orchestrator) checkCompletion(ctx context.Context, projectID string) error {
	p, err := o.projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if p.State.Terminal() {
		return nil
	}

	tasks, err := o.tasks.List(ctx, projectID)
	if err != nil {
		return err
	}
	fixed := make(map[string]bool)
	for _, t := range tasks {
		if t.FixOf != "" {
			fixed[t.FixOf] = true
		}
	}
	deployed := false
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending, task.StatusReady, task.StatusRunning:
			return nil
		case task.StatusFailed:
			if !fixed[t.ID] {
				return nil // Failure handling is still in flight
			}
		case task.StatusDone:
			if t.Type == task.TypeDeploy {
				deployed = true
			}
		}
	}

	final := project.StateReady
	if deployed {
		final = project.StateDeployed
	}

	// Walk intermediate states so the lifecycle stays legal regardless of
	// where completion caught the project.
	switch p.State {
	case project.StatePlanning:
		o.setState(ctx, projectID, project.StatePlanning, project.StateReady)
	case project.StateCoding:
		if o.setState(ctx, projectID, project.StateCoding, project.StateTesting) {
			o.setState(ctx, projectID, project.StateTesting, final)
		}
	case project.StateTesting:
		o.setState(ctx, projectID, project.StateTesting, final)
	case project.StateDebugging:
		if o.setState(ctx, projectID, project.StateDebugging, project.StateTesting) {
			o.setState(ctx, projectID, project.StateTesting, final)
		}
	}
	return nil
}
