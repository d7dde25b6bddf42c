package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/task"
)

// FixInput is the payload handed to a fix task: the failure detail plus
// enough of the failed task to reproduce the attempt. Payload is the failed
// task's opaque input blob; it is not necessarily JSON, so it rides along
// base64-encoded.
type FixInput struct {
	FailedTaskID string             `json:"failed_task_id"`
	FailedType   string             `json:"failed_type"`
	FailedName   string             `json:"failed_name"`
	Payload      []byte             `json:"payload,omitempty"`
	Failure      *task.ErrorPayload `json:"failure"`
}

// onTaskFailed runs the auto-fix loop for a task that reported failure. A
// failed task is never retried in place: each attempt routes through a
// distinct fix task so the repair history stays auditable.
func (o *Orchestrator) onTaskFailed(ctx context.Context, failed *task.Task) error {
	p, err := o.projects.Get(ctx, failed.ProjectID)
	if err != nil {
		return err
	}
	if p.State.Terminal() {
		return nil
	}

	// The increment is the gate: the store's returned count decides, so two
	// concurrent failures cannot both slip under the budget.
	attempts, err := o.projects.IncrementFixAttempts(ctx, p.ID)
	if err != nil {
		return err
	}
	if attempts > o.cfg.MaxFixAttempts {
		o.publish(events.Record{ProjectID: p.ID, TaskID: failed.ID, Kind: events.KindFixExhausted,
			Detail: fmt.Sprintf("fix budget %d exhausted", o.cfg.MaxFixAttempts)})
		o.failProject(ctx, p.ID, fmt.Sprintf("task %q failed after %d fix attempts", failed.Name, o.cfg.MaxFixAttempts))
		return nil
	}

	input, err := json.Marshal(FixInput{
		FailedTaskID: failed.ID,
		FailedType:   failed.Type.String(),
		FailedName:   failed.Name,
		Payload:      failed.Payload,
		Failure:      failed.Failure,
	})
	if err != nil {
		return err
	}

	fix := &task.Task{
		ID:        uuid.NewString(),
		ProjectID: failed.ProjectID,
		Type:      task.TypeFix,
		Name:      "fix: " + failed.Name,
		Payload:   input,
		DependsOn: []string{failed.ID},
		FixOf:     failed.ID,
	}
	if err := o.tasks.Insert(ctx, fix); err != nil {
		if isStructural(err) {
			o.failProject(ctx, failed.ProjectID, err.Error())
			return nil
		}
		return err
	}
	o.publish(events.Record{ProjectID: p.ID, TaskID: fix.ID, Kind: events.KindFixScheduled, Detail: "for " + failed.ID})

	// Testing -> Debugging (or from wherever the failure struck).
	if cur, err := o.projects.Get(ctx, p.ID); err == nil && cur.State != project.StateDebugging {
		o.setState(ctx, p.ID, cur.State, project.StateDebugging)
	}

	return o.computeReady(ctx, failed.ProjectID)
}

// afterFix re-verifies a landed fix: the failed task is cloned as a fresh
// pending task depending on the fix, and the failed task's dependents are
// repointed at the clone so they run only after the fix lands. The
// superseded task stays failed in the history.
func (o *Orchestrator) afterFix(ctx context.Context, fix *task.Task) error {
	orig, err := o.tasks.Get(ctx, fix.FixOf)
	if err != nil {
		return err
	}

	retry := &task.Task{
		ID:         uuid.NewString(),
		ProjectID:  orig.ProjectID,
		Type:       orig.Type,
		Capability: orig.Capability,
		Name:       orig.Name,
		Payload:    orig.Payload,
		DependsOn:  []string{fix.ID},
	}
	if err := o.tasks.Insert(ctx, retry); err != nil {
		if isStructural(err) {
			o.failProject(ctx, orig.ProjectID, err.Error())
			return nil
		}
		return err
	}
	o.publish(events.Record{ProjectID: orig.ProjectID, TaskID: retry.ID, Kind: events.KindTaskInserted, Detail: "retry of " + orig.ID})

	if err := o.tasks.RewriteDependency(ctx, orig.ProjectID, orig.ID, retry.ID); err != nil {
		if isStructural(err) {
			o.failProject(ctx, orig.ProjectID, err.Error())
			return nil
		}
		return err
	}

	o.setState(ctx, orig.ProjectID, project.StateDebugging, project.StateTesting)
	return nil
}
