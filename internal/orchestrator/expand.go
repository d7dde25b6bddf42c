package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/task"
)

// ExpansionParser turns a completed task's result into an expansion spec.
// A nil spec means the task spawns nothing. Malformed results must surface
// as *task.StructuralError so the project fails instead of silently
// dropping work.
type ExpansionParser interface {
	Parse(t *task.Task) (*task.Spec, error)
}

// SpecResultParser reads the task result as an expansion spec document.
// An empty result expands to nothing.
type SpecResultParser struct{}

// Parse implements ExpansionParser.
func (SpecResultParser) Parse(t *task.Task) (*task.Spec, error) {
	if len(t.Result) == 0 {
		return nil, nil
	}
	return task.ParseSpec(t.Result)
}

// expand parses a completed task's result and inserts the child tasks it
// describes. Every child gets a dependency edge back to the completing
// task; local refs resolve to the freshly minted IDs. Returns the inserted
// tasks.
func (o *Orchestrator) expand(ctx context.Context, t *task.Task) ([]*task.Task, error) {
	parser, ok := o.parsers[t.Type]
	if !ok || parser == nil {
		return nil, nil
	}
	spec, err := parser.Parse(t)
	if err != nil {
		return nil, err
	}
	if spec == nil || len(spec.Tasks) == 0 {
		return nil, nil
	}

	idByRef := make(map[string]string, len(spec.Tasks))
	children := make([]*task.Task, 0, len(spec.Tasks))
	for _, st := range spec.Tasks {
		tp, _ := task.ParseType(st.Type) // Validated by ParseSpec
		child := &task.Task{
			ID:         uuid.NewString(),
			ProjectID:  t.ProjectID,
			Type:       tp,
			Capability: st.Capability,
			Name:       st.Name,
			Payload:    []byte(st.Payload),
		}
		idByRef[st.Ref] = child.ID

		deps := []string{t.ID} // Edge back to the completing task
		for _, dep := range st.DependsOn {
			if id, ok := idByRef[dep]; ok {
				deps = append(deps, id)
				continue
			}
			deps = append(deps, dep) // Existing task ID, validated at insert
		}
		child.DependsOn = deps
		children = append(children, child)
	}

	if err := o.tasks.Insert(ctx, children...); err != nil {
		return nil, err
	}
	for _, c := range children {
		o.publish(events.Record{ProjectID: t.ProjectID, TaskID: c.ID, Kind: events.KindTaskInserted, Detail: c.Type.String()})
	}
	return children, nil
}

// isStructural reports whether err belongs to the fatal error class.
func isStructural(err error) bool {
	var se *task.StructuralError
	return errors.As(err, &se)
}
