package store

import (
	"github.com/gammazero/toposort"

	"github.com/softsmith/maker/internal/task"
)

// Acyclic verifies that a project's tasks form a DAG and that every
// dependency resolves to a task in the set. Returns a *task.StructuralError
// describing the first defect found.
func Acyclic(tasks []*task.Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			// Edge from nil keeps dependency-free tasks in the sort.
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			if !ids[depID] {
				return task.Structuralf("task %q depends on unknown task %q", t.ID, depID)
			}
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return task.Structuralf("dependency cycle: %v", err)
	}
	return nil
}
