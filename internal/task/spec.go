package task

import (
	"encoding/json"
	"fmt"
)

// StructuralError marks a fatal defect in a project's graph: a dependency
// cycle, an unknown task type or capability, or a malformed expansion.
// Structural errors immediately fail the project and are never retried.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "structural error: " + e.Reason
}

// Structuralf builds a StructuralError from a format string.
func Structuralf(format string, args ...any) *StructuralError {
	return &StructuralError{Reason: fmt.Sprintf(format, args...)}
}

// Spec is the tagged expansion a completed task's result is parsed into.
// Each entry becomes a child task with a dependency edge back to the task
// that produced it.
type Spec struct {
	Tasks []SpecTask `json:"tasks"`
}

// SpecTask describes one task to insert during expansion. Ref is a local
// handle other entries in the same spec may name in DependsOn; the scheduler
// resolves refs to real task IDs at insertion time.
type SpecTask struct {
	Ref        string          `json:"ref"`
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	Capability string          `json:"capability,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
}

// ParseSpec decodes and validates an expansion blob. A malformed expansion
// is a StructuralError, never silently dropped.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, Structuralf("malformed expansion: %v", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	refs := make(map[string]bool, len(s.Tasks))
	for i, st := range s.Tasks {
		if st.Ref == "" {
			return Structuralf("expansion task %d has no ref", i)
		}
		if refs[st.Ref] {
			return Structuralf("expansion ref %q appears twice", st.Ref)
		}
		refs[st.Ref] = true
		if _, ok := ParseType(st.Type); !ok {
			return Structuralf("expansion task %q has unknown type %q", st.Ref, st.Type)
		}
	}
	// Local dependencies must name earlier refs; forward refs within one
	// spec would hide an ordering ambiguity.
	seen := make(map[string]bool, len(s.Tasks))
	for _, st := range s.Tasks {
		for _, dep := range st.DependsOn {
			if refs[dep] && !seen[dep] {
				return Structuralf("expansion task %q depends on later ref %q", st.Ref, dep)
			}
		}
		seen[st.Ref] = true
	}
	return nil
}
