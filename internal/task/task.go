package task

import (
	"time"
)

// Type identifies what kind of work a task represents. The scheduler uses
// the type to pick an expansion parser and to derive the default capability
// tag a worker must advertise to claim the task.
type Type int

const (
	TypePlan Type = iota
	TypeCodegen
	TypeTest
	TypeFix
	TypeDeploy
	TypeWebTest
)

// String returns the wire name of the task type.
func (t Type) String() string {
	switch t {
	case TypePlan:
		return "plan"
	case TypeCodegen:
		return "codegen"
	case TypeTest:
		return "test"
	case TypeFix:
		return "fix"
	case TypeDeploy:
		return "deploy"
	case TypeWebTest:
		return "web_test"
	}
	return "unknown"
}

// ParseType converts a wire name back into a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "plan":
		return TypePlan, true
	case "codegen":
		return TypeCodegen, true
	case "test":
		return TypeTest, true
	case "fix":
		return TypeFix, true
	case "deploy":
		return TypeDeploy, true
	case "web_test":
		return TypeWebTest, true
	}
	return 0, false
}

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending Status = iota // Waiting for dependencies
	StatusReady                 // All dependencies done, dispatchable
	StatusRunning               // Leased by a worker
	StatusDone                  // Finished successfully (terminal)
	StatusFailed                // Finished with an error (terminal)
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Lease is a time-bounded claim a worker holds on a task while executing it.
// A report carrying a token that no longer matches the task's lease is stale
// and must be discarded.
type Lease struct {
	Token    string
	Deadline time.Time
}

// ErrorPayload carries structured failure detail from a failed task to the
// auto-fix loop.
type ErrorPayload struct {
	ExitCode   int      `json:"exit_code"`
	Diagnostic string   `json:"diagnostic"`
	Files      []string `json:"files,omitempty"`
}

// Task is a unit of work in a project's dependency graph.
type Task struct {
	ID         string
	ProjectID  string
	Type       Type
	Capability string // Required worker capability tag (defaults to Type.String())
	Name       string
	Status     Status
	Payload    []byte // Opaque input blob
	Result     []byte // Opaque output blob (populated on completion)
	Failure    *ErrorPayload
	DependsOn  []string
	Attempts   int    // Lease redispatch count
	FixOf      string // For fix tasks: ID of the failed task being repaired
	Seq        int64  // Store-assigned insertion sequence, FIFO ordering key
	CreatedAt  time.Time
	Lease      *Lease
}

// RequiredCapability returns the capability tag a worker must advertise to
// claim this task.
func (t *Task) RequiredCapability() string {
	if t.Capability != "" {
		return t.Capability
	}
	return t.Type.String()
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state without going through a store operation.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Payload != nil {
		cp.Payload = append([]byte(nil), t.Payload...)
	}
	if t.Result != nil {
		cp.Result = append([]byte(nil), t.Result...)
	}
	if t.Failure != nil {
		f := *t.Failure
		if t.Failure.Files != nil {
			f.Files = append([]string(nil), t.Failure.Files...)
		}
		cp.Failure = &f
	}
	if t.Lease != nil {
		l := *t.Lease
		cp.Lease = &l
	}
	return &cp
}
