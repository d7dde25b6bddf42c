package events

import (
	"time"
)

// Record is one immutable progress-log entry. The engine emits a record for
// every project state transition and task lifecycle event; it never reads
// the log back.
type Record struct {
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Record kinds.
const (
	KindProjectCreated = "project.created"
	KindProjectState   = "project.state"
	KindProjectPaused  = "project.paused"
	KindProjectResumed = "project.resumed"
	KindTaskInserted   = "task.inserted"
	KindTaskReady      = "task.ready"
	KindTaskLeased     = "task.leased"
	KindTaskDone       = "task.done"
	KindTaskFailed     = "task.failed"
	KindTaskExpired    = "task.lease_expired"
	KindFixScheduled   = "fix.scheduled"
	KindFixExhausted   = "fix.exhausted"
)

// Sink receives every published record, typically for durable journaling.
// Implementations must tolerate concurrent Append calls.
type Sink interface {
	Append(rec Record) error
}
