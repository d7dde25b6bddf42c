// Package orchestrator is the engine core: it owns project lifecycles,
// drives the task graph, leases work to pollers, and runs the bounded
// auto-fix loop. The scheduler, worker pool, and auto-fix loop share state
// only through the injected stores, so every mutation is a compare-and-set
// and multiple orchestrator replicas can run against one durable store.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/store"
	"github.com/softsmith/maker/internal/task"
)

// Config is the externally loaded engine configuration, injected as a
// value. The orchestrator never reads configuration from disk.
type Config struct {
	MaxRetries            int           // Per-task redispatch ceiling after lease expiry
	MaxFixAttempts        int           // Per-project cumulative auto-fix budget
	WorkerConcurrency     int           // Expected worker slots, drives the fairness cap
	MaxConcurrentProjects int           // 0 means unlimited
	LeaseDuration         time.Duration // How long a worker may hold a task
	SweepInterval         time.Duration // Lease-expiry sweep period
	SafetySweepInterval   time.Duration // Low-frequency readiness sweep period
	WorkerTimeout         time.Duration // Heartbeat window before a worker's descriptor is dropped
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = 5
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 4
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.SafetySweepInterval <= 0 {
		c.SafetySweepInterval = 30 * time.Second
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = 2 * time.Minute
	}
	return c
}

// Orchestrator coordinates projects, tasks, workers, and the auto-fix loop.
type Orchestrator struct {
	cfg      Config
	tasks    store.TaskStore
	projects store.ProjectStore
	log      *events.Log

	mu sync.Mutex // Guards the round-robin cursor
	rr int

	workers *workerRegistry
	parsers map[task.Type]ExpansionParser
}

// New creates an orchestrator over the given stores. The progress log is
// write-only from the orchestrator's perspective.
func New(cfg Config, tasks store.TaskStore, projects store.ProjectStore, log *events.Log) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		tasks:    tasks,
		projects: projects,
		log:      log,
		workers:  newWorkerRegistry(),
		parsers:  make(map[task.Type]ExpansionParser),
	}
	// Plan results expand into the project's task graph by default.
	o.parsers[task.TypePlan] = SpecResultParser{}
	return o
}

// RegisterParser installs an expansion parser for a task type, replacing
// any previous one.
func (o *Orchestrator) RegisterParser(tp task.Type, p ExpansionParser) {
	o.parsers[tp] = p
}

// CreateProject creates a project from a prompt, roots its planning task,
// and moves it to planning. The whole call is synchronous.
func (o *Orchestrator) CreateProject(ctx context.Context, prompt string) (string, error) {
	if o.cfg.MaxConcurrentProjects > 0 {
		all, err := o.projects.List(ctx)
		if err != nil {
			return "", err
		}
		active := 0
		for _, p := range all {
			if !p.State.Terminal() {
				active++
			}
		}
		if active >= o.cfg.MaxConcurrentProjects {
			return "", fmt.Errorf("project limit reached (%d active)", active)
		}
	}

	p := &project.Project{
		ID:     uuid.NewString(),
		Prompt: prompt,
		State:  project.StateNew,
	}
	if err := o.projects.Insert(ctx, p); err != nil {
		return "", err
	}
	o.publish(events.Record{ProjectID: p.ID, Kind: events.KindProjectCreated})

	root := &task.Task{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Type:      task.TypePlan,
		Name:      "plan project",
		Payload:   []byte(prompt),
	}
	if err := o.tasks.Insert(ctx, root); err != nil {
		return "", err
	}
	o.publish(events.Record{ProjectID: p.ID, TaskID: root.ID, Kind: events.KindTaskInserted, Detail: root.Type.String()})

	o.setState(ctx, p.ID, project.StateNew, project.StatePlanning)
	if err := o.computeReady(ctx, p.ID); err != nil {
		return "", err
	}
	return p.ID, nil
}

// PauseProject stops new dispatch for the project. In-flight leases run to
// completion or expiry; the graph is frozen until resumed.
func (o *Orchestrator) PauseProject(ctx context.Context, id string) error {
	if err := o.projects.SetPaused(ctx, id, true); err != nil {
		return err
	}
	o.publish(events.Record{ProjectID: id, Kind: events.KindProjectPaused})
	return nil
}

// ResumeProject re-enables dispatch and recomputes readiness in case
// completions arrived while frozen.
func (o *Orchestrator) ResumeProject(ctx context.Context, id string) error {
	if err := o.projects.SetPaused(ctx, id, false); err != nil {
		return err
	}
	o.publish(events.Record{ProjectID: id, Kind: events.KindProjectResumed})
	return o.computeReady(ctx, id)
}

// ProjectStatus returns the project and a task summary.
func (o *Orchestrator) ProjectStatus(ctx context.Context, id string) (*project.Project, project.Summary, error) {
	p, err := o.projects.Get(ctx, id)
	if err != nil {
		return nil, project.Summary{}, err
	}
	tasks, err := o.tasks.List(ctx, id)
	if err != nil {
		return nil, project.Summary{}, err
	}
	var sum project.Summary
	sum.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			sum.Pending++
		case task.StatusReady:
			sum.Ready++
		case task.StatusRunning:
			sum.Running++
		case task.StatusDone:
			sum.Done++
		case task.StatusFailed:
			sum.Failed++
		}
	}
	return p, sum, nil
}

// setState applies a lifecycle transition if legal and not already applied.
// CAS on the expected state makes re-delivered events harmless.
func (o *Orchestrator) setState(ctx context.Context, projectID string, from, to project.State) bool {
	if !project.CanTransition(from, to) {
		return false
	}
	ok, err := o.projects.SetState(ctx, projectID, from, to)
	if err != nil || !ok {
		return false
	}
	o.publish(events.Record{ProjectID: projectID, Kind: events.KindProjectState, Detail: to.String()})
	return true
}

// failProject terminally fails a project from whatever non-terminal state
// it is in and records the reason.
func (o *Orchestrator) failProject(ctx context.Context, projectID, reason string) {
	p, err := o.projects.Get(ctx, projectID)
	if err != nil || p.State.Terminal() {
		return
	}
	_ = o.projects.SetLastError(ctx, projectID, reason)
	o.setState(ctx, projectID, p.State, project.StateFailed)
}

// Workers returns descriptors for the workers currently polling.
func (o *Orchestrator) Workers() []WorkerDescriptor {
	return o.workers.snapshot()
}

// DeregisterWorker drops a worker's descriptor immediately instead of
// waiting for its heartbeat to time out.
func (o *Orchestrator) DeregisterWorker(id string) {
	o.workers.remove(id)
}

func (o *Orchestrator) publish(rec events.Record) {
	if o.log != nil {
		o.log.Publish(rec)
	}
}
