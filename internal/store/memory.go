package store

import (
	"context"
	"sync"
	"time"

	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/task"
)

// MemoryTaskStore is the in-process TaskStore. Tasks are indexed by ID with
// a per-project insertion-order slice so listing is stable and FIFO
// assignment is deterministic.
type MemoryTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*task.Task
	byProj  map[string][]string // projectID -> task IDs in insertion order
	nextSeq int64
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:  make(map[string]*task.Task),
		byProj: make(map[string][]string),
	}
}

// Insert adds a batch of tasks atomically after cycle-checking the project
// graph that would result.
func (s *MemoryTaskStore) Insert(_ context.Context, tasks ...*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := tasks[0].ProjectID
	for _, t := range tasks {
		if t.ProjectID != projectID {
			return task.Structuralf("batch spans projects %q and %q", projectID, t.ProjectID)
		}
		if _, exists := s.tasks[t.ID]; exists {
			return task.Structuralf("task %q already exists", t.ID)
		}
	}

	// Validate against a view of the project graph including the batch.
	// Nothing is committed until the combined graph passes.
	combined := make([]*task.Task, 0, len(s.byProj[projectID])+len(tasks))
	for _, id := range s.byProj[projectID] {
		combined = append(combined, s.tasks[id])
	}
	combined = append(combined, tasks...)
	if err := Acyclic(combined); err != nil {
		return err
	}

	now := time.Now()
	for _, t := range tasks {
		s.nextSeq++
		cp := t.Clone()
		cp.Seq = s.nextSeq
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.tasks[cp.ID] = cp
		s.byProj[projectID] = append(s.byProj[projectID], cp.ID)
		// Reflect the assigned sequence back to the caller's copy.
		t.Seq = cp.Seq
		t.CreatedAt = cp.CreatedAt
	}
	return nil
}

// Get returns a clone of the task.
func (s *MemoryTaskStore) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// List returns clones of a project's tasks in insertion order.
func (s *MemoryTaskStore) List(_ context.Context, projectID string) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byProj[projectID]
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

// MarkReady transitions Pending -> Ready.
func (s *MemoryTaskStore) MarkReady(_ context.Context, id string) (bool, error) {
	return s.cas(id, task.StatusPending, func(t *task.Task) {
		t.Status = task.StatusReady
	})
}

// Acquire transitions Ready -> Running and records the lease.
func (s *MemoryTaskStore) Acquire(_ context.Context, id, token string, deadline time.Time) (bool, error) {
	return s.cas(id, task.StatusReady, func(t *task.Task) {
		t.Status = task.StatusRunning
		t.Lease = &task.Lease{Token: token, Deadline: deadline}
	})
}

// Release returns an expired lease's task to Ready for redispatch.
func (s *MemoryTaskStore) Release(_ context.Context, id, token string) (bool, error) {
	return s.casLeased(id, token, func(t *task.Task) {
		t.Status = task.StatusReady
		t.Lease = nil
		t.Attempts++
	})
}

// Complete transitions {Running, token} -> Done.
func (s *MemoryTaskStore) Complete(_ context.Context, id, token string, result []byte) (bool, error) {
	return s.casLeased(id, token, func(t *task.Task) {
		t.Status = task.StatusDone
		t.Result = append([]byte(nil), result...)
		t.Lease = nil
	})
}

// Fail transitions {Running, token} -> Failed.
func (s *MemoryTaskStore) Fail(_ context.Context, id, token string, failure *task.ErrorPayload) (bool, error) {
	return s.casLeased(id, token, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Failure = failure
		t.Lease = nil
	})
}

// ForceFail terminally fails a leased task without a worker report.
func (s *MemoryTaskStore) ForceFail(_ context.Context, id, token string, failure *task.ErrorPayload) (bool, error) {
	return s.casLeased(id, token, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Failure = failure
		t.Lease = nil
		t.Attempts++
	})
}

// ExpiredLeases returns Running tasks whose lease deadline has passed.
func (s *MemoryTaskStore) ExpiredLeases(_ context.Context, now time.Time) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusRunning && t.Lease != nil && !t.Lease.Deadline.After(now) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// RewriteDependency repoints Pending dependents of from onto to.
func (s *MemoryTaskStore) RewriteDependency(_ context.Context, projectID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[to]; !ok {
		return task.Structuralf("rewrite target %q does not exist", to)
	}

	// Stage the rewrite on clones, validate, then commit.
	staged := make(map[string]*task.Task)
	combined := make([]*task.Task, 0, len(s.byProj[projectID]))
	for _, id := range s.byProj[projectID] {
		t := s.tasks[id]
		if t.Status == task.StatusPending && dependsOn(t, from) {
			cp := t.Clone()
			for i, dep := range cp.DependsOn {
				if dep == from {
					cp.DependsOn[i] = to
				}
			}
			staged[id] = cp
			combined = append(combined, cp)
			continue
		}
		combined = append(combined, t)
	}
	if len(staged) == 0 {
		return nil
	}
	if err := Acyclic(combined); err != nil {
		return err
	}
	for id, cp := range staged {
		s.tasks[id] = cp
	}
	return nil
}

func dependsOn(t *task.Task, id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// cas applies mutate iff the task's current status matches expect.
func (s *MemoryTaskStore) cas(id string, expect task.Status, mutate func(*task.Task)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != expect {
		return false, nil
	}
	mutate(t)
	return true, nil
}

// casLeased applies mutate iff the task is Running under the given token.
// A stale token from an expired lease loses here and the late report is
// discarded.
func (s *MemoryTaskStore) casLeased(id, token string, mutate func(*task.Task)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != task.StatusRunning || t.Lease == nil || t.Lease.Token != token {
		return false, nil
	}
	mutate(t)
	return true, nil
}

// MemoryProjectStore is the in-process ProjectStore.
type MemoryProjectStore struct {
	mu       sync.Mutex
	projects map[string]*project.Project
	order    []string
}

// NewMemoryProjectStore creates an empty in-memory project store.
func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{projects: make(map[string]*project.Project)}
}

// Insert adds a project.
func (s *MemoryProjectStore) Insert(_ context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return task.Structuralf("project %q already exists", p.ID)
	}
	cp := p.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.projects[p.ID] = cp
	s.order = append(s.order, p.ID)
	return nil
}

// Get returns a clone of the project.
func (s *MemoryProjectStore) Get(_ context.Context, id string) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// List returns clones of all projects in creation order.
func (s *MemoryProjectStore) List(_ context.Context) ([]*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*project.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.projects[id].Clone())
	}
	return out, nil
}

// SetState transitions from -> to, losing if the current state differs.
func (s *MemoryProjectStore) SetState(_ context.Context, id string, from, to project.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.State != from {
		return false, nil
	}
	p.State = to
	return true, nil
}

// SetPaused flips the dispatch gate for a project.
func (s *MemoryProjectStore) SetPaused(_ context.Context, id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Paused = paused
	return nil
}

// IncrementFixAttempts bumps and returns the cumulative fix counter.
func (s *MemoryProjectStore) IncrementFixAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.FixAttempts++
	return p.FixAttempts, nil
}

// SetLastError records the most recent failure detail for inspection.
func (s *MemoryProjectStore) SetLastError(_ context.Context, id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.LastError = msg
	return nil
}
