package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/softsmith/maker/internal/router"
	"github.com/softsmith/maker/internal/task"
)

// fakeQueue hands out scripted tasks and records reports.
type fakeQueue struct {
	mu           sync.Mutex
	tasks        []*task.Task
	reports      []reportCall
	deregistered []string
}

type reportCall struct {
	taskID  string
	token   string
	outcome task.Outcome
}

func (q *fakeQueue) PollTask(ctx context.Context, workerID string, capabilities []string) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}
	for i, t := range q.tasks {
		if capSet[t.RequiredCapability()] {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return t, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) ReportResult(ctx context.Context, taskID, leaseToken string, outcome task.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports = append(q.reports, reportCall{taskID, leaseToken, outcome})
	return nil
}

func (q *fakeQueue) DeregisterWorker(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deregistered = append(q.deregistered, id)
}

func (q *fakeQueue) reported() []reportCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]reportCall(nil), q.reports...)
}

// echoExecutor returns the payload as the result.
type echoExecutor struct{}

func (echoExecutor) Execute(ctx context.Context, t task.Task) task.Outcome {
	return task.Outcome{Result: t.Payload}
}

func leased(id, capability, token string) *task.Task {
	tp, _ := task.ParseType(capability)
	return &task.Task{
		ID:      id,
		Type:    tp,
		Status:  task.StatusRunning,
		Payload: []byte("payload of " + id),
		Lease:   &task.Lease{Token: token, Deadline: time.Now().Add(time.Minute)},
	}
}

func TestWorkerRunsAndReports(t *testing.T) {
	q := &fakeQueue{tasks: []*task.Task{leased("t1", "codegen", "tok1")}}
	w := New(q, map[string]Executor{"codegen": echoExecutor{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(q.reported()) == 1 })
	cancel()
	<-done

	rep := q.reported()[0]
	if rep.taskID != "t1" || rep.token != "tok1" {
		t.Errorf("report = %+v, want task t1 under tok1", rep)
	}
	q.mu.Lock()
	if len(q.deregistered) != 1 || q.deregistered[0] != w.ID() {
		t.Errorf("deregistered = %v, want [%s] after Run exits", q.deregistered, w.ID())
	}
	q.mu.Unlock()
	if rep.outcome.Failed() {
		t.Errorf("outcome failed: %+v", rep.outcome.Failure)
	}
	if string(rep.outcome.Result) != "payload of t1" {
		t.Errorf("result = %q", rep.outcome.Result)
	}
}

func TestWorkerSkipsForeignCapabilities(t *testing.T) {
	q := &fakeQueue{tasks: []*task.Task{leased("t1", "deploy", "tok1")}}
	w := New(q, map[string]Executor{"codegen": echoExecutor{}})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if got := q.reported(); len(got) != 0 {
		t.Errorf("worker reported %d outcomes for a capability it lacks", len(got))
	}
}

func TestCapabilitiesSorted(t *testing.T) {
	w := New(nil, map[string]Executor{
		"test":    echoExecutor{},
		"codegen": echoExecutor{},
		"plan":    echoExecutor{},
	})
	caps := w.Capabilities()
	want := []string{"codegen", "plan", "test"}
	for i := range want {
		if caps[i] != want[i] {
			t.Fatalf("Capabilities() = %v, want %v", caps, want)
		}
	}
}

func TestLLMExecutor(t *testing.T) {
	tests := []struct {
		name     string
		taskType task.Type
		wantRole router.Role
	}{
		{"plan routes to planning", task.TypePlan, router.RolePlanning},
		{"codegen routes to code generation", task.TypeCodegen, router.RoleCodeGeneration},
		{"fix routes to debugging", task.TypeFix, router.RoleDebugging},
		{"test routes to testing", task.TypeTest, router.RoleTesting},
		{"web test routes to testing", task.TypeWebTest, router.RoleTesting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRole router.Role
			inv := invokerFunc(func(ctx context.Context, role router.Role, req router.Request) (router.Response, error) {
				gotRole = role
				return router.Response{Content: "answer"}, nil
			})
			ex := NewLLMExecutor(inv, "be terse")

			out := ex.Execute(context.Background(), task.Task{Type: tt.taskType, Payload: []byte("prompt")})
			if out.Failed() {
				t.Fatalf("outcome failed: %+v", out.Failure)
			}
			if gotRole != tt.wantRole {
				t.Errorf("role = %q, want %q", gotRole, tt.wantRole)
			}
			if string(out.Result) != "answer" {
				t.Errorf("result = %q", out.Result)
			}
		})
	}
}

func TestLLMExecutorFailure(t *testing.T) {
	inv := invokerFunc(func(ctx context.Context, role router.Role, req router.Request) (router.Response, error) {
		return router.Response{}, errors.New("all providers exhausted")
	})
	out := NewLLMExecutor(inv, "").Execute(context.Background(), task.Task{Type: task.TypeCodegen})

	if !out.Failed() {
		t.Fatal("expected a failure outcome")
	}
	if out.Failure.Diagnostic != "all providers exhausted" {
		t.Errorf("diagnostic = %q", out.Failure.Diagnostic)
	}
}

type invokerFunc func(ctx context.Context, role router.Role, req router.Request) (router.Response, error)

func (f invokerFunc) Invoke(ctx context.Context, role router.Role, req router.Request) (router.Response, error) {
	return f(ctx, role, req)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
