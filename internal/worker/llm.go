package worker

import (
	"context"

	"github.com/softsmith/maker/internal/router"
	"github.com/softsmith/maker/internal/task"
)

// Invoker is the router-facing slice the LLM executor needs.
type Invoker interface {
	Invoke(ctx context.Context, role router.Role, req router.Request) (router.Response, error)
}

// roleFor maps task types to routing roles, mirroring the agent split of
// the planning/codegen/tester/fixer pipeline.
func roleFor(tp task.Type) router.Role {
	switch tp {
	case task.TypePlan:
		return router.RolePlanning
	case task.TypeFix:
		return router.RoleDebugging
	case task.TypeTest, task.TypeWebTest:
		return router.RoleTesting
	default:
		return router.RoleCodeGeneration
	}
}

// LLMExecutor executes a task by invoking the router with the task's
// payload as the prompt. The response blob is the task result; downstream
// parsing (e.g. plan expansion) is the orchestrator's concern.
type LLMExecutor struct {
	invoker Invoker
	system  string // Optional system prompt applied to every call
}

// NewLLMExecutor creates an executor over the router.
func NewLLMExecutor(invoker Invoker, systemPrompt string) *LLMExecutor {
	return &LLMExecutor{invoker: invoker, system: systemPrompt}
}

// Execute implements Executor. Router-level fallback already happened by
// the time an error surfaces here, so any error becomes a task failure.
func (e *LLMExecutor) Execute(ctx context.Context, t task.Task) task.Outcome {
	resp, err := e.invoker.Invoke(ctx, roleFor(t.Type), router.Request{
		System: e.system,
		Prompt: string(t.Payload),
	})
	if err != nil {
		return task.Outcome{Failure: &task.ErrorPayload{
			ExitCode:   1,
			Diagnostic: err.Error(),
		}}
	}
	return task.Outcome{Result: []byte(resp.Content)}
}
