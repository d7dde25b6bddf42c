package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/softsmith/maker/internal/config"
	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/orchestrator"
	"github.com/softsmith/maker/internal/persistence"
	"github.com/softsmith/maker/internal/router"
	"github.com/softsmith/maker/internal/store"
	"github.com/softsmith/maker/internal/task"
	"github.com/softsmith/maker/internal/worker"
)

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	progress := events.NewLog()
	defer progress.Close()

	// Stores: durable when a db path is configured, in-memory otherwise.
	var (
		tasks    store.TaskStore
		projects store.ProjectStore
	)
	if cfg.DBPath != "" {
		db, err := persistence.Open(ctx, cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		tasks = db.TaskStore()
		projects = db.ProjectStore()
		progress.AttachSink(db.Journal())
	} else {
		tasks = store.NewMemoryTaskStore()
		projects = store.NewMemoryProjectStore()
	}

	rt := router.New(cfg.BuildProviders(), cfg.RoutingPolicy(), cfg.CallTimeout())
	orch := orchestrator.New(cfg.OrchestratorConfig(), tasks, projects, progress)

	// One LLM executor serves every LLM-backed capability; deploy and
	// web-test tooling plug in the same way when present.
	llm := worker.NewLLMExecutor(rt, "")
	executors := map[string]worker.Executor{
		task.TypePlan.String():    llm,
		task.TypeCodegen.String(): llm,
		task.TypeTest.String():    llm,
		task.TypeFix.String():     llm,
	}
	pool := worker.NewPool(orch, executors, cfg.Limits.WorkerConcurrency)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(runCtx) })
	g.Go(func() error { return pool.Run(runCtx) })

	log.Printf("makerd started (workers=%d)", cfg.Limits.WorkerConcurrency)

	<-ctx.Done()
	stop() // Restore default signal handling: double Ctrl+C forces exit
	log.Println("Shutdown signal received, draining...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-drainCtx.Done():
		log.Println("Shutdown timeout exceeded, forcing exit")
	}

	log.Println("Shutdown complete")
}
