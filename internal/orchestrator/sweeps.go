package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/softsmith/maker/internal/events"
	"github.com/softsmith/maker/internal/task"
)

// Run drives the background sweeps until ctx is cancelled: lease-expiry
// detection and a low-frequency readiness sweep that catches any missed
// completion events.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := o.SweepLeases(ctx, time.Now()); err != nil {
					log.Printf("WARNING: lease sweep failed: %v", err)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.SafetySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := o.safetySweep(ctx); err != nil {
					log.Printf("WARNING: safety sweep failed: %v", err)
				}
			}
		}
	})

	return g.Wait()
}

// SweepLeases returns expired leases to the ready state for redispatch, or
// terminally fails tasks that exhausted their redispatch budget. Lease
// expiry itself is not an error.
func (o *Orchestrator) SweepLeases(ctx context.Context, now time.Time) error {
	expired, err := o.tasks.ExpiredLeases(ctx, now)
	if err != nil {
		return err
	}
	for _, t := range expired {
		token := t.Lease.Token

		if t.Attempts+1 >= o.cfg.MaxRetries {
			failure := &task.ErrorPayload{
				Diagnostic: fmt.Sprintf("lease expired %d times, redispatch budget exhausted", t.Attempts+1),
			}
			ok, err := o.tasks.ForceFail(ctx, t.ID, token, failure)
			if err != nil {
				return err
			}
			if !ok {
				continue // A late report beat the sweep; its path handles the rest
			}
			o.publish(events.Record{ProjectID: t.ProjectID, TaskID: t.ID, Kind: events.KindTaskFailed, Detail: failure.Diagnostic})
			failed, err := o.tasks.Get(ctx, t.ID)
			if err != nil {
				return err
			}
			if err := o.onTaskFailed(ctx, failed); err != nil {
				return err
			}
			continue
		}

		ok, err := o.tasks.Release(ctx, t.ID, token)
		if err != nil {
			return err
		}
		if ok {
			o.publish(events.Record{ProjectID: t.ProjectID, TaskID: t.ID, Kind: events.KindTaskExpired})
		}
	}
	return nil
}

// safetySweep recomputes readiness for every live project, drops workers
// whose heartbeat lapsed, and fails projects stranded on a capability no
// live worker advertises.
func (o *Orchestrator) safetySweep(ctx context.Context) error {
	o.workers.prune(time.Now(), o.cfg.WorkerTimeout)
	live := o.workers.liveCapabilities()

	all, err := o.projects.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range all {
		if p.State.Terminal() || p.Paused {
			continue
		}
		if err := o.checkCapabilities(ctx, p.ID, live); err != nil {
			return err
		}
		if err := o.computeReady(ctx, p.ID); err != nil {
			return err
		}
		if err := o.checkCompletion(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// checkCapabilities fails a project whose undispatched tasks require a
// capability none of the live workers advertise. Enforced only while at
// least one worker is registered, so projects created before the pool
// comes up are not killed at startup.
func (o *Orchestrator) checkCapabilities(ctx context.Context, projectID string, live map[string]bool) error {
	if len(live) == 0 {
		return nil
	}
	tasks, err := o.tasks.List(ctx, projectID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status != task.StatusPending && t.Status != task.StatusReady {
			continue
		}
		if c := t.RequiredCapability(); !live[c] {
			o.failProject(ctx, projectID,
				task.Structuralf("task %q requires capability %q, which no live worker advertises", t.Name, c).Error())
			return nil
		}
	}
	return nil
}
