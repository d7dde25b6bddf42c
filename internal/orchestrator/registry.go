package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// WorkerDescriptor records a live worker: identity, advertised capability
// set, and when it last polled. Polling doubles as the heartbeat.
type WorkerDescriptor struct {
	ID           string
	Capabilities []string
	LastSeen     time.Time
}

// workerRegistry tracks the workers currently serving the engine. A
// descriptor appears on a worker's first poll and disappears on explicit
// deregistration or heartbeat timeout.
type workerRegistry struct {
	mu      sync.Mutex
	workers map[string]*WorkerDescriptor
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{workers: make(map[string]*WorkerDescriptor)}
}

// observe refreshes a worker's descriptor from a poll.
func (r *workerRegistry) observe(id string, capabilities []string, now time.Time) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.workers[id]
	if !ok {
		d = &WorkerDescriptor{ID: id}
		r.workers[id] = d
	}
	d.Capabilities = append([]string(nil), capabilities...)
	d.LastSeen = now
}

// remove drops a worker on deregistration.
func (r *workerRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// prune drops workers whose heartbeat is older than timeout.
func (r *workerRegistry) prune(now time.Time, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.workers {
		if now.Sub(d.LastSeen) > timeout {
			delete(r.workers, id)
		}
	}
}

// liveCapabilities returns the union of capability tags the registered
// workers advertise.
func (r *workerRegistry) liveCapabilities() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	caps := make(map[string]bool)
	for _, d := range r.workers {
		for _, c := range d.Capabilities {
			caps[c] = true
		}
	}
	return caps
}

// snapshot returns copies of the descriptors sorted by worker ID.
func (r *workerRegistry) snapshot() []WorkerDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerDescriptor, 0, len(r.workers))
	for _, d := range r.workers {
		cp := *d
		cp.Capabilities = append([]string(nil), d.Capabilities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
