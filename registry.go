package taskgraph

import (
	"fmt"
	"sync"
)

// Registry maps a task_name to the Body that implements it, built at
// startup by the user explicitly registering each task type. Go has no
// runtime equivalent of scanning a source module for task classes, so
// registration is explicit and performed by the user's own main().
//
// The registry exists for subprocess self-invocation: a dispatched child
// process is handed --task-name, --task-id, and the already-resolved
// argument values, and uses the registry to find which Body to run.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Body
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Body)}
}

// Register associates taskName with body. Registering the same name twice
// overwrites the earlier registration.
func (r *Registry) Register(taskName string, body Body) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskName] = body
}

// Lookup returns the Body registered for taskName.
func (r *Registry) Lookup(taskName string) (Body, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	body, ok := r.tasks[taskName]
	if !ok {
		return nil, fmt.Errorf("taskgraph: no task registered under name %q", taskName)
	}
	return body, nil
}
