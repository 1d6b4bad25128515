// Package tools holds the server-side tools the assistant can call.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ExecutorFunc runs a tool with JSON arguments and returns a JSON result.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ErrUnknownTool is returned by Execute for names nothing registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry stores tool executors keyed by tool name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFunc
	timeout   time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]ExecutorFunc),
	}
}

// SetTimeout bounds every later Execute. Zero means no bound.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register adds an executor for a tool name.
func (r *Registry) Register(toolName string, exec ExecutorFunc) error {
	if toolName == "" {
		return errors.New("tool name is required")
	}
	if exec == nil {
		return errors.New("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[toolName]; exists {
		return errors.Errorf("executor already registered for %s", toolName)
	}
	r.executors[toolName] = exec
	return nil
}

// MustRegister is Register that panics, for wiring at startup.
func (r *Registry) MustRegister(toolName string, exec ExecutorFunc) {
	if err := r.Register(toolName, exec); err != nil {
		panic(err)
	}
}

// Execute runs the executor for the tool name.
func (r *Registry) Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	exec := r.executors[toolName]
	timeout := r.timeout
	r.mu.RUnlock()
	if exec == nil {
		return nil, errors.Wrap(ErrUnknownTool, toolName)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := exec(ctx, args)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Wrapf(err, "%s timed out after %s", toolName, timeout)
	}
	return out, err
}

// Names lists the registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
