package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps full tool names to tools. It is constructed at process
// start and passed down; there is no package-level instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds t. Re-registering a full name is an error; tool names
// are wiring, not data.
func (r *Registry) Register(t *Tool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.FullName())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.FullName()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool for fullName.
func (r *Registry) Get(fullName string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[fullName]
	return t, ok
}

// List returns all tools sorted by full name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// Active selects the tools available to a request. An empty filter
// activates everything. Otherwise a tool is active when its full name,
// tool name or app name appears in the filter, or it is essential.
func (r *Registry) Active(filter []string) []*Tool {
	all := r.List()
	if len(filter) == 0 {
		return all
	}

	wanted := make(map[string]bool, len(filter))
	for _, f := range filter {
		wanted[f] = true
	}

	var active []*Tool
	for _, t := range all {
		if t.Essential() || wanted[t.FullName()] || wanted[t.ToolName] || wanted[t.AppName] {
			active = append(active, t)
		}
	}
	return active
}
