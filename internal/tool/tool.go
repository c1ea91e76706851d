// Package tool tracks the tools the agent engine is known to expose.
//
// The bridge never executes tools; the registry exists so tool-call recovery
// can reject names the engine does not actually have.
package tool

import (
	"sort"
	"sync"
)

// Descriptor describes one engine tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is a thread-safe name-to-descriptor index.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds or replaces a descriptor. Empty names are ignored.
func (r *Registry) Register(d Descriptor) {
	if d.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered names, sorted for deterministic output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns descriptors for the tools a stock engine installation
// ships with. Deployments running a trimmed-down engine can skip these and
// register their own set.
func Defaults() []Descriptor {
	return []Descriptor{
		{Name: "read_file", Description: "Read a file from the working directory"},
		{Name: "write_file", Description: "Write a file in the working directory"},
		{Name: "list_dir", Description: "List directory contents"},
		{Name: "search", Description: "Search the working directory for a pattern"},
		{Name: "bash", Description: "Run a shell command"},
		{Name: "web_fetch", Description: "Fetch a URL"},
	}
}
