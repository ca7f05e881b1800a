package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
)

var (
	// ErrUnknownGraph is returned by Get for a name that was never registered.
	ErrUnknownGraph = errors.New("unknown graph")

	// ErrDuplicateGraph is returned by Register for a name already in use.
	ErrDuplicateGraph = errors.New("graph already registered")
)

// Builder compiles a graph.
type Builder func() (*workgraph.CompiledGraph, error)

// Registry maps graph names to builders and caches what they compile.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	compiled map[string]*workgraph.CompiledGraph
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		compiled: make(map[string]*workgraph.CompiledGraph),
	}
}

// Register adds a graph builder under name.
func (r *Registry) Register(name string, build Builder) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("registry: graph name is required")
	}
	if build == nil {
		return errors.New("registry: builder is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateGraph, name)
	}
	r.builders[name] = build
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func (r *Registry) MustRegister(name string, build Builder) *Registry {
	if err := r.Register(name, build); err != nil {
		panic(err)
	}
	return r
}

// Get returns the compiled graph registered under name, compiling it on
// first use.
func (r *Registry) Get(name string) (*workgraph.CompiledGraph, error) {
	// Fast path: already compiled
	r.mu.RLock()
	graph, ok := r.compiled[name]
	r.mu.RUnlock()
	if ok {
		return graph, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if graph, ok := r.compiled[name]; ok {
		return graph, nil
	}
	build, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownGraph, name, strings.Join(r.namesLocked(), ", "))
	}

	graph, err := build()
	if err != nil {
		return nil, fmt.Errorf("compile graph %s: %w", name, err)
	}
	r.compiled[name] = graph
	return graph, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
