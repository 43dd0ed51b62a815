package executor

import (
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
)

// Module is a host-registered module: a value bound into the restricted
// namespace under Name, and the member dictionary served to load statements.
type Module struct {
	Name    string
	Value   starlark.Value
	Members starlark.StringDict
}

// Registry holds the modules the host process has loaded and is willing to
// expose. Policy decides which of them a given execution may see; the
// registry only answers lookups. Registration happens at startup, before the
// server accepts commands.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. Later registrations replace earlier ones of the
// same name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name] = m
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	return names
}

// DefaultRegistry returns a registry with the interpreter's standard
// modules: math, time, json, and the struct constructor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Module{
		Name:    "math",
		Value:   starlarkmath.Module,
		Members: starlarkmath.Module.Members,
	})
	r.Register(Module{
		Name:    "time",
		Value:   starlarktime.Module,
		Members: starlarktime.Module.Members,
	})
	r.Register(Module{
		Name:    "json",
		Value:   starlarkjson.Module,
		Members: starlarkjson.Module.Members,
	})

	structBuiltin := starlark.NewBuiltin("struct", starlarkstruct.Make)
	r.Register(Module{
		Name:    "struct",
		Value:   structBuiltin,
		Members: starlark.StringDict{"struct": structBuiltin},
	})
	return r
}
