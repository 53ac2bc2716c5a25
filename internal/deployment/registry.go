// File: internal/deployment/registry.go
// Brief: Type plugins and the registry mapping type names to them.

package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Plugin creates deployables of one type. Deploy returns the deployable's
// current state; callers that persist it should pass it through
// jsonsafe.Assert first.
type Plugin interface {
	Deploy(ctx context.Context, dc DeployContext, name string, options any) (any, error)
}

// Undeployer is implemented by plugins whose deployables need teardown.
type Undeployer interface {
	Undeploy(ctx context.Context, c Context, name string, current any) error
}

// Interfacer is implemented by plugins that hand out a live runtime handle
// for a deployed deployable.
type Interfacer interface {
	Interface(ctx context.Context, dc DeployContext, name string, current any) (any, error)
}

// Funcs adapts plain functions to a plugin. DeployFunc is required. A nil
// UndeployFunc is a no-op; a nil InterfaceFunc reports ErrNotSupported.
type Funcs struct {
	DeployFunc    func(ctx context.Context, dc DeployContext, name string, options any) (any, error)
	UndeployFunc  func(ctx context.Context, c Context, name string, current any) error
	InterfaceFunc func(ctx context.Context, dc DeployContext, name string, current any) (any, error)
}

func (f Funcs) Deploy(ctx context.Context, dc DeployContext, name string, options any) (any, error) {
	if f.DeployFunc == nil {
		return nil, ErrNotSupported
	}
	return f.DeployFunc(ctx, dc, name, options)
}

func (f Funcs) Undeploy(ctx context.Context, c Context, name string, current any) error {
	if f.UndeployFunc == nil {
		return nil
	}
	return f.UndeployFunc(ctx, c, name, current)
}

func (f Funcs) Interface(ctx context.Context, dc DeployContext, name string, current any) (any, error) {
	if f.InterfaceFunc == nil {
		return nil, ErrNotSupported
	}
	return f.InterfaceFunc(ctx, dc, name, current)
}

// Registry maps type names to plugins. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under typeName.
func (r *Registry) Register(typeName string, p Plugin) error {
	if r == nil {
		return fmt.Errorf("register type: registry is nil")
	}
	if typeName == "" {
		return fmt.Errorf("register type: type name is empty")
	}
	if p == nil {
		return fmt.Errorf("register type %q: plugin is nil", typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[typeName]; exists {
		return fmt.Errorf("register type %q: already registered", typeName)
	}
	r.plugins[typeName] = p
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func (r *Registry) MustRegister(typeName string, p Plugin) {
	if err := r.Register(typeName, p); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(typeName string) (Plugin, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[typeName]
	return p, ok
}

// Types returns the registered type names in lexicographic order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DecodeOptions converts a deployable's options into T. Values that already
// are T pass through; anything else goes through a JSON round trip, so a
// decoded {"ref": name} map lands in a Ref field.
func DecodeOptions[T any](options any) (T, error) {
	var out T
	if options == nil {
		return out, nil
	}
	switch v := options.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
		return out, nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return out, fmt.Errorf("encode options: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode options into %T: %w", out, err)
	}
	return out, nil
}
