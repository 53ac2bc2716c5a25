// File: internal/plugins/fn/fn.go
// Brief: Named functions bound to the live handles of other deployables.

package fn

import (
	"context"
	"fmt"
	"sort"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
)

const TypeName = "fn"

// Func receives the live handles of the deployable's args (in declaration
// order) followed by the call arguments.
type Func func(ctx context.Context, deps []any, args ...string) (any, error)

// Catalog maps function names to implementations. Declarations select a
// function by name.
type Catalog map[string]Func

// Incrementer is satisfied by kv stores.
type Incrementer interface {
	Inc(key string, n int64) int64
}

// DefaultCatalog holds "increment", which adds 100 to the key named by the
// first call argument in the first dependency.
func DefaultCatalog() Catalog {
	return Catalog{"increment": increment}
}

func increment(_ context.Context, deps []any, args ...string) (any, error) {
	if len(deps) != 1 {
		return nil, fmt.Errorf("increment: expected 1 dependency, got %d", len(deps))
	}
	store, ok := deps[0].(Incrementer)
	if !ok {
		return nil, fmt.Errorf("increment: dependency %T cannot be incremented", deps[0])
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("increment: expected a key, got %d arguments", len(args))
	}
	return store.Inc(args[0], 100), nil
}

func (c Catalog) names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Options is the declared configuration of an fn deployable.
type Options struct {
	Func string           `json:"func"`
	Args []deployment.Ref `json:"args,omitempty"`
}

type current struct {
	Func string   `json:"func"`
	Args []string `json:"args"`
}

// Handle is the live handle returned by Interface.
type Handle struct {
	name string
	fn   Func
	deps []any
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Call(ctx context.Context, args ...string) (any, error) {
	return h.fn(ctx, h.deps, args...)
}

type Plugin struct {
	catalog Catalog
}

func New(catalog Catalog) *Plugin {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Plugin{catalog: catalog}
}

// Deploy waits for every arg to be deployed and records the function and arg
// names as the current state.
func (p *Plugin) Deploy(ctx context.Context, dc deployment.DeployContext, name string, options any) (any, error) {
	opts, err := deployment.DecodeOptions[Options](options)
	if err != nil {
		return nil, err
	}
	if _, ok := p.catalog[opts.Func]; !ok {
		return nil, fmt.Errorf("unknown function %q (known: %v)", opts.Func, p.catalog.names())
	}
	args := make([]any, 0, len(opts.Args))
	for _, ref := range opts.Args {
		dep, err := dc.Depend(ctx, ref)
		if err != nil {
			return nil, err
		}
		args = append(args, dep.Name)
	}
	return map[string]any{"func": opts.Func, "args": args}, nil
}

// Interface resolves the live handle of every arg and binds them to the
// function.
func (p *Plugin) Interface(ctx context.Context, dc deployment.DeployContext, name string, cur any) (any, error) {
	c, err := deployment.DecodeOptions[current](cur)
	if err != nil {
		return nil, err
	}
	f, ok := p.catalog[c.Func]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", c.Func)
	}
	deps := make([]any, 0, len(c.Args))
	for _, arg := range c.Args {
		h, err := dc.Interface(ctx, arg)
		if err != nil {
			return nil, err
		}
		deps = append(deps, h)
	}
	return &Handle{name: name, fn: f, deps: deps}, nil
}
