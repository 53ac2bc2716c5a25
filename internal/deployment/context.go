// File: internal/deployment/context.go
// Brief: Per-invocation contexts handed to plugins, plus wait-cycle tracking.

package deployment

import (
	"context"
	"fmt"
	"sync"
)

// Context is handed to every plugin operation.
type Context interface {
	// RefToName returns the name carried by a reference (or a plain name)
	// and fails with *UnknownDeployableError when the name is not part of
	// the current invocation.
	RefToName(x any) (string, error)
}

// DeployContext is handed to Deploy and Interface. Depend and Interface block
// until the referenced deployable's task settles; this is the only way to
// order one deployable after another.
type DeployContext interface {
	Context
	Depend(ctx context.Context, ref any) (Live, error)
	Interface(ctx context.Context, ref any) (any, error)
}

// nameSet is the teardown Context: names only, nothing to wait on.
type nameSet map[string]struct{}

func (s nameSet) RefToName(x any) (string, error) {
	return resolveName(x, func(name string) bool {
		_, ok := s[name]
		return ok
	})
}

func resolveName(x any, known func(string) bool) (string, error) {
	name, ok := RefName(x)
	if !ok {
		return "", &UnknownDeployableError{Name: fmt.Sprintf("%v", x)}
	}
	if !known(name) {
		return "", &UnknownDeployableError{Name: name}
	}
	return name, nil
}

type taskContextKey struct{}

type taskIdent struct {
	run  *run
	name string
}

func withTask(ctx context.Context, r *run, name string) context.Context {
	return context.WithValue(ctx, taskContextKey{}, taskIdent{run: r, name: name})
}

// callerTask returns the task whose plugin code is calling into r, when ctx
// was derived from that task's context.
func callerTask(ctx context.Context, r *run) (string, bool) {
	id, ok := ctx.Value(taskContextKey{}).(taskIdent)
	if !ok || id.run != r {
		return "", false
	}
	return id.name, true
}

// waitGraph records which tasks are currently blocked on which.
type waitGraph struct {
	mu    sync.Mutex
	edges map[string]map[string]int
}

func (g *waitGraph) enter(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if path := g.pathLocked(to, from, map[string]bool{}); path != nil {
		cycle := append([]string{from}, path...)
		return &CycleError{Path: cycle}
	}
	if g.edges == nil {
		g.edges = map[string]map[string]int{}
	}
	if g.edges[from] == nil {
		g.edges[from] = map[string]int{}
	}
	g.edges[from][to]++
	return nil
}

func (g *waitGraph) leave(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	outs := g.edges[from]
	if outs == nil {
		return
	}
	outs[to]--
	if outs[to] <= 0 {
		delete(outs, to)
	}
	if len(outs) == 0 {
		delete(g.edges, from)
	}
}

func (g *waitGraph) pathLocked(cur, target string, seen map[string]bool) []string {
	if cur == target {
		return []string{cur}
	}
	if seen[cur] {
		return nil
	}
	seen[cur] = true
	for _, next := range sortedKeys(g.edges[cur]) {
		if p := g.pathLocked(next, target, seen); p != nil {
			return append([]string{cur}, p...)
		}
	}
	return nil
}
