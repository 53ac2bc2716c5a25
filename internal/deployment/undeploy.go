// File: internal/deployment/undeploy.go
// Brief: Concurrent teardown of a LiveDeployment.

package deployment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Undeploy tears every entry down concurrently. No ordering relative to
// deploy-time dependencies is attempted. Entries whose type has no
// Undeployer are skipped. Every teardown runs; the first failure is
// returned as a *PluginError.
func (e *Engine) Undeploy(ctx context.Context, live LiveDeployment) error {
	if e == nil || e.registry == nil {
		return fmt.Errorf("undeploy: registry is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	names := live.Names()
	plugins := make(map[string]Plugin, len(names))
	known := make(nameSet, len(names))
	for _, name := range names {
		entry := live[name]
		p, ok := e.registry.Lookup(entry.TypeName)
		if !ok {
			return &UnknownTypeError{TypeName: entry.TypeName, Name: name}
		}
		plugins[name] = p
		known[name] = struct{}{}
	}

	em := e.newEmitter(PhaseUndeploy)
	em.log.V(1).Info("undeploy started", "deployables", len(names))
	em.emit(Event{Type: RunStarted, Message: fmt.Sprintf("%d deployables", len(names))})
	for _, name := range names {
		em.emit(Event{Type: TaskQueued, Name: name, TypeName: live[name].TypeName})
	}

	failed := make([]bool, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		entry := live[name]
		p := plugins[name]
		g.Go(func() (err error) {
			started := em.now()
			em.emit(Event{Type: TaskRunning, Name: name, TypeName: entry.TypeName})
			defer func() {
				if rec := recover(); rec != nil {
					err = &PluginError{Op: "undeploy", TypeName: entry.TypeName, Name: name, Err: fmt.Errorf("panic: %v", rec)}
				}
				failed[i] = err != nil
				em.taskSettled(name, entry.TypeName, started, err)
			}()
			u, ok := p.(Undeployer)
			if !ok {
				return nil
			}
			if uerr := u.Undeploy(ctx, known, name, entry.Current); uerr != nil {
				return &PluginError{Op: "undeploy", TypeName: entry.TypeName, Name: name, Err: uerr}
			}
			return nil
		})
	}
	err := g.Wait()

	nFailed := 0
	for _, f := range failed {
		if f {
			nFailed++
		}
	}
	em.runCompleted(len(names)-nFailed, nFailed, err)
	return err
}
