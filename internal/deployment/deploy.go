// File: internal/deployment/deploy.go
// Brief: Concurrent deploy engine (one task per deployable, fan-in on all).

package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// RunID tags emitted events. Defaults to a UTC timestamp per invocation.
	RunID     string
	Logger    logr.Logger
	Observers []EventObserver

	// Now returns the current time for event timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Engine deploys and undeploys through a fixed registry. All per-invocation
// state lives in the invocation; an Engine can be reused.
type Engine struct {
	registry *Registry
	opts     Options
}

func NewEngine(reg *Registry, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{registry: reg, opts: opts}
}

// Deploy deploys d through reg with default options.
func Deploy(ctx context.Context, reg *Registry, d Deployment) (LiveDeployment, error) {
	return NewEngine(reg, Options{}).Deploy(ctx, d)
}

// Undeploy tears live down through reg with default options.
func Undeploy(ctx context.Context, reg *Registry, live LiveDeployment) error {
	return NewEngine(reg, Options{}).Undeploy(ctx, live)
}

// NewRunID returns a sortable run identifier. Sub-second precision avoids
// collisions when invocations follow each other quickly.
func NewRunID(now time.Time) string {
	return now.UTC().Format("2006-01-02T15-04-05.000000000Z")
}

type task struct {
	name     string
	typeName string
	options  any
	plugin   Plugin

	done chan struct{}
	live Live
	err  error
}

type run struct {
	*emitter
	registry *Registry
	tasks    map[string]*task
	waits    waitGraph
}

func (e *Engine) newEmitter(phase Phase) *emitter {
	runID := e.opts.RunID
	if runID == "" {
		runID = NewRunID(e.opts.Now())
	}
	return &emitter{
		runID:     runID,
		phase:     phase,
		now:       e.opts.Now,
		log:       e.opts.Logger.WithValues("runID", runID),
		observers: append([]EventObserver(nil), e.opts.Observers...),
	}
}

// Deploy starts one task per deployable, all at once, and waits for every
// task to settle. Tasks order themselves through DeployContext.Depend.
//
// On failure the first observed task error is returned as a *PluginError
// together with the entries that did deploy. Sibling tasks are never
// cancelled and nothing is rolled back; undeploying the partial result is
// up to the caller.
func (e *Engine) Deploy(ctx context.Context, d Deployment) (LiveDeployment, error) {
	if e == nil || e.registry == nil {
		return nil, fmt.Errorf("deploy: registry is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	names := d.Names()
	r := &run{
		emitter:  e.newEmitter(PhaseDeploy),
		registry: e.registry,
		tasks:    make(map[string]*task, len(names)),
	}
	// The whole table exists before any task runs so lookups never race it.
	for _, name := range names {
		dep := d[name]
		p, ok := e.registry.Lookup(dep.TypeName)
		if !ok {
			return nil, &UnknownTypeError{TypeName: dep.TypeName, Name: name}
		}
		r.tasks[name] = &task{
			name:     name,
			typeName: dep.TypeName,
			options:  dep.Options,
			plugin:   p,
			done:     make(chan struct{}),
		}
	}

	r.log.V(1).Info("deploy started", "deployables", len(names))
	r.emit(Event{Type: RunStarted, Message: fmt.Sprintf("%d deployables", len(names))})
	for _, name := range names {
		t := r.tasks[name]
		r.emit(Event{Type: TaskQueued, Name: name, TypeName: t.typeName})
	}

	var g errgroup.Group
	for _, name := range names {
		t := r.tasks[name]
		g.Go(func() error { return r.runTask(ctx, t) })
	}
	err := g.Wait()

	live := make(LiveDeployment, len(names))
	for name, t := range r.tasks {
		if t.err == nil {
			live[name] = t.live
		}
	}
	r.runCompleted(len(live), len(names)-len(live), err)
	if err != nil {
		return live, err
	}
	return live, nil
}

func (r *run) runTask(ctx context.Context, t *task) (err error) {
	started := r.now()
	r.log.V(1).Info("task started", "phase", r.phase, "name", t.name, "type", t.typeName)
	r.emit(Event{Type: TaskRunning, Name: t.name, TypeName: t.typeName})
	defer func() {
		if rec := recover(); rec != nil {
			err = &PluginError{Op: "deploy", TypeName: t.typeName, Name: t.name, Err: fmt.Errorf("panic: %v", rec)}
			t.err = err
		}
		close(t.done)
		r.taskSettled(t.name, t.typeName, started, err)
	}()

	current, derr := t.plugin.Deploy(withTask(ctx, r, t.name), r, t.name, t.options)
	if derr != nil {
		t.err = &PluginError{Op: "deploy", TypeName: t.typeName, Name: t.name, Err: derr}
		return t.err
	}
	t.live = Live{TypeName: t.typeName, Name: t.name, Current: current}
	return nil
}

func (e *emitter) runCompleted(succeeded, failed int, err error) {
	ev := Event{Type: RunCompleted, Message: fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)}
	if err != nil {
		ev.Error = err.Error()
	}
	e.log.V(1).Info("run completed", "phase", e.phase, "succeeded", succeeded, "failed", failed)
	e.emit(ev)
}

func (r *run) RefToName(x any) (string, error) {
	return resolveName(x, func(name string) bool {
		_, ok := r.tasks[name]
		return ok
	})
}

// Depend blocks until the referenced deployable's task settles and returns
// its result, or its error if it failed. A wait that would close a cycle
// between tasks fails with *CycleError.
func (r *run) Depend(ctx context.Context, ref any) (Live, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	name, err := r.RefToName(ref)
	if err != nil {
		return Live{}, err
	}
	t := r.tasks[name]
	select {
	case <-t.done:
		return t.live, t.err
	default:
	}

	if from, ok := callerTask(ctx, r); ok {
		if err := r.waits.enter(from, name); err != nil {
			return Live{}, err
		}
		defer r.waits.leave(from, name)
		r.emit(Event{Type: TaskWaiting, Name: from, TypeName: r.tasks[from].typeName, Message: "waiting on " + name})
	}

	select {
	case <-t.done:
		return t.live, t.err
	case <-ctx.Done():
		return Live{}, ctx.Err()
	}
}

// Interface resolves like Depend, then asks the referenced deployable's type
// for a live runtime handle.
func (r *run) Interface(ctx context.Context, ref any) (any, error) {
	live, err := r.Depend(ctx, ref)
	if err != nil {
		return nil, err
	}
	p, ok := r.registry.Lookup(live.TypeName)
	if !ok {
		return nil, &UnknownTypeError{TypeName: live.TypeName, Name: live.Name}
	}
	ip, ok := p.(Interfacer)
	if !ok {
		return nil, &MissingCapabilityError{TypeName: live.TypeName, Name: live.Name, Capability: "interface"}
	}
	h, err := ip.Interface(ctx, r, live.Name, live.Current)
	if errors.Is(err, ErrNotSupported) {
		return nil, &MissingCapabilityError{TypeName: live.TypeName, Name: live.Name, Capability: "interface"}
	}
	if err != nil {
		return nil, &PluginError{Op: "interface", TypeName: live.TypeName, Name: live.Name, Err: err}
	}
	return h, nil
}

// Attach returns a DeployContext over an already deployed LiveDeployment, for
// fetching live handles after Deploy returned. Depend never blocks on it.
func (e *Engine) Attach(live LiveDeployment) DeployContext {
	r := &run{
		emitter:  e.newEmitter(PhaseDeploy),
		registry: e.registry,
		tasks:    make(map[string]*task, len(live)),
	}
	for name, entry := range live {
		t := &task{name: name, typeName: entry.TypeName, done: make(chan struct{}), live: entry}
		close(t.done)
		r.tasks[name] = t
	}
	return r
}
