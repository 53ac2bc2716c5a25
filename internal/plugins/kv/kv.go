// File: internal/plugins/kv/kv.go
// Brief: In-memory key counter deployables.

// Package kv provides the "kv" type: an in-memory key/value counter per
// deployable. The stores live in the Plugin value, so two registries never
// share state.
package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
)

const TypeName = "kv"

// Store is the live handle returned by Interface.
type Store struct {
	mu     sync.Mutex
	values map[string]int64
}

func newStore() *Store {
	return &Store{values: make(map[string]int64)}
}

func (s *Store) Get(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Set(key string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Inc adds n to key (missing keys start at zero) and returns the new value.
func (s *Store) Inc(key string, n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] += n
	return s.values[key]
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

type Plugin struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func New() *Plugin {
	return &Plugin{stores: make(map[string]*Store)}
}

// Deploy creates an empty store. Deploying a name again replaces its store.
func (p *Plugin) Deploy(_ context.Context, _ deployment.DeployContext, name string, _ any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stores[name] = newStore()
	return map[string]any{"keys": 0}, nil
}

func (p *Plugin) Interface(_ context.Context, _ deployment.DeployContext, name string, _ any) (any, error) {
	s, ok := p.lookup(name)
	if !ok {
		return nil, fmt.Errorf("kv store %q is not deployed", name)
	}
	return s, nil
}

func (p *Plugin) Undeploy(_ context.Context, _ deployment.Context, name string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stores, name)
	return nil
}

func (p *Plugin) lookup(name string) (*Store, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[name]
	return s, ok
}
