package kv

import (
	"context"
	"sync"
	"testing"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
)

func TestStoreInc(t *testing.T) {
	s := newStore()
	if got := s.Inc("k", 100); got != 100 {
		t.Fatalf("first inc: got %d", got)
	}
	if got := s.Inc("k", 100); got != 200 {
		t.Fatalf("second inc: got %d", got)
	}
	s.Set("other", 7)
	if v, ok := s.Get("other"); !ok || v != 7 {
		t.Fatalf("get other: %d %v", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("missing key reported present")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", s.Len())
	}
}

func TestStoreIncConcurrent(t *testing.T) {
	s := newStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Inc("k", 2)
		}()
	}
	wg.Wait()
	if v, _ := s.Get("k"); v != 100 {
		t.Fatalf("expected 100, got %d", v)
	}
}

func TestPluginLifecycle(t *testing.T) {
	reg := deployment.NewRegistry()
	p := New()
	reg.MustRegister(TypeName, p)
	ctx := context.Background()

	live, err := deployment.Deploy(ctx, reg, deployment.Deployment{
		"a": {TypeName: TypeName, Name: "a"},
		"b": {TypeName: TypeName, Name: "b"},
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if keys := live["a"].Current.(map[string]any)["keys"]; keys != 0 {
		t.Fatalf("unexpected current %v", live["a"].Current)
	}

	dc := deployment.NewEngine(reg, deployment.Options{}).Attach(live)
	ha, err := dc.Interface(ctx, deployment.Ref{Name: "a"})
	if err != nil {
		t.Fatalf("interface a: %v", err)
	}
	hb, err := dc.Interface(ctx, deployment.Ref{Name: "b"})
	if err != nil {
		t.Fatalf("interface b: %v", err)
	}
	ha.(*Store).Inc("k", 1)
	if _, ok := hb.(*Store).Get("k"); ok {
		t.Fatalf("stores a and b share state")
	}

	if err := deployment.Undeploy(ctx, reg, live); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	if _, err := dc.Interface(ctx, deployment.Ref{Name: "a"}); err == nil {
		t.Fatalf("expected interface to fail after undeploy")
	}
}

func TestPluginInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	p1, p2 := New(), New()
	if _, err := p1.Deploy(ctx, nil, "s", nil); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := p2.Interface(ctx, nil, "s", nil); err == nil {
		t.Fatalf("expected second plugin instance not to see the first one's store")
	}
}
