package builtin

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"testing"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/jsonsafe"
	"github.com/go-logr/logr"
)

func declareScoreServer(b *deployment.Builder) error {
	s := b.Declare("kv", "s", nil)
	f := b.Declare("fn", "f", map[string]any{"func": "increment", "args": []any{s}})
	b.Declare("endpoint", "e", map[string]any{"func": f})
	return nil
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d: %s", url, resp.StatusCode, body)
	}
	return string(body)
}

func TestRegistryTypes(t *testing.T) {
	if got, want := Registry(logr.Discard()).Types(), []string{"endpoint", "fn", "kv"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestScoreServerEndToEnd(t *testing.T) {
	ctx := context.Background()
	reg := Registry(logr.Discard())
	d, err := deployment.Collect(reg, declareScoreServer)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	live, err := deployment.Deploy(ctx, reg, d)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	undeployed := false
	t.Cleanup(func() {
		if !undeployed {
			_ = deployment.Undeploy(ctx, reg, live)
		}
	})

	if got, want := live.Names(), []string{"e", "f", "s"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("live names: got %v want %v", got, want)
	}
	for _, name := range live.Names() {
		if _, err := jsonsafe.Assert(live[name].Current); err != nil {
			t.Fatalf("current of %s is not JSON-safe: %v", name, err)
		}
	}

	base := live["e"].Current.(map[string]any)["address"].(string)
	steps := []struct {
		path string
		want string
	}{
		{"/k1", "100"},
		{"/k1", "200"},
		{"/k2", "100"},
		{"/k1", "300"},
	}
	for _, step := range steps {
		if got := fetch(t, base+step.path); got != step.want {
			t.Fatalf("GET %s: got %q want %q", step.path, got, step.want)
		}
	}

	if err := deployment.Undeploy(ctx, reg, live); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	undeployed = true
}

func TestRegistriesDoNotShareState(t *testing.T) {
	ctx := context.Background()
	var bases []string
	for i := 0; i < 2; i++ {
		reg := Registry(logr.Discard())
		d, err := deployment.Collect(reg, declareScoreServer)
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		live, err := deployment.Deploy(ctx, reg, d)
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		t.Cleanup(func() { _ = deployment.Undeploy(ctx, reg, live) })
		bases = append(bases, live["e"].Current.(map[string]any)["address"].(string))
	}
	if got := fetch(t, bases[0]+"/k"); got != "100" {
		t.Fatalf("first deployment: got %q", got)
	}
	if got := fetch(t, bases[1]+"/k"); got != "100" {
		t.Fatalf("second deployment: got %q", got)
	}
}
