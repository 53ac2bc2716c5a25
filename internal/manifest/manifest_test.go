package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
)

const scoreServer = `
deployables:
  - type: kv
    name: s
  - type: fn
    name: f
    options:
      func: increment
      args:
        - ref: s
  - type: endpoint
    name: e
    options: {func: {ref: f}, addr: "127.0.0.1:0"}
`

func testRegistry() *deployment.Registry {
	reg := deployment.NewRegistry()
	noop := deployment.Funcs{DeployFunc: func(context.Context, deployment.DeployContext, string, any) (any, error) {
		return nil, nil
	}}
	for _, name := range []string{"kv", "fn", "endpoint"} {
		reg.MustRegister(name, noop)
	}
	return reg
}

func TestParseConvertsRefs(t *testing.T) {
	d, err := Parse(testRegistry(), []byte(scoreServer))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, want := d.Names(), []string{"e", "f", "s"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("names: got %v want %v", got, want)
	}
	wantF := map[string]any{"func": "increment", "args": []any{deployment.Ref{Name: "s"}}}
	if !reflect.DeepEqual(d["f"].Options, wantF) {
		t.Fatalf("f options: got %#v want %#v", d["f"].Options, wantF)
	}
	wantE := map[string]any{"func": deployment.Ref{Name: "f"}, "addr": "127.0.0.1:0"}
	if !reflect.DeepEqual(d["e"].Options, wantE) {
		t.Fatalf("e options: got %#v want %#v", d["e"].Options, wantE)
	}
	if d["s"].Options != nil {
		t.Fatalf("expected nil options for s, got %#v", d["s"].Options)
	}
	if err := deployment.CheckReferences(d); err != nil {
		t.Fatalf("references: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing type", "deployables:\n  - name: a\n", "type is required"},
		{"missing name", "deployables:\n  - type: kv\n", "name is required"},
		{"unknown field", "deployables:\n  - type: kv\n    name: a\n    opts: {}\n", "unknown field"},
		{"not yaml", "deployables: [", "parse declarations"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(testRegistry(), []byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseDuplicateAndUnknownType(t *testing.T) {
	_, err := Parse(testRegistry(), []byte("deployables:\n  - {type: kv, name: a}\n  - {type: fn, name: a}\n"))
	var dup *deployment.DuplicateDeployableError
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	_, err = Parse(testRegistry(), []byte("deployables:\n  - {type: queue, name: q}\n"))
	var unknown *deployment.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scatter.yaml")
	if err := os.WriteFile(path, []byte(scoreServer), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := Load(testRegistry(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(d) != 3 {
		t.Fatalf("expected 3 deployables, got %d", len(d))
	}
	if _, err := Load(testRegistry(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	d, err := Parse(testRegistry(), []byte(scoreServer))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(out), "ref: s") {
		t.Fatalf("expected refs rendered as maps, got:\n%s", out)
	}
	again, err := Parse(testRegistry(), out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reflect.DeepEqual(again, d) {
		t.Fatalf("round trip changed the deployment:\n%#v\n%#v", again, d)
	}
}

func TestPlain(t *testing.T) {
	in := map[string]any{"a": []any{deployment.Ref{Name: "x"}, &deployment.Ref{Name: "y"}}, "n": 1.5}
	want := map[string]any{"a": []any{map[string]any{"ref": "x"}, map[string]any{"ref": "y"}}, "n": 1.5}
	if got := Plain(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}
