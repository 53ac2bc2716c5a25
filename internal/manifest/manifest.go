// File: internal/manifest/manifest.go
// Brief: YAML/JSON declaration files turned into a Deployment.

// Package manifest reads declaration files:
//
//	deployables:
//	  - type: kv
//	    name: s
//	  - type: fn
//	    name: f
//	    options: {func: increment, args: [{ref: s}]}
//
// Every single-key {ref: name} map inside options becomes a deployment.Ref.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/mitchellh/go-homedir"
	"sigs.k8s.io/yaml"
)

type File struct {
	Deployables []Entry `json:"deployables"`
}

type Entry struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Options any    `json:"options,omitempty"`
}

// Load reads path (a leading ~ is expanded) and parses it.
func Load(reg *deployment.Registry, path string) (deployment.Deployment, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read declarations: %w", err)
	}
	d, err := Parse(reg, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return d, nil
}

// Parse decodes a declaration document and collects it through reg, so
// unknown types and duplicate names fail exactly as in code.
func Parse(reg *deployment.Registry, data []byte) (deployment.Deployment, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse declarations: %w", err)
	}
	for i, e := range f.Deployables {
		if strings.TrimSpace(e.Type) == "" {
			return nil, fmt.Errorf("deployables[%d]: type is required", i)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("deployables[%d]: name is required", i)
		}
	}
	return deployment.Collect(reg, func(b *deployment.Builder) error {
		for _, e := range f.Deployables {
			b.Declare(e.Type, e.Name, toRefs(e.Options))
		}
		return nil
	})
}

func toRefs(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if name, ok := t["ref"].(string); ok {
				return deployment.Ref{Name: name}
			}
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = toRefs(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = toRefs(child)
		}
		return out
	default:
		return v
	}
}

// Plain is the inverse of the ref conversion: every Ref becomes a
// {"ref": name} map, leaving a tree of plain data.
func Plain(v any) any {
	switch t := v.(type) {
	case deployment.Ref:
		return map[string]any{"ref": t.Name}
	case *deployment.Ref:
		if t == nil {
			return nil
		}
		return map[string]any{"ref": t.Name}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Plain(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Plain(child)
		}
		return out
	default:
		return v
	}
}

// Encode renders d back into a declaration document, ordered by name.
func Encode(d deployment.Deployment) ([]byte, error) {
	f := File{Deployables: make([]Entry, 0, len(d))}
	for _, name := range d.Names() {
		dep := d[name]
		f.Deployables = append(f.Deployables, Entry{Type: dep.TypeName, Name: dep.Name, Options: Plain(dep.Options)})
	}
	return yaml.Marshal(f)
}
