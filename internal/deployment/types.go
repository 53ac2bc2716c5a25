// File: internal/deployment/types.go
// Brief: Deployable, Deployment, LiveDeployment and reference tokens.

package deployment

import (
	"sort"
)

// Ref names another deployable from inside a deployable's options. It is a
// back-reference only; nothing resolves it until a plugin asks the
// DeployContext to.
type Ref struct {
	Name string `json:"ref"`
}

func (r Ref) String() string {
	return "ref(" + r.Name + ")"
}

// Deployable is one declared resource.
type Deployable struct {
	TypeName string `json:"type"`
	Name     string `json:"name"`
	Options  any    `json:"options,omitempty"`
}

// Deployment maps a deployable name to its declaration. It is produced by
// Collect and treated as read-only afterwards.
type Deployment map[string]Deployable

// Names returns the declared names in lexicographic order.
func (d Deployment) Names() []string {
	return sortedKeys(d)
}

// Live is the settled result of deploying one deployable.
type Live struct {
	TypeName string `json:"typeName"`
	Name     string `json:"name"`
	Current  any    `json:"current"`
}

// LiveDeployment maps a deployable name to its deployed state.
type LiveDeployment map[string]Live

// Names returns the deployed names in lexicographic order. The order carries
// no meaning beyond stable iteration.
func (l LiveDeployment) Names() []string {
	return sortedKeys(l)
}

// Entries returns the entries ordered by name.
func (l LiveDeployment) Entries() []Live {
	out := make([]Live, 0, len(l))
	for _, name := range l.Names() {
		out = append(out, l[name])
	}
	return out
}

// RefName extracts the name carried by a reference. It accepts a Ref, a
// non-nil *Ref, a plain name, or a decoded {"ref": name} map.
func RefName(x any) (string, bool) {
	if name, ok := refToken(x); ok {
		return name, true
	}
	if s, ok := x.(string); ok {
		return s, true
	}
	return "", false
}

// refToken matches reference tokens only; plain strings are not tokens.
func refToken(x any) (string, bool) {
	switch v := x.(type) {
	case Ref:
		return v.Name, true
	case *Ref:
		if v == nil {
			return "", false
		}
		return v.Name, true
	case map[string]any:
		if len(v) != 1 {
			return "", false
		}
		s, ok := v["ref"].(string)
		return s, ok
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
