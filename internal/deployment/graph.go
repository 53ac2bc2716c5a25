// File: internal/deployment/graph.go
// Brief: Static reference graph for linting and debugging.

package deployment

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// Edge means "From's options reference To". It is informational only; the
// engine orders nothing by it.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// References returns every reference found in the options of d, sorted and
// de-duplicated.
func References(d Deployment) []Edge {
	seen := map[Edge]struct{}{}
	var edges []Edge
	for _, name := range d.Names() {
		walkRefs(reflect.ValueOf(d[name].Options), func(to string) {
			e := Edge{From: name, To: to}
			if _, ok := seen[e]; ok {
				return
			}
			seen[e] = struct{}{}
			edges = append(edges, e)
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// CheckReferences reports the first reference that names something outside d.
// Deploy itself only fails when such a reference is dereferenced.
func CheckReferences(d Deployment) error {
	for _, e := range References(d) {
		if _, ok := d[e.To]; !ok {
			return fmt.Errorf("%s: %w", e.From, &UnknownDeployableError{Name: e.To})
		}
	}
	return nil
}

func walkRefs(v reflect.Value, fn func(string)) {
	if !v.IsValid() {
		return
	}
	if v.CanInterface() {
		if name, ok := refToken(v.Interface()); ok {
			fn(name)
			return
		}
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			walkRefs(v.Elem(), fn)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkRefs(v.Index(i), fn)
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			walkRefs(v.MapIndex(k), fn)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				walkRefs(v.Field(i), fn)
			}
		}
	}
}

// WriteDOT writes the reference graph as Graphviz DOT. Arrows point from a
// referenced deployable to the one referencing it.
func WriteDOT(w io.Writer, d Deployment) error {
	var b strings.Builder
	b.WriteString("digraph scatter {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	for _, name := range d.Names() {
		fmt.Fprintf(&b, "  \"%s\" [label=\"%s\\n(%s)\"];\n", escapeQuotes(name), escapeQuotes(name), escapeQuotes(d[name].TypeName))
	}
	for _, e := range References(d) {
		fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", escapeQuotes(e.To), escapeQuotes(e.From))
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteMermaid writes the reference graph as a Mermaid flowchart.
func WriteMermaid(w io.Writer, d Deployment) error {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, name := range d.Names() {
		fmt.Fprintf(&b, "  %s[\"%s<br/>(%s)\"]\n", safeID(name), escapeQuotes(name), escapeQuotes(d[name].TypeName))
	}
	for _, e := range References(d) {
		fmt.Fprintf(&b, "  %s --> %s\n", safeID(e.To), safeID(e.From))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func safeID(s string) string {
	out := strings.Builder{}
	out.WriteString("n_")
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
