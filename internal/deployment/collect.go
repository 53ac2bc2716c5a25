// File: internal/deployment/collect.go
// Brief: Synchronous collection of declarations into a Deployment.

package deployment

import (
	"fmt"
	"maps"
)

// Marker declares deployables of one type.
type Marker func(name string, options any) Ref

// Builder records declarations made during Collect. The first failed
// declaration sticks; later declarations become no-ops that still return
// their Ref so callers can keep composing.
type Builder struct {
	registry    *Registry
	deployables Deployment
	err         error
}

// Declare records a deployable of typeName under name and returns a reference
// to it. The reference is valid even if name is referenced before it is
// declared.
func (b *Builder) Declare(typeName, name string, options any) Ref {
	ref := Ref{Name: name}
	if b.err != nil {
		return ref
	}
	if name == "" {
		b.err = fmt.Errorf("declare %s: name is empty", typeName)
		return ref
	}
	if _, ok := b.registry.Lookup(typeName); !ok {
		b.err = &UnknownTypeError{TypeName: typeName, Name: name}
		return ref
	}
	if prev, exists := b.deployables[name]; exists {
		b.err = &DuplicateDeployableError{Name: name, TypeName: typeName, PreviousType: prev.TypeName}
		return ref
	}
	b.deployables[name] = Deployable{TypeName: typeName, Name: name, Options: options}
	return ref
}

// Marker returns a declaration function bound to typeName.
func (b *Builder) Marker(typeName string) Marker {
	return func(name string, options any) Ref {
		return b.Declare(typeName, name, options)
	}
}

// Err returns the first declaration error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Collect runs declare once and returns the declared Deployment. Nothing is
// deployed and no reference is resolved here.
func Collect(reg *Registry, declare func(b *Builder) error) (Deployment, error) {
	if reg == nil {
		return nil, fmt.Errorf("collect: registry is nil")
	}
	if declare == nil {
		return nil, fmt.Errorf("collect: declare func is nil")
	}
	b := &Builder{registry: reg, deployables: Deployment{}}
	if err := declare(b); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	return maps.Clone(b.deployables), nil
}
