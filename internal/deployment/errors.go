package deployment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupported is returned by a plugin method the plugin does not
// actually provide (see Funcs).
var ErrNotSupported = errors.New("capability not supported")

// UnknownDeployableError means a reference or name does not resolve to a
// declared deployable.
type UnknownDeployableError struct {
	Name string
}

func (e *UnknownDeployableError) Error() string {
	return fmt.Sprintf("unknown deployable %q", e.Name)
}

// UnknownTypeError means a deployable uses a type that is not registered.
type UnknownTypeError struct {
	TypeName string
	Name     string
}

func (e *UnknownTypeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unknown deployable type %q", e.TypeName)
	}
	return fmt.Sprintf("deployable %q has unknown type %q", e.Name, e.TypeName)
}

// DuplicateDeployableError means the same name was declared twice.
type DuplicateDeployableError struct {
	Name         string
	TypeName     string
	PreviousType string
}

func (e *DuplicateDeployableError) Error() string {
	return fmt.Sprintf("deployable %q declared twice (as %s, previously as %s)", e.Name, e.TypeName, e.PreviousType)
}

// MissingCapabilityError means a type plugin lacks an operation that was
// requested from it.
type MissingCapabilityError struct {
	TypeName   string
	Name       string
	Capability string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("type %q does not support %s (requested for %q)", e.TypeName, e.Capability, e.Name)
}

func (e *MissingCapabilityError) Unwrap() error {
	return ErrNotSupported
}

// CycleError means a Depend or Interface call would wait on a deployable that
// is, directly or transitively, already waiting on the caller.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "dependency cycle detected"
	}
	return "dependency cycle detected: " + strings.Join(e.Path, " -> ")
}

// PluginError wraps a failure raised inside a type plugin operation.
type PluginError struct {
	Op       string
	TypeName string
	Name     string
	Err      error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.TypeName, e.Name, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
