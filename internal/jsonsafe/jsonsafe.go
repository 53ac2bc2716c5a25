// File: internal/jsonsafe/jsonsafe.go
// Brief: Guard that a value tree can be persisted or transmitted as JSON.

// Package jsonsafe checks that a value tree only contains data that encodes
// to JSON without loss: nil, strings, booleans, finite numbers, and plain
// slices or string-keyed maps of those.
package jsonsafe

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// RootLabel is the first segment of every reported path.
const RootLabel = "<passed object>"

// ValidationError reports the first non-JSON value found by Assert.
type ValidationError struct {
	Path   []string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := "found a non-JSON value at " + strings.Join(e.Path, ".")
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Assert returns v unchanged when it is JSON-safe, otherwise a
// *ValidationError naming the first offending path. A map, slice or pointer
// that contains itself is rejected as a cycle.
func Assert(v any) (any, error) {
	w := walker{active: map[visit]struct{}{}}
	if err := w.walk(reflect.ValueOf(v), []string{RootLabel}); err != nil {
		return nil, err
	}
	return v, nil
}

// visit identifies a container on the current descent path. The length
// keeps a slice apart from a shorter re-slice of the same backing array.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	active map[visit]struct{}
}

// enter marks v as being walked and reports false when v is already on the
// current path.
func (w *walker) enter(v reflect.Value) (visit, bool) {
	key := visit{ptr: v.Pointer(), typ: v.Type()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if _, ok := w.active[key]; ok {
		return key, false
	}
	w.active[key] = struct{}{}
	return key, true
}

func (w *walker) walk(v reflect.Value, path []string) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String:
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) {
			return invalid(path, "NaN")
		}
		if math.IsInf(f, 0) {
			return invalid(path, "infinite number")
		}
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), path)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		key, ok := w.enter(v)
		if !ok {
			return invalid(path, "cycle")
		}
		defer delete(w.active, key)
		return w.walk(v.Elem(), path)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && !v.IsNil() {
			key, ok := w.enter(v)
			if !ok {
				return invalid(path, "cycle")
			}
			defer delete(w.active, key)
		}
		for i := 0; i < v.Len(); i++ {
			if err := w.walk(v.Index(i), appendPath(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return invalid(path, fmt.Sprintf("map with %s keys", v.Type().Key()))
		}
		if v.IsNil() {
			return nil
		}
		key, ok := w.enter(v)
		if !ok {
			return invalid(path, "cycle")
		}
		defer delete(w.active, key)
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			if err := w.walk(v.MapIndex(k), appendPath(path, k.String())); err != nil {
				return err
			}
		}
		return nil
	default:
		return invalid(path, v.Type().String())
	}
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

func invalid(path []string, reason string) error {
	return &ValidationError{Path: path, Reason: reason}
}
