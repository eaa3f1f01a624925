package change

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/syssam/arbor/mapping"
)

// Writer walks aggregate object graphs and emits ordered, dependency
// linked actions into an AggregateChange.
type Writer struct {
	ctx *mapping.Context
}

// NewWriter returns a writer resolving metadata through ctx.
func NewWriter(ctx *mapping.Context) *Writer {
	return &Writer{ctx: ctx}
}

// Context returns the mapping context of the writer.
func (w *Writer) Context() *mapping.Context { return w.ctx }

// rootValue unwraps the root pointer and fails on nil roots.
func rootValue(root any) (reflect.Value, error) {
	v := reflect.ValueOf(root)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("change: nil aggregate root")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("change: aggregate root must be a struct, got %T", root)
	}
	return v, nil
}

// idSource determines the key generation strategy for one entity value.
func idSource(e *mapping.Entity, v reflect.Value) IDValueSource {
	switch {
	case e.ID == nil:
		return IDNone
	case e.ID.Get(v).IsZero():
		return IDGenerated
	default:
		return IDProvided
	}
}

// addressable returns an addressable any for the entity value so that
// generated keys can be written back. Non-addressable values (e.g. map
// elements) are copied first; their copies receive the key instead.
func addressable(v reflect.Value) any {
	if v.CanAddr() {
		return v.Addr().Interface()
	}
	c := reflect.New(v.Type())
	c.Elem().Set(v)
	return c.Interface()
}

// sortedMapKeys returns the map keys in a deterministic order.
func sortedMapKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}

// deref unwraps pointers, reporting nil pointers.
func deref(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, true
}
