package mapping

import (
	"database/sql/driver"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies how a property is persisted.
type Kind int

const (
	// KindColumn is a simple value stored in a column of the owning table.
	KindColumn Kind = iota
	// KindEmbedded is a struct whose columns are inlined into the owning
	// table with an optional prefix. Embedded properties never own a table.
	KindEmbedded
	// KindEntity is a single referenced entity stored in its own table.
	KindEntity
	// KindSlice is a slice or array of entities stored in their own table,
	// keyed by back-reference and element index.
	KindSlice
	// KindMap is a map of entities stored in their own table, keyed by
	// back-reference and map key.
	KindMap
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindEmbedded:
		return "embedded"
	case KindEntity:
		return "entity"
	case KindSlice:
		return "slice"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Entity holds the persistence metadata of one struct type.
type Entity struct {
	// Type is the underlying struct type.
	Type reflect.Type
	// Name is the entity type name.
	Name string
	// Table is the table name derived from the naming strategy.
	Table string
	// ID is the identifier property, or nil if the entity has none.
	// Nested entities may be identifier-less; aggregate roots must not be.
	ID *Property
	// Properties are the persistent properties in declaration order.
	Properties []*Property

	byName map[string]*Property
}

// Property returns the property with the given Go field name, or nil.
func (e *Entity) Property(name string) *Property {
	return e.byName[name]
}

// Columns returns the simple column properties in declaration order,
// inlining embedded structs is left to the callers that need it.
func (e *Entity) Columns() []*Property {
	cols := make([]*Property, 0, len(e.Properties))
	for _, p := range e.Properties {
		if p.Kind == KindColumn {
			cols = append(cols, p)
		}
	}
	return cols
}

// New returns an addressable zero value of the entity struct.
func (e *Entity) New() reflect.Value {
	return reflect.New(e.Type).Elem()
}

// Property holds the persistence metadata of one struct field, including
// the accessor pair built once at resolution time.
type Property struct {
	// Name is the Go field name.
	Name string
	// Column is the column name for KindColumn properties.
	Column string
	// Kind classifies the property.
	Kind Kind
	// Owner is the entity declaring this property.
	Owner *Entity
	// Type is the declared field type.
	Type reflect.Type
	// ElemType is the element struct type for entity, slice, map and
	// embedded properties (pointers unwrapped).
	ElemType reflect.Type
	// KeyType is the map key type for KindMap properties.
	KeyType reflect.Type
	// EmbeddedPrefix is prepended to the columns of an embedded property.
	EmbeddedPrefix string
	// IsID reports whether this property is the identifier of its owner.
	IsID bool
	// Ptr reports whether the field is pointer-typed.
	Ptr bool

	index int
	get   func(reflect.Value) reflect.Value
	set   func(reflect.Value, reflect.Value)
}

// Get returns the property value of the given entity value.
func (p *Property) Get(entity reflect.Value) reflect.Value {
	return p.get(entity)
}

// Value returns the property value of the given entity instance as any.
// The instance may be the struct itself or a pointer to it.
func (p *Property) Value(entity any) any {
	ev := reflect.ValueOf(entity)
	for ev.Kind() == reflect.Pointer {
		if ev.IsNil() {
			return nil
		}
		ev = ev.Elem()
	}
	v := p.get(ev)
	if p.Ptr && v.IsNil() {
		return nil
	}
	if p.Ptr {
		v = v.Elem()
	}
	return v.Interface()
}

// Set assigns v to the property of entity, converting assignable kinds
// (e.g. a driver int64 into an int field).
func (p *Property) Set(entity reflect.Value, v reflect.Value) {
	t := p.Type
	if p.Ptr {
		t = t.Elem()
	}
	if v.Type() != t && v.Type().ConvertibleTo(t) {
		v = v.Convert(t)
	}
	if p.Ptr {
		pv := reflect.New(t)
		pv.Elem().Set(v)
		v = pv
	}
	p.set(entity, v)
}

// IsZero reports whether the property holds its zero value on entity.
// The instance may be the struct itself or a pointer to it.
func (p *Property) IsZero(entity any) bool {
	ev := reflect.ValueOf(entity)
	for ev.Kind() == reflect.Pointer {
		if ev.IsNil() {
			return true
		}
		ev = ev.Elem()
	}
	return p.get(ev).IsZero()
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	uuidType   = reflect.TypeOf(uuid.UUID{})
	bytesType  = reflect.TypeOf([]byte(nil))
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// simpleType reports whether t maps to a single database column.
func simpleType(t reflect.Type) bool {
	if t == timeType || t == uuidType || t == bytesType {
		return true
	}
	if t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// idField reports whether the struct field acts as the identifier.
func idField(f reflect.StructField, opts []string) bool {
	if f.Name == "ID" {
		return true
	}
	for _, o := range opts {
		if o == "id" {
			return true
		}
	}
	return false
}

// parseTag splits a db struct tag into name and options.
func parseTag(tag string) (name string, opts []string) {
	parts := strings.Split(tag, ",")
	return parts[0], parts[1:]
}

func hasOption(opts []string, name string) bool {
	for _, o := range opts {
		if o == name {
			return true
		}
	}
	return false
}
