package convert

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/row"
)

// Mapper converts between documents and entity structs using the accessor
// tables resolved by the mapping context.
type Mapper struct {
	ctx *mapping.Context
}

// NewMapper returns a mapper bound to the given mapping context.
func NewMapper(ctx *mapping.Context) *Mapper {
	return &Mapper{ctx: ctx}
}

// Document builds the outbound column document for the entity stored at
// the given path. Embedded properties contribute their prefixed columns;
// a nil embedded pointer contributes nil values for all of them.
func (m *Mapper) Document(path *mapping.AggregatePath, entity any) (*row.Document, error) {
	doc := row.NewDocument()
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if err := m.writeColumns(path, v, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (m *Mapper) writeColumns(path *mapping.AggregatePath, v reflect.Value, doc *row.Document) error {
	entity, err := path.RequiredLeaf()
	if err != nil {
		return err
	}
	for _, prop := range entity.Properties {
		sub, err := path.Append(prop.Name)
		if err != nil {
			return err
		}
		switch prop.Kind {
		case mapping.KindColumn:
			col, err := sub.ColumnName()
			if err != nil {
				return err
			}
			var value any
			if v.IsValid() {
				fv := prop.Get(v)
				if prop.Ptr && fv.IsNil() {
					value = nil
				} else {
					if prop.Ptr {
						fv = fv.Elem()
					}
					value = fv.Interface()
				}
			}
			doc.Set(col, value)
		case mapping.KindEmbedded:
			ev := reflect.Value{}
			if v.IsValid() {
				ev = prop.Get(v)
				if prop.Ptr {
					if ev.IsNil() {
						ev = reflect.Value{}
					} else {
						ev = ev.Elem()
					}
				}
			}
			if err := m.writeColumns(sub, ev, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Entity materializes a new entity of the path's leaf type from a
// document keyed by plain column names. Missing and NULL columns leave
// the zero value in place.
func (m *Mapper) Entity(path *mapping.AggregatePath, doc *row.Document) (reflect.Value, error) {
	return m.entity(path, doc, func(_ *mapping.AggregatePath, col string) string { return col })
}

// entity materializes the leaf entity of path from doc, resolving each
// column to a document key through name.
func (m *Mapper) entity(path *mapping.AggregatePath, doc *row.Document, name func(*mapping.AggregatePath, string) string) (reflect.Value, error) {
	leaf, err := path.RequiredLeaf()
	if err != nil {
		return reflect.Value{}, err
	}
	v := leaf.New()
	if _, err := m.readColumns(path, path, v, doc, name); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// readColumns populates v from doc and reports how many columns carried a
// non-NULL value, which decides whether optional embedded pointers get
// allocated at all.
func (m *Mapper) readColumns(tablePath, path *mapping.AggregatePath, v reflect.Value, doc *row.Document, name func(*mapping.AggregatePath, string) string) (int, error) {
	entity, err := path.RequiredLeaf()
	if err != nil {
		return 0, err
	}
	set := 0
	for _, prop := range entity.Properties {
		sub, err := path.Append(prop.Name)
		if err != nil {
			return 0, err
		}
		switch prop.Kind {
		case mapping.KindColumn:
			col, err := sub.ColumnName()
			if err != nil {
				return 0, err
			}
			raw, ok := doc.Get(name(tablePath, col))
			if !ok || raw == nil {
				continue
			}
			cv, err := Coerce(raw, valueType(prop))
			if err != nil {
				return 0, &mapping.Error{Type: entity.Type, Property: prop.Name, Reason: err.Error()}
			}
			prop.Set(v, cv)
			set++
		case mapping.KindEmbedded:
			ev := reflect.New(prop.ElemType).Elem()
			n, err := m.readColumns(tablePath, sub, ev, doc, name)
			if err != nil {
				return 0, err
			}
			if n > 0 || !prop.Ptr {
				prop.Set(v, ev)
			}
			set += n
		}
	}
	return set, nil
}

func valueType(p *mapping.Property) reflect.Type {
	if p.Ptr {
		return p.Type.Elem()
	}
	return p.Type
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// Coerce converts a driver value into the given target type, covering the
// representations the supported drivers hand back: integers for booleans,
// byte slices for strings, and textual timestamps and UUIDs.
func Coerce(v any, t reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return rv, nil
	}
	switch t {
	case timeType:
		switch tv := v.(type) {
		case time.Time:
			return reflect.ValueOf(tv), nil
		case string:
			return parseTime(tv)
		case []byte:
			return parseTime(string(tv))
		}
	case uuidType:
		switch tv := v.(type) {
		case string:
			id, err := uuid.Parse(tv)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		case []byte:
			if len(tv) == 16 {
				id, err := uuid.FromBytes(tv)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(id), nil
			}
			id, err := uuid.Parse(string(tv))
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		}
	}
	switch t.Kind() {
	case reflect.Bool:
		switch tv := v.(type) {
		case bool:
			return reflect.ValueOf(tv), nil
		case int64:
			return reflect.ValueOf(tv != 0), nil
		}
	case reflect.String:
		if b, ok := v.([]byte); ok {
			return reflect.ValueOf(string(b)).Convert(t), nil
		}
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T into %s", v, t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (reflect.Value, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return reflect.ValueOf(ts), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot parse %q as time", s)
}
