package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Error reports a type, property or path that cannot be mapped.
// Mapping errors surface before any database action is built.
type Error struct {
	Type     reflect.Type
	Property string
	Reason   string
}

// Error returns the error string.
func (e *Error) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("mapping: %s.%s: %s", e.Type, e.Property, e.Reason)
	}
	return fmt.Sprintf("mapping: %s: %s", e.Type, e.Reason)
}

// Context resolves Go struct types into persistence metadata. The entity
// cache is owned by the context instance: recreating the context discards
// all cached metadata. A Context is safe for concurrent use.
type Context struct {
	naming NamingStrategy

	mu       sync.RWMutex
	entities map[reflect.Type]*Entity
	paths    map[pathKey]*AggregatePath
	group    singleflight.Group
}

type pathKey struct {
	root reflect.Type
	dot  string
}

// Option configures a Context.
type Option func(*Context)

// WithNamingStrategy replaces the default naming strategy.
func WithNamingStrategy(s NamingStrategy) Option {
	return func(c *Context) { c.naming = s }
}

// WithNamingOverrides applies explicit name overrides on top of the
// current naming strategy.
func WithNamingOverrides(o Overrides) Option {
	return func(c *Context) { c.naming = NamingWithOverrides(c.naming, o) }
}

// NewContext creates a mapping context with its own metadata cache.
func NewContext(opts ...Option) *Context {
	c := &Context{
		naming:   DefaultNamingStrategy(),
		entities: make(map[reflect.Type]*Entity),
		paths:    make(map[pathKey]*AggregatePath),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Naming returns the naming strategy of the context.
func (c *Context) Naming() NamingStrategy { return c.naming }

// Entity resolves the metadata of the given struct type, computing and
// caching it on first use. Concurrent first resolutions of the same type
// are deduplicated.
func (c *Context) Entity(t reflect.Type) (*Entity, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	c.mu.RLock()
	e, ok := c.entities[t]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}
	v, err, _ := c.group.Do(t.String(), func() (any, error) {
		e, err := c.resolve(t)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entities[t] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

// EntityOf resolves the metadata for the dynamic type of the given value.
func (c *Context) EntityOf(instance any) (*Entity, error) {
	return c.Entity(reflect.TypeOf(instance))
}

// MustEntity is like Entity but panics on mapping errors.
func (c *Context) MustEntity(t reflect.Type) *Entity {
	e, err := c.Entity(t)
	if err != nil {
		panic(err)
	}
	return e
}

// resolve introspects a struct type. Child entity types are left
// unresolved so that self-referential aggregates terminate; they are
// resolved lazily when a path reaches them.
func (c *Context) resolve(t reflect.Type) (*Entity, error) {
	if t.Kind() != reflect.Struct {
		return nil, &Error{Type: t, Reason: "not a struct type"}
	}
	e := &Entity{
		Type:   t,
		Name:   t.Name(),
		Table:  c.naming.TableName(t.Name()),
		byName: make(map[string]*Property),
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, opts := parseTag(f.Tag.Get("db"))
		if tag == "-" {
			continue
		}
		p, err := c.property(e, f, tag, opts)
		if err != nil {
			return nil, err
		}
		if p.IsID {
			if e.ID != nil {
				return nil, &Error{Type: t, Property: f.Name, Reason: "duplicate identifier property"}
			}
			e.ID = p
		}
		e.Properties = append(e.Properties, p)
		e.byName[p.Name] = p
	}
	return e, nil
}

// property classifies one struct field and builds its accessors.
func (c *Context) property(e *Entity, f reflect.StructField, tag string, opts []string) (*Property, error) {
	idx := f.Index[0]
	p := &Property{
		Name:  f.Name,
		Owner: e,
		Type:  f.Type,
		index: idx,
		get:   func(v reflect.Value) reflect.Value { return v.Field(idx) },
		set:   func(v, x reflect.Value) { v.Field(idx).Set(x) },
	}
	ft := f.Type
	if ft.Kind() == reflect.Pointer {
		p.Ptr = true
		ft = ft.Elem()
	}
	switch {
	case simpleType(ft):
		p.Kind = KindColumn
		p.Column = tag
		if p.Column == "" {
			p.Column = c.naming.ColumnName(e.Name, f.Name)
		}
		p.IsID = idField(f, opts)
	case hasOption(opts, "embedded") || f.Anonymous:
		if ft.Kind() != reflect.Struct {
			return nil, &Error{Type: e.Type, Property: f.Name, Reason: "embedded property must be a struct"}
		}
		p.Kind = KindEmbedded
		p.ElemType = ft
		p.EmbeddedPrefix = tag
	case ft.Kind() == reflect.Struct:
		p.Kind = KindEntity
		p.ElemType = ft
	case ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array:
		et := ft.Elem()
		for et.Kind() == reflect.Pointer {
			et = et.Elem()
		}
		if et.Kind() != reflect.Struct {
			return nil, &Error{Type: e.Type, Property: f.Name, Reason: fmt.Sprintf("cannot map slice of %s", et)}
		}
		p.Kind = KindSlice
		p.ElemType = et
	case ft.Kind() == reflect.Map:
		if !simpleType(ft.Key()) {
			return nil, &Error{Type: e.Type, Property: f.Name, Reason: "map key must be a simple column type"}
		}
		et := ft.Elem()
		for et.Kind() == reflect.Pointer {
			et = et.Elem()
		}
		if et.Kind() != reflect.Struct {
			return nil, &Error{Type: e.Type, Property: f.Name, Reason: fmt.Sprintf("cannot map map of %s", et)}
		}
		p.Kind = KindMap
		p.ElemType = et
		p.KeyType = ft.Key()
	default:
		return nil, &Error{Type: e.Type, Property: f.Name, Reason: fmt.Sprintf("cannot classify type %s", f.Type)}
	}
	return p, nil
}

// PropertyPath resolves a dotted property path rooted at the given type
// into an aggregate path. Every segment must be resolvable.
func (c *Context) PropertyPath(dotPath string, root reflect.Type) (*AggregatePath, error) {
	path, err := c.Aggregate(root)
	if err != nil {
		return nil, err
	}
	if dotPath == "" {
		return path, nil
	}
	for _, segment := range strings.Split(dotPath, ".") {
		path, err = path.Append(segment)
		if err != nil {
			return nil, err
		}
	}
	return path, nil
}

// intern canonicalizes a path so that equal logical paths resolved through
// the same context are pointer-identical.
func (c *Context) intern(p *AggregatePath) *AggregatePath {
	key := pathKey{root: p.root.Type, dot: p.dot}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.paths[key]; ok {
		return cached
	}
	c.paths[key] = p
	return p
}
