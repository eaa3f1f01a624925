package convert

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/syssam/arbor/mapping"
	"github.com/syssam/arbor/row"
	"github.com/syssam/arbor/sqlgen"
)

// AggregateReader partitions the flattened rows produced by the
// single-query generator back into aggregate object graphs. It must share
// the alias factory with the generator that rendered the query.
type AggregateReader struct {
	ctx    *mapping.Context
	mapper *Mapper
	gen    *sqlgen.Generator
}

// NewAggregateReader returns a reader for results of gen's queries.
func NewAggregateReader(ctx *mapping.Context, gen *sqlgen.Generator) *AggregateReader {
	return &AggregateReader{ctx: ctx, mapper: NewMapper(ctx), gen: gen}
}

// element is one materialized entity instance together with the child
// elements collected for each of its entity paths.
type element struct {
	value    reflect.Value
	children map[string][]*childElem
}

type childElem struct {
	rn  int64
	key any
	el  *element
}

func newElement(v reflect.Value) *element {
	return &element{value: v, children: map[string][]*childElem{}}
}

// Aggregates rebuilds whole aggregates from docs, which must be ordered
// the way the generated query orders them (by root id, then row number).
// The returned values are addressable root structs in result-set order.
func (r *AggregateReader) Aggregates(rootType reflect.Type, docs []*row.Document) ([]reflect.Value, error) {
	root, err := r.ctx.Aggregate(rootType)
	if err != nil {
		return nil, err
	}
	rootEntity, err := root.RequiredLeaf()
	if err != nil {
		return nil, err
	}
	paths, err := r.ctx.EntityPaths(rootType)
	if err != nil {
		return nil, err
	}
	aliases := r.gen.Aliases()
	alias := func(p *mapping.AggregatePath, col string) string {
		return aliases.ColumnAlias(p, col)
	}

	// Index of built elements by path and id, used to resolve the parent
	// of deeper elements through their back-reference.
	index := map[string]map[string]*element{root.String(): {}}
	var roots []*element
	for i, doc := range docs {
		key := strconv.Itoa(i)
		if rootEntity.ID != nil {
			raw, ok := doc.Get(rootEntity.ID.Column)
			if !ok {
				return nil, fmt.Errorf("convert: result set misses root id column %q", rootEntity.ID.Column)
			}
			key = keyOf(raw)
		}
		if _, ok := index[root.String()][key]; ok {
			continue
		}
		v, err := r.mapper.entity(root, doc, alias)
		if err != nil {
			return nil, err
		}
		el := newElement(v)
		index[root.String()][key] = el
		roots = append(roots, el)
	}

	seen := map[string]bool{}
	for _, p := range paths {
		parent, err := p.IDDefiningParentPath()
		if err != nil {
			return nil, err
		}
		// An identifier-less owner leaves its children without a resolvable
		// back-reference, so such rows cannot be partitioned.
		ownerPath, err := p.Parent()
		if err != nil {
			return nil, err
		}
		ownerPath = ownerPath.TableOwningAncestor()
		if !ownerPath.IsRoot() {
			owner, err := ownerPath.RequiredLeaf()
			if err != nil {
				return nil, err
			}
			if owner.ID == nil {
				return nil, &mapping.Error{
					Type:     owner.Type,
					Property: p.String(),
					Reason:   "nested entities below an identifier-less entity are not supported",
				}
			}
		}
		leaf, err := p.RequiredLeaf()
		if err != nil {
			return nil, err
		}
		rnAlias := aliases.RowNumberAlias(p)
		brAlias := aliases.BackRefAlias(p)
		keyAlias := ""
		if p.IsQualified() {
			keyAlias = aliases.KeyAlias(p)
		}
		if leaf.ID != nil {
			index[p.String()] = map[string]*element{}
		}
		for _, doc := range docs {
			rnRaw, ok := doc.Get(rnAlias)
			if !ok || rnRaw == nil {
				continue
			}
			rn, err := asInt64(rnRaw)
			if err != nil {
				return nil, fmt.Errorf("convert: row number %s: %w", rnAlias, err)
			}
			brRaw, _ := doc.Get(brAlias)
			parentKey := keyOf(brRaw)
			dedupe := p.String() + "|" + parentKey + "|" + strconv.FormatInt(rn, 10)
			if seen[dedupe] {
				continue
			}
			seen[dedupe] = true
			owner := index[parent.String()][parentKey]
			if owner == nil {
				return nil, fmt.Errorf("convert: no parent row for %s with id %s", p, parentKey)
			}
			v, err := r.mapper.entity(p, doc, alias)
			if err != nil {
				return nil, err
			}
			el := newElement(v)
			kid := &childElem{rn: rn, el: el}
			if keyAlias != "" {
				kid.key, _ = doc.Get(keyAlias)
			}
			owner.children[p.String()] = append(owner.children[p.String()], kid)
			if leaf.ID != nil {
				index[p.String()][keyOf(leaf.ID.Value(v.Interface()))] = el
			}
		}
	}

	out := make([]reflect.Value, len(roots))
	for i, el := range roots {
		if err := r.attach(root, el.value, el); err != nil {
			return nil, err
		}
		out[i] = el.value
	}
	return out, nil
}

// attach materializes the child containers of el onto v, descending
// bottom-up so every child element is complete before it is placed in a
// slice or map.
func (r *AggregateReader) attach(p *mapping.AggregatePath, v reflect.Value, el *element) error {
	entity, err := p.RequiredLeaf()
	if err != nil {
		return err
	}
	for _, prop := range entity.Properties {
		sub, err := p.Append(prop.Name)
		if err != nil {
			return err
		}
		switch prop.Kind {
		case mapping.KindEmbedded:
			ev := prop.Get(v)
			if prop.Ptr {
				if ev.IsNil() {
					if !hasChildrenUnder(el, sub.String()) {
						continue
					}
					ev = reflect.New(prop.ElemType)
					prop.Set(v, ev.Elem())
					ev = prop.Get(v)
				}
				ev = ev.Elem()
			}
			if err := r.attach(sub, ev, el); err != nil {
				return err
			}
		case mapping.KindEntity, mapping.KindSlice, mapping.KindMap:
			kids := el.children[sub.String()]
			if len(kids) == 0 {
				continue
			}
			sort.SliceStable(kids, func(i, j int) bool { return kids[i].rn < kids[j].rn })
			for _, kid := range kids {
				if err := r.attach(sub, kid.el.value, kid.el); err != nil {
					return err
				}
			}
			switch prop.Kind {
			case mapping.KindEntity:
				prop.Set(v, kids[0].el.value)
			case mapping.KindSlice:
				ptrElem := prop.Type.Elem().Kind() == reflect.Pointer
				s := reflect.MakeSlice(prop.Type, 0, len(kids))
				for _, kid := range kids {
					ev := kid.el.value
					if ptrElem {
						s = reflect.Append(s, ev.Addr())
					} else {
						s = reflect.Append(s, ev)
					}
				}
				prop.Set(v, s)
			case mapping.KindMap:
				ptrElem := prop.Type.Elem().Kind() == reflect.Pointer
				mv := reflect.MakeMapWithSize(prop.Type, len(kids))
				for _, kid := range kids {
					kv, err := Coerce(kid.key, prop.KeyType)
					if err != nil {
						return fmt.Errorf("convert: map key of %s: %w", sub, err)
					}
					ev := kid.el.value
					if ptrElem {
						mv.SetMapIndex(kv, ev.Addr())
					} else {
						mv.SetMapIndex(kv, ev)
					}
				}
				prop.Set(v, mv)
			}
		}
	}
	return nil
}

func hasChildrenUnder(el *element, prefix string) bool {
	for dot, kids := range el.children {
		if len(kids) > 0 && (dot == prefix || len(dot) > len(prefix) && dot[:len(prefix)+1] == prefix+".") {
			return true
		}
	}
	return false
}

// keyOf normalizes a driver value into a comparable registry key, so an
// int64 read from one row matches the int foreign key read from another.
func keyOf(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func asInt64(v any) (int64, error) {
	switch tv := v.(type) {
	case int64:
		return tv, nil
	case int:
		return int64(tv), nil
	case int32:
		return int64(tv), nil
	case uint64:
		return int64(tv), nil
	case float64:
		return int64(tv), nil
	case []byte:
		return strconv.ParseInt(string(tv), 10, 64)
	case string:
		return strconv.ParseInt(tv, 10, 64)
	}
	return 0, fmt.Errorf("unsupported row number type %T", v)
}
