package change

import (
	"reflect"

	"github.com/syssam/arbor/mapping"
)

// Insert produces the change saving a new aggregate: the root insert
// first, then every reachable child entity depth-first, each child action
// depending on the action that inserts the row owning its back-reference.
func (w *Writer) Insert(root any) (*AggregateChange, error) {
	v, err := rootValue(root)
	if err != nil {
		return nil, err
	}
	e, err := w.ctx.Entity(v.Type())
	if err != nil {
		return nil, err
	}
	path, err := w.ctx.Aggregate(v.Type())
	if err != nil {
		return nil, err
	}
	c := NewAggregateChange(Save, v.Type(), root)
	rootIdx := c.Add(&Action{
		Kind:      KindInsertRoot,
		Path:      path,
		Entity:    root,
		IDSource:  idSource(e, v),
		DependsOn: NoDependency,
	})
	if err := w.insertChildren(c, path, v, rootIdx, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// insertChildren emits insert actions for every entity-valued property of
// owner, recursing depth-first. ownerIdx is the arena handle of the action
// that inserts (or updates) the row the children back-reference. A non-nil
// filter restricts which properties of this level are written; deeper
// levels are always written in full.
func (w *Writer) insertChildren(c *AggregateChange, path *mapping.AggregatePath, owner reflect.Value, ownerIdx int, filter func(*mapping.AggregatePath) bool) error {
	leaf, err := path.RequiredLeaf()
	if err != nil {
		return err
	}
	for _, prop := range leaf.Properties {
		sub, err := path.Append(prop.Name)
		if err != nil {
			return err
		}
		if prop.Kind == mapping.KindColumn {
			continue
		}
		if filter != nil && prop.Kind != mapping.KindEmbedded && !filter(sub) {
			continue
		}
		value := prop.Get(owner)
		switch prop.Kind {
		case mapping.KindEmbedded:
			ev, ok := deref(value)
			if !ok {
				continue
			}
			// Embedded structs stay in the owner row; only their
			// entity-valued properties spawn actions.
			if err := w.insertChildren(c, sub, ev, ownerIdx, filter); err != nil {
				return err
			}
		case mapping.KindEntity:
			ev, ok := deref(value)
			if !ok {
				continue
			}
			if err := w.insertChild(c, sub, ev, nil, ownerIdx); err != nil {
				return err
			}
		case mapping.KindSlice:
			sv, ok := deref(value)
			if !ok {
				continue
			}
			for i := 0; i < sv.Len(); i++ {
				ev, ok := deref(sv.Index(i))
				if !ok {
					continue
				}
				if err := w.insertChild(c, sub, ev, i, ownerIdx); err != nil {
					return err
				}
			}
		case mapping.KindMap:
			mv, ok := deref(value)
			if !ok {
				continue
			}
			for _, key := range sortedMapKeys(mv) {
				ev, ok := deref(mv.MapIndex(key))
				if !ok {
					continue
				}
				if err := w.insertChild(c, sub, ev, key.Interface(), ownerIdx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// insertChild emits a single child insert and recurses into its children.
func (w *Writer) insertChild(c *AggregateChange, path *mapping.AggregatePath, v reflect.Value, key any, ownerIdx int) error {
	e, err := path.RequiredLeaf()
	if err != nil {
		return err
	}
	idx := c.Add(&Action{
		Kind:      KindInsert,
		Path:      path,
		Entity:    addressable(v),
		Key:       key,
		IDSource:  idSource(e, v),
		DependsOn: ownerIdx,
	})
	if e.ID == nil {
		has, err := w.hasEntityChildren(e)
		if err != nil {
			return err
		}
		if has {
			return &mapping.Error{
				Type:     e.Type,
				Property: path.String(),
				Reason:   "nested entities below an identifier-less entity are not supported",
			}
		}
	}
	return w.insertChildren(c, path, v, idx, nil)
}

// hasEntityChildren reports whether the entity declares any entity-valued
// property, looking through embedded structs.
func (w *Writer) hasEntityChildren(e *mapping.Entity) (bool, error) {
	for _, p := range e.Properties {
		switch p.Kind {
		case mapping.KindEntity, mapping.KindSlice, mapping.KindMap:
			return true, nil
		case mapping.KindEmbedded:
			embedded, err := w.ctx.Entity(p.ElemType)
			if err != nil {
				return false, err
			}
			has, err := w.hasEntityChildren(embedded)
			if err != nil || has {
				return has, err
			}
		}
	}
	return false, nil
}
