package change

import (
	"reflect"

	"github.com/syssam/arbor/mapping"
)

// Update produces the change saving an existing aggregate: one UpdateRoot
// for the root row, then a delete-then-reinsert reconciliation of the
// entity-valued properties. When a snapshot of the previously loaded
// state is given, only properties whose value differs from the snapshot
// are reconciled; a nil snapshot reconciles all of them.
//
// Collection elements are not matched by identity across reorderings:
// a differing collection is fully replaced.
func (w *Writer) Update(root, snapshot any) (*AggregateChange, error) {
	v, err := rootValue(root)
	if err != nil {
		return nil, err
	}
	e, err := w.ctx.Entity(v.Type())
	if err != nil {
		return nil, err
	}
	if e.ID == nil {
		return nil, &mapping.Error{Type: v.Type(), Reason: "cannot update an aggregate without an identifier"}
	}
	rootID := e.ID.Value(root)
	if e.ID.Get(v).IsZero() {
		return nil, &mapping.Error{Type: v.Type(), Reason: "cannot update an aggregate with a zero identifier"}
	}
	path, err := w.ctx.Aggregate(v.Type())
	if err != nil {
		return nil, err
	}
	c := NewAggregateChange(Save, v.Type(), root)
	rootIdx := c.Add(&Action{
		Kind:      KindUpdateRoot,
		Path:      path,
		Entity:    root,
		IDSource:  IDProvided,
		DependsOn: NoDependency,
	})

	changed, err := w.changedPaths(v, snapshot)
	if err != nil {
		return nil, err
	}
	// Deleted rows go deepest-first so no child row outlives its parent.
	paths, err := w.ctx.EntityPaths(v.Type())
	if err != nil {
		return nil, err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		if changed[firstLevelAncestor(paths[i])] {
			c.Add(&Action{
				Kind:      KindDelete,
				Path:      paths[i],
				RootID:    rootID,
				DependsOn: NoDependency,
			})
		}
	}
	// Reinsert the current subtree of every changed property, parents
	// before children so generated keys flow downwards.
	err = w.insertChildren(c, path, v, rootIdx, func(p *mapping.AggregatePath) bool {
		return changed[firstLevelAncestor(p)]
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// changedPaths returns the set of first-level entity paths whose value on
// root differs from the snapshot. With a nil snapshot every first-level
// entity path counts as changed.
func (w *Writer) changedPaths(root reflect.Value, snapshot any) (map[*mapping.AggregatePath]bool, error) {
	paths, err := w.ctx.EntityPaths(root.Type())
	if err != nil {
		return nil, err
	}
	changed := make(map[*mapping.AggregatePath]bool)
	var snapValue reflect.Value
	if snapshot != nil {
		snapValue, err = rootValue(snapshot)
		if err != nil {
			return nil, err
		}
		if snapValue.Type() != root.Type() {
			return nil, &mapping.Error{Type: root.Type(), Reason: "snapshot type differs from aggregate type"}
		}
	}
	for _, p := range paths {
		fl := firstLevelAncestor(p)
		if p != fl || changed[fl] {
			continue
		}
		if snapshot == nil {
			changed[fl] = true
			continue
		}
		cur, curOK := valueAt(root, fl)
		old, oldOK := valueAt(snapValue, fl)
		if curOK != oldOK || (curOK && !reflect.DeepEqual(cur.Interface(), old.Interface())) {
			changed[fl] = true
		}
	}
	return changed, nil
}

// firstLevelAncestor returns the shallowest entity-valued ancestor of p,
// i.e. the path whose parent chain up to the root consists of embedded
// segments only.
func firstLevelAncestor(p *mapping.AggregatePath) *mapping.AggregatePath {
	result := p
	for cur := p; ; {
		parent, err := cur.Parent()
		if err != nil || parent.IsRoot() {
			return result
		}
		if !parent.IsEmbedded() {
			result = parent
		}
		cur = parent
	}
}

// valueAt navigates the direct (possibly embedded) segments from the root
// value to the property at path p. The second return value is false if a
// nil pointer was encountered.
func valueAt(root reflect.Value, p *mapping.AggregatePath) (reflect.Value, bool) {
	var props []*mapping.Property
	for cur := p; !cur.IsRoot(); {
		props = append([]*mapping.Property{cur.Property()}, props...)
		cur, _ = cur.Parent()
	}
	v := root
	for _, prop := range props {
		var ok bool
		v, ok = deref(prop.Get(v))
		if !ok {
			return v, false
		}
	}
	return v, true
}
