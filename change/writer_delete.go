package change

import (
	"reflect"

	"github.com/syssam/arbor/mapping"
)

// Delete produces the change removing the aggregate with the given root
// id: one Delete per referenced entity path, deepest first so no child
// row outlives its parent, then a DeleteRoot. For an aggregate with N
// entity-valued descendants the change holds exactly N+1 actions.
func (w *Writer) Delete(rootType reflect.Type, id any) (*AggregateChange, error) {
	if id == nil {
		return nil, &mapping.Error{Type: rootType, Reason: "delete requires a non-nil root id"}
	}
	for rootType.Kind() == reflect.Pointer {
		rootType = rootType.Elem()
	}
	e, err := w.ctx.Entity(rootType)
	if err != nil {
		return nil, err
	}
	if e.ID == nil {
		return nil, &mapping.Error{Type: e.Type, Reason: "aggregate root requires an identifier"}
	}
	return w.delete(rootType, id)
}

// DeleteAll produces the change removing every aggregate of the given
// root type: one DeleteAll per referenced entity path, deepest first,
// then a DeleteAllRoot.
func (w *Writer) DeleteAll(rootType reflect.Type) (*AggregateChange, error) {
	return w.delete(rootType, nil)
}

func (w *Writer) delete(rootType reflect.Type, id any) (*AggregateChange, error) {
	for rootType.Kind() == reflect.Pointer {
		rootType = rootType.Elem()
	}
	rootPath, err := w.ctx.Aggregate(rootType)
	if err != nil {
		return nil, err
	}
	paths, err := w.ctx.EntityPaths(rootType)
	if err != nil {
		return nil, err
	}
	c := NewAggregateChange(Delete, rootType, nil)
	for i := len(paths) - 1; i >= 0; i-- {
		a := &Action{Path: paths[i], DependsOn: NoDependency}
		if id != nil {
			a.Kind = KindDelete
			a.RootID = id
		} else {
			a.Kind = KindDeleteAll
		}
		c.Add(a)
	}
	root := &Action{Path: rootPath, DependsOn: NoDependency}
	if id != nil {
		root.Kind = KindDeleteRoot
		root.RootID = id
	} else {
		root.Kind = KindDeleteAllRoot
	}
	c.Add(root)
	return c, nil
}
