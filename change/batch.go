package change

import (
	"sort"

	"github.com/syssam/arbor/mapping"
)

// Plan folds the actions of a change into the execution plan: sibling
// inserts sharing a path and id-value source become one BatchInsert,
// sibling deletes sharing a path become one BatchDelete. Inserts are
// emitted in ascending path length (parents first, their generated keys
// are needed by children), deletes in descending path length (children
// first, preventing foreign-key violations). Relative ordering between
// distinct paths of equal length is preserved. Groups of size one stay
// plain actions.
//
// Batched members keep their arena handles, so dependency resolution and
// generated-key write-back keep working on the underlying change.
func Plan(c *AggregateChange) []*Action {
	var (
		updates     []*Action
		deleteRoots []*Action
		deleteGroup = newGroups()
		insertGroup = newGroups()
	)
	for i, a := range c.actions {
		switch a.Kind {
		case KindUpdateRoot:
			updates = append(updates, a)
		case KindDeleteRoot, KindDeleteAllRoot:
			deleteRoots = append(deleteRoots, a)
		case KindDelete, KindDeleteAll:
			deleteGroup.add(groupKey{path: a.Path, kind: a.Kind}, i, a)
		case KindInsert, KindInsertRoot:
			insertGroup.add(groupKey{path: a.Path, source: a.IDSource}, i, a)
		default:
			// Already-batched actions pass through unchanged.
			updates = append(updates, a)
		}
	}

	plan := updates
	for _, g := range deleteGroup.sorted(descending) {
		plan = append(plan, g.fold(c, KindBatchDelete))
	}
	plan = append(plan, deleteRoots...)
	for _, g := range insertGroup.sorted(ascending) {
		plan = append(plan, g.fold(c, KindBatchInsert))
	}
	return plan
}

type groupKey struct {
	path   *mapping.AggregatePath
	kind   Kind
	source IDValueSource
}

type group struct {
	key     groupKey
	first   int // index of first occurrence, the tie-break within a length
	handles []int
	actions []*Action
}

// fold returns the single plain action for size-1 groups, or a batched
// action whose Members reference the arena handles of the siblings.
func (g *group) fold(c *AggregateChange, batched Kind) *Action {
	if len(g.actions) == 1 {
		return g.actions[0]
	}
	if g.key.kind == KindDeleteAll {
		// Identical whole-table deletes collapse into one.
		return g.actions[0]
	}
	return &Action{
		Kind:      batched,
		Path:      g.key.path,
		IDSource:  g.key.source,
		DependsOn: NoDependency,
		Members:   g.handles,
	}
}

type groups struct {
	byKey map[groupKey]*group
	order []*group
}

func newGroups() *groups {
	return &groups{byKey: make(map[groupKey]*group)}
}

func (gs *groups) add(key groupKey, handle int, a *Action) {
	g, ok := gs.byKey[key]
	if !ok {
		g = &group{key: key, first: handle}
		gs.byKey[key] = g
		gs.order = append(gs.order, g)
	}
	g.handles = append(g.handles, handle)
	g.actions = append(g.actions, a)
}

const (
	ascending  = 1
	descending = -1
)

// sorted returns the groups ordered by path length in the given
// direction, preserving first-occurrence order within equal lengths.
func (gs *groups) sorted(direction int) []*group {
	out := make([]*group, len(gs.order))
	copy(out, gs.order)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].key.path.Length(), out[j].key.path.Length()
		if li != lj {
			return direction*(li-lj) < 0
		}
		return out[i].first < out[j].first
	})
	return out
}
