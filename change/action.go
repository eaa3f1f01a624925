// Package change converts mutated aggregates into ordered, dependency
// linked sequences of database actions.
package change

import (
	"fmt"
	"reflect"

	"github.com/syssam/arbor/mapping"
)

// Kind enumerates the closed set of database action variants. Executors
// must dispatch exhaustively over all kinds.
type Kind int

const (
	// KindInsertRoot inserts the aggregate root row.
	KindInsertRoot Kind = iota
	// KindInsert inserts a non-root entity row.
	KindInsert
	// KindUpdateRoot updates the aggregate root row by id.
	KindUpdateRoot
	// KindDelete deletes the rows of one path belonging to one root id.
	KindDelete
	// KindDeleteRoot deletes the aggregate root row by id.
	KindDeleteRoot
	// KindDeleteAll deletes every row of one path's table.
	KindDeleteAll
	// KindDeleteAllRoot deletes every row of the root table.
	KindDeleteAllRoot
	// KindBatchInsert folds sibling KindInsert actions of one path into a
	// single multi-row statement.
	KindBatchInsert
	// KindBatchDelete folds sibling KindDelete actions of one path into a
	// single statement.
	KindBatchDelete
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInsertRoot:
		return "InsertRoot"
	case KindInsert:
		return "Insert"
	case KindUpdateRoot:
		return "UpdateRoot"
	case KindDelete:
		return "Delete"
	case KindDeleteRoot:
		return "DeleteRoot"
	case KindDeleteAll:
		return "DeleteAll"
	case KindDeleteAllRoot:
		return "DeleteAllRoot"
	case KindBatchInsert:
		return "BatchInsert"
	case KindBatchDelete:
		return "BatchDelete"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IDValueSource describes where the id of an inserted row comes from.
// A single batched insert must not mix sources.
type IDValueSource int

const (
	// IDGenerated leaves id generation to the database.
	IDGenerated IDValueSource = iota
	// IDProvided uses the id already present on the entity.
	IDProvided
	// IDNone marks entities without an identifier property.
	IDNone
)

// NoDependency is the DependsOn value of actions without a dependency.
const NoDependency = -1

// Action describes exactly one database statement's worth of work.
// Actions are created by the writers during a single traversal, consumed
// exactly once by an interpreter and never mutated after creation except
// to receive a generated key.
type Action struct {
	// Kind is the action variant.
	Kind Kind
	// Path locates the affected entity relative to the aggregate root.
	Path *mapping.AggregatePath
	// Entity is the affected entity instance. Nil for delete variants.
	Entity any
	// RootID is the aggregate root id. Non-nil for every delete-by-id
	// variant.
	RootID any
	// Key is the slice index or map key for elements of qualified paths.
	Key any
	// IDSource describes the key generation strategy of insert variants.
	IDSource IDValueSource
	// DependsOn is the arena index of the action whose generated key this
	// action requires, or NoDependency.
	DependsOn int
	// Members holds the arena indices folded into a batched action.
	Members []int

	generatedID any
}

// SetGeneratedID attaches the database-generated key after execution.
func (a *Action) SetGeneratedID(id any) { a.generatedID = id }

// GeneratedID returns the database-generated key, or nil.
func (a *Action) GeneratedID() any { return a.generatedID }

// IDValue returns the effective id of the affected entity: the generated
// key if one was received, otherwise the id property value.
func (a *Action) IDValue() (any, error) {
	if a.generatedID != nil {
		return a.generatedID, nil
	}
	leaf, err := a.Path.RequiredLeaf()
	if err != nil {
		return nil, err
	}
	if leaf.ID == nil || a.Entity == nil {
		return nil, nil
	}
	return leaf.ID.Value(a.Entity), nil
}

// ChangeKind distinguishes save changes from delete changes.
type ChangeKind int

const (
	// Save marks a change produced for a save call.
	Save ChangeKind = iota
	// Delete marks a change produced for a delete call.
	Delete
)

// AggregateChange is the ordered container of actions produced for one
// save or delete call. Actions live in an arena; dependencies between
// them are arena indices rather than object references.
type AggregateChange struct {
	// Kind is the change kind.
	Kind ChangeKind
	// RootType is the aggregate root struct type.
	RootType reflect.Type
	// Root is the root entity instance, nil for delete-by-id changes.
	Root any

	actions []*Action
}

// NewAggregateChange returns an empty change for the given root.
func NewAggregateChange(kind ChangeKind, rootType reflect.Type, root any) *AggregateChange {
	return &AggregateChange{Kind: kind, RootType: rootType, Root: root}
}

// Add appends the action to the arena and returns its handle.
func (c *AggregateChange) Add(a *Action) int {
	c.actions = append(c.actions, a)
	return len(c.actions) - 1
}

// Action returns the action stored at the given arena handle.
func (c *AggregateChange) Action(handle int) *Action {
	return c.actions[handle]
}

// Actions returns the actions in insertion order.
func (c *AggregateChange) Actions() []*Action {
	return c.actions
}

// Len returns the number of actions.
func (c *AggregateChange) Len() int { return len(c.actions) }

// Merge combines multiple changes of the same kind and root type into one
// change with a single arena, rebasing dependency handles. It is used to
// batch sibling actions across aggregates (SaveAll, DeleteAll by ids).
func Merge(changes ...*AggregateChange) (*AggregateChange, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("change: merge of zero changes")
	}
	merged := NewAggregateChange(changes[0].Kind, changes[0].RootType, changes[0].Root)
	for _, c := range changes {
		if c.Kind != merged.Kind || c.RootType != merged.RootType {
			return nil, fmt.Errorf("change: cannot merge %v change of %s into %v change of %s",
				c.Kind, c.RootType, merged.Kind, merged.RootType)
		}
		offset := len(merged.actions)
		for _, a := range c.actions {
			ra := *a
			if ra.DependsOn != NoDependency {
				ra.DependsOn += offset
			}
			merged.actions = append(merged.actions, &ra)
		}
	}
	return merged, nil
}
