package mapping

import (
	"reflect"
)

// AggregatePath is an immutable, canonicalized property path from an
// aggregate root to a property. Paths resolved through the same Context
// are interned: two paths denoting the same traversal from the same root
// type are pointer-identical.
//
// The empty path denotes the aggregate root itself.
type AggregatePath struct {
	ctx    *Context
	root   *Entity
	parent *AggregatePath // nil for the root path
	prop   *Property      // nil for the root path
	dot    string
	length int
}

// Aggregate returns the root path for the given aggregate root type.
func (c *Context) Aggregate(root reflect.Type) (*AggregatePath, error) {
	e, err := c.Entity(root)
	if err != nil {
		return nil, err
	}
	return c.intern(&AggregatePath{ctx: c, root: e}), nil
}

// Append resolves the named property within the leaf entity of p and
// returns the extended path.
func (p *AggregatePath) Append(propertyName string) (*AggregatePath, error) {
	leaf, err := p.Leaf()
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, &Error{Type: p.root.Type, Property: p.dot, Reason: "cannot navigate beyond a column property"}
	}
	prop := leaf.Property(propertyName)
	if prop == nil {
		return nil, &Error{Type: leaf.Type, Property: propertyName, Reason: "unknown property"}
	}
	dot := propertyName
	if p.dot != "" {
		dot = p.dot + "." + propertyName
	}
	return p.ctx.intern(&AggregatePath{
		ctx:    p.ctx,
		root:   p.root,
		parent: p,
		prop:   prop,
		dot:    dot,
		length: p.length + 1,
	}), nil
}

// MustAppend is like Append but panics on resolution errors.
func (p *AggregatePath) MustAppend(propertyName string) *AggregatePath {
	next, err := p.Append(propertyName)
	if err != nil {
		panic(err)
	}
	return next
}

// IsRoot reports whether p denotes the aggregate root.
func (p *AggregatePath) IsRoot() bool { return p.parent == nil }

// Length returns the number of property segments. The root path has
// length zero and every path is exactly one segment longer than its parent.
func (p *AggregatePath) Length() int { return p.length }

// Parent returns the path one segment shorter. Calling Parent on the root
// path is an error.
func (p *AggregatePath) Parent() (*AggregatePath, error) {
	if p.parent == nil {
		return nil, &Error{Type: p.root.Type, Reason: "root path has no parent"}
	}
	return p.parent, nil
}

// Property returns the leaf property, or nil for the root path.
func (p *AggregatePath) Property() *Property { return p.prop }

// Root returns the entity metadata of the aggregate root.
func (p *AggregatePath) Root() *Entity { return p.root }

// String returns the dotted path. The root path renders as the root type name.
func (p *AggregatePath) String() string {
	if p.dot == "" {
		return p.root.Name
	}
	return p.root.Name + "." + p.dot
}

// Equal reports whether both paths denote the same traversal from the
// same root type, regardless of how they were constructed.
func (p *AggregatePath) Equal(other *AggregatePath) bool {
	return other != nil && p.root.Type == other.root.Type && p.dot == other.dot
}

// Leaf returns the entity metadata at this path: the root entity for the
// root path, the element entity for entity-, slice-, map- and embedded-
// valued paths, and nil for column paths.
func (p *AggregatePath) Leaf() (*Entity, error) {
	if p.parent == nil {
		return p.root, nil
	}
	switch p.prop.Kind {
	case KindEntity, KindSlice, KindMap, KindEmbedded:
		return p.ctx.Entity(p.prop.ElemType)
	default:
		return nil, nil
	}
}

// RequiredLeaf is like Leaf but fails if the path has no entity.
func (p *AggregatePath) RequiredLeaf() (*Entity, error) {
	leaf, err := p.Leaf()
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, &Error{Type: p.root.Type, Property: p.dot, Reason: "path does not point to an entity"}
	}
	return leaf, nil
}

// IsEntityValued reports whether the leaf is an entity, a collection of
// entities or a map of entities. The root path is entity valued.
func (p *AggregatePath) IsEntityValued() bool {
	if p.parent == nil {
		return true
	}
	switch p.prop.Kind {
	case KindEntity, KindSlice, KindMap:
		return true
	}
	return false
}

// IsEmbedded reports whether the leaf property is embedded into the
// owning table.
func (p *AggregatePath) IsEmbedded() bool {
	return p.parent != nil && p.prop.Kind == KindEmbedded
}

// IsCollection reports whether the leaf property is a slice or array.
func (p *AggregatePath) IsCollection() bool {
	return p.parent != nil && p.prop.Kind == KindSlice
}

// IsMap reports whether the leaf property is a map.
func (p *AggregatePath) IsMap() bool {
	return p.parent != nil && p.prop.Kind == KindMap
}

// IsQualified reports whether elements at this path carry a qualifier
// (a slice index or a map key) besides the back-reference.
func (p *AggregatePath) IsQualified() bool {
	return p.IsCollection() || p.IsMap()
}

// IsMultiValued reports whether any segment of the path, including the
// leaf, traverses a slice, array or map.
func (p *AggregatePath) IsMultiValued() bool {
	for cur := p; cur.parent != nil; cur = cur.parent {
		if cur.prop.Kind == KindSlice || cur.prop.Kind == KindMap {
			return true
		}
	}
	return false
}

// IDDefiningParentPath walks towards the root, starting at the parent,
// and returns the first path whose leaf entity defines an identifier.
// It is used to locate the table that owns a generated key referenced
// by this path.
func (p *AggregatePath) IDDefiningParentPath() (*AggregatePath, error) {
	cur := p.parent
	for cur != nil {
		if cur.parent == nil {
			return cur, nil
		}
		leaf, err := cur.Leaf()
		if err != nil {
			return nil, err
		}
		if leaf != nil && leaf.ID != nil && !cur.IsEmbedded() {
			return cur, nil
		}
		cur = cur.parent
	}
	return nil, &Error{Type: p.root.Type, Reason: "root path has no id-defining parent"}
}

// TableOwningAncestor returns the closest path, starting with p itself,
// that owns a table. Embedded and column segments inherit the owning
// table of their parent.
func (p *AggregatePath) TableOwningAncestor() *AggregatePath {
	if p.parent == nil || (p.IsEntityValued() && !p.IsEmbedded()) {
		return p
	}
	return p.parent.TableOwningAncestor()
}

// TableName returns the table storing entities at this path.
func (p *AggregatePath) TableName() (string, error) {
	owner := p.TableOwningAncestor()
	leaf, err := owner.Leaf()
	if err != nil {
		return "", err
	}
	return leaf.Table, nil
}

// ColumnName returns the column for a column-valued path. Columns of
// embedded properties are prefixed with the concatenated embedded
// prefixes rather than introducing a new alias level.
func (p *AggregatePath) ColumnName() (string, error) {
	if p.parent == nil || p.prop.Kind != KindColumn {
		return "", &Error{Type: p.root.Type, Property: p.dot, Reason: "path does not point to a column"}
	}
	prefix := ""
	for cur := p.parent; cur != nil && cur.IsEmbedded(); cur, _ = cur.Parent() {
		prefix = cur.prop.EmbeddedPrefix + prefix
	}
	return prefix + p.prop.Column, nil
}

// IDColumnName returns the id column of the leaf entity, or "" if the
// leaf entity defines no identifier.
func (p *AggregatePath) IDColumnName() (string, error) {
	leaf, err := p.RequiredLeaf()
	if err != nil {
		return "", err
	}
	if leaf.ID == nil {
		return "", nil
	}
	return leaf.ID.Column, nil
}

// ReverseColumnName returns the back-reference column in the table at
// this path pointing to the id of the id-defining parent.
func (p *AggregatePath) ReverseColumnName() (string, error) {
	if p.parent == nil {
		return "", &Error{Type: p.root.Type, Reason: "root path has no back-reference"}
	}
	idOwner, err := p.IDDefiningParentPath()
	if err != nil {
		return "", err
	}
	leaf, err := idOwner.RequiredLeaf()
	if err != nil {
		return "", err
	}
	return p.ctx.naming.ReverseColumnName(leaf.Name), nil
}

// KeyColumnName returns the column holding the slice index or map key
// for a qualified path.
func (p *AggregatePath) KeyColumnName() (string, error) {
	if !p.IsQualified() {
		return "", &Error{Type: p.root.Type, Property: p.dot, Reason: "path is not qualified"}
	}
	return p.ctx.naming.KeyColumnName(p.prop.Owner.Name), nil
}

// EntityPaths returns every entity-valued, non-embedded path reachable
// from the given root in depth-first discovery order (parents before
// their children). Embedded segments are traversed transparently. A type
// cycle in the aggregate is a mapping error.
func (c *Context) EntityPaths(root reflect.Type) ([]*AggregatePath, error) {
	start, err := c.Aggregate(root)
	if err != nil {
		return nil, err
	}
	var out []*AggregatePath
	seen := map[reflect.Type]bool{start.root.Type: true}
	if err := c.entityPaths(start, seen, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Context) entityPaths(p *AggregatePath, seen map[reflect.Type]bool, out *[]*AggregatePath) error {
	leaf, err := p.RequiredLeaf()
	if err != nil {
		return err
	}
	for _, prop := range leaf.Properties {
		switch prop.Kind {
		case KindColumn:
			continue
		case KindEmbedded:
			sub, err := p.Append(prop.Name)
			if err != nil {
				return err
			}
			if err := c.entityPaths(sub, seen, out); err != nil {
				return err
			}
		default:
			if seen[prop.ElemType] {
				return &Error{Type: p.root.Type, Property: prop.Name, Reason: "aggregate contains a type cycle"}
			}
			sub, err := p.Append(prop.Name)
			if err != nil {
				return err
			}
			*out = append(*out, sub)
			seen[prop.ElemType] = true
			if err := c.entityPaths(sub, seen, out); err != nil {
				return err
			}
			delete(seen, prop.ElemType)
		}
	}
	return nil
}
