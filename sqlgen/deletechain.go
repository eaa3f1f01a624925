package sqlgen

import (
	"strings"

	"github.com/syssam/arbor/mapping"
)

// DeleteByRoot renders a DELETE removing the rows the entity path
// contributes to the aggregates of n root ids. Rows deeper than one level
// are only reachable through their ancestor tables, so the predicate
// chains subselects down from the root id:
//
//	DELETE FROM grandchild WHERE child_id IN (
//	    SELECT id FROM child WHERE root_id IN (?, ...))
//
// The statement binds the n root ids in order.
func (g *Generator) DeleteByRoot(p *mapping.AggregatePath, n int) (string, error) {
	table, err := p.TableName()
	if err != nil {
		return "", err
	}
	cond, err := g.rootCondition(p, n)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + table + " WHERE " + cond, nil
}

// rootCondition renders the predicate selecting the rows of p that belong
// to n aggregate roots.
func (g *Generator) rootCondition(p *mapping.AggregatePath, n int) (string, error) {
	backRef, err := p.ReverseColumnName()
	if err != nil {
		return "", err
	}
	parent, err := p.IDDefiningParentPath()
	if err != nil {
		return "", err
	}
	if parent.IsRoot() {
		if n == 1 {
			return backRef + " = " + g.d.Placeholder(1), nil
		}
		return backRef + " IN (" + g.d.Placeholders(1, n) + ")", nil
	}
	parentEntity, err := parent.RequiredLeaf()
	if err != nil {
		return "", err
	}
	if parentEntity.ID == nil {
		return "", &mapping.Error{Type: parentEntity.Type, Reason: "referencing entity requires an identifier"}
	}
	parentTable, err := parent.TableName()
	if err != nil {
		return "", err
	}
	inner, err := g.rootCondition(parent, n)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(backRef)
	b.WriteString(" IN (SELECT ")
	b.WriteString(parentEntity.ID.Column)
	b.WriteString(" FROM ")
	b.WriteString(parentTable)
	b.WriteString(" WHERE ")
	b.WriteString(inner)
	b.WriteString(")")
	return b.String(), nil
}
