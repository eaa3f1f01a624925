package sqlgen

import (
	"reflect"
	"strings"

	"github.com/syssam/arbor/mapping"
)

// The single-query read path renders one SQL statement retrieving an
// aggregate root together with every related child collection, avoiding
// N+1 query chains. Every entity-bearing path becomes an inline view
// projecting a window row number (partitioned by the back-reference) and
// a window row count; the outer query left-joins the views on
// parent id = back-reference and exposes the greatest row number across
// all branches as the final "rn", giving a stable row ordering that the
// converter uses to partition flattened rows back into aggregates.

// ProjectedColumn describes one column of an inline view and the alias
// under which the outer query exposes it.
type ProjectedColumn struct {
	Column string // column name inside the view's table
	Alias  string // outer projection alias
}

// FindAll renders the single query retrieving every aggregate of the
// given root type.
func (g *Generator) FindAll(ctx *mapping.Context, rootType reflect.Type) (string, error) {
	return g.find(ctx, rootType, 0)
}

// FindByID renders the single query retrieving one aggregate by root id.
// The statement takes the id as its only bind parameter.
func (g *Generator) FindByID(ctx *mapping.Context, rootType reflect.Type) (string, error) {
	return g.find(ctx, rootType, 1)
}

// FindAllByID renders the single query retrieving the aggregates whose
// root id is among n bind parameters.
func (g *Generator) FindAllByID(ctx *mapping.Context, rootType reflect.Type, n int) (string, error) {
	return g.find(ctx, rootType, n)
}

func (g *Generator) find(ctx *mapping.Context, rootType reflect.Type, idParams int) (string, error) {
	root, err := ctx.Aggregate(rootType)
	if err != nil {
		return "", err
	}
	rootEntity, err := root.RequiredLeaf()
	if err != nil {
		return "", err
	}
	paths, err := ctx.EntityPaths(rootType)
	if err != nil {
		return "", err
	}
	if (len(paths) > 0 || idParams > 0) && rootEntity.ID == nil {
		return "", &mapping.Error{Type: rootType, Reason: "aggregate root requires an identifier"}
	}

	rootCols, err := g.TableColumns(root)
	if err != nil {
		return "", err
	}
	rootAlias := g.aliases.TableAlias(root)
	idCol := ""
	if rootEntity.ID != nil {
		idCol = rootEntity.ID.Column
	}

	var (
		selects []string
		rns     []string
		from    strings.Builder
	)
	// Root inline view: each root row is the single row of its own
	// partition, so its row number and count are the literal 1.
	from.WriteString("FROM (SELECT 1 AS rn, 1 AS rc, ")
	from.WriteString(joinColumns(rootCols))
	from.WriteString(" FROM ")
	from.WriteString(rootEntity.Table)
	from.WriteString(") ")
	from.WriteString(rootAlias)
	for _, c := range rootCols {
		selects = append(selects, rootAlias+"."+c.Column+" AS "+c.Alias)
	}
	rns = append(rns, rootAlias+".rn")

	for _, p := range paths {
		view, viewSelects, viewRn, err := g.childView(p)
		if err != nil {
			return "", err
		}
		parent, err := p.IDDefiningParentPath()
		if err != nil {
			return "", err
		}
		parentEntity, err := parent.RequiredLeaf()
		if err != nil {
			return "", err
		}
		if parentEntity.ID == nil {
			return "", &mapping.Error{Type: parentEntity.Type, Reason: "referencing entity requires an identifier"}
		}
		backRef, err := p.ReverseColumnName()
		if err != nil {
			return "", err
		}
		alias := g.aliases.TableAlias(p)
		from.WriteString(" LEFT JOIN (")
		from.WriteString(view)
		from.WriteString(") ")
		from.WriteString(alias)
		from.WriteString(" ON ")
		from.WriteString(alias + "." + backRef)
		from.WriteString(" = ")
		from.WriteString(g.aliases.TableAlias(parent) + "." + parentEntity.ID.Column)
		selects = append(selects, viewSelects...)
		rns = append(rns, "COALESCE("+viewRn+", 1)")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(", ")
	b.WriteString(g.d.Greatest(rns...))
	b.WriteString(" AS rn ")
	b.WriteString(from.String())
	switch {
	case idParams == 1:
		b.WriteString(" WHERE " + rootAlias + "." + idCol + " = " + g.d.Placeholder(1))
	case idParams > 1:
		b.WriteString(" WHERE " + rootAlias + "." + idCol + " IN (" + g.d.Placeholders(1, idParams) + ")")
	}
	if idCol != "" {
		b.WriteString(" ORDER BY " + rootAlias + "." + idCol)
		if len(paths) > 0 {
			b.WriteString(", rn")
		}
	}
	return b.String(), nil
}

// childView renders the inline view of one entity path along with its
// outer projections and the qualified name of its row-number column.
func (g *Generator) childView(p *mapping.AggregatePath) (view string, selects []string, rn string, err error) {
	entity, err := p.RequiredLeaf()
	if err != nil {
		return "", nil, "", err
	}
	table, err := p.TableName()
	if err != nil {
		return "", nil, "", err
	}
	backRef, err := p.ReverseColumnName()
	if err != nil {
		return "", nil, "", err
	}
	cols, err := g.TableColumns(p)
	if err != nil {
		return "", nil, "", err
	}
	keyCol := ""
	if p.IsQualified() {
		if keyCol, err = p.KeyColumnName(); err != nil {
			return "", nil, "", err
		}
	}
	// Window ordering: the collection qualifier when present, the id
	// otherwise, falling back to the back-reference for id-less sets.
	orderCol := backRef
	switch {
	case keyCol != "":
		orderCol = keyCol
	case entity.ID != nil:
		orderCol = entity.ID.Column
	}
	rnAlias := g.aliases.RowNumberAlias(p)
	rcAlias := g.aliases.RowCountAlias(p)
	alias := g.aliases.TableAlias(p)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(backRef)
	if keyCol != "" {
		b.WriteString(", " + keyCol)
	}
	if len(cols) > 0 {
		b.WriteString(", " + joinColumns(cols))
	}
	b.WriteString(", ROW_NUMBER() OVER (PARTITION BY " + backRef + " ORDER BY " + orderCol + ") AS " + rnAlias)
	b.WriteString(", COUNT(*) OVER (PARTITION BY " + backRef + ") AS " + rcAlias)
	b.WriteString(" FROM " + table)

	for _, c := range cols {
		selects = append(selects, alias+"."+c.Column+" AS "+c.Alias)
	}
	// The back-reference is what ties a flattened element row back to its
	// parent during reconstruction.
	selects = append(selects, alias+"."+backRef+" AS "+g.aliases.BackRefAlias(p))
	if keyCol != "" {
		selects = append(selects, alias+"."+keyCol+" AS "+g.aliases.KeyAlias(p))
	}
	selects = append(selects,
		alias+"."+rnAlias+" AS "+rnAlias,
		alias+"."+rcAlias+" AS "+rcAlias,
	)
	return b.String(), selects, alias + "." + rnAlias, nil
}

// TableColumns enumerates the simple columns stored in the table at the
// given entity path, descending through embedded properties. The alias of
// each column is stable per path and column.
func (g *Generator) TableColumns(p *mapping.AggregatePath) ([]ProjectedColumn, error) {
	entity, err := p.RequiredLeaf()
	if err != nil {
		return nil, err
	}
	var out []ProjectedColumn
	for _, prop := range entity.Properties {
		switch prop.Kind {
		case mapping.KindColumn:
			sub, err := p.Append(prop.Name)
			if err != nil {
				return nil, err
			}
			col, err := sub.ColumnName()
			if err != nil {
				return nil, err
			}
			out = append(out, ProjectedColumn{
				Column: col,
				Alias:  g.aliases.ColumnAlias(p, col),
			})
		case mapping.KindEmbedded:
			sub, err := p.Append(prop.Name)
			if err != nil {
				return nil, err
			}
			nested, err := g.embeddedColumns(p, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// embeddedColumns enumerates the prefixed columns an embedded property
// contributes to the table owned by tablePath.
func (g *Generator) embeddedColumns(tablePath, p *mapping.AggregatePath) ([]ProjectedColumn, error) {
	entity, err := p.RequiredLeaf()
	if err != nil {
		return nil, err
	}
	var out []ProjectedColumn
	for _, prop := range entity.Properties {
		sub, err := p.Append(prop.Name)
		if err != nil {
			return nil, err
		}
		switch prop.Kind {
		case mapping.KindColumn:
			col, err := sub.ColumnName()
			if err != nil {
				return nil, err
			}
			out = append(out, ProjectedColumn{
				Column: col,
				Alias:  g.aliases.ColumnAlias(tablePath, col),
			})
		case mapping.KindEmbedded:
			nested, err := g.embeddedColumns(tablePath, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

func joinColumns(cols []ProjectedColumn) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Column
	}
	return strings.Join(names, ", ")
}
