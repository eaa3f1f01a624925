package sqlgen

import (
	"strings"

	"github.com/syssam/arbor/row"
)

// Generator renders SQL statements for one dialect. It owns the alias
// factory used by the single-query read path, so generated aliases stay
// stable for the generator's lifetime.
type Generator struct {
	d       Dialect
	aliases *AliasFactory
}

// NewGenerator returns a generator for the given dialect.
func NewGenerator(d Dialect) *Generator {
	return &Generator{d: d, aliases: NewAliasFactory()}
}

// Dialect returns the generator's dialect.
func (g *Generator) Dialect() Dialect { return g.d }

// Aliases returns the generator's alias factory.
func (g *Generator) Aliases() *AliasFactory { return g.aliases }

// Insert renders an INSERT of the outbound row into the table. If
// returning is non-empty and the dialect supports it, the statement
// requests the generated column back.
func (g *Generator) Insert(table string, doc *row.Document, returning string) (string, []any) {
	cols := doc.Columns()
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	if len(cols) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString(" (")
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(") VALUES (")
		b.WriteString(g.d.Placeholders(1, len(cols)))
		b.WriteString(")")
	}
	if returning != "" && g.d.Returning {
		b.WriteString(" RETURNING ")
		b.WriteString(returning)
	}
	return b.String(), doc.Values()
}

// BatchInsert renders one multi-row INSERT for documents sharing the same
// column set. The caller guarantees a uniform shape; this is what the
// batching combiner's partitioning by path and id-value source provides.
func (g *Generator) BatchInsert(table string, docs []*row.Document, returning string) (string, []any) {
	cols := docs[0].Columns()
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	args := make([]any, 0, len(docs)*len(cols))
	for i, doc := range docs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(g.d.Placeholders(i*len(cols)+1, len(cols)))
		b.WriteString(")")
		args = append(args, doc.Values()...)
	}
	if returning != "" && g.d.Returning {
		b.WriteString(" RETURNING ")
		b.WriteString(returning)
	}
	return b.String(), args
}

// Update renders an UPDATE of the outbound row identified by idColumn.
func (g *Generator) Update(table string, doc *row.Document, idColumn string, id any) (string, []any) {
	cols := doc.Columns()
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(table)
	b.WriteString(" SET ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(" = ")
		b.WriteString(g.d.Placeholder(i + 1))
	}
	b.WriteString(" WHERE ")
	b.WriteString(idColumn)
	b.WriteString(" = ")
	b.WriteString(g.d.Placeholder(len(cols) + 1))
	return b.String(), append(doc.Values(), id)
}

// Exists renders a SELECT probing for a row whose column equals the value.
func (g *Generator) Exists(table, column string, value any) (string, []any) {
	return "SELECT " + column + " FROM " + table + " WHERE " + column + " = " + g.d.Placeholder(1),
		[]any{value}
}

// Delete renders a DELETE of the rows whose column equals the value.
// The column is the id column for root deletes and the back-reference
// column for child-path deletes.
func (g *Generator) Delete(table, column string, value any) (string, []any) {
	return "DELETE FROM " + table + " WHERE " + column + " = " + g.d.Placeholder(1),
		[]any{value}
}

// DeleteIn renders a DELETE of the rows whose column is in values.
func (g *Generator) DeleteIn(table, column string, values []any) (string, []any) {
	return "DELETE FROM " + table + " WHERE " + column + " IN (" +
		g.d.Placeholders(1, len(values)) + ")", values
}

// DeleteAll renders a DELETE of every row of the table.
func (g *Generator) DeleteAll(table string) string {
	return "DELETE FROM " + table
}
