// Package convert translates between database rows and aggregate object
// graphs: documents read from a result set are mapped onto entity structs,
// and flattened single-query result sets are partitioned back into whole
// aggregates.
package convert

import (
	"github.com/syssam/arbor/dialect/sql"
	"github.com/syssam/arbor/row"
)

// ReadDocuments drains a result set into one document per row. Byte
// slices are copied because drivers may reuse their scan buffers between
// calls to Next.
func ReadDocuments(rows sql.ColumnScanner) ([]*row.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var docs []*row.Document
	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			values[i] = new(any)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		doc := row.NewDocument()
		for i, c := range columns {
			v := *(values[i].(*any))
			if b, ok := v.([]byte); ok {
				cp := make([]byte, len(b))
				copy(cp, b)
				v = cp
			}
			doc.Set(c, v)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
