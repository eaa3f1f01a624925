// Package row provides a driver-agnostic representation of a single
// database row, used on both the write path (binding parameters) and the
// read path (scanning before object-graph reconstruction).
package row

import (
	"sort"
	"strings"
)

// absent is the internal sentinel distinguishing "column does not exist
// in this result set" from "column exists but is SQL NULL".
type absent struct{}

// Absent is the sentinel value returned by Document.Get for columns that
// are not part of the document at all.
var Absent any = absent{}

// Document is an ordered mapping from column identifier to value.
// Key lookup is case-insensitive so the original column label casing of
// the driver does not matter; the insertion order and original casing are
// preserved for rendering.
type Document struct {
	keys   []string
	values map[string]any // lower-cased key -> value
	labels map[string]string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		values: make(map[string]any),
		labels: make(map[string]string),
	}
}

// Set stores the value under the given column identifier, replacing any
// value stored under a case-insensitive equal identifier.
func (d *Document) Set(column string, value any) *Document {
	k := strings.ToLower(column)
	if _, ok := d.values[k]; !ok {
		d.keys = append(d.keys, k)
		d.labels[k] = column
	}
	d.values[k] = value
	return d
}

// Get returns the value stored under the column identifier. For columns
// not present in the document it returns (Absent, false); a present
// column holding SQL NULL yields (nil, true).
func (d *Document) Get(column string) (any, bool) {
	v, ok := d.values[strings.ToLower(column)]
	if !ok {
		return Absent, false
	}
	return v, true
}

// Has reports whether the column exists in the document, NULL or not.
func (d *Document) Has(column string) bool {
	_, ok := d.values[strings.ToLower(column)]
	return ok
}

// Columns returns the column identifiers in insertion order, with their
// original casing.
func (d *Document) Columns() []string {
	cols := make([]string, len(d.keys))
	for i, k := range d.keys {
		cols[i] = d.labels[k]
	}
	return cols
}

// Values returns the values in insertion order.
func (d *Document) Values() []any {
	vals := make([]any, len(d.keys))
	for i, k := range d.keys {
		vals[i] = d.values[k]
	}
	return vals
}

// Len returns the number of columns in the document.
func (d *Document) Len() int { return len(d.keys) }

// Delete removes the column from the document, if present.
func (d *Document) Delete(column string) {
	k := strings.ToLower(column)
	if _, ok := d.values[k]; !ok {
		return
	}
	delete(d.values, k)
	delete(d.labels, k)
	for i, key := range d.keys {
		if key == k {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// SortedColumns returns the column identifiers sorted lexicographically.
// Used where a deterministic rendering order is required independent of
// insertion order.
func (d *Document) SortedColumns() []string {
	cols := d.Columns()
	sort.Strings(cols)
	return cols
}
