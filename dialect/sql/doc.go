// Package sql implements the dialect.Driver interface on top of the
// standard database/sql package, and provides the row-scanning and
// instrumentation primitives used by the aggregate persistence engine.
package sql
