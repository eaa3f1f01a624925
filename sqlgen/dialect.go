// Package sqlgen renders the SQL statements executed by the aggregate
// persistence engine, including the single-query read path that retrieves
// a root and all of its nested collections in one round trip.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/arbor/dialect"
)

// Dialect captures the per-database syntax the generator needs: bind
// marker style, RETURNING support and the spelling of the greatest
// function. Everything else the generator renders is portable SQL.
type Dialect struct {
	// Name is one of the dialect package constants.
	Name string
	// Returning reports whether INSERT ... RETURNING is supported and
	// should be used to read generated keys.
	Returning bool

	greatest string
	dollar   bool
}

// ByName returns the Dialect for the given dialect name.
func ByName(name string) (Dialect, error) {
	switch name {
	case dialect.Postgres:
		return Dialect{Name: name, Returning: true, greatest: "GREATEST", dollar: true}, nil
	case dialect.SQLite:
		// SQLite spells the variadic greatest function MAX and supports
		// RETURNING since 3.35.
		return Dialect{Name: name, Returning: true, greatest: "MAX"}, nil
	case dialect.MySQL:
		return Dialect{Name: name, greatest: "GREATEST"}, nil
	default:
		return Dialect{}, fmt.Errorf("sqlgen: unsupported dialect %q", name)
	}
}

// MustByName is like ByName but panics on unsupported dialects.
func MustByName(name string) Dialect {
	d, err := ByName(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Placeholder returns the bind marker for the n-th parameter (1-based).
func (d Dialect) Placeholder(n int) string {
	if d.dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns n comma-separated bind markers starting at from.
func (d Dialect) Placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(from + i))
	}
	return b.String()
}

// Greatest renders the variadic greatest function over the given
// expressions. A single expression is returned unchanged.
func (d Dialect) Greatest(exprs ...string) string {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return d.greatest + "(" + strings.Join(exprs, ", ") + ")"
}
