package sqlgen

import (
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/arbor/mapping"
)

// AliasFactory produces stable, collision-free SQL aliases per aggregate
// path. Aliases are derived from the canonical path string, so two path
// instances denoting the same logical path always yield the identical
// alias, which is what allows the joins of a multi-entity single query to
// line up.
type AliasFactory struct {
	mu    sync.Mutex
	taken map[string]string // alias -> canonical path string
	fixed map[string]string // canonical path string -> disambiguated suffix
}

// NewAliasFactory returns an empty factory.
func NewAliasFactory() *AliasFactory {
	return &AliasFactory{
		taken: make(map[string]string),
		fixed: make(map[string]string),
	}
}

// suffix returns the sanitized, collision-disambiguated identifier stem
// for the path.
func (f *AliasFactory) suffix(p *mapping.AggregatePath) string {
	canonical := p.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.fixed[canonical]; ok {
		return s
	}
	s := sanitize(canonical)
	// Distinct paths that sanitize to the same stem get a deterministic
	// numeric suffix in registration order.
	base, n := s, 1
	for owner, ok := f.taken[s]; ok && owner != canonical; owner, ok = f.taken[s] {
		n++
		s = base + "_" + strconv.Itoa(n)
	}
	f.taken[s] = canonical
	f.fixed[canonical] = s
	return s
}

// TableAlias returns the alias of the inline view for the path.
func (f *AliasFactory) TableAlias(p *mapping.AggregatePath) string {
	return "t_" + f.suffix(p.TableOwningAncestor())
}

// ColumnAlias returns the alias projecting the given column of the path's
// table in the outer query. Root columns keep their plain name.
func (f *AliasFactory) ColumnAlias(p *mapping.AggregatePath, column string) string {
	if p.IsRoot() {
		return column
	}
	return f.suffix(p) + "_" + column
}

// RowNumberAlias returns the alias of the per-partition row number of the
// path's inline view. The root row number is plain "rn".
func (f *AliasFactory) RowNumberAlias(p *mapping.AggregatePath) string {
	if p.IsRoot() {
		return "rn"
	}
	return "rn_" + f.suffix(p)
}

// RowCountAlias returns the alias of the per-partition row count of the
// path's inline view. The root row count is plain "rc".
func (f *AliasFactory) RowCountAlias(p *mapping.AggregatePath) string {
	if p.IsRoot() {
		return "rc"
	}
	return "rc_" + f.suffix(p)
}

// KeyAlias returns the alias projecting the slice index or map key column
// of a qualified path.
func (f *AliasFactory) KeyAlias(p *mapping.AggregatePath) string {
	return "key_" + f.suffix(p)
}

// BackRefAlias returns the alias projecting the back-reference column of
// a non-root path.
func (f *AliasFactory) BackRefAlias(p *mapping.AggregatePath) string {
	return "br_" + f.suffix(p)
}

// sanitize lower-cases the canonical path and strips every rune that is
// not legal inside an unquoted SQL identifier.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.':
			b.WriteByte('_')
		}
	}
	return b.String()
}
