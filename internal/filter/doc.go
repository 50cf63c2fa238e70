// Package filter is the filter engine shared by the view cache and the store.
//
// A Filter is an immutable condition tree plus an ordering.
// The same Filter is used two ways:
//
//	[Filter] → Compile  → [Descriptor] → transport → store (SQL via ToSQL)
//	         → Matches  → local incremental maintenance of table views
//
// Both paths MUST agree. Local evaluation therefore follows SQLite exactly:
//   - Three-valued logic: any comparison against NULL is not true, including
//     ne, NOT IN and NOT LIKE
//   - Cross-type ordering NULL < numeric < text; Bool compares as 0/1
//   - BINARY collation for text
//   - LIKE with % and _ wildcards, ASCII-only case folding, no escape char
//   - NULLs sort first under ASC and last under DESC
//
// Every ordering ends with an implicit id ASC tiebreak so that results are
// reproducible across re-evaluations.
//
// Filters are shared between table views when their canonical descriptors
// are byte-identical (see Compile).
package filter
