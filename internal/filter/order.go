package filter

import (
	"cmp"

	"github.com/roach88/liveview/internal/ir"
)

// CompareRows orders two rows by the ordering terms, then by id ascending.
// NULL sorts first under asc and last under desc. Returns -1, 0 or 1;
// 0 only when the ids are equal.
func CompareRows(order []Order, a, b ir.Row) int {
	for _, o := range order {
		c := ir.Compare(a.Get(o.Column), b.Get(o.Column))
		if normDirection(o.Direction) == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

// Compare orders two rows by f's ordering with the id tiebreak.
func (f Filter) Compare(a, b ir.Row) int {
	return CompareRows(f.Ordering, a, b)
}
