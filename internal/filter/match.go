package filter

import (
	"unicode/utf8"

	"github.com/roach88/liveview/internal/ir"
)

// truth is a SQL three-valued logic result.
type truth int8

const (
	falseT truth = iota
	unknownT
	trueT
)

func boolT(b bool) truth {
	if b {
		return trueT
	}
	return falseT
}

// Matches reports whether row satisfies the filter's condition.
func (f Filter) Matches(row ir.Row) bool {
	return Matches(row, f.where())
}

// Matches reports whether row satisfies c under SQL semantics: a row
// matches only when the condition evaluates to TRUE (not FALSE or UNKNOWN).
// Matches is pure and assumes c is valid.
func Matches(row ir.Row, c Condition) bool {
	return eval(row, c) == trueT
}

func eval(row ir.Row, c Condition) truth {
	switch n := deref(c).(type) {
	case nil, Always:
		return trueT

	case Compare:
		v := row.Get(n.Column)
		if ir.IsNull(v) || ir.IsNull(n.Value) {
			return unknownT
		}
		cmp := ir.Compare(v, n.Value)
		switch n.Op {
		case OpEq:
			return boolT(cmp == 0)
		case OpNe:
			return boolT(cmp != 0)
		case OpLt:
			return boolT(cmp < 0)
		case OpLte:
			return boolT(cmp <= 0)
		case OpGt:
			return boolT(cmp > 0)
		case OpGte:
			return boolT(cmp >= 0)
		}
		return falseT

	case InSet:
		v := row.Get(n.Column)
		if ir.IsNull(v) {
			return unknownT
		}
		found := falseT
		for _, candidate := range n.Values {
			if ir.IsNull(candidate) {
				found = unknownT
				continue
			}
			if ir.Compare(v, candidate) == 0 {
				found = trueT
				break
			}
		}
		if n.Negate {
			return not(found)
		}
		return found

	case NullCheck:
		isNull := ir.IsNull(row.Get(n.Column))
		return boolT(isNull != n.Negate)

	case LikeMatch:
		text, ok := ir.Text(row.Get(n.Column))
		if !ok {
			return unknownT
		}
		m := boolT(likeMatch(n.Pattern, text))
		if n.Negate {
			return not(m)
		}
		return m

	case AllOf:
		result := trueT
		for _, child := range n.Conditions {
			switch eval(row, child) {
			case falseT:
				return falseT
			case unknownT:
				result = unknownT
			}
		}
		return result

	case AnyOf:
		result := falseT
		for _, child := range n.Conditions {
			switch eval(row, child) {
			case trueT:
				return trueT
			case unknownT:
				result = unknownT
			}
		}
		return result
	}
	return falseT
}

func not(t truth) truth {
	switch t {
	case trueT:
		return falseT
	case falseT:
		return trueT
	}
	return unknownT
}

// likeMatch implements SQLite's default LIKE: % matches any sequence,
// _ matches exactly one character, ASCII letters compare case-insensitively,
// all other characters compare exactly. There is no escape character.
func likeMatch(pattern, text string) bool {
	for len(pattern) > 0 {
		pr, psize := utf8.DecodeRuneInString(pattern)
		switch pr {
		case '%':
			for len(pattern) > 0 && (pattern[0] == '%' || pattern[0] == '_') {
				if pattern[0] == '_' {
					if len(text) == 0 {
						return false
					}
					_, tsize := utf8.DecodeRuneInString(text)
					text = text[tsize:]
				}
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for {
				if likeMatch(pattern, text) {
					return true
				}
				if len(text) == 0 {
					return false
				}
				_, tsize := utf8.DecodeRuneInString(text)
				text = text[tsize:]
			}
		case '_':
			if len(text) == 0 {
				return false
			}
			_, tsize := utf8.DecodeRuneInString(text)
			text = text[tsize:]
			pattern = pattern[psize:]
		default:
			if len(text) == 0 {
				return false
			}
			tr, tsize := utf8.DecodeRuneInString(text)
			if foldASCII(pr) != foldASCII(tr) {
				return false
			}
			text = text[tsize:]
			pattern = pattern[psize:]
		}
	}
	return len(text) == 0
}

func foldASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
