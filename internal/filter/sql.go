package filter

import (
	"fmt"
	"strings"

	"github.com/roach88/liveview/internal/ir"
)

// SQL is a parameterized SQLite statement or fragment.
type SQL struct {
	Text   string
	Params []any
}

// ToSQL compiles a select over table for f.
//
// MANDATORY: every query ends with "id" ASC so results are deterministic.
// MANDATORY: values are parameterized, never interpolated.
// Identifiers are double-quoted; Validate rejects names containing quotes.
func ToSQL(table string, f Filter) (SQL, error) {
	if err := Validate(f, nil); err != nil {
		return SQL{}, err
	}
	where, err := WhereSQL(f)
	if err != nil {
		return SQL{}, err
	}
	text := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s",
		QuoteIdent(table), where.Text, orderSQL(f.Ordering))
	return SQL{Text: text, Params: where.Params}, nil
}

// WhereSQL compiles only the predicate, for count/exists/bulk statements.
func WhereSQL(f Filter) (SQL, error) {
	var c sqlCompiler
	text, err := c.condition(f.where())
	if err != nil {
		return SQL{}, err
	}
	return SQL{Text: text, Params: c.params}, nil
}

// QuoteIdent double-quotes an identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// orderSQL renders the ORDER BY terms with the id tiebreak.
// COLLATE BINARY pins text ordering to bytewise comparison.
func orderSQL(order []Order) string {
	parts := make([]string, 0, len(order)+1)
	for _, o := range order {
		dir := "ASC"
		if normDirection(o.Direction) == Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s COLLATE BINARY %s", QuoteIdent(o.Column), dir))
	}
	parts = append(parts, `"id" ASC`)
	return strings.Join(parts, ", ")
}

type sqlCompiler struct {
	params []any
}

func (c *sqlCompiler) bind(v ir.Value) error {
	p, err := ir.ToGo(v)
	if err != nil {
		return fmt.Errorf("convert value: %w", err)
	}
	c.params = append(c.params, p)
	return nil
}

var sqlOps = map[Op]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

func (c *sqlCompiler) condition(cond Condition) (string, error) {
	switch n := deref(cond).(type) {
	case nil, Always:
		return "1 = 1", nil

	case Compare:
		op, ok := sqlOps[n.Op]
		if !ok {
			return "", fmt.Errorf("unsupported operator %q", n.Op)
		}
		if err := c.bind(n.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s ?", QuoteIdent(n.Column), op), nil

	case InSet:
		marks := make([]string, len(n.Values))
		for i, v := range n.Values {
			if err := c.bind(v); err != nil {
				return "", err
			}
			marks[i] = "?"
		}
		kw := "IN"
		if n.Negate {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", QuoteIdent(n.Column), kw, strings.Join(marks, ", ")), nil

	case NullCheck:
		if n.Negate {
			return QuoteIdent(n.Column) + " IS NOT NULL", nil
		}
		return QuoteIdent(n.Column) + " IS NULL", nil

	case LikeMatch:
		c.params = append(c.params, n.Pattern)
		kw := "LIKE"
		if n.Negate {
			kw = "NOT LIKE"
		}
		return fmt.Sprintf("%s %s ?", QuoteIdent(n.Column), kw), nil

	case AllOf:
		return c.join(n.Conditions, " AND ")

	case AnyOf:
		return c.join(n.Conditions, " OR ")

	default:
		return "", fmt.Errorf("unsupported condition type: %T", cond)
	}
}

func (c *sqlCompiler) join(conds []Condition, sep string) (string, error) {
	if len(conds) == 0 {
		return "", fmt.Errorf("empty condition group")
	}
	parts := make([]string, len(conds))
	for i, cond := range conds {
		s, err := c.condition(cond)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}
