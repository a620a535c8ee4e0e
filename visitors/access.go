package visitors

import (
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// AccessVisitor generates Microsoft Access (Jet) SQL.
// Identifiers are quoted with brackets; there is no CASE, no OFFSET and
// joins nest in parentheses.
type AccessVisitor struct {
	*baseVisitor
}

// NewAccessVisitor creates an AccessVisitor for lang.
func NewAccessVisitor(lang *dialect.Language, opts ...Option) *AccessVisitor {
	v := &AccessVisitor{}
	v.baseVisitor = newBase(lang)
	v.outer = v
	v.concat = func(a, b string) string { return a + " & " + b }
	v.modulo = func(a, b string) string { return a + " MOD " + b }
	v.coalesce = func(a, b string) string { return "IIF(" + a + " IS NULL, " + b + ", " + a + ")" }
	v.top = func(n string) string { return "TOP " + n + " " }
	v.funcs[nodes.MethodToUpper] = "UCASE"
	v.funcs[nodes.MethodToLower] = "LCASE"
	v.funcs[nodes.MethodLength] = "LEN"
	v.funcs[nodes.MethodSubstring] = "MID"
	v.datePart = func(part, arg string) string { return accessDateParts[part] + "(" + arg + ")" }
	v.timeFormat = func(t time.Time) string { return "#" + t.Format("2006-01-02 15:04:05") + "#" }
	v.applyOptions(opts)
	return v
}

var accessDateParts = map[string]string{
	"year":   "YEAR",
	"month":  "MONTH",
	"day":    "DAY",
	"hour":   "HOUR",
	"minute": "MINUTE",
	"second": "SECOND",
}

func (v *AccessVisitor) VisitConditional(n *nodes.Conditional) string {
	return "IIF(" + v.predicate(n.Test) + ", " + v.value(n.Then) + ", " + v.value(n.Else) + ")"
}

// VisitJoin parenthesizes a join used as the left side of another join and
// renders cross joins as a comma list.
func (v *AccessVisitor) VisitJoin(n *nodes.Join) string {
	left := v.source(n.Left)
	if _, ok := n.Left.(*nodes.Join); ok {
		left = "(" + left + ")"
	}
	switch n.Kind {
	case nodes.CrossJoin:
		return left + ", " + v.source(n.Right)
	case nodes.InnerJoin, nodes.LeftOuterJoin:
		s := left + v.nl() + n.Kind.String() + " " + v.source(n.Right)
		if n.Condition != nil {
			s += " ON " + v.predicate(n.Condition)
		}
		return s
	}
	v.fail(n, "access cannot express %s", n.Kind)
	return ""
}
