package visitors

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// MySQLVisitor generates MySQL-dialect SQL.
// Identifiers are quoted with backticks: `table`.`column`.
type MySQLVisitor struct {
	*baseVisitor
}

// NewMySQLVisitor creates a MySQLVisitor for lang.
func NewMySQLVisitor(lang *dialect.Language, opts ...Option) *MySQLVisitor {
	v := &MySQLVisitor{}
	v.baseVisitor = newBase(lang)
	v.outer = v
	v.skipOnly = "18446744073709551615"
	v.concat = func(a, b string) string { return "CONCAT(" + a + ", " + b + ")" }
	v.funcs[nodes.MethodLength] = "CHAR_LENGTH"
	v.datePart = func(part, arg string) string { return mysqlDateParts[part] + "(" + arg + ")" }
	v.applyOptions(opts)
	return v
}

var mysqlDateParts = map[string]string{
	"year":   "YEAR",
	"month":  "MONTH",
	"day":    "DAY",
	"hour":   "HOUR",
	"minute": "MINUTE",
	"second": "SECOND",
}
