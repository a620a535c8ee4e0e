package visitors

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// SQLiteVisitor generates SQLite-dialect SQL.
// Identifiers are quoted with double quotes: "table"."column" (ANSI SQL).
type SQLiteVisitor struct {
	*baseVisitor
}

// NewSQLiteVisitor creates a SQLiteVisitor for lang.
func NewSQLiteVisitor(lang *dialect.Language, opts ...Option) *SQLiteVisitor {
	v := &SQLiteVisitor{}
	v.baseVisitor = newBase(lang)
	v.outer = v
	v.skipOnly = "-1"
	v.funcs[nodes.MethodSubstring] = "SUBSTR"
	v.datePart = func(part, arg string) string {
		return "CAST(strftime('" + sqliteDateParts[part] + "', " + arg + ") AS INTEGER)"
	}
	v.applyOptions(opts)
	return v
}

var sqliteDateParts = map[string]string{
	"year":   "%Y",
	"month":  "%m",
	"day":    "%d",
	"hour":   "%H",
	"minute": "%M",
	"second": "%S",
}
