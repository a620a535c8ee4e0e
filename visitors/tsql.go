package visitors

import (
	"encoding/hex"
	"strings"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// TSQLVisitor generates SQL Server SQL.
// Identifiers are quoted with brackets: [table].[column].
type TSQLVisitor struct {
	*baseVisitor
}

// NewTSQLVisitor creates a TSQLVisitor for lang.
func NewTSQLVisitor(lang *dialect.Language, opts ...Option) *TSQLVisitor {
	v := &TSQLVisitor{}
	v.baseVisitor = newBase(lang)
	v.outer = v
	v.concat = func(a, b string) string { return a + " + " + b }
	v.funcs[nodes.MethodLength] = "LEN"
	v.trim = func(arg string) string { return "LTRIM(RTRIM(" + arg + "))" }
	v.datePart = func(part, arg string) string { return "DATEPART(" + part + ", " + arg + ")" }
	v.bytesFormat = func(b []byte) string { return "0x" + strings.ToUpper(hex.EncodeToString(b)) }
	v.applyOptions(opts)
	return v
}

// VisitAggregate averages integers as floats; SQL Server would otherwise
// truncate.
func (v *TSQLVisitor) VisitAggregate(n *nodes.Aggregate) string {
	if n.Func == nodes.AggAvg && n.Arg != nil && isIntegral(n.Arg) {
		return "AVG(CAST(" + v.value(n.Arg) + " AS float))"
	}
	return v.baseVisitor.VisitAggregate(n)
}
