package visitors

import (
	"encoding/hex"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
)

// PostgresVisitor generates PostgreSQL-dialect SQL.
// Identifiers are quoted with double quotes: "table"."column".
type PostgresVisitor struct {
	*baseVisitor
}

// NewPostgresVisitor creates a PostgresVisitor for lang.
func NewPostgresVisitor(lang *dialect.Language, opts ...Option) *PostgresVisitor {
	v := &PostgresVisitor{}
	v.baseVisitor = newBase(lang)
	v.outer = v
	v.datePart = func(part, arg string) string {
		return "CAST(EXTRACT(" + part + " FROM " + arg + ") AS INTEGER)"
	}
	v.bytesFormat = func(b []byte) string { return `'\x` + hex.EncodeToString(b) + "'::bytea" }
	v.applyOptions(opts)
	return v
}

// VisitAggregate casts integer averages to float so results keep their
// fraction.
func (v *PostgresVisitor) VisitAggregate(n *nodes.Aggregate) string {
	if n.Func == nodes.AggAvg && n.Arg != nil && isIntegral(n.Arg) {
		return "AVG(CAST(" + v.value(n.Arg) + " AS double precision))"
	}
	return v.baseVisitor.VisitAggregate(n)
}
