package nodes

import (
	"strings"

	"github.com/bawdo/relq/model"
)

// String renders n as compact, single-line text for diagnostics and error
// messages. Aliases print as A<n>.
func String(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.Accept(debugWriter{})
}

type debugWriter struct{}

func (w debugWriter) list(ns []Node) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = String(n)
	}
	return strings.Join(parts, ", ")
}

func (w debugWriter) orderBy(os []OrderExpression) string {
	parts := make([]string, len(os))
	for i, o := range os {
		parts[i] = String(o.Expr)
		if o.Direction == Desc {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}

func (w debugWriter) VisitConstant(n *Constant) string { return model.FormatValue(n.Value) }
func (w debugWriter) VisitParameter(n *Parameter) string { return n.Name }

func (w debugWriter) VisitLambda(n *Lambda) string {
	names := make([]string, len(n.Params))
	for i, p := range n.Params {
		names[i] = p.Name
	}
	return "(" + strings.Join(names, ", ") + ") => " + String(n.Body)
}

func (w debugWriter) VisitMember(n *Member) string { return String(n.Expr) + "." + n.Name }

func (w debugWriter) VisitNew(n *New) string {
	parts := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		parts[i] = f.Name + " = " + String(f.Expr)
	}
	return "new " + n.Typ.Name + "{" + strings.Join(parts, ", ") + "}"
}

func (w debugWriter) VisitBinary(n *Binary) string {
	return "(" + String(n.Left) + " " + n.Op.String() + " " + String(n.Right) + ")"
}

func (w debugWriter) VisitUnary(n *Unary) string {
	switch n.Op {
	case OpNot:
		return "!" + String(n.Expr)
	case OpNegate:
		return "-" + String(n.Expr)
	}
	return "(" + n.Typ.String() + ")" + String(n.Expr)
}

func (w debugWriter) VisitConditional(n *Conditional) string {
	return "(" + String(n.Test) + " ? " + String(n.Then) + " : " + String(n.Else) + ")"
}

func (w debugWriter) VisitCall(n *Call) string {
	return string(n.Method) + "(" + w.list(n.Args) + ")"
}

func (w debugWriter) VisitRoot(n *Root) string { return "Query(" + n.Entity.Type.Name + ")" }

func (w debugWriter) VisitTable(n *Table) string { return "T(" + n.Name + ") AS " + n.Alias.String() }
func (w debugWriter) VisitColumn(n *Column) string { return n.Alias.String() + "." + n.Name }

func (w debugWriter) VisitSelect(n *Select) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if n.Distinct {
		sb.WriteString("DISTINCT ")
	}
	for i, c := range n.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(String(c.Expr) + " AS " + c.Name)
	}
	if n.From != nil {
		sb.WriteString(" FROM " + w.source(n.From))
	}
	if n.Where != nil {
		sb.WriteString(" WHERE " + String(n.Where))
	}
	if len(n.GroupBy) > 0 {
		sb.WriteString(" GROUP BY " + w.list(n.GroupBy))
	}
	if len(n.OrderBy) > 0 {
		sb.WriteString(" ORDER BY " + w.orderBy(n.OrderBy))
	}
	if n.Skip != nil {
		sb.WriteString(" SKIP " + String(n.Skip))
	}
	if n.Take != nil {
		sb.WriteString(" TAKE " + String(n.Take))
	}
	return sb.String()
}

func (w debugWriter) source(n Node) string {
	if s, ok := n.(*Select); ok {
		return "(" + String(s) + ") AS " + s.Alias.String()
	}
	return String(n)
}

func (w debugWriter) VisitJoin(n *Join) string {
	s := w.source(n.Left) + " " + n.Kind.String() + " " + w.source(n.Right)
	if n.Condition != nil {
		s += " ON " + String(n.Condition)
	}
	return s
}

func (w debugWriter) VisitOuterJoined(n *OuterJoined) string {
	return "OuterJoined(" + String(n.Test) + ", " + String(n.Expr) + ")"
}

func (w debugWriter) VisitAggregate(n *Aggregate) string {
	arg := "*"
	if n.Arg != nil {
		arg = String(n.Arg)
	}
	if n.Distinct {
		arg = "DISTINCT " + arg
	}
	return n.Func.String() + "(" + arg + ")"
}

func (w debugWriter) VisitAggregateSubquery(n *AggregateSubquery) string {
	return "AggregateSubquery(" + n.GroupAlias.String() + ", " + String(n.InGroup) + ")"
}

func (w debugWriter) VisitScalar(n *Scalar) string { return "(" + String(n.Select) + ")" }
func (w debugWriter) VisitExists(n *Exists) string { return "EXISTS(" + String(n.Select) + ")" }

func (w debugWriter) VisitIn(n *In) string {
	if n.Select != nil {
		return String(n.Expr) + " IN (" + String(n.Select) + ")"
	}
	return String(n.Expr) + " IN (" + w.list(n.Values) + ")"
}

func (w debugWriter) VisitIsNull(n *IsNull) string { return String(n.Expr) + " IS NULL" }

func (w debugWriter) VisitBetween(n *Between) string {
	return String(n.Expr) + " BETWEEN " + String(n.Lower) + " AND " + String(n.Upper)
}

func (w debugWriter) VisitRowNumber(n *RowNumber) string {
	return "ROW_NUMBER() OVER (ORDER BY " + w.orderBy(n.OrderBy) + ")"
}

func (w debugWriter) VisitNamedValue(n *NamedValue) string { return "@" + n.Name }

func (w debugWriter) VisitFunction(n *Function) string {
	return n.Name + "(" + w.list(n.Args) + ")"
}

func (w debugWriter) VisitEntity(n *Entity) string { return String(n.Expr) }

func (w debugWriter) VisitGrouping(n *Grouping) string {
	return "Grouping(" + String(n.Key) + ", " + String(n.Group) + ")"
}

func (w debugWriter) VisitProjection(n *Projection) string {
	s := "Projection(" + String(n.Select) + " => " + String(n.Projector)
	if n.Aggregator != nil {
		s += " | " + n.Aggregator.Shape.String()
	}
	return s + ")"
}

func (w debugWriter) VisitClientJoin(n *ClientJoin) string {
	return "ClientJoin(" + String(n.Projection) + " ON [" + w.list(n.OuterKey) + "] = [" + w.list(n.InnerKey) + "])"
}

func (w debugWriter) assignments(as []ColumnAssignment) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.Column.Name + " = " + String(a.Expr)
	}
	return strings.Join(parts, ", ")
}

func (w debugWriter) VisitInsert(n *Insert) string {
	return "INSERT " + n.Table.Name + " SET " + w.assignments(n.Assignments)
}

func (w debugWriter) VisitUpdate(n *Update) string {
	return "UPDATE " + n.Table.Name + " SET " + w.assignments(n.Assignments) + " WHERE " + String(n.Where)
}

func (w debugWriter) VisitUpsert(n *Upsert) string {
	return "IF " + String(n.Check) + " THEN " + String(n.Update) + " ELSE " + String(n.Insert)
}

func (w debugWriter) VisitDelete(n *Delete) string {
	s := "DELETE " + n.Table.Name
	if n.Where != nil {
		s += " WHERE " + String(n.Where)
	}
	return s
}

func (w debugWriter) VisitBatch(n *Batch) string {
	return "Batch(" + String(n.Input) + ", " + String(n.Operation) + ")"
}
