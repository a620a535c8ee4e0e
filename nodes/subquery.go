package nodes

import "github.com/bawdo/relq/model"

// Scalar is a subquery producing a single value.
type Scalar struct {
	Select *Select
	Typ    model.Type
}

func (n *Scalar) Accept(v Visitor) string { return v.VisitScalar(n) }
func (n *Scalar) Transform(t Transformer) Node { return t.TransformScalar(n) }
func (n *Scalar) Type() model.Type { return n.Typ }

// Exists tests whether a subquery yields any row.
type Exists struct {
	Select *Select
}

func (n *Exists) Accept(v Visitor) string { return v.VisitExists(n) }
func (n *Exists) Transform(t Transformer) Node { return t.TransformExists(n) }
func (n *Exists) Type() model.Type { return model.Bool }

// In tests membership of Expr in either a single-column subquery or a list
// of values. Exactly one of Select and Values is set.
type In struct {
	Expr   Node
	Select *Select
	Values []Node
}

func (n *In) Accept(v Visitor) string { return v.VisitIn(n) }
func (n *In) Transform(t Transformer) Node { return t.TransformIn(n) }
func (n *In) Type() model.Type { return model.Bool }

// IsNull tests Expr for SQL NULL.
type IsNull struct {
	Expr Node
}

func (n *IsNull) Accept(v Visitor) string { return v.VisitIsNull(n) }
func (n *IsNull) Transform(t Transformer) Node { return t.TransformIsNull(n) }
func (n *IsNull) Type() model.Type { return model.Bool }

// Between tests Lower <= Expr <= Upper.
type Between struct {
	Expr  Node
	Lower Node
	Upper Node
}

func (n *Between) Accept(v Visitor) string { return v.VisitBetween(n) }
func (n *Between) Transform(t Transformer) Node { return t.TransformBetween(n) }
func (n *Between) Type() model.Type { return model.Bool }

// RowNumber is ROW_NUMBER() OVER (ORDER BY ...).
type RowNumber struct {
	OrderBy []OrderExpression
}

func (n *RowNumber) Accept(v Visitor) string { return v.VisitRowNumber(n) }
func (n *RowNumber) Transform(t Transformer) Node { return t.TransformRowNumber(n) }
func (n *RowNumber) Type() model.Type { return model.Int }

// NamedValue is a command parameter. Value is evaluated on the client when
// the command runs; it may read query arguments, batch items or columns of
// an outer row.
type NamedValue struct {
	Name      string
	QueryType *QueryType
	Value     Node
}

func (n *NamedValue) Accept(v Visitor) string { return v.VisitNamedValue(n) }
func (n *NamedValue) Transform(t Transformer) Node { return t.TransformNamedValue(n) }
func (n *NamedValue) Type() model.Type { return n.Value.Type() }

// Function is a call to a SQL function by name.
type Function struct {
	Name string
	Args []Node
	Typ  model.Type
}

func (n *Function) Accept(v Visitor) string { return v.VisitFunction(n) }
func (n *Function) Transform(t Transformer) Node { return t.TransformFunction(n) }
func (n *Function) Type() model.Type { return n.Typ }
