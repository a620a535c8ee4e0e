package nodes

import "github.com/bawdo/relq/model"

// Constant is a literal value known when the query is built.
type Constant struct {
	Value any
	Typ   model.Type
}

func (n *Constant) Accept(v Visitor) string { return v.VisitConstant(n) }
func (n *Constant) Transform(t Transformer) Node { return t.TransformConstant(n) }
func (n *Constant) Type() model.Type { return n.Typ }

// NewConstant creates a constant of the given type.
func NewConstant(value any, typ model.Type) *Constant {
	return &Constant{Value: value, Typ: typ}
}

// Parameter is a lambda parameter or, when bound by no lambda, a query
// argument supplied at execution. Parameters compare by identity.
type Parameter struct {
	Name string
	Typ  model.Type
}

func (n *Parameter) Accept(v Visitor) string { return v.VisitParameter(n) }
func (n *Parameter) Transform(t Transformer) Node { return t.TransformParameter(n) }
func (n *Parameter) Type() model.Type { return n.Typ }

// NewParameter creates a parameter.
func NewParameter(name string, typ model.Type) *Parameter {
	return &Parameter{Name: name, Typ: typ}
}

// Lambda is a function literal passed to a query operator.
type Lambda struct {
	Params []*Parameter
	Body   Node
}

func (n *Lambda) Accept(v Visitor) string { return v.VisitLambda(n) }
func (n *Lambda) Transform(t Transformer) Node { return t.TransformLambda(n) }
func (n *Lambda) Type() model.Type { return n.Body.Type() }

// NewLambda creates a lambda.
func NewLambda(body Node, params ...*Parameter) *Lambda {
	return &Lambda{Params: params, Body: body}
}

// Member reads a named member of a record, entity or grouping.
type Member struct {
	Expr Node
	Name string
	Typ  model.Type
}

func (n *Member) Accept(v Visitor) string { return v.VisitMember(n) }
func (n *Member) Transform(t Transformer) Node { return t.TransformMember(n) }
func (n *Member) Type() model.Type { return n.Typ }

// MemberOf creates a member access, inferring its type from expr.
func MemberOf(expr Node, name string) *Member {
	return &Member{Expr: expr, Name: name, Typ: MemberType(expr.Type(), name)}
}

// MemberType returns the type of member name on t, or nil.
func MemberType(t model.Type, name string) model.Type {
	switch x := t.(type) {
	case *model.Struct:
		if f, ok := x.Field(name); ok {
			return f.Type
		}
	case *model.Group:
		if name == "Key" {
			return x.Key
		}
	}
	return nil
}

// FieldInit is one member assignment inside a New.
type FieldInit struct {
	Name string
	Expr Node
}

// New constructs a record of Typ from its field initializers.
type New struct {
	Typ    *model.Struct
	Fields []FieldInit
}

func (n *New) Accept(v Visitor) string { return v.VisitNew(n) }
func (n *New) Transform(t Transformer) Node { return t.TransformNew(n) }
func (n *New) Type() model.Type { return n.Typ }

// Field returns the initializer for the named field, or nil.
func (n *New) Field(name string) Node {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Expr
		}
	}
	return nil
}

// BinaryOp identifies a binary operator.
type BinaryOp int

const (
	OpPlus BinaryOp = iota
	OpMinus
	OpMultiply
	OpDivide
	OpModulo
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
	OpConcat
	OpCoalesce
)

var binaryOpNames = [...]string{
	OpPlus:     "+",
	OpMinus:    "-",
	OpMultiply: "*",
	OpDivide:   "/",
	OpModulo:   "%",
	OpEq:       "==",
	OpNotEq:    "!=",
	OpLt:       "<",
	OpLtEq:     "<=",
	OpGt:       ">",
	OpGtEq:     ">=",
	OpAnd:      "&&",
	OpOr:       "||",
	OpConcat:   "+",
	OpCoalesce: "??",
}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// IsComparison reports whether op yields a boolean from two operands.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGtEq
}

// IsLogical reports whether op is AND or OR.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// Binary applies a binary operator.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
	Typ   model.Type
}

func (n *Binary) Accept(v Visitor) string { return v.VisitBinary(n) }
func (n *Binary) Transform(t Transformer) Node { return t.TransformBinary(n) }
func (n *Binary) Type() model.Type { return n.Typ }

// NewBinary creates a binary node, inferring its type from the operands.
func NewBinary(op BinaryOp, left, right Node) *Binary {
	var typ model.Type
	switch {
	case op.IsComparison() || op.IsLogical():
		typ = model.Bool
	case op == OpCoalesce:
		typ = right.Type()
	default:
		typ = left.Type()
		if typ == nil {
			typ = right.Type()
		}
	}
	return &Binary{Op: op, Left: left, Right: right, Typ: typ}
}

// And combines predicates, skipping nil operands.
func And(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		switch {
		case p == nil:
		case out == nil:
			out = p
		default:
			out = NewBinary(OpAnd, out, p)
		}
	}
	return out
}

// Eq creates an equality comparison.
func Eq(left, right Node) *Binary { return NewBinary(OpEq, left, right) }

// UnaryOp identifies a unary operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNegate
	OpConvert
)

// Unary applies a unary operator. OpConvert changes the static type only.
type Unary struct {
	Op   UnaryOp
	Expr Node
	Typ  model.Type
}

func (n *Unary) Accept(v Visitor) string { return v.VisitUnary(n) }
func (n *Unary) Transform(t Transformer) Node { return t.TransformUnary(n) }
func (n *Unary) Type() model.Type { return n.Typ }

// Not negates a predicate.
func Not(expr Node) *Unary { return &Unary{Op: OpNot, Expr: expr, Typ: model.Bool} }

// Conditional selects Then or Else depending on Test.
type Conditional struct {
	Test Node
	Then Node
	Else Node
	Typ  model.Type
}

func (n *Conditional) Accept(v Visitor) string { return v.VisitConditional(n) }
func (n *Conditional) Transform(t Transformer) Node { return t.TransformConditional(n) }
func (n *Conditional) Type() model.Type { return n.Typ }

// Call applies a query operator or a scalar method to its arguments. The
// first argument of a query operator is its source sequence.
type Call struct {
	Method Method
	Args   []Node
	Typ    model.Type
}

func (n *Call) Accept(v Visitor) string { return v.VisitCall(n) }
func (n *Call) Transform(t Transformer) Node { return t.TransformCall(n) }
func (n *Call) Type() model.Type { return n.Typ }

// Root is the queryable sequence of all rows of an entity.
type Root struct {
	Entity *MappingEntity
}

func (n *Root) Accept(v Visitor) string { return v.VisitRoot(n) }
func (n *Root) Transform(t Transformer) Node { return t.TransformRoot(n) }
func (n *Root) Type() model.Type { return model.SeqOf(n.Entity.Type) }
