package query

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Fn1 builds a one-parameter lambda. body receives the parameter.
func Fn1(name string, t model.Type, body func(p nodes.Node) nodes.Node) *nodes.Lambda {
	p := nodes.NewParameter(name, t)
	return nodes.NewLambda(body(p), p)
}

// Fn2 builds a two-parameter lambda.
func Fn2(n1 string, t1 model.Type, n2 string, t2 model.Type, body func(a, b nodes.Node) nodes.Node) *nodes.Lambda {
	a := nodes.NewParameter(n1, t1)
	b := nodes.NewParameter(n2, t2)
	return nodes.NewLambda(body(a, b), a, b)
}

// Arg declares a query argument. Its value is supplied when the query runs,
// so one compiled plan serves every value.
func Arg(name string, t model.Type) *nodes.Parameter {
	return nodes.NewParameter(name, t)
}

// M reads a chain of members: M(o, "Customer", "City").
func M(n nodes.Node, names ...string) nodes.Node {
	for _, name := range names {
		n = nodes.MemberOf(n, name)
	}
	return n
}

// Lit is a literal whose type follows its Go value.
func Lit(v any) *nodes.Constant {
	return nodes.NewConstant(normalize(v), typeOf(v))
}

// LitOf is a literal of an explicit type, typically a typed NULL.
func LitOf(v any, t model.Type) *nodes.Constant {
	return nodes.NewConstant(normalize(v), t)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func typeOf(v any) model.Type {
	switch x := v.(type) {
	case bool:
		return model.Bool
	case int, int32, int64:
		return model.Int
	case float32, float64:
		return model.Float
	case decimal.Decimal:
		return model.Decimal
	case string:
		return model.String
	case time.Time:
		return model.Time
	case []byte:
		return model.Bytes
	case uuid.UUID:
		return model.UUID
	case *model.Record:
		return x.Type
	}
	panic(fmt.Sprintf("query: no type for literal %T", v))
}

// --- Operators ---

func Eq(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpEq, a, b) }
func Ne(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpNotEq, a, b) }
func Lt(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpLt, a, b) }
func Le(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpLtEq, a, b) }
func Gt(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpGt, a, b) }
func Ge(a, b nodes.Node) nodes.Node  { return nodes.NewBinary(nodes.OpGtEq, a, b) }
func Add(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpPlus, a, b) }
func Sub(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpMinus, a, b) }
func Mul(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpMultiply, a, b) }
func Div(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpDivide, a, b) }
func Mod(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpModulo, a, b) }

// Concat joins two strings.
func Concat(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpConcat, a, b) }

// Coalesce is a unless a is NULL, then b.
func Coalesce(a, b nodes.Node) nodes.Node { return nodes.NewBinary(nodes.OpCoalesce, a, b) }

// And joins predicates; nil predicates are skipped.
func And(preds ...nodes.Node) nodes.Node { return nodes.And(preds...) }

// Or joins predicates; nil predicates are skipped.
func Or(preds ...nodes.Node) nodes.Node {
	var out nodes.Node
	for _, p := range preds {
		switch {
		case p == nil:
		case out == nil:
			out = p
		default:
			out = nodes.NewBinary(nodes.OpOr, out, p)
		}
	}
	return out
}

func Not(n nodes.Node) nodes.Node { return nodes.Not(n) }

// Neg negates a number.
func Neg(n nodes.Node) nodes.Node {
	return &nodes.Unary{Op: nodes.OpNegate, Expr: n, Typ: n.Type()}
}

// Convert changes the type of n.
func Convert(n nodes.Node, t model.Type) nodes.Node {
	return &nodes.Unary{Op: nodes.OpConvert, Expr: n, Typ: t}
}

// Cond is a conditional expression, CASE WHEN in SQL.
func Cond(test, then, els nodes.Node) nodes.Node {
	t := then.Type()
	if t == nil {
		t = els.Type()
	}
	return &nodes.Conditional{Test: test, Then: then, Else: els, Typ: t}
}

// Rec constructs an anonymous record from name, expression pairs.
func Rec(kv ...any) nodes.Node {
	if len(kv)%2 != 0 {
		panic("query: Rec takes name, expression pairs")
	}
	fields := make([]model.Field, 0, len(kv)/2)
	inits := make([]nodes.FieldInit, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name := kv[i].(string)
		e := kv[i+1].(nodes.Node)
		fields = append(fields, model.Field{Name: name, Type: e.Type()})
		inits = append(inits, nodes.FieldInit{Name: name, Expr: e})
	}
	return &nodes.New{Typ: model.Anon(fields...), Fields: inits}
}

// New constructs an instance of the named struct t, for commands.
func New(t *model.Struct, kv ...any) nodes.Node {
	if len(kv)%2 != 0 {
		panic("query: New takes name, expression pairs")
	}
	inits := make([]nodes.FieldInit, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		inits = append(inits, nodes.FieldInit{Name: kv[i].(string), Expr: kv[i+1].(nodes.Node)})
	}
	return &nodes.New{Typ: t, Fields: inits}
}

// --- Scalar methods ---

func method(m nodes.Method, t model.Type, args ...nodes.Node) nodes.Node {
	return &nodes.Call{Method: m, Args: args, Typ: t}
}

func StartsWith(s, prefix nodes.Node) nodes.Node {
	return method(nodes.MethodStartsWith, model.Bool, s, prefix)
}

func EndsWith(s, suffix nodes.Node) nodes.Node {
	return method(nodes.MethodEndsWith, model.Bool, s, suffix)
}

// Like reports whether sub occurs in s.
func Like(s, sub nodes.Node) nodes.Node {
	return method(nodes.MethodContainsString, model.Bool, s, sub)
}

func ToUpper(s nodes.Node) nodes.Node { return method(nodes.MethodToUpper, model.String, s) }
func ToLower(s nodes.Node) nodes.Node { return method(nodes.MethodToLower, model.String, s) }
func Trim(s nodes.Node) nodes.Node    { return method(nodes.MethodTrim, model.String, s) }
func Length(s nodes.Node) nodes.Node  { return method(nodes.MethodLength, model.Int, s) }

// Substring takes length runes from the zero-based start; a negative length
// reads to the end.
func Substring(s nodes.Node, start, length int) nodes.Node {
	args := []nodes.Node{s, Lit(start)}
	if length >= 0 {
		args = append(args, Lit(length))
	}
	return method(nodes.MethodSubstring, model.String, args...)
}

func Abs(n nodes.Node) nodes.Node { return method(nodes.MethodAbs, n.Type(), n) }

// Round rounds n to digits decimal places.
func Round(n nodes.Node, digits int) nodes.Node {
	return method(nodes.MethodRound, n.Type(), n, Lit(digits))
}

func Year(t nodes.Node) nodes.Node   { return method(nodes.MethodYear, model.Int, t) }
func Month(t nodes.Node) nodes.Node  { return method(nodes.MethodMonth, model.Int, t) }
func Day(t nodes.Node) nodes.Node    { return method(nodes.MethodDay, model.Int, t) }
func Hour(t nodes.Node) nodes.Node   { return method(nodes.MethodHour, model.Int, t) }
func Minute(t nodes.Node) nodes.Node { return method(nodes.MethodMinute, model.Int, t) }
func Second(t nodes.Node) nodes.Node { return method(nodes.MethodSecond, model.Int, t) }
