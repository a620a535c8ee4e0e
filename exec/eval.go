package exec

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
	"github.com/shopspring/decimal"
)

// expr compiles a projector or parameter value expression in scope s.
func (c *compiler) expr(s *scope, n nodes.Node) evalFn {
	switch x := n.(type) {
	case nil:
		return func(*env) (any, error) { return nil, nil }
	case *nodes.Constant:
		v := x.Value
		return func(*env) (any, error) { return v, nil }
	case *nodes.Parameter:
		return c.parameter(x)
	case *nodes.NamedValue:
		return c.expr(s, x.Value)
	case *nodes.Column:
		return c.column(s, x, false)
	case *nodes.Member:
		return c.member(s, x)
	case *nodes.New:
		return c.record(s, x)
	case *nodes.Entity:
		return c.expr(s, x.Expr)
	case *nodes.OuterJoined:
		return c.outerJoined(s, x)
	case *nodes.Grouping:
		return c.grouping(s, x)
	case *nodes.Projection:
		if c.cur == nil {
			c.fail(x, "nested projection outside a projector")
		}
		c.cur.buffer = true
		return c.projection(s, x).value
	case *nodes.ClientJoin:
		return c.clientJoin(s, x)
	case *nodes.Binary:
		return c.binary(s, x)
	case *nodes.Unary:
		return c.unary(s, x)
	case *nodes.Conditional:
		return c.conditional(s, x)
	case *nodes.Call:
		if x.Method == nodes.MethodDeferred {
			return c.deferred(s, x)
		}
		return c.call(s, x)
	}
	c.fail(n, "%T cannot be evaluated on the client", n)
	return nil
}

func (c *compiler) parameter(p *nodes.Parameter) evalFn {
	if !c.bound[p] {
		registered := false
		for _, q := range c.params[p.Name] {
			registered = registered || q == p
		}
		if !registered {
			c.params[p.Name] = append(c.params[p.Name], p)
		}
	}
	return func(e *env) (any, error) { return e.params[p], nil }
}

// column reads a cell of the row frame of the column's select. NULL reads
// as the zero value of the column type unless raw is set.
func (c *compiler) column(s *scope, col *nodes.Column, raw bool) evalFn {
	depth, ord, ok := s.resolve(col)
	if !ok {
		panic(qerrors.New(qerrors.ErrScope, "column %s is not in scope", col.Name).WithExpr(nodes.String(col)))
	}
	typ, name := col.Typ, col.Name
	return func(e *env) (any, error) {
		var v any
		if row := e.frame(depth); ord < len(row) {
			v = row[ord]
		}
		if v == nil {
			if raw {
				return nil, nil
			}
			return model.Zero(typ), nil
		}
		cv, err := model.Convert(v, typ)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "column "+name, err)
		}
		return cv, nil
	}
}

func (c *compiler) member(s *scope, m *nodes.Member) evalFn {
	base := c.expr(s, m.Expr)
	name, typ := m.Name, m.Typ
	return func(e *env) (any, error) {
		b, err := base(e)
		if err != nil {
			return nil, err
		}
		v, err := model.Convert(memberOf(b, name), typ)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrArgument, "member "+name, err)
		}
		return v, nil
	}
}

// memberOf reads a field of a record, a map or a Go struct.
func memberOf(v any, name string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *model.Record:
		return x.Get(name)
	case map[string]any:
		return x[name]
	case *model.Grouping:
		if name == "Key" {
			return x.Key
		}
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	f := rv.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil
	}
	return f.Interface()
}

func (c *compiler) record(s *scope, n *nodes.New) evalFn {
	st := n.Typ
	if st == nil {
		c.fail(n, "construction without a type")
	}
	names := make([]string, len(n.Fields))
	fields := make([]evalFn, len(n.Fields))
	for i, f := range n.Fields {
		names[i], fields[i] = f.Name, c.expr(s, f.Expr)
	}
	return func(e *env) (any, error) {
		r := model.NewRecord(st)
		for i, f := range fields {
			v, err := f(e)
			if err != nil {
				return nil, err
			}
			r.Set(names[i], v)
		}
		return r, nil
	}
}

// outerJoined yields nil, or the zero value of a scalar, when the outer
// join found no row.
func (c *compiler) outerJoined(s *scope, n *nodes.OuterJoined) evalFn {
	test := c.key(s, n.Test)
	expr := c.expr(s, n.Expr)
	typ := n.Expr.Type()
	return func(e *env) (any, error) {
		t, err := test(e)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return model.Zero(typ), nil
		}
		return expr(e)
	}
}

func (c *compiler) grouping(s *scope, n *nodes.Grouping) evalFn {
	key := c.expr(s, n.Key)
	group := c.expr(s, n.Group)
	return func(e *env) (any, error) {
		k, err := key(e)
		if err != nil {
			return nil, err
		}
		g, err := group(e)
		if err != nil {
			return nil, err
		}
		elems, _ := g.([]any)
		return &model.Grouping{Key: k, Elems: elems}, nil
	}
}

func (c *compiler) deferred(s *scope, n *nodes.Call) evalFn {
	if len(n.Args) != 1 {
		c.fail(n, "deferred load takes one query")
	}
	p, ok := n.Args[0].(*nodes.Projection)
	if !ok {
		c.fail(n, "deferred load of %T", n.Args[0])
	}
	saved := c.cur
	c.cur = nil
	u := c.projection(s, p)
	c.cur = saved
	return func(e *env) (any, error) {
		return &Deferred{unit: u, env: e.snapshot()}, nil
	}
}

func (c *compiler) conditional(s *scope, n *nodes.Conditional) evalFn {
	test, then, els := c.expr(s, n.Test), c.expr(s, n.Then), c.expr(s, n.Else)
	return func(e *env) (any, error) {
		t, err := test(e)
		if err != nil {
			return nil, err
		}
		if b, _ := t.(bool); b {
			return then(e)
		}
		return els(e)
	}
}

func (c *compiler) unary(s *scope, n *nodes.Unary) evalFn {
	operand := c.expr(s, n.Expr)
	op, typ := n.Op, n.Typ
	return func(e *env) (any, error) {
		v, err := operand(e)
		if err != nil || v == nil {
			return v, err
		}
		switch op {
		case nodes.OpNot:
			b, _ := v.(bool)
			return !b, nil
		case nodes.OpNegate:
			return arith(nodes.OpMinus, int64(0), v, typ)
		}
		cv, err := model.Convert(v, typ)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "convert", err)
		}
		return cv, nil
	}
}

func (c *compiler) binary(s *scope, n *nodes.Binary) evalFn {
	left, right := c.expr(s, n.Left), c.expr(s, n.Right)
	op, typ := n.Op, n.Typ
	return func(e *env) (any, error) {
		l, err := left(e)
		if err != nil {
			return nil, err
		}
		switch op {
		case nodes.OpAnd:
			if b, _ := l.(bool); !b {
				return false, nil
			}
			r, err := right(e)
			b, _ := r.(bool)
			return b, err
		case nodes.OpOr:
			if b, _ := l.(bool); b {
				return true, nil
			}
			r, err := right(e)
			b, _ := r.(bool)
			return b, err
		case nodes.OpCoalesce:
			if l != nil {
				return l, nil
			}
			return right(e)
		}
		r, err := right(e)
		if err != nil {
			return nil, err
		}
		switch {
		case op == nodes.OpEq:
			return model.Key(l) == model.Key(r), nil
		case op == nodes.OpNotEq:
			return model.Key(l) != model.Key(r), nil
		case op.IsComparison():
			return compareOp(op, l, r)
		case op == nodes.OpConcat:
			return concatString(l) + concatString(r), nil
		}
		return arith(op, l, r, typ)
	}
}

func concatString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// arith applies an arithmetic operator in the numeric kind of typ. NULL
// operands yield NULL.
func arith(op nodes.BinaryOp, l, r any, typ model.Type) (any, error) {
	if l == nil || r == nil {
		return nil, nil
	}
	kind := model.KindOf(typ)
	if !model.IsNumeric(typ) {
		kind = model.KindFloat
	}
	switch kind {
	case model.KindInt:
		a, err := model.Convert(l, model.Int)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
		}
		b, err := model.Convert(r, model.Int)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
		}
		return intOp(op, a.(int64), b.(int64))
	case model.KindDecimal:
		a, err := model.Convert(l, model.Decimal)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
		}
		b, err := model.Convert(r, model.Decimal)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
		}
		return decimalOp(op, a.(decimal.Decimal), b.(decimal.Decimal))
	}
	a, err := model.Convert(l, model.Float)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
	}
	b, err := model.Convert(r, model.Float)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrRuntime, "arithmetic", err)
	}
	return floatOp(op, a.(float64), b.(float64)), nil
}

func intOp(op nodes.BinaryOp, a, b int64) (any, error) {
	switch op {
	case nodes.OpPlus:
		return a + b, nil
	case nodes.OpMinus:
		return a - b, nil
	case nodes.OpMultiply:
		return a * b, nil
	}
	if b == 0 {
		return nil, qerrors.New(qerrors.ErrRuntime, "division by zero")
	}
	if op == nodes.OpModulo {
		return a % b, nil
	}
	return a / b, nil
}

func decimalOp(op nodes.BinaryOp, a, b decimal.Decimal) (any, error) {
	switch op {
	case nodes.OpPlus:
		return a.Add(b), nil
	case nodes.OpMinus:
		return a.Sub(b), nil
	case nodes.OpMultiply:
		return a.Mul(b), nil
	}
	if b.IsZero() {
		return nil, qerrors.New(qerrors.ErrRuntime, "division by zero")
	}
	if op == nodes.OpModulo {
		return a.Mod(b), nil
	}
	return a.Div(b), nil
}

func floatOp(op nodes.BinaryOp, a, b float64) any {
	switch op {
	case nodes.OpPlus:
		return a + b
	case nodes.OpMinus:
		return a - b
	case nodes.OpMultiply:
		return a * b
	case nodes.OpModulo:
		return math.Mod(a, b)
	}
	return a / b
}

// compareOp orders numbers, strings and times. Comparisons with NULL are
// false.
func compareOp(op nodes.BinaryOp, l, r any) (any, error) {
	if l == nil || r == nil {
		return false, nil
	}
	cmp, err := compare(l, r)
	if err != nil {
		return nil, err
	}
	switch op {
	case nodes.OpLt:
		return cmp < 0, nil
	case nodes.OpLtEq:
		return cmp <= 0, nil
	case nodes.OpGt:
		return cmp > 0, nil
	}
	return cmp >= 0, nil
}

func compare(l, r any) (int, error) {
	switch a := l.(type) {
	case string:
		if b, ok := r.(string); ok {
			return strings.Compare(a, b), nil
		}
	case time.Time:
		if b, ok := r.(time.Time); ok {
			return a.Compare(b), nil
		}
	}
	a, err := model.Convert(l, model.Decimal)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrRuntime, "compare", err)
	}
	b, err := model.Convert(r, model.Decimal)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrRuntime, "compare", err)
	}
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal)), nil
}

// call evaluates the string and number methods a projector may apply on
// the client.
func (c *compiler) call(s *scope, n *nodes.Call) evalFn {
	args := make([]evalFn, len(n.Args))
	for i, a := range n.Args {
		args[i] = c.expr(s, a)
	}
	var f func(vals []any) (any, error)
	switch n.Method {
	case nodes.MethodToUpper:
		f = stringFn(strings.ToUpper)
	case nodes.MethodToLower:
		f = stringFn(strings.ToLower)
	case nodes.MethodTrim:
		f = stringFn(strings.TrimSpace)
	case nodes.MethodLength:
		f = func(vals []any) (any, error) { return int64(len([]rune(concatString(vals[0])))), nil }
	case nodes.MethodStartsWith:
		f = stringTest(strings.HasPrefix)
	case nodes.MethodEndsWith:
		f = stringTest(strings.HasSuffix)
	case nodes.MethodContainsString:
		f = stringTest(strings.Contains)
	case nodes.MethodAbs:
		typ := n.Typ
		f = func(vals []any) (any, error) {
			neg, err := compare(vals[0], int64(0))
			if err != nil || neg >= 0 {
				return vals[0], err
			}
			return arith(nodes.OpMinus, int64(0), vals[0], typ)
		}
	default:
		c.fail(n, "%s cannot be evaluated on the client", n.Method)
	}
	return func(e *env) (any, error) {
		vals, err := evalAll(e, args)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 || vals[0] == nil {
			return nil, nil
		}
		return f(vals)
	}
}

func stringFn(f func(string) string) func([]any) (any, error) {
	return func(vals []any) (any, error) { return f(concatString(vals[0])), nil }
}

func stringTest(f func(s, sub string) bool) func([]any) (any, error) {
	return func(vals []any) (any, error) {
		if len(vals) < 2 {
			return false, nil
		}
		return f(concatString(vals[0]), concatString(vals[1])), nil
	}
}
