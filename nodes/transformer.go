package nodes

import "fmt"

// BaseTransformer implements Transformer by visiting every child and
// rebuilding a node only when at least one child changed. A transform that
// changes nothing returns the identical tree.
//
// Passes embed *BaseTransformer and set outer to themselves, so recursive
// calls dispatch to the pass's overrides.
type BaseTransformer struct {
	outer Transformer
	pre   func(Node) (Node, bool)
}

// NewBaseTransformer returns a base whose recursion dispatches through outer.
func NewBaseTransformer(outer Transformer) *BaseTransformer {
	return &BaseTransformer{outer: outer}
}

// NewPreTransformer returns a base that offers every node to pre before
// dispatching it. Where pre returns (r, true) the node is replaced by r and
// its children are not visited.
func NewPreTransformer(outer Transformer, pre func(Node) (Node, bool)) *BaseTransformer {
	return &BaseTransformer{outer: outer, pre: pre}
}

// Transform dispatches n through the outer transformer. nil maps to nil.
func (b *BaseTransformer) Transform(n Node) Node {
	if n == nil {
		return nil
	}
	if b.pre != nil {
		if r, ok := b.pre(n); ok {
			return r
		}
	}
	return n.Transform(b.outer)
}

// TransformList transforms every node, returning list itself when nothing
// changed.
func (b *BaseTransformer) TransformList(list []Node) []Node {
	var out []Node
	for i, n := range list {
		r := b.Transform(n)
		if out == nil && r != n {
			out = make([]Node, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = r
		}
	}
	if out == nil {
		return list
	}
	return out
}

// TransformColumns transforms each declaration's expression.
func (b *BaseTransformer) TransformColumns(cols []ColumnDeclaration) []ColumnDeclaration {
	var out []ColumnDeclaration
	for i, c := range cols {
		e := b.Transform(c.Expr)
		if out == nil && e != c.Expr {
			out = make([]ColumnDeclaration, len(cols))
			copy(out, cols[:i])
		}
		if out != nil {
			out[i] = ColumnDeclaration{Name: c.Name, Expr: e, QueryType: c.QueryType}
		}
	}
	if out == nil {
		return cols
	}
	return out
}

// TransformOrderBy transforms each ordering's expression.
func (b *BaseTransformer) TransformOrderBy(orderBy []OrderExpression) []OrderExpression {
	var out []OrderExpression
	for i, o := range orderBy {
		e := b.Transform(o.Expr)
		if out == nil && e != o.Expr {
			out = make([]OrderExpression, len(orderBy))
			copy(out, orderBy[:i])
		}
		if out != nil {
			out[i] = OrderExpression{Expr: e, Direction: o.Direction}
		}
	}
	if out == nil {
		return orderBy
	}
	return out
}

// TransformAssignments transforms each assignment's column and value.
func (b *BaseTransformer) TransformAssignments(as []ColumnAssignment) []ColumnAssignment {
	var out []ColumnAssignment
	for i, a := range as {
		col := b.TransformColumnRef(a.Column)
		e := b.Transform(a.Expr)
		if out == nil && (e != a.Expr || col != a.Column) {
			out = make([]ColumnAssignment, len(as))
			copy(out, as[:i])
		}
		if out != nil {
			out[i] = ColumnAssignment{Column: col, Expr: e}
		}
	}
	if out == nil {
		return as
	}
	return out
}

// TransformSubSelect transforms a select that must remain a select.
func (b *BaseTransformer) TransformSubSelect(s *Select) *Select {
	if s == nil {
		return nil
	}
	return expect[*Select](b.Transform(s))
}

// TransformSubProjection transforms a projection that must remain one.
func (b *BaseTransformer) TransformSubProjection(p *Projection) *Projection {
	if p == nil {
		return nil
	}
	return expect[*Projection](b.Transform(p))
}

// TransformColumnRef transforms a column that must remain a column.
func (b *BaseTransformer) TransformColumnRef(c *Column) *Column {
	if c == nil {
		return nil
	}
	return expect[*Column](b.Transform(c))
}

func expect[T Node](r Node) T {
	t, ok := r.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("nodes: expected %T, rewrite produced %T", zero, r))
	}
	return t
}

// Same reports whether two slices share the same backing array and length.
func Same[T any](a, b []T) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// --- Scalar kinds ---

func (b *BaseTransformer) TransformConstant(n *Constant) Node { return n }

func (b *BaseTransformer) TransformParameter(n *Parameter) Node { return n }

func (b *BaseTransformer) TransformLambda(n *Lambda) Node {
	body := b.Transform(n.Body)
	if body != n.Body {
		return &Lambda{Params: n.Params, Body: body}
	}
	return n
}

func (b *BaseTransformer) TransformMember(n *Member) Node {
	e := b.Transform(n.Expr)
	if e != n.Expr {
		return &Member{Expr: e, Name: n.Name, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformNew(n *New) Node {
	var out []FieldInit
	for i, f := range n.Fields {
		e := b.Transform(f.Expr)
		if out == nil && e != f.Expr {
			out = make([]FieldInit, len(n.Fields))
			copy(out, n.Fields[:i])
		}
		if out != nil {
			out[i] = FieldInit{Name: f.Name, Expr: e}
		}
	}
	if out != nil {
		return &New{Typ: n.Typ, Fields: out}
	}
	return n
}

func (b *BaseTransformer) TransformBinary(n *Binary) Node {
	l := b.Transform(n.Left)
	r := b.Transform(n.Right)
	if l != n.Left || r != n.Right {
		return &Binary{Op: n.Op, Left: l, Right: r, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformUnary(n *Unary) Node {
	e := b.Transform(n.Expr)
	if e != n.Expr {
		return &Unary{Op: n.Op, Expr: e, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformConditional(n *Conditional) Node {
	test := b.Transform(n.Test)
	then := b.Transform(n.Then)
	els := b.Transform(n.Else)
	if test != n.Test || then != n.Then || els != n.Else {
		return &Conditional{Test: test, Then: then, Else: els, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformCall(n *Call) Node {
	args := b.TransformList(n.Args)
	if !Same(args, n.Args) {
		return &Call{Method: n.Method, Args: args, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformRoot(n *Root) Node { return n }

// --- Relational kinds ---

func (b *BaseTransformer) TransformTable(n *Table) Node { return n }

func (b *BaseTransformer) TransformColumn(n *Column) Node { return n }

// TransformSelect visits the source first, then predicate, orderings,
// grouping, paging and finally the column list.
func (b *BaseTransformer) TransformSelect(n *Select) Node {
	from := b.Transform(n.From)
	where := b.Transform(n.Where)
	orderBy := b.TransformOrderBy(n.OrderBy)
	groupBy := b.TransformList(n.GroupBy)
	skip := b.Transform(n.Skip)
	take := b.Transform(n.Take)
	cols := b.TransformColumns(n.Columns)
	if from != n.From || where != n.Where || !Same(orderBy, n.OrderBy) || !Same(groupBy, n.GroupBy) ||
		skip != n.Skip || take != n.Take || !Same(cols, n.Columns) {
		c := n.clone()
		c.From, c.Where, c.OrderBy, c.GroupBy = from, where, orderBy, groupBy
		c.Skip, c.Take, c.Columns = skip, take, cols
		return c
	}
	return n
}

func (b *BaseTransformer) TransformJoin(n *Join) Node {
	l := b.Transform(n.Left)
	r := b.Transform(n.Right)
	cond := b.Transform(n.Condition)
	if l != n.Left || r != n.Right || cond != n.Condition {
		return &Join{Kind: n.Kind, Left: l, Right: r, Condition: cond}
	}
	return n
}

func (b *BaseTransformer) TransformOuterJoined(n *OuterJoined) Node {
	test := b.Transform(n.Test)
	e := b.Transform(n.Expr)
	if test != n.Test || e != n.Expr {
		return &OuterJoined{Test: test, Expr: e}
	}
	return n
}

func (b *BaseTransformer) TransformAggregate(n *Aggregate) Node {
	arg := b.Transform(n.Arg)
	if arg != n.Arg {
		return &Aggregate{Func: n.Func, Arg: arg, Distinct: n.Distinct, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformAggregateSubquery(n *AggregateSubquery) Node {
	sub := expect[*Scalar](b.Transform(n.Subquery))
	if sub != n.Subquery {
		return &AggregateSubquery{GroupAlias: n.GroupAlias, InGroup: n.InGroup, Subquery: sub}
	}
	return n
}

func (b *BaseTransformer) TransformScalar(n *Scalar) Node {
	sel := b.TransformSubSelect(n.Select)
	if sel != n.Select {
		return &Scalar{Select: sel, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformExists(n *Exists) Node {
	sel := b.TransformSubSelect(n.Select)
	if sel != n.Select {
		return &Exists{Select: sel}
	}
	return n
}

func (b *BaseTransformer) TransformIn(n *In) Node {
	e := b.Transform(n.Expr)
	sel := b.TransformSubSelect(n.Select)
	vals := b.TransformList(n.Values)
	if e != n.Expr || sel != n.Select || !Same(vals, n.Values) {
		return &In{Expr: e, Select: sel, Values: vals}
	}
	return n
}

func (b *BaseTransformer) TransformIsNull(n *IsNull) Node {
	e := b.Transform(n.Expr)
	if e != n.Expr {
		return &IsNull{Expr: e}
	}
	return n
}

func (b *BaseTransformer) TransformBetween(n *Between) Node {
	e := b.Transform(n.Expr)
	lo := b.Transform(n.Lower)
	hi := b.Transform(n.Upper)
	if e != n.Expr || lo != n.Lower || hi != n.Upper {
		return &Between{Expr: e, Lower: lo, Upper: hi}
	}
	return n
}

func (b *BaseTransformer) TransformRowNumber(n *RowNumber) Node {
	orderBy := b.TransformOrderBy(n.OrderBy)
	if !Same(orderBy, n.OrderBy) {
		return &RowNumber{OrderBy: orderBy}
	}
	return n
}

func (b *BaseTransformer) TransformNamedValue(n *NamedValue) Node { return n }

func (b *BaseTransformer) TransformFunction(n *Function) Node {
	args := b.TransformList(n.Args)
	if !Same(args, n.Args) {
		return &Function{Name: n.Name, Args: args, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformEntity(n *Entity) Node {
	e := b.Transform(n.Expr)
	if e != n.Expr {
		return &Entity{Entity: n.Entity, Expr: e}
	}
	return n
}

func (b *BaseTransformer) TransformGrouping(n *Grouping) Node {
	key := b.Transform(n.Key)
	group := b.Transform(n.Group)
	if key != n.Key || group != n.Group {
		return &Grouping{Key: key, Group: group, Typ: n.Typ}
	}
	return n
}

func (b *BaseTransformer) TransformProjection(n *Projection) Node {
	sel := b.TransformSubSelect(n.Select)
	proj := b.Transform(n.Projector)
	if sel != n.Select || proj != n.Projector {
		return &Projection{Select: sel, Projector: proj, Aggregator: n.Aggregator}
	}
	return n
}

func (b *BaseTransformer) TransformClientJoin(n *ClientJoin) Node {
	p := b.TransformSubProjection(n.Projection)
	outer := b.TransformList(n.OuterKey)
	inner := b.TransformList(n.InnerKey)
	if p != n.Projection || !Same(outer, n.OuterKey) || !Same(inner, n.InnerKey) {
		return &ClientJoin{Projection: p, OuterKey: outer, InnerKey: inner, NullKeys: n.NullKeys}
	}
	return n
}

// --- Commands ---

func (b *BaseTransformer) TransformInsert(n *Insert) Node {
	tbl := expect[*Table](b.Transform(n.Table))
	as := b.TransformAssignments(n.Assignments)
	res := b.TransformSubProjection(n.Result)
	if tbl != n.Table || !Same(as, n.Assignments) || res != n.Result {
		return &Insert{Table: tbl, Assignments: as, Result: res}
	}
	return n
}

func (b *BaseTransformer) TransformUpdate(n *Update) Node {
	tbl := expect[*Table](b.Transform(n.Table))
	where := b.Transform(n.Where)
	as := b.TransformAssignments(n.Assignments)
	res := b.TransformSubProjection(n.Result)
	if tbl != n.Table || where != n.Where || !Same(as, n.Assignments) || res != n.Result {
		return &Update{Table: tbl, Where: where, Assignments: as, Result: res}
	}
	return n
}

func (b *BaseTransformer) TransformUpsert(n *Upsert) Node {
	check := b.Transform(n.Check)
	ins := expect[*Insert](b.Transform(n.Insert))
	upd := expect[*Update](b.Transform(n.Update))
	if check != n.Check || ins != n.Insert || upd != n.Update {
		return &Upsert{Check: check, Keys: n.Keys, Insert: ins, Update: upd}
	}
	return n
}

func (b *BaseTransformer) TransformDelete(n *Delete) Node {
	tbl := expect[*Table](b.Transform(n.Table))
	where := b.Transform(n.Where)
	if tbl != n.Table || where != n.Where {
		return &Delete{Table: tbl, Where: where}
	}
	return n
}

func (b *BaseTransformer) TransformBatch(n *Batch) Node {
	in := b.Transform(n.Input)
	op := expect[*Lambda](b.Transform(n.Operation))
	if in != n.Input || op != n.Operation {
		return &Batch{Input: in, Operation: op, BatchSize: n.BatchSize, Stream: n.Stream}
	}
	return n
}
