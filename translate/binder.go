// Package translate turns operator-call trees into relational trees. Bind
// resolves every query operator against the mapping; the relationship
// binder, includer and parameterizer then finish what the optimizer leaves.
package translate

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// Bind converts expr, a tree of query operator calls over entity roots, into
// a Projection, a command or a Batch. Lambda parameters are replaced by what
// they range over; parameters bound by no lambda remain as query arguments.
func Bind(m *mapping.Mapper, expr nodes.Node) (out nodes.Node, err error) {
	b := newBinder(m)
	b.root = expr
	defer recoverError(&err)
	return b.Transform(expr), nil
}

type groupByInfo struct {
	alias   *nodes.TableAlias
	element nodes.Node
}

type thenBy struct {
	key *nodes.Lambda
	dir nodes.OrderDirection
}

type binder struct {
	*nodes.BaseTransformer
	mapper              *mapping.Mapper
	lang                *dialect.Language
	symbols             map[*nodes.Parameter]nodes.Node
	groupByMap          map[nodes.Node]*groupByInfo
	thenBys             []thenBy
	root                nodes.Node
	currentGroupElement nodes.Node
}

func newBinder(m *mapping.Mapper) *binder {
	b := &binder{
		mapper:     m,
		lang:       m.Lang,
		symbols:    make(map[*nodes.Parameter]nodes.Node),
		groupByMap: make(map[nodes.Node]*groupByInfo),
	}
	b.BaseTransformer = nodes.NewBaseTransformer(b)
	return b
}

// --- Errors ---

// fail aborts the current bind; Bind recovers the error.
func fail(n nodes.Node, format string, args ...any) {
	e := qerrors.New(qerrors.ErrUnsupported, format, args...)
	if n != nil {
		e = e.WithExpr(nodes.String(n))
	}
	panic(e)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(asError(err))
	}
	return v
}

func asError(err error) *qerrors.Error {
	if qe, ok := err.(*qerrors.Error); ok {
		return qe
	}
	return qerrors.Wrap(qerrors.ErrRuntime, "translate", err)
}

func recoverError(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if qe, ok := r.(*qerrors.Error); ok {
		*err = qe
		return
	}
	panic(r)
}

// --- Translator ---

func (b *binder) ProjectColumns(expr nodes.Node, newAlias *nodes.TableAlias, existing ...*nodes.TableAlias) ([]nodes.ColumnDeclaration, nodes.Node) {
	return ProjectColumns(expr, newAlias, existing...)
}

func (b *binder) BindLambda(l *nodes.Lambda, args ...nodes.Node) nodes.Node {
	return b.bindLambda(l, args...)
}

func (b *binder) BindMember(source nodes.Node, member string) nodes.Node {
	return bindMember(b.mapper.Resolver, source, member)
}

func (b *binder) bindLambda(l *nodes.Lambda, args ...nodes.Node) nodes.Node {
	if len(l.Params) != len(args) {
		fail(l, "lambda takes %d arguments, got %d", len(l.Params), len(args))
	}
	saved := make([]nodes.Node, len(l.Params))
	for i, p := range l.Params {
		saved[i] = b.symbols[p]
		b.symbols[p] = args[i]
	}
	defer func() {
		for i, p := range l.Params {
			if saved[i] == nil {
				delete(b.symbols, p)
			} else {
				b.symbols[p] = saved[i]
			}
		}
	}()
	return b.Transform(l.Body)
}

// --- Leaves ---

func (b *binder) TransformParameter(p *nodes.Parameter) nodes.Node {
	if e, ok := b.symbols[p]; ok {
		return e
	}
	return p
}

func (b *binder) TransformRoot(r *nodes.Root) nodes.Node {
	return must(b.mapper.TableQuery(r.Entity))
}

func (b *binder) TransformMember(m *nodes.Member) nodes.Node {
	return bindMember(b.mapper.Resolver, b.Transform(m.Expr), m.Name)
}

func (b *binder) TransformBinary(n *nodes.Binary) nodes.Node {
	l := b.Transform(n.Left)
	r := b.Transform(n.Right)
	switch n.Op {
	case nodes.OpEq:
		if isComposite(l) || isComposite(r) {
			return b.equal(l, r)
		}
	case nodes.OpNotEq:
		if isComposite(l) || isComposite(r) {
			return nodes.Not(b.equal(l, r))
		}
	}
	if l != n.Left || r != n.Right {
		return &nodes.Binary{Op: n.Op, Left: l, Right: r, Typ: n.Typ}
	}
	return n
}

func isComposite(n nodes.Node) bool {
	switch n.(type) {
	case *nodes.Entity, *nodes.New:
		return true
	}
	return false
}

// equal compares entities by identity and records field by field.
func (b *binder) equal(l, r nodes.Node) nodes.Node {
	le, lok := l.(*nodes.Entity)
	re, rok := r.(*nodes.Entity)
	if lok && rok {
		if le.Entity != re.Entity {
			fail(nodes.Eq(l, r), "cannot compare %s with %s", le.Entity.Type, re.Entity.Type)
		}
		var pred nodes.Node
		for _, id := range mapping.IdentityMembers(b.mapper.Resolver, le.Entity) {
			pred = nodes.And(pred, nodes.Eq(b.BindMember(le, id), b.BindMember(re, id)))
		}
		if pred == nil {
			fail(le, "%s has no identity members", le.Entity.Type)
		}
		return pred
	}
	ln, lok := l.(*nodes.New)
	rn, rok := r.(*nodes.New)
	if lok && rok {
		var pred nodes.Node
		for _, f := range ln.Fields {
			o := rn.Field(f.Name)
			if o == nil {
				fail(nodes.Eq(l, r), "records differ in field %s", f.Name)
			}
			pred = nodes.And(pred, b.equal(f.Expr, o))
		}
		if pred == nil {
			return nodes.NewConstant(true, model.Bool)
		}
		return pred
	}
	if isComposite(l) || isComposite(r) {
		fail(nodes.Eq(l, r), "cannot compare %T with %T", l, r)
	}
	return nodes.Eq(l, r)
}

// bindMember resolves member on an already bound source. Associations that
// are not yet loaded stay as member accesses on the entity.
func bindMember(r mapping.Resolver, source nodes.Node, name string) nodes.Node {
	switch x := source.(type) {
	case *nodes.Entity:
		if nw, ok := x.Expr.(*nodes.New); ok {
			if f := nw.Field(name); f != nil {
				return f
			}
		}
	case *nodes.New:
		if f := x.Field(name); f != nil {
			return f
		}
	case *nodes.Grouping:
		if name == "Key" {
			return x.Key
		}
	case *nodes.OuterJoined:
		return &nodes.OuterJoined{Test: x.Test, Expr: bindMember(r, x.Expr, name)}
	case *nodes.Conditional:
		return &nodes.Conditional{
			Test: x.Test,
			Then: bindMember(r, x.Then, name),
			Else: bindMember(r, x.Else, name),
			Typ:  nodes.MemberType(x.Typ, name),
		}
	case *nodes.Constant:
		typ := nodes.MemberType(x.Typ, name)
		if rec, ok := x.Value.(*model.Record); ok {
			return nodes.NewConstant(rec.Get(name), typ)
		}
		if x.Value == nil {
			return nodes.NewConstant(nil, typ)
		}
	case *nodes.Projection:
		if x.IsSingleton() {
			return &nodes.Projection{Select: x.Select, Projector: bindMember(r, x.Projector, name), Aggregator: x.Aggregator}
		}
	}
	return nodes.MemberOf(source, name)
}

// --- Operators ---

func (b *binder) TransformCall(c *nodes.Call) nodes.Node {
	if !c.Method.IsQueryOperator() {
		return b.BaseTransformer.TransformCall(c)
	}
	if len(c.Args) == 0 {
		fail(c, "%s has no source", c.Method)
	}
	switch c.Method {
	case nodes.MethodWhere:
		return b.bindWhere(c.Args[0], lambdaArg(c, 1, true))
	case nodes.MethodSelect:
		return b.bindSelect(c.Args[0], lambdaArg(c, 1, true))
	case nodes.MethodSelectMany:
		return b.bindSelectMany(c.Args[0], lambdaArg(c, 1, true), lambdaArg(c, 2, false))
	case nodes.MethodJoin:
		if len(c.Args) != 5 {
			fail(c, "join takes an inner source, two key selectors and a result selector")
		}
		return b.bindJoin(c.Args[0], c.Args[1], lambdaArg(c, 2, true), lambdaArg(c, 3, true), lambdaArg(c, 4, true))
	case nodes.MethodOrderBy:
		return b.bindOrderBy(c.Args[0], lambdaArg(c, 1, true), nodes.Asc)
	case nodes.MethodOrderByDescending:
		return b.bindOrderBy(c.Args[0], lambdaArg(c, 1, true), nodes.Desc)
	case nodes.MethodThenBy:
		return b.bindThenBy(c.Args[0], lambdaArg(c, 1, true), nodes.Asc)
	case nodes.MethodThenByDescending:
		return b.bindThenBy(c.Args[0], lambdaArg(c, 1, true), nodes.Desc)
	case nodes.MethodGroupBy:
		return b.bindGroupBy(c.Args[0], lambdaArg(c, 1, true), lambdaArg(c, 2, false), lambdaArg(c, 3, false))
	case nodes.MethodCount, nodes.MethodSum, nodes.MethodMin, nodes.MethodMax, nodes.MethodAverage:
		return b.bindAggregate(c)
	case nodes.MethodDistinct:
		return b.bindDistinct(c.Args[0])
	case nodes.MethodTake:
		return b.bindTake(c.Args[0], arg(c, 1))
	case nodes.MethodSkip:
		return b.bindSkip(c.Args[0], arg(c, 1))
	case nodes.MethodFirst, nodes.MethodFirstOrDefault, nodes.MethodSingle, nodes.MethodSingleOrDefault:
		return b.bindFirst(c)
	case nodes.MethodAny, nodes.MethodAll:
		return b.bindAnyAll(c)
	case nodes.MethodContains:
		return b.bindContains(c)
	case nodes.MethodInsert, nodes.MethodUpdate, nodes.MethodInsertOrUpdate, nodes.MethodDelete:
		return b.bindCommand(c)
	case nodes.MethodBatch:
		return b.bindBatch(c)
	}
	fail(c, "operator %s is not supported", c.Method)
	return nil
}

func arg(c *nodes.Call, i int) nodes.Node {
	if i >= len(c.Args) || c.Args[i] == nil {
		fail(c, "%s is missing argument %d", c.Method, i)
	}
	return c.Args[i]
}

// lambdaArg returns argument i as a lambda, or nil when it is absent and
// not required.
func lambdaArg(c *nodes.Call, i int, required bool) *nodes.Lambda {
	if i >= len(c.Args) || c.Args[i] == nil {
		if required {
			fail(c, "%s is missing argument %d", c.Method, i)
		}
		return nil
	}
	l, ok := c.Args[i].(*nodes.Lambda)
	if !ok {
		fail(c, "argument %d of %s must be a lambda", i, c.Method)
	}
	return l
}

func (b *binder) isRoot(c *nodes.Call) bool {
	return b.root == nodes.Node(c)
}

func (b *binder) sequence(n nodes.Node) *nodes.Projection {
	return b.convertToSequence(b.Transform(n))
}

func (b *binder) convertToSequence(n nodes.Node) *nodes.Projection {
	switch x := n.(type) {
	case *nodes.Projection:
		return x
	case *nodes.Grouping:
		if p, ok := x.Group.(*nodes.Projection); ok {
			return p
		}
	case *nodes.Member:
		if e, ok := x.Expr.(*nodes.Entity); ok && b.mapper.Resolver.IsRelationship(e.Entity, x.Name) {
			return must(b.mapper.MemberExpression(b, e, e.Entity, x.Name))
		}
	}
	fail(n, "expression is not a query sequence")
	return nil
}

func (b *binder) bindWhere(src nodes.Node, pred *nodes.Lambda) nodes.Node {
	proj := b.sequence(src)
	where := b.bindLambda(pred, proj.Projector)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	return nodes.NewProjection(nodes.NewSelect(alias, cols, proj.Select, where), pc)
}

func (b *binder) bindSelect(src nodes.Node, selector *nodes.Lambda) nodes.Node {
	proj := b.sequence(src)
	body := b.bindLambda(selector, proj.Projector)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(body, alias, proj.Select.Alias)
	return nodes.NewProjection(nodes.NewSelect(alias, cols, proj.Select, nil), pc)
}

// bindSelectMany cross joins the source with the collection, applying the
// collection per row when it reads the source.
func (b *binder) bindSelectMany(src nodes.Node, collection, result *nodes.Lambda) nodes.Node {
	proj := b.sequence(src)
	coll := b.convertToSequence(b.bindLambda(collection, proj.Projector))
	kind := nodes.CrossJoin
	if nodes.References(coll.Select, proj.Select.Alias) {
		kind = nodes.CrossApply
	}
	join := nodes.NewJoin(kind, proj.Select, coll.Select, nil)
	body := coll.Projector
	if result != nil {
		body = b.bindLambda(result, proj.Projector, coll.Projector)
	}
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(body, alias, proj.Select.Alias, coll.Select.Alias)
	return nodes.NewProjection(nodes.NewSelect(alias, cols, join, nil), pc)
}

func (b *binder) bindJoin(outerSrc, innerSrc nodes.Node, outerKey, innerKey, result *nodes.Lambda) nodes.Node {
	outer := b.sequence(outerSrc)
	inner := b.sequence(innerSrc)
	ok := b.bindLambda(outerKey, outer.Projector)
	ik := b.bindLambda(innerKey, inner.Projector)
	body := b.bindLambda(result, outer.Projector, inner.Projector)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(body, alias, outer.Select.Alias, inner.Select.Alias)
	join := nodes.NewJoin(nodes.InnerJoin, outer.Select, inner.Select, b.equal(ok, ik))
	return nodes.NewProjection(nodes.NewSelect(alias, cols, join, nil), pc)
}

// bindOrderBy collects the ThenBy keys gathered on the way down, innermost
// first.
func (b *binder) bindOrderBy(src nodes.Node, key *nodes.Lambda, dir nodes.OrderDirection) nodes.Node {
	pending := b.thenBys
	b.thenBys = nil
	proj := b.sequence(src)
	orderings := []nodes.OrderExpression{{Expr: b.bindLambda(key, proj.Projector), Direction: dir}}
	for i := len(pending) - 1; i >= 0; i-- {
		tb := pending[i]
		orderings = append(orderings, nodes.OrderExpression{Expr: b.bindLambda(tb.key, proj.Projector), Direction: tb.dir})
	}
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	sel := nodes.NewSelect(alias, cols, proj.Select, nil)
	sel.OrderBy = orderings
	return nodes.NewProjection(sel, pc)
}

func (b *binder) bindThenBy(src nodes.Node, key *nodes.Lambda, dir nodes.OrderDirection) nodes.Node {
	b.thenBys = append(b.thenBys, thenBy{key: key, dir: dir})
	return b.Transform(src)
}

// bindGroupBy groups the source by key. Each group's elements are an
// independent subquery over a second copy of the source, correlated on the
// key with nulls comparing equal.
func (b *binder) bindGroupBy(src nodes.Node, key, element, result *nodes.Lambda) nodes.Node {
	proj := b.sequence(src)
	keyExpr := b.bindLambda(key, proj.Projector)
	elemExpr := proj.Projector
	if element != nil {
		elemExpr = b.bindLambda(element, proj.Projector)
	}
	keyCols, _ := ProjectColumns(keyExpr, nodes.NewAlias(), proj.Select.Alias)
	groupExprs := declExprs(keyCols)

	basis := b.sequence(src)
	subKey := b.bindLambda(key, basis.Projector)
	subCols, _ := ProjectColumns(subKey, nodes.NewAlias(), basis.Select.Alias)
	correlation := nullsEqual(declExprs(subCols), groupExprs)
	subElem := basis.Projector
	if element != nil {
		subElem = b.bindLambda(element, basis.Projector)
	}
	elemAlias := nodes.NewAlias()
	elemCols, elemPC := ProjectColumns(subElem, elemAlias, basis.Select.Alias)
	elements := nodes.NewProjection(nodes.NewSelect(elemAlias, elemCols, basis.Select, correlation), elemPC)

	alias := nodes.NewAlias()
	info := &groupByInfo{alias: alias, element: elemExpr}
	b.groupByMap[elements] = info

	var body nodes.Node
	if result != nil {
		saved := b.currentGroupElement
		b.currentGroupElement = elements
		body = b.bindLambda(result, keyExpr, elements)
		b.currentGroupElement = saved
	} else {
		body = &nodes.Grouping{
			Key:   keyExpr,
			Group: elements,
			Typ:   &model.Group{Key: keyExpr.Type(), Elem: elemPC.Type()},
		}
	}
	cols, pc := ProjectColumns(body, alias, proj.Select.Alias)
	if g, ok := pc.(*nodes.Grouping); ok {
		b.groupByMap[g.Group] = info
	}
	sel := nodes.NewSelect(alias, cols, proj.Select, nil)
	sel.GroupBy = groupExprs
	return nodes.NewProjection(sel, pc)
}

func declExprs(cols []nodes.ColumnDeclaration) []nodes.Node {
	out := make([]nodes.Node, len(cols))
	for i, c := range cols {
		out[i] = c.Expr
	}
	return out
}

// nullsEqual pairs a and b with (x IS NULL AND y IS NULL) OR x = y.
func nullsEqual(a, b []nodes.Node) nodes.Node {
	var pred nodes.Node
	for i := range a {
		both := nodes.NewBinary(nodes.OpAnd, &nodes.IsNull{Expr: a[i]}, &nodes.IsNull{Expr: b[i]})
		pred = nodes.And(pred, nodes.NewBinary(nodes.OpOr, both, nodes.Eq(a[i], b[i])))
	}
	return pred
}

// bindAggregate reduces the source. At the root the result is a one-row
// projection; elsewhere a scalar subquery, linked back to its group-by when
// the source is a group.
func (b *binder) bindAggregate(c *nodes.Call) nodes.Node {
	fn, _ := nodes.AggregateFuncFor(c.Method)
	src := c.Args[0]
	argL := lambdaArg(c, 1, false)
	hasPredicate := c.Method == nodes.MethodCount
	distinct := false
	if sc, ok := src.(*nodes.Call); ok && !hasPredicate && argL == nil && sc.Method == nodes.MethodDistinct {
		src = sc.Args[0]
		distinct = true
	}
	predicateArg := false
	if argL != nil && hasPredicate {
		src = &nodes.Call{Method: nodes.MethodWhere, Args: []nodes.Node{src, argL}, Typ: src.Type()}
		argL = nil
		predicateArg = true
	}

	proj := b.sequence(src)
	argExpr := b.aggregateArg(argL, hasPredicate, proj.Projector)
	typ := aggregateType(fn, argExpr, c.Typ)
	agg := &nodes.Aggregate{Func: fn, Arg: argExpr, Distinct: distinct, Typ: typ}
	alias := nodes.NewAlias()
	decl := nodes.ColumnDeclaration{Name: "agg", Expr: agg, QueryType: b.lang.Types.ColumnType(typ)}
	sel := nodes.NewSelect(alias, []nodes.ColumnDeclaration{decl}, proj.Select, nil)

	if b.isRoot(c) {
		return &nodes.Projection{
			Select:     sel,
			Projector:  decl.Ref(alias),
			Aggregator: &nodes.Aggregator{Shape: nodes.ShapeSingle},
		}
	}
	sub := &nodes.Scalar{Select: sel, Typ: typ}
	info, ok := b.groupByMap[proj]
	if !ok || predicateArg {
		return sub
	}
	inGroup := &nodes.Aggregate{Func: fn, Arg: b.aggregateArg(argL, hasPredicate, info.element), Distinct: distinct, Typ: typ}
	if b.currentGroupElement == nodes.Node(proj) {
		return inGroup
	}
	return &nodes.AggregateSubquery{GroupAlias: info.alias, InGroup: inGroup, Subquery: sub}
}

func (b *binder) aggregateArg(l *nodes.Lambda, hasPredicate bool, element nodes.Node) nodes.Node {
	switch {
	case l != nil:
		return b.bindLambda(l, element)
	case !hasPredicate:
		return element
	}
	return nil
}

func aggregateType(fn nodes.AggregateFunc, arg nodes.Node, declared model.Type) model.Type {
	if declared != nil {
		return declared
	}
	switch fn {
	case nodes.AggCount:
		return model.Int
	case nodes.AggAvg:
		if arg != nil && model.KindOf(arg.Type()) == model.KindDecimal {
			return model.Decimal
		}
		return model.Float
	}
	if arg == nil {
		return model.Int
	}
	return arg.Type()
}

func (b *binder) bindDistinct(src nodes.Node) nodes.Node {
	proj := b.sequence(src)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	sel := nodes.NewSelect(alias, cols, proj.Select, nil)
	sel.Distinct = true
	return nodes.NewProjection(sel, pc)
}

func (b *binder) bindTake(src, n nodes.Node) nodes.Node {
	proj := b.sequence(src)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	sel := nodes.NewSelect(alias, cols, proj.Select, nil)
	sel.Take = b.Transform(n)
	return nodes.NewProjection(sel, pc)
}

func (b *binder) bindSkip(src, n nodes.Node) nodes.Node {
	proj := b.sequence(src)
	alias := nodes.NewAlias()
	cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	sel := nodes.NewSelect(alias, cols, proj.Select, nil)
	sel.Skip = b.Transform(n)
	return nodes.NewProjection(sel, pc)
}

func shapeOf(m nodes.Method) nodes.Shape {
	switch m {
	case nodes.MethodFirst:
		return nodes.ShapeFirst
	case nodes.MethodFirstOrDefault:
		return nodes.ShapeFirstOrDefault
	case nodes.MethodSingle:
		return nodes.ShapeSingle
	}
	return nodes.ShapeSingleOrDefault
}

// bindFirst handles First, Single and their OrDefault forms. Below the root
// a scalar result becomes a scalar subquery; anything else stays a nested
// singleton projection.
func (b *binder) bindFirst(c *nodes.Call) nodes.Node {
	proj := b.sequence(c.Args[0])
	var where nodes.Node
	if pred := lambdaArg(c, 1, false); pred != nil {
		where = b.bindLambda(pred, proj.Projector)
	}
	first := c.Method == nodes.MethodFirst || c.Method == nodes.MethodFirstOrDefault
	if first || where != nil {
		alias := nodes.NewAlias()
		cols, pc := ProjectColumns(proj.Projector, alias, proj.Select.Alias)
		sel := nodes.NewSelect(alias, cols, proj.Select, where)
		if first {
			sel.Take = nodes.NewConstant(int64(1), model.Int)
		}
		proj = nodes.NewProjection(sel, pc)
	}
	agg := &nodes.Aggregator{Shape: shapeOf(c.Method)}
	if !b.isRoot(c) {
		if col, ok := proj.Projector.(*nodes.Column); ok && col.Alias == proj.Select.Alias {
			if d, ok := proj.Select.Column(col.Name); ok {
				return &nodes.Scalar{Select: proj.Select.SetColumns([]nodes.ColumnDeclaration{d}), Typ: col.Typ}
			}
		}
	}
	return &nodes.Projection{Select: proj.Select, Projector: proj.Projector, Aggregator: agg}
}

// singleton returns a one-row projection of expr with no FROM clause.
func (b *binder) singleton(expr nodes.Node) *nodes.Projection {
	alias := nodes.NewAlias()
	decl := nodes.ColumnDeclaration{Name: "value", Expr: expr, QueryType: b.lang.Types.ColumnType(expr.Type())}
	return &nodes.Projection{
		Select:     nodes.NewSelect(alias, []nodes.ColumnDeclaration{decl}, nil, nil),
		Projector:  decl.Ref(alias),
		Aggregator: &nodes.Aggregator{Shape: nodes.ShapeSingleOrDefault},
	}
}

func localValues(n nodes.Node) ([]any, bool) {
	k, ok := n.(*nodes.Constant)
	if !ok {
		return nil, false
	}
	vals, ok := k.Value.([]any)
	return vals, ok || k.Value == nil
}

// bindAnyAll tests a local list by expanding the predicate per value, and a
// query with EXISTS.
func (b *binder) bindAnyAll(c *nodes.Call) nodes.Node {
	src := c.Args[0]
	pred := lambdaArg(c, 1, c.Method == nodes.MethodAll)
	all := c.Method == nodes.MethodAll
	if vals, ok := localValues(src); ok {
		if pred == nil {
			return nodes.NewConstant(len(vals) > 0, model.Bool)
		}
		elem := model.ElemType(src.Type())
		var where nodes.Node
		for _, v := range vals {
			e := b.bindLambda(pred, nodes.NewConstant(v, elem))
			switch {
			case where == nil:
				where = e
			case all:
				where = nodes.NewBinary(nodes.OpAnd, where, e)
			default:
				where = nodes.NewBinary(nodes.OpOr, where, e)
			}
		}
		if where == nil {
			return nodes.NewConstant(all, model.Bool)
		}
		return where
	}
	if pred != nil {
		body := pred.Body
		if all {
			body = nodes.Not(body)
		}
		src = &nodes.Call{Method: nodes.MethodWhere, Args: []nodes.Node{src, &nodes.Lambda{Params: pred.Params, Body: body}}, Typ: src.Type()}
	}
	proj := b.sequence(src)
	var result nodes.Node = &nodes.Exists{Select: proj.Select}
	if all {
		result = nodes.Not(result)
	}
	if !b.isRoot(c) {
		return result
	}
	if b.lang.SelectWithoutFrom {
		return b.singleton(result)
	}
	decl := nodes.ColumnDeclaration{
		Name:      "value",
		Expr:      &nodes.Aggregate{Func: nodes.AggCount, Typ: model.Int},
		QueryType: b.lang.Types.ColumnType(model.Int),
	}
	sel := proj.Select.SetColumns([]nodes.ColumnDeclaration{decl})
	op := nodes.OpGt
	if all {
		op = nodes.OpEq
	}
	return &nodes.Projection{
		Select:     sel,
		Projector:  nodes.NewBinary(op, decl.Ref(sel.Alias), nodes.NewConstant(int64(0), model.Int)),
		Aggregator: &nodes.Aggregator{Shape: nodes.ShapeSingle},
	}
}

// bindContains tests membership with IN, over a value list for local
// sequences and a subquery otherwise.
func (b *binder) bindContains(c *nodes.Call) nodes.Node {
	src := c.Args[0]
	match := arg(c, 1)
	var result nodes.Node
	if vals, ok := localValues(src); ok {
		m := b.Transform(match)
		if len(vals) == 0 {
			result = nodes.NewConstant(false, model.Bool)
		} else {
			values := make([]nodes.Node, len(vals))
			for i, v := range vals {
				values[i] = nodes.NewConstant(v, m.Type())
			}
			result = &nodes.In{Expr: m, Values: values}
		}
	} else if b.isRoot(c) && !b.lang.SelectWithoutFrom {
		p := nodes.NewParameter("x", model.ElemType(src.Type()))
		anyCall := &nodes.Call{
			Method: nodes.MethodAny,
			Args:   []nodes.Node{src, nodes.NewLambda(nodes.Eq(p, match), p)},
			Typ:    model.Bool,
		}
		b.root = anyCall
		return b.Transform(anyCall)
	} else {
		proj := b.sequence(src)
		m := b.Transform(match)
		col, ok := proj.Projector.(*nodes.Column)
		var d nodes.ColumnDeclaration
		if ok {
			d, ok = proj.Select.Column(col.Name)
		}
		if !ok {
			fail(c, "contains needs a sequence of scalar values")
		}
		result = &nodes.In{Expr: m, Select: proj.Select.SetColumns([]nodes.ColumnDeclaration{d})}
	}
	if b.isRoot(c) {
		return b.singleton(result)
	}
	return result
}

// --- Commands ---

func (b *binder) rootEntity(c *nodes.Call) *nodes.MappingEntity {
	r, ok := c.Args[0].(*nodes.Root)
	if !ok {
		fail(c, "%s must target an entity table", c.Method)
	}
	return r.Entity
}

func (b *binder) bindCommand(c *nodes.Call) nodes.Node {
	e := b.rootEntity(c)
	var instance nodes.Node
	if len(c.Args) > 1 && c.Args[1] != nil {
		if k, ok := c.Args[1].(*nodes.Constant); !ok || k.Value != nil {
			instance = b.Transform(c.Args[1])
		}
	}
	if instance == nil && c.Method != nodes.MethodDelete {
		fail(c, "%s needs an instance", c.Method)
	}
	switch c.Method {
	case nodes.MethodInsert:
		return must(b.mapper.InsertExpression(b, e, instance, lambdaArg(c, 2, false)))
	case nodes.MethodUpdate:
		return must(b.mapper.UpdateExpression(b, e, instance, lambdaArg(c, 2, false), lambdaArg(c, 3, false)))
	case nodes.MethodInsertOrUpdate:
		return must(b.mapper.InsertOrUpdateExpression(b, e, instance, lambdaArg(c, 2, false), lambdaArg(c, 3, false)))
	}
	return must(b.mapper.DeleteExpression(b, e, instance, lambdaArg(c, 2, false)))
}

// bindBatch binds the per-item command with its item parameter left free.
func (b *binder) bindBatch(c *nodes.Call) nodes.Node {
	if len(c.Args) != 5 {
		fail(c, "batch takes a target, items, an operation, a batch size and a stream flag")
	}
	op := lambdaArg(c, 2, true)
	if len(op.Params) != 1 {
		fail(op, "batch operation takes one item")
	}
	body := b.Transform(op.Body)
	switch body.(type) {
	case *nodes.Insert, *nodes.Update, *nodes.Upsert, *nodes.Delete:
	default:
		fail(op, "batch operation must be a command")
	}
	size, ok := constInt(c.Args[3])
	if !ok || size < 1 {
		fail(c.Args[3], "batch size must be a positive constant")
	}
	stream, _ := c.Args[4].(*nodes.Constant)
	return &nodes.Batch{
		Input:     b.Transform(c.Args[1]),
		Operation: &nodes.Lambda{Params: op.Params, Body: body},
		BatchSize: size,
		Stream:    stream != nil && stream.Value == true,
	}
}

func constInt(n nodes.Node) (int, bool) {
	k, ok := n.(*nodes.Constant)
	if !ok {
		return 0, false
	}
	switch v := k.Value.(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

