package translate

import (
	"github.com/bawdo/relq/nodes"
)

// RewriteClientJoins turns nested projections that are correlated with the
// select owning their projector only through key equalities into client
// joins. The nested query then runs once for all outer rows: it drops the
// correlation, outputs the inner key, and when the outer select restricts
// its rows it keeps only the rows some outer row can match. Nested
// projections that read the outer rows in any other way, page, group or
// aggregate are left to run once per outer row.
func RewriteClientJoins(n nodes.Node) nodes.Node {
	r := &clientJoinRewriter{}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

type clientJoinRewriter struct {
	*nodes.BaseTransformer
	current *nodes.Select
}

func (r *clientJoinRewriter) TransformProjection(p *nodes.Projection) nodes.Node {
	if r.current != nil {
		if cj := r.clientJoin(p); cj != nil {
			return cj
		}
	}
	return r.query(p)
}

// query rewrites the projector of p with p's select as the outer select.
func (r *clientJoinRewriter) query(p *nodes.Projection) *nodes.Projection {
	saved := r.current
	r.current = p.Select
	defer func() { r.current = saved }()
	projector := r.Transform(p.Projector)
	if projector != p.Projector {
		return &nodes.Projection{Select: p.Select, Projector: projector, Aggregator: p.Aggregator}
	}
	return p
}

// TransformCall keeps deferred projections separate queries.
func (r *clientJoinRewriter) TransformCall(c *nodes.Call) nodes.Node {
	if c.Method != nodes.MethodDeferred {
		return r.BaseTransformer.TransformCall(c)
	}
	saved := r.current
	r.current = nil
	defer func() { r.current = saved }()
	return r.BaseTransformer.TransformCall(c)
}

type keyPair struct {
	outer    *nodes.Column
	inner    nodes.Node
	term     nodes.Node
	nullSafe bool
}

func (r *clientJoinRewriter) clientJoin(p *nodes.Projection) *nodes.ClientJoin {
	sel := p.Select
	if sel.Take != nil || sel.Skip != nil || len(sel.GroupBy) > 0 || sel.HasAggregates() {
		return nil
	}
	if p.Aggregator != nil && p.Aggregator.Skip != nil {
		return nil
	}
	outer := r.current
	pairs, rest, ok := keyPairs(sel.Where, outer.Alias)
	if !ok {
		return nil
	}
	inner := sel.SetWhere(rest)
	if escapes(&nodes.Projection{Select: inner, Projector: p.Projector}) {
		return nil
	}

	cols := inner.Columns
	grown := false
	innerKey := make([]nodes.Node, len(pairs))
	outerKey := make([]nodes.Node, len(pairs))
	nullKeys := true
	for i, kp := range pairs {
		outerKey[i] = kp.outer
		nullKeys = nullKeys && kp.nullSafe
		if d, found := declared(cols, kp.inner); found {
			innerKey[i] = d.Ref(inner.Alias)
			continue
		}
		if !grown {
			cols = append([]nodes.ColumnDeclaration(nil), cols...)
			grown = true
		}
		d := nodes.ColumnDeclaration{Name: nodes.AvailableColumnName(cols, "key"), Expr: kp.inner}
		if c, ok := kp.inner.(*nodes.Column); ok {
			d.QueryType = c.QueryType
		}
		cols = append(cols, d)
		innerKey[i] = d.Ref(inner.Alias)
	}
	inner = inner.SetColumns(cols)
	if restricts(outer) {
		inner = inner.SetWhere(nodes.And(inner.Where, keyFilter(outer, pairs)))
	}

	proj := r.query(&nodes.Projection{Select: inner, Projector: p.Projector, Aggregator: p.Aggregator})
	return &nodes.ClientJoin{Projection: proj, OuterKey: outerKey, InnerKey: innerKey, NullKeys: nullKeys}
}

// keyPairs splits where into key equalities between a column of outer and
// an expression that does not read outer, and the rest of the predicate,
// which must not read outer either. A null-safe equality pairs a key too.
func keyPairs(where nodes.Node, outer *nodes.TableAlias) ([]keyPair, nodes.Node, bool) {
	var pairs []keyPair
	var rest nodes.Node
	for _, term := range conjuncts(where) {
		if !nodes.References(term, outer) {
			rest = nodes.And(rest, term)
			continue
		}
		eq, nullSafe := term, false
		if b, ok := term.(*nodes.Binary); ok && b.Op == nodes.OpOr && isNullPair(b.Left) {
			eq, nullSafe = b.Right, true
		}
		kp, ok := equality(eq, outer)
		if !ok {
			return nil, nil, false
		}
		kp.term, kp.nullSafe = term, nullSafe
		pairs = append(pairs, kp)
	}
	return pairs, rest, len(pairs) > 0
}

func conjuncts(n nodes.Node) []nodes.Node {
	if b, ok := n.(*nodes.Binary); ok && b.Op == nodes.OpAnd {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	if n == nil {
		return nil
	}
	return []nodes.Node{n}
}

func isNullPair(n nodes.Node) bool {
	b, ok := n.(*nodes.Binary)
	if !ok || b.Op != nodes.OpAnd {
		return false
	}
	_, l := b.Left.(*nodes.IsNull)
	_, r := b.Right.(*nodes.IsNull)
	return l && r
}

func equality(n nodes.Node, outer *nodes.TableAlias) (keyPair, bool) {
	b, ok := n.(*nodes.Binary)
	if !ok || b.Op != nodes.OpEq {
		return keyPair{}, false
	}
	if c, ok := b.Right.(*nodes.Column); ok && c.Alias == outer && !nodes.References(b.Left, outer) {
		return keyPair{outer: c, inner: b.Left}, true
	}
	if c, ok := b.Left.(*nodes.Column); ok && c.Alias == outer && !nodes.References(b.Right, outer) {
		return keyPair{outer: c, inner: b.Right}, true
	}
	return keyPair{}, false
}

// escapes reports whether p reads an alias it does not declare.
func escapes(p *nodes.Projection) bool {
	own := make(map[*nodes.TableAlias]bool)
	nodes.Inspect(p, func(x nodes.Node) bool {
		switch s := x.(type) {
		case *nodes.Select:
			own[s.Alias] = true
		case *nodes.Table:
			own[s.Alias] = true
		}
		return true
	})
	for a := range nodes.ReferencedAliases(p) {
		if !own[a] {
			return true
		}
	}
	return false
}

func declared(cols []nodes.ColumnDeclaration, expr nodes.Node) (nodes.ColumnDeclaration, bool) {
	c, isCol := expr.(*nodes.Column)
	for _, d := range cols {
		if d.Expr == expr {
			return d, true
		}
		if dc, ok := d.Expr.(*nodes.Column); ok && isCol && c.Same(dc) {
			return d, true
		}
	}
	return nodes.ColumnDeclaration{}, false
}

// restricts reports whether source may yield fewer rows than the tables it
// reads.
func restricts(source nodes.Node) bool {
	switch x := source.(type) {
	case *nodes.Table:
		return false
	case *nodes.Select:
		return x.From == nil || x.Where != nil || x.Take != nil || x.Skip != nil ||
			len(x.GroupBy) > 0 || restricts(x.From)
	}
	return true
}

// keyFilter keeps the inner rows whose key some row of a copy of outer
// matches.
func keyFilter(outer *nodes.Select, pairs []keyPair) nodes.Node {
	dup := nodes.Duplicate(outer).(*nodes.Select)
	if dup.Take == nil && dup.Skip == nil {
		dup = dup.SetOrderBy(nil)
	}
	var pred nodes.Node
	for _, kp := range pairs {
		pred = nodes.And(pred, nodes.MapColumns(kp.term, dup.Alias, outer.Alias))
	}
	return &nodes.Exists{Select: nodes.NewSelect(nodes.NewAlias(), nil, dup, pred)}
}
