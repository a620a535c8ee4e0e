package translate

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// BindRelationships expands the association accesses Bind left on entities.
// Inside select bodies a singleton association becomes a scalar subquery.
// Inside projectors a singleton projection is lifted into an outer apply of
// the select that owns the projector, when that select can take the join
// and the dialect can evaluate it; otherwise it stays nested.
func BindRelationships(m *mapping.Mapper, n nodes.Node) (out nodes.Node, err error) {
	rb := &relationshipBinder{mapper: m, lang: m.Lang, tr: newBinder(m)}
	rb.BaseTransformer = nodes.NewBaseTransformer(rb)
	defer recoverError(&err)
	return rb.Transform(n), nil
}

type relationshipBinder struct {
	*nodes.BaseTransformer
	mapper *mapping.Mapper
	lang   *dialect.Language
	tr     *binder
	// current is the select whose projector is being rewritten. It is nil
	// inside select bodies and commands.
	current *nodes.Select
}

func (rb *relationshipBinder) TransformSelect(n *nodes.Select) nodes.Node {
	saved := rb.current
	rb.current = nil
	defer func() { rb.current = saved }()
	return rb.BaseTransformer.TransformSelect(n)
}

func (rb *relationshipBinder) TransformProjection(p *nodes.Projection) nodes.Node {
	if rb.current != nil && p.IsSingleton() {
		inner := rb.rewrite(p)
		if r, ok := rb.lift(inner); ok {
			return r
		}
		return inner
	}
	return rb.rewrite(p)
}

// rewrite processes p as a query of its own.
func (rb *relationshipBinder) rewrite(p *nodes.Projection) *nodes.Projection {
	saved := rb.current
	defer func() { rb.current = saved }()
	sel := rb.TransformSubSelect(p.Select)
	rb.current = sel
	projector := rb.Transform(p.Projector)
	if rb.current != p.Select || projector != p.Projector {
		return &nodes.Projection{Select: rb.current, Projector: projector, Aggregator: p.Aggregator}
	}
	return p
}

func (rb *relationshipBinder) TransformCall(c *nodes.Call) nodes.Node {
	if c.Method != nodes.MethodDeferred {
		return rb.BaseTransformer.TransformCall(c)
	}
	p, ok := c.Args[0].(*nodes.Projection)
	if !ok {
		fail(c, "deferred value must be a projection")
	}
	if r := rb.rewrite(p); r != p {
		return &nodes.Call{Method: c.Method, Args: []nodes.Node{r}, Typ: c.Typ}
	}
	return c
}

func (rb *relationshipBinder) TransformMember(m *nodes.Member) nodes.Node {
	r := rb.expand(m)
	if r == nodes.Node(m) {
		return m
	}
	if p, ok := r.(*nodes.Projection); ok {
		return rb.place(p, m)
	}
	return r
}

// expand resolves a member chain, turning association accesses into
// projections without placing them.
func (rb *relationshipBinder) expand(m *nodes.Member) nodes.Node {
	var src nodes.Node
	if sm, ok := m.Expr.(*nodes.Member); ok {
		src = rb.expand(sm)
	} else {
		src = rb.Transform(m.Expr)
	}
	if e, ok := src.(*nodes.Entity); ok && rb.mapper.Resolver.IsRelationship(e.Entity, m.Name) {
		return must(rb.mapper.MemberExpression(rb.tr, e, e.Entity, m.Name))
	}
	if p, ok := src.(*nodes.Projection); ok && !p.IsSingleton() {
		fail(m, "member %s of a collection cannot be read", m.Name)
	}
	if src == m.Expr {
		return m
	}
	return bindMember(rb.mapper.Resolver, src, m.Name)
}

func (rb *relationshipBinder) place(p *nodes.Projection, at nodes.Node) nodes.Node {
	if rb.current != nil {
		return rb.TransformProjection(p)
	}
	if !p.IsSingleton() {
		fail(at, "a collection association cannot be used as a value here")
	}
	col, ok := p.Projector.(*nodes.Column)
	if ok && col.Alias == p.Select.Alias {
		if d, found := p.Select.Column(col.Name); found {
			sel := rb.TransformSubSelect(p.Select.SetColumns([]nodes.ColumnDeclaration{d}))
			return &nodes.Scalar{Select: sel, Typ: col.Typ}
		}
	}
	fail(at, "only a single member of an association can be read here")
	return nil
}

// lift joins the singleton p into the current select with an outer apply
// and returns the projector that reads it from there.
func (rb *relationshipBinder) lift(p *nodes.Projection) (nodes.Node, bool) {
	cur := rb.current
	if cur.Distinct || len(cur.GroupBy) > 0 || cur.HasAggregates() {
		return nil, false
	}
	newAlias := nodes.NewAlias()
	cur = cur.AddRedundantSelect(newAlias)
	source := nodes.MapColumns(p.Select, newAlias, cur.Alias).(*nodes.Select)
	if rb.lang.Apply == dialect.ApplyNone && !CanDecorrelate(source, cur.From) {
		return nil, false
	}
	test := nodes.ColumnDeclaration{
		Name:      nodes.AvailableColumnName(source.Columns, "Test"),
		Expr:      nodes.NewConstant(int64(1), model.Nullable(model.Int)),
		QueryType: rb.lang.Types.ColumnType(model.Int),
	}
	source = source.AddColumn(test)
	projector := &nodes.OuterJoined{Test: test.Ref(source.Alias), Expr: p.Projector}
	cols, pc := ProjectColumnsWith(projector, cur.Columns, cur.Alias, newAlias, source.Alias)
	join := nodes.NewJoin(nodes.OuterApply, cur.From, source, nil)
	rb.current = nodes.NewSelect(cur.Alias, cols, join, nil)
	return pc, true
}

// CanDecorrelate reports whether right, applied per row of left, can become
// an ordinary join: nothing but its predicate reads left, and dropping the
// predicate into the join condition does not change what it computes.
func CanDecorrelate(right, left nodes.Node) bool {
	switch r := right.(type) {
	case *nodes.Table:
		return true
	case *nodes.Select:
		if r.Take != nil || r.Skip != nil || r.Distinct || len(r.GroupBy) > 0 || r.HasAggregates() {
			return false
		}
		declared := nodes.DeclaredAliases(left)
		for a := range nodes.ReferencedAliases(r.SetWhere(nil)) {
			if declared[a] {
				return false
			}
		}
		return true
	}
	return false
}
