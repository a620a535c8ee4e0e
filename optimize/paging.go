package optimize

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// RowNumberRewriter pages with ROW_NUMBER(): a select that skips gains a
// numbered column under a new layer that keeps only the rows in the page.
type RowNumberRewriter struct {
	*nodes.BaseTransformer
	lang *dialect.Language
}

// RewriteRowNumber runs the RowNumberRewriter over n.
func RewriteRowNumber(lang *dialect.Language, n nodes.Node) nodes.Node {
	r := &RowNumberRewriter{lang: lang}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *RowNumberRewriter) TransformSelect(n *nodes.Select) nodes.Node {
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)
	if sel.Skip == nil {
		return sel
	}
	numbered := sel.SetSkip(nil).SetTake(nil)
	order := sel.OrderBy
	if sel.Distinct || len(sel.GroupBy) > 0 {
		// The row number cannot join a distinct or grouped column list, so it
		// is computed one layer up.
		numbered = numbered.AddRedundantSelect(nodes.NewAlias())
		source := numbered.From.(*nodes.Select)
		cols, rebound := rebindOrderings(order, source.Alias, nodes.DeclaredAliases(source.From), source.Columns)
		numbered = numbered.SetFrom(source.SetColumns(cols).SetOrderBy(nil))
		order = rebound
	}
	numbered = numbered.SetOrderBy(nil)
	if len(order) == 0 {
		order = make([]nodes.OrderExpression, len(numbered.Columns))
		for i, c := range numbered.Columns {
			order[i] = nodes.OrderExpression{Expr: c.Expr}
		}
	}
	rn := nodes.ColumnDeclaration{
		Name:      nodes.AvailableColumnName(numbered.Columns, "_rownum"),
		Expr:      &nodes.RowNumber{OrderBy: order},
		QueryType: r.lang.Types.ColumnType(model.Int),
	}
	numbered = numbered.AddColumn(rn)

	paged := numbered.AddRedundantSelect(nodes.NewAlias()).RemoveColumn(rn.Name)
	rnCol := rn.Ref(paged.From.(*nodes.Select).Alias)
	if sel.Take != nil {
		paged.Where = &nodes.Between{Expr: rnCol, Lower: addCounts(sel.Skip, one()), Upper: addCounts(sel.Skip, sel.Take)}
	} else {
		paged.Where = nodes.NewBinary(nodes.OpGt, rnCol, sel.Skip)
	}
	paged.OrderBy = []nodes.OrderExpression{{Expr: rnCol}}
	return paged
}

// NestedOrderByRewriter pages without OFFSET: it takes skip+take rows,
// takes the last take of them by inverting the order, and restores the
// order. When the rows are fewer than skip+take the last page repeats rows
// of the page before it. A projection that skips without take or without an
// order skips on the client instead.
type NestedOrderByRewriter struct {
	*nodes.BaseTransformer
}

// RewriteNestedOrderBy runs the NestedOrderByRewriter over n.
func RewriteNestedOrderBy(n nodes.Node) nodes.Node {
	r := &NestedOrderByRewriter{}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *NestedOrderByRewriter) TransformSelect(n *nodes.Select) nodes.Node {
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)
	if sel.Skip == nil || sel.Take == nil || len(sel.OrderBy) == 0 {
		return sel
	}
	take := sel.Take
	sel = sel.SetTake(addCounts(sel.Skip, take)).SetSkip(nil)
	sel = sel.AddRedundantSelect(nodes.NewAlias()).SetTake(take)
	sel = rewriteOrderBySelect(sel)
	sel = sel.SetOrderBy(invert(sel.OrderBy))
	sel = rewriteOrderBySelect(sel.AddRedundantSelect(nodes.NewAlias()))
	return sel.SetOrderBy(invert(sel.OrderBy))
}

func (r *NestedOrderByRewriter) TransformProjection(n *nodes.Projection) nodes.Node {
	p := r.BaseTransformer.TransformProjection(n).(*nodes.Projection)
	if p.Select.Skip != nil {
		return clientSkip(p)
	}
	return p
}

// ClientSkipRewriter asks the server for skip+take rows of a projection and
// leaves dropping the first skip rows to the client.
type ClientSkipRewriter struct {
	*nodes.BaseTransformer
}

// RewriteClientSkip runs the ClientSkipRewriter over n.
func RewriteClientSkip(n nodes.Node) nodes.Node {
	r := &ClientSkipRewriter{}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *ClientSkipRewriter) TransformProjection(n *nodes.Projection) nodes.Node {
	p := r.BaseTransformer.TransformProjection(n).(*nodes.Projection)
	if p.Select.Skip != nil {
		return clientSkip(p)
	}
	return p
}

func clientSkip(p *nodes.Projection) *nodes.Projection {
	sel := p.Select
	var take nodes.Node
	if sel.Take != nil {
		take = addCounts(sel.Skip, sel.Take)
	}
	agg := &nodes.Aggregator{Shape: nodes.ShapeSequence, Skip: sel.Skip}
	if p.Aggregator != nil {
		agg.Shape = p.Aggregator.Shape
	}
	return &nodes.Projection{Select: sel.SetSkip(nil).SetTake(take), Projector: p.Projector, Aggregator: agg}
}

func one() nodes.Node { return nodes.NewConstant(int64(1), model.Int) }

// addCounts adds two row counts, folding constants.
func addCounts(a, b nodes.Node) nodes.Node {
	ca, aok := a.(*nodes.Constant)
	cb, bok := b.(*nodes.Constant)
	if aok && bok {
		x, xok := ca.Value.(int64)
		y, yok := cb.Value.(int64)
		if xok && yok {
			return nodes.NewConstant(x+y, model.Int)
		}
	}
	return nodes.NewBinary(nodes.OpPlus, a, b)
}
