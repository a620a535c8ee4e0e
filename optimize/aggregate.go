package optimize

import "github.com/bawdo/relq/nodes"

// AggregateRewriter computes aggregates over groups inside the group-by
// select that owns the group, replacing the correlated scalar subquery the
// binder produced with a column of that select. Aggregates whose group
// select is gone keep their subquery.
type AggregateRewriter struct {
	*nodes.BaseTransformer
	pending map[*nodes.TableAlias][]*nodes.AggregateSubquery
	mapped  map[*nodes.AggregateSubquery]*nodes.Column
}

// RewriteAggregates runs the AggregateRewriter over n.
func RewriteAggregates(n nodes.Node) nodes.Node {
	ar := &AggregateRewriter{
		pending: make(map[*nodes.TableAlias][]*nodes.AggregateSubquery),
		mapped:  make(map[*nodes.AggregateSubquery]*nodes.Column),
	}
	nodes.Inspect(n, func(x nodes.Node) bool {
		if a, ok := x.(*nodes.AggregateSubquery); ok {
			ar.pending[a.GroupAlias] = append(ar.pending[a.GroupAlias], a)
		}
		return true
	})
	if len(ar.pending) == 0 {
		return n
	}
	ar.BaseTransformer = nodes.NewBaseTransformer(ar)
	return ar.Transform(n)
}

func (ar *AggregateRewriter) TransformSelect(n *nodes.Select) nodes.Node {
	sel := ar.BaseTransformer.TransformSelect(n).(*nodes.Select)
	aggs := ar.pending[sel.Alias]
	if len(aggs) == 0 {
		return sel
	}
	cols := make([]nodes.ColumnDeclaration, len(sel.Columns), len(sel.Columns)+len(aggs))
	copy(cols, sel.Columns)
	for _, a := range aggs {
		decl := nodes.ColumnDeclaration{
			Name: nodes.AvailableColumnName(cols, "agg"),
			Expr: ar.Transform(a.InGroup),
		}
		cols = append(cols, decl)
		ar.mapped[a] = decl.Ref(sel.Alias)
	}
	return sel.SetColumns(cols)
}

func (ar *AggregateRewriter) TransformAggregateSubquery(n *nodes.AggregateSubquery) nodes.Node {
	if c, ok := ar.mapped[n]; ok {
		return c
	}
	return ar.Transform(n.Subquery)
}
