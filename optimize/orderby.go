package optimize

import "github.com/bawdo/relq/nodes"

// OrderByRewriter moves orderings to the outermost select of each query.
// SQL keeps ORDER BY only on the outermost select and on selects that page
// with take or skip; orderings of other selects are gathered, rebound to
// the columns of each enclosing select and applied at the top. Selects that
// group or are distinct stop orderings from passing through them.
type OrderByRewriter struct {
	*nodes.BaseTransformer
	gathered  []nodes.OrderExpression
	outermost bool
}

// RewriteOrderBy runs the OrderByRewriter over n.
func RewriteOrderBy(n nodes.Node) nodes.Node {
	r := &OrderByRewriter{}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

// rewriteOrderBySelect rewrites sel as the outermost select of a query.
func rewriteOrderBySelect(sel *nodes.Select) *nodes.Select {
	r := &OrderByRewriter{outermost: true}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.TransformSubSelect(sel)
}

func (r *OrderByRewriter) TransformProjection(n *nodes.Projection) nodes.Node {
	saved, gathered := r.outermost, r.gathered
	r.outermost, r.gathered = true, nil
	defer func() { r.outermost, r.gathered = saved, gathered }()
	sel := r.TransformSubSelect(n.Select)
	r.outermost, r.gathered = true, nil
	proj := r.Transform(n.Projector)
	if sel != n.Select || proj != n.Projector {
		return &nodes.Projection{Select: sel, Projector: proj, Aggregator: n.Aggregator}
	}
	return n
}

func (r *OrderByRewriter) TransformSelect(n *nodes.Select) nodes.Node {
	outermost := r.outermost
	r.outermost = false
	defer func() { r.outermost = outermost }()
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)

	hasGroup := len(sel.GroupBy) > 0
	canHave := outermost || sel.Take != nil || sel.Skip != nil
	canReceive := canHave && !hasGroup && !sel.Distinct && !sel.HasAggregates()
	if len(sel.OrderBy) > 0 {
		r.prepend(sel.OrderBy)
	}
	var orderings []nodes.OrderExpression
	switch {
	case canReceive:
		orderings = r.gathered
	case canHave:
		orderings = sel.OrderBy
	}
	cols := sel.Columns
	if r.gathered != nil {
		gathered := r.gathered
		r.gathered = nil
		if !outermost && !hasGroup && !sel.Distinct {
			var rebound []nodes.OrderExpression
			cols, rebound = rebindOrderings(gathered, sel.Alias, nodes.DeclaredAliases(sel.From), cols)
			r.prepend(rebound)
		}
	}
	if sameOrderings(orderings, sel.OrderBy) && nodes.Same(cols, sel.Columns) {
		return sel
	}
	out := sel.SetColumns(cols)
	if !sameOrderings(orderings, sel.OrderBy) {
		out.OrderBy = orderings
	}
	return out
}

func (r *OrderByRewriter) TransformJoin(n *nodes.Join) nodes.Node {
	left := r.Transform(n.Left)
	leftOrders := r.gathered
	r.gathered = nil
	right := r.Transform(n.Right)
	r.prepend(leftOrders)
	cond := r.Transform(n.Condition)
	if left != n.Left || right != n.Right || cond != n.Condition {
		return nodes.NewJoin(n.Kind, left, right, cond)
	}
	return n
}

// subquery runs f with a clean slate: orderings inside a subquery never
// reach the select that contains it.
func (r *OrderByRewriter) subquery(f func() nodes.Node) nodes.Node {
	saved, gathered := r.outermost, r.gathered
	r.outermost, r.gathered = false, nil
	defer func() { r.outermost, r.gathered = saved, gathered }()
	return f()
}

func (r *OrderByRewriter) TransformScalar(n *nodes.Scalar) nodes.Node {
	return r.subquery(func() nodes.Node { return r.BaseTransformer.TransformScalar(n) })
}

func (r *OrderByRewriter) TransformExists(n *nodes.Exists) nodes.Node {
	return r.subquery(func() nodes.Node { return r.BaseTransformer.TransformExists(n) })
}

func (r *OrderByRewriter) TransformIn(n *nodes.In) nodes.Node {
	return r.subquery(func() nodes.Node { return r.BaseTransformer.TransformIn(n) })
}

// prepend puts orderings in front of the gathered ones and drops later
// orderings on a column already ordered by.
func (r *OrderByRewriter) prepend(orderings []nodes.OrderExpression) {
	if len(orderings) == 0 {
		return
	}
	all := make([]nodes.OrderExpression, 0, len(orderings)+len(r.gathered))
	all = append(all, orderings...)
	all = append(all, r.gathered...)
	out := all[:0]
	seen := make(map[columnKey]bool)
	for _, o := range all {
		if c, ok := o.Expr.(*nodes.Column); ok {
			k := columnKey{c.Alias, c.Name}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, o)
	}
	r.gathered = out
}

// rebindOrderings rewrites orderings over the sources of a select into
// orderings over the select's own alias, declaring a column for every
// ordering expression the select does not output yet. Orderings on columns
// of other selects are dropped.
func rebindOrderings(orderings []nodes.OrderExpression, alias *nodes.TableAlias, declared map[*nodes.TableAlias]bool, cols []nodes.ColumnDeclaration) ([]nodes.ColumnDeclaration, []nodes.OrderExpression) {
	out := make([]nodes.OrderExpression, 0, len(orderings))
	grown := false
	for _, o := range orderings {
		col, isCol := o.Expr.(*nodes.Column)
		if isCol && !declared[col.Alias] {
			continue
		}
		var ref nodes.Node
		for _, d := range cols {
			if d.Expr == o.Expr || (isCol && col.Same(asColumn(d.Expr))) {
				ref = d.Ref(alias)
				break
			}
		}
		if ref == nil {
			if !grown {
				cols = append([]nodes.ColumnDeclaration(nil), cols...)
				grown = true
			}
			base := "c"
			var qt *nodes.QueryType
			if isCol {
				base, qt = col.Name, col.QueryType
			}
			d := nodes.ColumnDeclaration{Name: nodes.AvailableColumnName(cols, base), Expr: o.Expr, QueryType: qt}
			cols = append(cols, d)
			ref = d.Ref(alias)
		}
		out = append(out, nodes.OrderExpression{Expr: ref, Direction: o.Direction})
	}
	return cols, out
}

// sameOrderings compares orderings by direction and by the column or
// expression they order on.
func sameOrderings(a, b []nodes.OrderExpression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Direction != b[i].Direction {
			return false
		}
		if a[i].Expr != b[i].Expr && !sameColumn(a[i].Expr, b[i].Expr) {
			return false
		}
	}
	return true
}

// invert returns the orderings with every direction reversed.
func invert(orderings []nodes.OrderExpression) []nodes.OrderExpression {
	out := make([]nodes.OrderExpression, len(orderings))
	for i, o := range orderings {
		out[i] = nodes.OrderExpression{Expr: o.Expr, Direction: o.Direction.Invert()}
	}
	return out
}
