package optimize

import (
	"sort"

	"github.com/bawdo/relq/nodes"
)

// UnusedColumnRemover drops column declarations nothing reads. References
// are gathered top-down: a projector is visited before its select, a
// select's own clauses before its source, and the right side of a join
// before its left, so every use is seen before the declaring select.
type UnusedColumnRemover struct {
	*nodes.BaseTransformer
	used map[*nodes.TableAlias]map[string]bool
}

// RemoveUnusedColumns runs the UnusedColumnRemover over n.
func RemoveUnusedColumns(n nodes.Node) nodes.Node {
	r := &UnusedColumnRemover{used: make(map[*nodes.TableAlias]map[string]bool)}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *UnusedColumnRemover) markUsed(alias *nodes.TableAlias, name string) {
	cols := r.used[alias]
	if cols == nil {
		cols = make(map[string]bool)
		r.used[alias] = cols
	}
	cols[name] = true
}

func (r *UnusedColumnRemover) TransformColumn(n *nodes.Column) nodes.Node {
	r.markUsed(n.Alias, n.Name)
	return n
}

func (r *UnusedColumnRemover) TransformScalar(n *nodes.Scalar) nodes.Node {
	if len(n.Select.Columns) == 1 {
		r.markUsed(n.Select.Alias, n.Select.Columns[0].Name)
	}
	return r.BaseTransformer.TransformScalar(n)
}

func (r *UnusedColumnRemover) TransformIn(n *nodes.In) nodes.Node {
	if n.Select != nil && len(n.Select.Columns) == 1 {
		r.markUsed(n.Select.Alias, n.Select.Columns[0].Name)
	}
	return r.BaseTransformer.TransformIn(n)
}

func (r *UnusedColumnRemover) TransformSelect(n *nodes.Select) nodes.Node {
	used := r.used[n.Alias]
	var cols []nodes.ColumnDeclaration
	changed := false
	for _, c := range n.Columns {
		if !n.Distinct && !used[c.Name] {
			changed = true
			continue
		}
		e := r.Transform(c.Expr)
		if e != c.Expr {
			changed = true
			c = nodes.ColumnDeclaration{Name: c.Name, Expr: e, QueryType: c.QueryType}
		}
		cols = append(cols, c)
	}
	if !changed {
		cols = n.Columns
	}
	take := r.Transform(n.Take)
	skip := r.Transform(n.Skip)
	groupBy := r.TransformList(n.GroupBy)
	orderBy := r.TransformOrderBy(n.OrderBy)
	where := r.Transform(n.Where)
	from := r.Transform(n.From)
	delete(r.used, n.Alias)

	if !changed && take == n.Take && skip == n.Skip && nodes.Same(groupBy, n.GroupBy) &&
		nodes.Same(orderBy, n.OrderBy) && where == n.Where && from == n.From {
		return n
	}
	return &nodes.Select{
		Alias: n.Alias, Columns: cols, From: from, Where: where, OrderBy: orderBy,
		GroupBy: groupBy, Distinct: n.Distinct, Skip: skip, Take: take,
	}
}

func (r *UnusedColumnRemover) TransformJoin(n *nodes.Join) nodes.Node {
	cond := r.Transform(n.Condition)
	right := r.Transform(n.Right)
	left := r.Transform(n.Left)
	if cond != n.Condition || right != n.Right || left != n.Left {
		return nodes.NewJoin(n.Kind, left, right, cond)
	}
	return n
}

func (r *UnusedColumnRemover) TransformProjection(n *nodes.Projection) nodes.Node {
	proj := r.Transform(n.Projector)
	var skip nodes.Node
	if n.Aggregator != nil {
		skip = r.Transform(n.Aggregator.Skip)
	}
	sel := r.TransformSubSelect(n.Select)
	if proj != n.Projector || sel != n.Select {
		p := &nodes.Projection{Select: sel, Projector: proj, Aggregator: n.Aggregator}
		if n.Aggregator != nil && skip != n.Aggregator.Skip {
			p.Aggregator = &nodes.Aggregator{Shape: n.Aggregator.Shape, Skip: skip}
		}
		return p
	}
	return n
}

func (r *UnusedColumnRemover) TransformClientJoin(n *nodes.ClientJoin) nodes.Node {
	inner := r.TransformList(n.InnerKey)
	outer := r.TransformList(n.OuterKey)
	p := r.TransformSubProjection(n.Projection)
	if p != n.Projection || !nodes.Same(outer, n.OuterKey) || !nodes.Same(inner, n.InnerKey) {
		return &nodes.ClientJoin{Projection: p, OuterKey: outer, InnerKey: inner, NullKeys: n.NullKeys}
	}
	return n
}

// RedundantColumnRemover merges declarations of one select that compute the
// same column, redirecting references to the surviving name.
type RedundantColumnRemover struct {
	*nodes.BaseTransformer
	mapped map[columnKey]*nodes.Column
}

type columnKey struct {
	alias *nodes.TableAlias
	name  string
}

// RemoveRedundantColumns runs the RedundantColumnRemover over n.
func RemoveRedundantColumns(n nodes.Node) nodes.Node {
	r := &RedundantColumnRemover{mapped: make(map[columnKey]*nodes.Column)}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *RedundantColumnRemover) TransformColumn(n *nodes.Column) nodes.Node {
	if c, ok := r.mapped[columnKey{n.Alias, n.Name}]; ok {
		return c
	}
	return n
}

func (r *RedundantColumnRemover) TransformSelect(n *nodes.Select) nodes.Node {
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)
	order := make([]int, len(sel.Columns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sel.Columns[order[a]].Name < sel.Columns[order[b]].Name
	})
	removed := make(map[int]bool)
	for x, i := range order {
		if removed[i] {
			continue
		}
		ci := sel.Columns[i]
		for _, j := range order[x+1:] {
			cj := sel.Columns[j]
			if removed[j] || !sameColumn(ci.Expr, cj.Expr) {
				continue
			}
			r.mapped[columnKey{sel.Alias, cj.Name}] = ci.Ref(sel.Alias)
			removed[j] = true
		}
	}
	if len(removed) == 0 {
		return sel
	}
	cols := make([]nodes.ColumnDeclaration, 0, len(sel.Columns)-len(removed))
	for i, c := range sel.Columns {
		if !removed[i] {
			cols = append(cols, c)
		}
	}
	return sel.SetColumns(cols)
}

func sameColumn(a, b nodes.Node) bool {
	if a == b {
		return true
	}
	ca, ok := a.(*nodes.Column)
	if !ok {
		return false
	}
	return ca.Same(asColumn(b))
}

func asColumn(n nodes.Node) *nodes.Column {
	c, _ := n.(*nodes.Column)
	return c
}
