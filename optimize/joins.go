package optimize

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/translate"
)

// RedundantJoinRemover drops the right side of a join when an earlier join
// in the same source already joins an equivalent right side on an
// equivalent condition, and drops outer joins whose right side nothing reads
// and which yield at most one row per left row.
type RedundantJoinRemover struct {
	*nodes.BaseTransformer
	mapped map[*nodes.TableAlias]*nodes.TableAlias
}

// RemoveRedundantJoins runs the RedundantJoinRemover over n.
func RemoveRedundantJoins(n nodes.Node) nodes.Node {
	r := &RedundantJoinRemover{mapped: make(map[*nodes.TableAlias]*nodes.TableAlias)}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *RedundantJoinRemover) TransformJoin(n *nodes.Join) nodes.Node {
	out := r.BaseTransformer.TransformJoin(n)
	j, ok := out.(*nodes.Join)
	if !ok {
		return out
	}
	right := aliasOf(j.Right)
	if right == nil {
		return j
	}
	if similar := findSimilarRight(j.Left, j); similar != nil {
		r.mapped[right] = similar
		return j.Left
	}
	return j
}

func (r *RedundantJoinRemover) TransformColumn(n *nodes.Column) nodes.Node {
	if to, ok := r.mapped[n.Alias]; ok {
		return nodes.NewColumn(to, n.Name, n.Typ, n.QueryType)
	}
	return n
}

func (r *RedundantJoinRemover) TransformSelect(n *nodes.Select) nodes.Node {
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)
	for {
		j, ok := sel.From.(*nodes.Join)
		if !ok || !unreadOuterJoin(sel, j) {
			return sel
		}
		sel = sel.SetFrom(j.Left)
	}
}

// unreadOuterJoin reports whether the right side of j, the source of sel,
// can be dropped: it is outer joined, at most one of its rows matches, and
// no part of sel reads it.
func unreadOuterJoin(sel *nodes.Select, j *nodes.Join) bool {
	if j.Kind != nodes.LeftOuterJoin && j.Kind != nodes.OuterApply {
		return false
	}
	right, ok := j.Right.(*nodes.Select)
	if !ok || !atMostOneRow(right) {
		return false
	}
	refs := nodes.ReferencedAliases(sel.SetFrom(j.Left))
	for a := range nodes.DeclaredAliases(right) {
		if refs[a] {
			return false
		}
	}
	return true
}

func atMostOneRow(s *nodes.Select) bool {
	if c, ok := s.Take.(*nodes.Constant); ok {
		if n, ok := c.Value.(int64); ok && n <= 1 {
			return true
		}
	}
	return len(s.GroupBy) == 0 && s.HasAggregates()
}

func aliasOf(n nodes.Node) *nodes.TableAlias {
	switch x := n.(type) {
	case *nodes.Select:
		return x.Alias
	case *nodes.Table:
		return x.Alias
	}
	return nil
}

// findSimilarRight searches the joins under source for one of the same kind
// as j whose right side and condition are equivalent to j's, returning the
// alias of that right side.
func findSimilarRight(source nodes.Node, j *nodes.Join) *nodes.TableAlias {
	prev, ok := source.(*nodes.Join)
	if !ok {
		return nil
	}
	if prev.Kind == j.Kind {
		if a := aliasOf(prev.Right); a != nil && nodes.Equivalent(prev.Right, j.Right) {
			cond := nodes.MapColumns(j.Condition, a, aliasOf(j.Right))
			if prev.Condition == j.Condition || nodes.Equivalent(prev.Condition, cond) {
				return a
			}
		}
	}
	if a := findSimilarRight(prev.Left, j); a != nil {
		return a
	}
	return findSimilarRight(prev.Right, j)
}

// CrossApplyRewriter turns apply joins into ordinary joins when the right
// side reads the left side only in its predicate: the predicate becomes the
// join condition. Apply joins over tables become cross joins.
type CrossApplyRewriter struct {
	*nodes.BaseTransformer
}

// RewriteCrossApply runs the CrossApplyRewriter over n.
func RewriteCrossApply(n nodes.Node) nodes.Node {
	r := &CrossApplyRewriter{}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *CrossApplyRewriter) TransformJoin(n *nodes.Join) nodes.Node {
	j := r.BaseTransformer.TransformJoin(n).(*nodes.Join)
	if j.Kind != nodes.CrossApply && j.Kind != nodes.OuterApply {
		return j
	}
	if !translate.CanDecorrelate(j.Right, j.Left) {
		return j
	}
	var right nodes.Node = j.Right
	var where nodes.Node
	if sel, ok := j.Right.(*nodes.Select); ok && sel.Where != nil {
		right, where = hoistColumns(sel.SetWhere(nil), sel.Where)
	}
	switch {
	case where != nil && j.Kind == nodes.OuterApply:
		return nodes.NewJoin(nodes.LeftOuterJoin, j.Left, right, where)
	case where != nil:
		return nodes.NewJoin(nodes.InnerJoin, j.Left, right, where)
	case j.Kind == nodes.OuterApply:
		// An outer apply of an unfiltered source keeps left rows it has no
		// rows for.
		one := nodes.NewConstant(int64(1), model.Int)
		return nodes.NewJoin(nodes.LeftOuterJoin, j.Left, right, nodes.Eq(one, one))
	}
	return nodes.NewJoin(nodes.CrossJoin, j.Left, right, nil)
}

// hoistColumns makes every column of sel's source that pred reads an output
// column of sel and rewrites pred to read it through sel's alias.
func hoistColumns(sel *nodes.Select, pred nodes.Node) (*nodes.Select, nodes.Node) {
	inner := nodes.DeclaredAliases(sel.From)
	cols := sel.Columns
	grown := false
	pred = nodes.ReplaceFunc(pred, func(x nodes.Node) (nodes.Node, bool) {
		c, ok := x.(*nodes.Column)
		if !ok || !inner[c.Alias] {
			return nil, false
		}
		for _, d := range cols {
			if c.Same(asColumn(d.Expr)) {
				return d.Ref(sel.Alias), true
			}
		}
		if !grown {
			cols = append([]nodes.ColumnDeclaration(nil), cols...)
			grown = true
		}
		d := nodes.ColumnDeclaration{Name: nodes.AvailableColumnName(cols, c.Name), Expr: c, QueryType: c.QueryType}
		cols = append(cols, d)
		return d.Ref(sel.Alias), true
	})
	if grown {
		sel = sel.SetColumns(cols)
	}
	return sel, pred
}
