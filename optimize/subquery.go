package optimize

import "github.com/bawdo/relq/nodes"

// RedundantSubqueryRemover removes selects that only pass their source
// through, then merges a select with the select it reads from whenever the
// merged select computes the same rows.
type RedundantSubqueryRemover struct {
	*nodes.BaseTransformer
	topLevel bool
}

// RemoveRedundantSubqueries runs the RedundantSubqueryRemover over n.
func RemoveRedundantSubqueries(n nodes.Node) nodes.Node {
	r := &RedundantSubqueryRemover{topLevel: true}
	r.BaseTransformer = nodes.NewBaseTransformer(r)
	return r.Transform(n)
}

func (r *RedundantSubqueryRemover) TransformSelect(n *nodes.Select) nodes.Node {
	wasTop := r.topLevel
	r.topLevel = false
	sel := r.BaseTransformer.TransformSelect(n).(*nodes.Select)
	r.topLevel = wasTop

	if redundant := gatherRedundant(sel.From); len(redundant) > 0 {
		sel = removeSubqueries(sel, redundant).(*nodes.Select)
	}
	for canMergeWithFrom(sel, wasTop) {
		sel = mergeWithFrom(sel)
	}
	return sel
}

func (r *RedundantSubqueryRemover) TransformProjection(n *nodes.Projection) nodes.Node {
	saved := r.topLevel
	r.topLevel = true
	out := r.BaseTransformer.TransformProjection(n)
	r.topLevel = saved
	p := out.(*nodes.Projection)
	if _, ok := p.Select.From.(*nodes.Select); ok && isRedundant(p.Select) {
		return removeSubqueries(p, []*nodes.Select{p.Select})
	}
	return p
}

// isRedundant reports whether s passes its source through unchanged.
func isRedundant(s *nodes.Select) bool {
	return (isSimpleProjection(s) || isNameMapProjection(s)) &&
		!s.Distinct && s.Take == nil && s.Skip == nil && s.Where == nil &&
		len(s.OrderBy) == 0 && len(s.GroupBy) == 0
}

// isSimpleProjection reports whether every column of s is a column of its
// source under the same name.
func isSimpleProjection(s *nodes.Select) bool {
	declared := nodes.DeclaredAliases(s.From)
	for _, c := range s.Columns {
		col, ok := c.Expr.(*nodes.Column)
		if !ok || col.Name != c.Name || !declared[col.Alias] {
			return false
		}
	}
	return true
}

// isNameMapProjection reports whether s renames the columns of the select it
// reads from one to one.
func isNameMapProjection(s *nodes.Select) bool {
	from, ok := s.From.(*nodes.Select)
	if !ok || len(s.Columns) != len(from.Columns) {
		return false
	}
	for i, c := range s.Columns {
		col, ok := c.Expr.(*nodes.Column)
		if !ok || col.Alias != from.Alias || col.Name != from.Columns[i].Name {
			return false
		}
	}
	return true
}

// gatherRedundant collects the redundant selects directly in a source,
// looking through joins.
func gatherRedundant(source nodes.Node) []*nodes.Select {
	var out []*nodes.Select
	var walk func(nodes.Node)
	walk = func(n nodes.Node) {
		switch x := n.(type) {
		case *nodes.Select:
			if x.From != nil && isRedundant(x) {
				out = append(out, x)
			}
		case *nodes.Join:
			walk(x.Left)
			walk(x.Right)
		}
	}
	walk(source)
	return out
}

// removeSubqueries replaces each of the given selects in n by its source and
// rewrites references to its columns into the expressions they declared.
func removeSubqueries(n nodes.Node, selects []*nodes.Select) nodes.Node {
	gone := make(map[*nodes.Select]bool, len(selects))
	decls := make(map[columnKey]nodes.Node)
	for _, s := range selects {
		gone[s] = true
		for _, c := range s.Columns {
			decls[columnKey{s.Alias, c.Name}] = c.Expr
		}
	}
	var rewrite func(nodes.Node) nodes.Node
	rewrite = func(n nodes.Node) nodes.Node {
		return nodes.ReplaceFunc(n, func(x nodes.Node) (nodes.Node, bool) {
			switch v := x.(type) {
			case *nodes.Select:
				if gone[v] {
					return rewrite(v.From), true
				}
			case *nodes.Column:
				if e, ok := decls[columnKey{v.Alias, v.Name}]; ok {
					return rewrite(e), true
				}
			}
			return nil, false
		})
	}
	return rewrite(n)
}

// leftMostSelect returns the select that begins a source, if any.
func leftMostSelect(source nodes.Node) *nodes.Select {
	switch x := source.(type) {
	case *nodes.Select:
		return x
	case *nodes.Join:
		return leftMostSelect(x.Left)
	}
	return nil
}

// isColumnProjection reports whether s declares nothing but columns and
// constants, so moving its declarations into an outer select costs nothing.
func isColumnProjection(s *nodes.Select) bool {
	for _, c := range s.Columns {
		switch c.Expr.(type) {
		case *nodes.Column, *nodes.Constant:
		default:
			return false
		}
	}
	return true
}

func canMergeWithFrom(sel *nodes.Select, topLevel bool) bool {
	from := leftMostSelect(sel.From)
	if from == nil || from.From == nil || !isColumnProjection(from) {
		return false
	}
	nameMap := isNameMapProjection(sel)
	selOrder, selGroup := len(sel.OrderBy) > 0, len(sel.GroupBy) > 0
	selAggs := sel.HasAggregates()
	_, selJoin := sel.From.(*nodes.Join)
	fromOrder, fromGroup := len(from.OrderBy) > 0, len(from.GroupBy) > 0
	fromAggs := from.HasAggregates()
	selLimits := sel.Take != nil || sel.Skip != nil || sel.Where != nil

	switch {
	case selOrder && fromOrder:
		return false
	case selGroup && fromGroup:
		return false
	case fromOrder && (selGroup || selAggs || sel.Distinct):
		return false
	case fromGroup:
		return false
	case from.Take != nil && (selLimits || sel.Distinct || selAggs || selGroup || selJoin):
		return false
	case from.Skip != nil && (sel.Skip != nil || sel.Where != nil || selOrder || sel.Distinct || selAggs || selGroup || selJoin):
		// A take after a skip merges into one page.
		return false
	case from.Distinct && (selLimits || !nameMap || selGroup || selAggs || (selOrder && !topLevel) || selJoin):
		return false
	case fromAggs && (selLimits || sel.Distinct || selAggs || selGroup || selJoin):
		return false
	}
	return true
}

func mergeWithFrom(sel *nodes.Select) *nodes.Select {
	from := leftMostSelect(sel.From)
	merged := removeSubqueries(sel, []*nodes.Select{from}).(*nodes.Select)
	out := *merged
	out.Where = nodes.And(from.Where, merged.Where)
	if len(out.OrderBy) == 0 {
		out.OrderBy = from.OrderBy
	}
	if len(out.GroupBy) == 0 {
		out.GroupBy = from.GroupBy
	}
	if out.Skip == nil {
		out.Skip = from.Skip
	}
	if out.Take == nil {
		out.Take = from.Take
	}
	out.Distinct = out.Distinct || from.Distinct
	return &out
}
