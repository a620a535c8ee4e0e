// Package optimize rewrites bound query trees into simpler equivalent trees
// and adapts them to what the target dialect can express.
//
// Every pass is a nodes.Transformer that returns its input unchanged when it
// has nothing to do, so passes compose and Pipeline.Optimize is idempotent.
package optimize

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/translate"
)

// maxRounds bounds the cleanup loop; the passes settle in two or three.
const maxRounds = 8

// Pipeline runs the optimizer passes in their fixed order.
type Pipeline struct {
	Mapper *mapping.Mapper
	Policy mapping.Policy
}

// Optimize rewrites a bound tree: aggregates move into their group selects,
// redundant columns, subqueries and joins go away, included relationships
// are bound, and finally ordering, paging and apply joins are adapted to the
// dialect. Optimizing an optimized tree returns it unchanged.
func (p Pipeline) Optimize(n nodes.Node) (nodes.Node, error) {
	n = RewriteAggregates(n)
	n = Cleanup(n)
	n, err := translate.IncludeRelationships(p.Mapper, p.Policy, n)
	if err != nil {
		return nil, err
	}
	if n, err = translate.BindRelationships(p.Mapper, n); err != nil {
		return nil, err
	}
	for i := 0; i < maxRounds; i++ {
		next := ForLanguage(p.Mapper.Lang, Cleanup(n))
		if next == n {
			break
		}
		n = next
	}
	return n, nil
}

// Cleanup removes unused columns, then duplicated columns, redundant
// subqueries and redundant joins.
func Cleanup(n nodes.Node) nodes.Node {
	n = RemoveUnusedColumns(n)
	n = RemoveRedundantColumns(n)
	n = RemoveRedundantSubqueries(n)
	return RemoveRedundantJoins(n)
}

// ForLanguage adapts n to lang: orderings are lifted to where SQL keeps
// them, skip is rewritten to the dialect's paging strategy, and apply joins
// become ordinary joins when the dialect has no APPLY.
func ForLanguage(lang *dialect.Language, n nodes.Node) nodes.Node {
	n = RewriteOrderBy(n)
	switch lang.Pagination {
	case dialect.PaginationRowNumber:
		n = RewriteRowNumber(lang, n)
	case dialect.PaginationNestedOrderBy:
		n = RewriteNestedOrderBy(n)
	case dialect.PaginationClientSkip:
		n = RewriteClientSkip(n)
	}
	n = RewriteOrderBy(n)
	if lang.Apply == dialect.ApplyNone {
		n = RewriteCrossApply(n)
	}
	return n
}
