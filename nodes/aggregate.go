package nodes

import "github.com/bawdo/relq/model"

// AggregateFunc identifies the aggregate function.
type AggregateFunc int

const (
	AggCount AggregateFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggregateFuncNames = [...]string{
	AggCount: "COUNT",
	AggSum:   "SUM",
	AggAvg:   "AVG",
	AggMin:   "MIN",
	AggMax:   "MAX",
}

func (f AggregateFunc) String() string { return aggregateFuncNames[f] }

// AggregateFuncFor maps an aggregate query operator to its function.
func AggregateFuncFor(m Method) (AggregateFunc, bool) {
	switch m {
	case MethodCount:
		return AggCount, true
	case MethodSum:
		return AggSum, true
	case MethodAverage:
		return AggAvg, true
	case MethodMin:
		return AggMin, true
	case MethodMax:
		return AggMax, true
	}
	return 0, false
}

// Aggregate is an aggregate function call. Arg is nil for COUNT(*).
type Aggregate struct {
	Func     AggregateFunc
	Arg      Node
	Distinct bool
	Typ      model.Type
}

func (n *Aggregate) Accept(v Visitor) string { return v.VisitAggregate(n) }
func (n *Aggregate) Transform(t Transformer) Node { return t.TransformAggregate(n) }
func (n *Aggregate) Type() model.Type { return n.Typ }

// AggregateSubquery links an aggregate computed as an independent scalar
// subquery back to the group-by select that owns its source elements. When
// that select is still present, the aggregate can be computed inline there.
type AggregateSubquery struct {
	GroupAlias *TableAlias
	InGroup    Node
	Subquery   *Scalar
}

func (n *AggregateSubquery) Accept(v Visitor) string { return v.VisitAggregateSubquery(n) }
func (n *AggregateSubquery) Transform(t Transformer) Node {
	return t.TransformAggregateSubquery(n)
}
func (n *AggregateSubquery) Type() model.Type { return n.Subquery.Type() }
