package nodes

import "github.com/bawdo/relq/model"

// OrderDirection represents ASC or DESC ordering.
type OrderDirection int

const (
	Asc OrderDirection = iota
	Desc
)

// Invert returns the opposite direction.
func (d OrderDirection) Invert() OrderDirection {
	if d == Asc {
		return Desc
	}
	return Asc
}

// OrderExpression is one ORDER BY key.
type OrderExpression struct {
	Expr      Node
	Direction OrderDirection
}

// Select is a SELECT statement introducing Alias as the name of its output.
type Select struct {
	Alias    *TableAlias
	Columns  []ColumnDeclaration
	From     Node
	Where    Node
	OrderBy  []OrderExpression
	GroupBy  []Node
	Distinct bool
	Skip     Node
	Take     Node
}

func (n *Select) Accept(v Visitor) string { return v.VisitSelect(n) }
func (n *Select) Transform(t Transformer) Node { return t.TransformSelect(n) }
func (n *Select) Type() model.Type { return nil }

// NewSelect creates a select with only columns, source and predicate.
func NewSelect(alias *TableAlias, columns []ColumnDeclaration, from, where Node) *Select {
	return &Select{Alias: alias, Columns: columns, From: from, Where: where}
}

func (n *Select) clone() *Select {
	c := *n
	return &c
}

// SetColumns returns a copy of n with the given columns.
func (n *Select) SetColumns(cols []ColumnDeclaration) *Select {
	c := n.clone()
	c.Columns = cols
	return c
}

// AddColumn returns a copy of n with decl appended.
func (n *Select) AddColumn(decl ColumnDeclaration) *Select {
	cols := make([]ColumnDeclaration, len(n.Columns), len(n.Columns)+1)
	copy(cols, n.Columns)
	return n.SetColumns(append(cols, decl))
}

// RemoveColumn returns a copy of n without the named column.
func (n *Select) RemoveColumn(name string) *Select {
	cols := make([]ColumnDeclaration, 0, len(n.Columns))
	for _, c := range n.Columns {
		if c.Name != name {
			cols = append(cols, c)
		}
	}
	return n.SetColumns(cols)
}

// Column returns the declaration with the given name.
func (n *Select) Column(name string) (ColumnDeclaration, bool) {
	for _, c := range n.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDeclaration{}, false
}

// SetWhere returns a copy of n with the given predicate.
func (n *Select) SetWhere(where Node) *Select {
	c := n.clone()
	c.Where = where
	return c
}

// SetOrderBy returns a copy of n with the given orderings.
func (n *Select) SetOrderBy(orderBy []OrderExpression) *Select {
	c := n.clone()
	c.OrderBy = orderBy
	return c
}

// SetSkip returns a copy of n with the given skip count.
func (n *Select) SetSkip(skip Node) *Select {
	c := n.clone()
	c.Skip = skip
	return c
}

// SetTake returns a copy of n with the given take count.
func (n *Select) SetTake(take Node) *Select {
	c := n.clone()
	c.Take = take
	return c
}

// SetFrom returns a copy of n reading from the given source.
func (n *Select) SetFrom(from Node) *Select {
	c := n.clone()
	c.From = from
	return c
}

// AddRedundantSelect pushes n down under newAlias and returns a pass-through
// select that keeps n's alias, so references above remain valid.
func (n *Select) AddRedundantSelect(newAlias *TableAlias) *Select {
	inner := n.clone()
	inner.Alias = newAlias
	cols := make([]ColumnDeclaration, len(n.Columns))
	for i, d := range n.Columns {
		cols[i] = ColumnDeclaration{Name: d.Name, Expr: d.Ref(newAlias), QueryType: d.QueryType}
	}
	return &Select{Alias: n.Alias, Columns: cols, From: inner}
}

// HasAggregates reports whether any column of n is an aggregate.
func (n *Select) HasAggregates() bool {
	found := false
	for _, c := range n.Columns {
		Inspect(c.Expr, func(x Node) bool {
			switch x.(type) {
			case *Aggregate:
				found = true
			case *Select, *Scalar, *Exists, *In, *AggregateSubquery:
				return false
			}
			return !found
		})
	}
	return found
}

// JoinType identifies the join kind.
type JoinType int

const (
	CrossJoin JoinType = iota
	InnerJoin
	CrossApply
	OuterApply
	LeftOuterJoin
)

var joinTypeNames = [...]string{
	CrossJoin:     "CROSS JOIN",
	InnerJoin:     "INNER JOIN",
	CrossApply:    "CROSS APPLY",
	OuterApply:    "OUTER APPLY",
	LeftOuterJoin: "LEFT OUTER JOIN",
}

func (j JoinType) String() string { return joinTypeNames[j] }

// Join combines two row sources.
type Join struct {
	Kind      JoinType
	Left      Node
	Right     Node
	Condition Node
}

func (n *Join) Accept(v Visitor) string { return v.VisitJoin(n) }
func (n *Join) Transform(t Transformer) Node { return t.TransformJoin(n) }
func (n *Join) Type() model.Type { return nil }

// NewJoin creates a join.
func NewJoin(kind JoinType, left, right, condition Node) *Join {
	return &Join{Kind: kind, Left: left, Right: right, Condition: condition}
}

// OuterJoined guards Expr with Test: when Test reads NULL the right side of
// an outer join matched nothing and the value is the type's default.
type OuterJoined struct {
	Test Node
	Expr Node
}

func (n *OuterJoined) Accept(v Visitor) string { return v.VisitOuterJoined(n) }
func (n *OuterJoined) Transform(t Transformer) Node { return t.TransformOuterJoined(n) }
func (n *OuterJoined) Type() model.Type { return n.Expr.Type() }
