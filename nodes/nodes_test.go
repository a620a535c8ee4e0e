package nodes

import (
	"testing"

	"github.com/bawdo/relq/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = model.NewStruct("Customer",
	model.Field{Name: "CustomerID", Type: model.String},
	model.Field{Name: "City", Type: model.String},
)

func customerSelect() (*Select, *Table) {
	tbl := NewTable(&MappingEntity{TableID: "Customers", Type: customer}, "Customers")
	cols := []ColumnDeclaration{
		{Name: "CustomerID", Expr: NewColumn(tbl.Alias, "CustomerID", model.String, nil)},
		{Name: "City", Expr: NewColumn(tbl.Alias, "City", model.String, nil)},
	}
	return NewSelect(NewAlias(), cols, tbl, nil), tbl
}

// --- Aliases ---

func TestAliasesCompareByIdentity(t *testing.T) {
	t.Parallel()
	a, b := NewAlias(), NewAlias()
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.String(), b.String())
	assert.Equal(t, "<nil>", (*TableAlias)(nil).String())
}

func TestAvailableColumnName(t *testing.T) {
	t.Parallel()
	cols := []ColumnDeclaration{{Name: "c"}, {Name: "c1"}}
	assert.Equal(t, "c2", AvailableColumnName(cols, "c"))
	assert.Equal(t, "d", AvailableColumnName(cols, "d"))
}

// --- BaseTransformer ---

func TestBaseTransformerReturnsIdenticalTree(t *testing.T) {
	t.Parallel()
	sel, tbl := customerSelect()
	where := Eq(NewColumn(tbl.Alias, "City", model.String, nil), NewConstant("London", model.String))
	sel = sel.SetWhere(where)
	proj := NewProjection(sel, &Entity{Expr: NewColumn(sel.Alias, "CustomerID", model.String, nil)})

	b := &BaseTransformer{}
	b.outer = b
	assert.Same(t, proj, b.Transform(proj))
}

func TestBaseTransformerRebuildsOnlyChangedPath(t *testing.T) {
	t.Parallel()
	sel, tbl := customerSelect()
	city := NewColumn(tbl.Alias, "City", model.String, nil)
	london := NewConstant("London", model.String)
	sel = sel.SetWhere(Eq(city, london))

	paris := NewConstant("Paris", model.String)
	out := Replace(sel, london, paris).(*Select)

	require.NotSame(t, sel, out)
	assert.Same(t, sel.From, out.From, "untouched source is shared")
	assert.True(t, Same(sel.Columns, out.Columns), "untouched columns are shared")
	assert.Same(t, paris, out.Where.(*Binary).Right)
	assert.Same(t, london, sel.Where.(*Binary).Right, "input is not mutated")
}

func TestTransformListKeepsSliceWhenUnchanged(t *testing.T) {
	t.Parallel()
	b := &BaseTransformer{}
	b.outer = b
	list := []Node{NewConstant(int64(1), model.Int), NewConstant(int64(2), model.Int)}
	assert.True(t, Same(list, b.TransformList(list)))
}

// --- Walk helpers ---

func TestDeclaredAndReferencedAliases(t *testing.T) {
	t.Parallel()
	left, lt := customerSelect()
	right, _ := customerSelect()
	join := NewJoin(InnerJoin, left, right, Eq(
		NewColumn(left.Alias, "CustomerID", model.String, nil),
		NewColumn(right.Alias, "CustomerID", model.String, nil),
	))

	declared := DeclaredAliases(join)
	assert.Len(t, declared, 2)
	assert.True(t, declared[left.Alias])
	assert.True(t, declared[right.Alias])
	assert.False(t, declared[lt.Alias], "aliases inside a select are not visible")

	refs := ReferencedAliases(join.Condition)
	assert.True(t, refs[left.Alias])
	assert.True(t, References(join.Condition, right.Alias))
	assert.False(t, References(join.Condition, lt.Alias))
}

func TestMapColumns(t *testing.T) {
	t.Parallel()
	from, to := NewAlias(), NewAlias()
	expr := NewBinary(OpConcat, NewColumn(from, "A", model.String, nil), NewColumn(from, "B", model.String, nil))
	out := MapColumns(expr, to, from).(*Binary)
	assert.Same(t, to, out.Left.(*Column).Alias)
	assert.Same(t, to, out.Right.(*Column).Alias)
	assert.Equal(t, "B", out.Right.(*Column).Name)
}

func TestDuplicateMintsFreshAliases(t *testing.T) {
	t.Parallel()
	sel, tbl := customerSelect()
	outer := NewAlias()
	sel = sel.SetWhere(Eq(
		NewColumn(tbl.Alias, "City", model.String, nil),
		NewColumn(outer, "City", model.String, nil),
	))

	dup := Duplicate(sel).(*Select)
	require.NotSame(t, sel, dup)
	assert.NotSame(t, sel.Alias, dup.Alias)
	dupTbl := dup.From.(*Table)
	assert.NotSame(t, tbl.Alias, dupTbl.Alias)
	assert.Same(t, dupTbl.Alias, dup.Columns[0].Expr.(*Column).Alias)

	cond := dup.Where.(*Binary)
	assert.Same(t, dupTbl.Alias, cond.Left.(*Column).Alias)
	assert.Same(t, outer, cond.Right.(*Column).Alias, "outer references are kept")
}

func TestAddRedundantSelectKeepsAlias(t *testing.T) {
	t.Parallel()
	sel, _ := customerSelect()
	inner := NewAlias()
	out := sel.AddRedundantSelect(inner)

	assert.Same(t, sel.Alias, out.Alias)
	pushed := out.From.(*Select)
	assert.Same(t, inner, pushed.Alias)
	require.Len(t, out.Columns, 2)
	assert.Same(t, inner, out.Columns[1].Expr.(*Column).Alias)
	assert.Equal(t, "City", out.Columns[1].Name)
}

func TestHasAggregatesIgnoresSubqueries(t *testing.T) {
	t.Parallel()
	sel, _ := customerSelect()
	assert.False(t, sel.HasAggregates())

	inner, _ := customerSelect()
	inner = inner.SetColumns([]ColumnDeclaration{{Name: "c", Expr: &Aggregate{Func: AggCount, Typ: model.Int}}})
	withScalar := sel.AddColumn(ColumnDeclaration{Name: "n", Expr: &Scalar{Select: inner, Typ: model.Int}})
	assert.False(t, withScalar.HasAggregates())

	withAgg := sel.AddColumn(ColumnDeclaration{Name: "n", Expr: &Aggregate{Func: AggCount, Typ: model.Int}})
	assert.True(t, withAgg.HasAggregates())
}

func TestEquivalentPairsDeclaredAliases(t *testing.T) {
	t.Parallel()
	outer := NewAlias()
	build := func(city string) *Select {
		sel, tbl := customerSelect()
		return sel.SetWhere(And(
			Eq(NewColumn(tbl.Alias, "City", model.String, nil), NewConstant(city, model.String)),
			Eq(NewColumn(tbl.Alias, "CustomerID", model.String, nil), NewColumn(outer, "CustomerID", model.String, nil)),
		))
	}
	a, b := build("London"), build("London")
	assert.True(t, Equivalent(a, b))
	assert.True(t, Equivalent(a, Duplicate(a)))
	assert.False(t, Equivalent(a, build("Paris")))

	other, _ := customerSelect()
	assert.False(t, Equivalent(a, other))
	assert.False(t, Equivalent(a, nil))
	assert.True(t, Equivalent(nil, nil))
}

func TestPreTransformerStopsDescent(t *testing.T) {
	t.Parallel()
	sel, tbl := customerSelect()
	city := NewColumn(tbl.Alias, "City", model.String, nil)
	sel = sel.SetWhere(Eq(city, NewConstant("London", model.String)))

	seen := 0
	var b *BaseTransformer
	b = NewPreTransformer(nil, func(n Node) (Node, bool) {
		seen++
		if _, ok := n.(*Binary); ok {
			return NewConstant(true, model.Bool), true
		}
		return nil, false
	})
	b.outer = b
	out := b.Transform(sel).(*Select)
	assert.Equal(t, "true", String(out.Where))
	assert.Greater(t, seen, 1)
}

// --- Debug text ---

func TestStringRendersTree(t *testing.T) {
	t.Parallel()
	p := NewParameter("c", customer)
	body := Eq(MemberOf(p, "City"), NewConstant("London", model.String))
	call := &Call{
		Method: MethodWhere,
		Args:   []Node{&Root{Entity: &MappingEntity{Type: customer}}, NewLambda(body, p)},
	}
	assert.Equal(t, `Where(Query(Customer), (c) => (c.City == "London"))`, String(call))
	assert.Equal(t, "<nil>", String(nil))
}

func TestQueryTypeString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		qt   *QueryType
		want string
	}{
		{&QueryType{Name: "nvarchar", Length: 40}, "nvarchar(40)"},
		{&QueryType{Name: "nvarchar", Length: -1}, "nvarchar(max)"},
		{&QueryType{Name: "decimal", Precision: 29, Scale: 4}, "decimal(29,4)"},
		{&QueryType{Name: "int"}, "int"},
		{nil, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.qt.String())
	}
}
