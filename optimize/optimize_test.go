package optimize

import (
	"strings"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
	"github.com/bawdo/relq/visitors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMapper(t *testing.T, lang *dialect.Language) *mapping.Mapper {
	t.Helper()
	am, err := mapping.LoadAttributeMapping(strings.NewReader(testutil.NorthwindMapping), testutil.NorthwindTypes()...)
	require.NoError(t, err)
	return mapping.NewMapper(am, lang)
}

func from(t *testing.T, m *mapping.Mapper, s *model.Struct) query.Queryable {
	t.Helper()
	e, err := m.Resolver.Entity(s)
	require.NoError(t, err)
	return query.From(e)
}

// optimized binds and optimizes q, returning the projection.
func optimized(t *testing.T, m *mapping.Mapper, q query.Queryable) *nodes.Projection {
	t.Helper()
	n, err := translate.Bind(m, q.Expr())
	require.NoError(t, err)
	n, err = Pipeline{Mapper: m}.Optimize(n)
	require.NoError(t, err)
	p, ok := n.(*nodes.Projection)
	require.True(t, ok, "expected a projection, got %T", n)
	return p
}

func sql(t *testing.T, lang *dialect.Language, n nodes.Node) string {
	t.Helper()
	if p, ok := n.(*nodes.Projection); ok {
		n = p.Select
	}
	cmd, err := visitors.Format(lang, n, visitors.WithoutParams())
	require.NoError(t, err)
	return cmd.Text
}

func customerFn(body func(c nodes.Node) nodes.Node) *nodes.Lambda {
	return query.Fn1("c", testutil.Customer, body)
}

var customerGroup = &model.Group{Key: model.String, Elem: testutil.Customer}

func city(c nodes.Node) nodes.Node { return query.M(c, "City") }

func inLondon(c nodes.Node) nodes.Node { return query.Eq(city(c), query.Lit("London")) }

// --- Pipeline ---

func TestOptimizeFlattensChains(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).
		Where(customerFn(inLondon)).
		OrderBy(customerFn(func(c nodes.Node) nodes.Node { return query.M(c, "CompanyName") })).
		Select(customerFn(func(c nodes.Node) nodes.Node { return query.M(c, "CompanyName") }))

	got := sql(t, m.Lang, optimized(t, m, q))
	assert.Equal(t, 1, strings.Count(got, "SELECT"), got)
	assert.Contains(t, got, `WHERE "t0"."City" = 'London'`)
	assert.Contains(t, got, `ORDER BY "t0"."CompanyName"`)
	assert.NotContains(t, got, "ContactName", "unread columns are dropped")
}

func TestOptimizeIsIdempotent(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		lang *dialect.Language
		q    func(m *mapping.Mapper) query.Queryable
	}{
		{"where", dialect.SQLite(), func(m *mapping.Mapper) query.Queryable {
			return from(t, m, testutil.Customer).Where(customerFn(inLondon))
		}},
		{"group", dialect.SQLite(), func(m *mapping.Mapper) query.Queryable {
			return from(t, m, testutil.Customer).GroupByResult(customerFn(city), nil,
				query.Fn2("k", model.String, "g", customerGroup, func(k, g nodes.Node) nodes.Node {
					return query.Rec("City", k, "Count", query.Of(g).Count().Expr())
				}))
		}},
		{"rownumber", dialect.TSQL(), func(m *mapping.Mapper) query.Queryable {
			return from(t, m, testutil.Customer).OrderBy(customerFn(city)).Skip(5).Take(10)
		}},
		{"nested", dialect.Access(), func(m *mapping.Mapper) query.Queryable {
			return from(t, m, testutil.Customer).OrderBy(customerFn(city)).Skip(5).Take(10)
		}},
		{"apply", dialect.SQLite(), func(m *mapping.Mapper) query.Queryable {
			return from(t, m, testutil.Customer).SelectMany(customerFn(func(c nodes.Node) nodes.Node {
				return query.M(c, "Orders")
			}))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newMapper(t, tc.lang)
			p := optimized(t, m, tc.q(m))
			again, err := Pipeline{Mapper: m}.Optimize(p)
			require.NoError(t, err)
			assert.Same(t, nodes.Node(p), again)
		})
	}
}

// --- Aggregates ---

func TestAggregatesMoveIntoGroupSelect(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.SQLite())
	group := &model.Group{Key: model.String, Elem: testutil.Order}
	orderFn := func(body func(o nodes.Node) nodes.Node) *nodes.Lambda { return query.Fn1("o", testutil.Order, body) }
	q := from(t, m, testutil.Order).
		GroupBy(orderFn(func(o nodes.Node) nodes.Node { return query.M(o, "CustomerID") })).
		Select(query.Fn1("g", group, func(g nodes.Node) nodes.Node {
			return query.Rec("Customer", query.M(g, "Key"),
				"Total", query.Of(g).Sum(orderFn(func(o nodes.Node) nodes.Node { return query.M(o, "Freight") })).Expr())
		}))

	p := optimized(t, m, q)
	nodes.Inspect(p, func(n nodes.Node) bool {
		_, ok := n.(*nodes.AggregateSubquery)
		assert.False(t, ok, "aggregate subquery left in %s", nodes.String(p))
		return true
	})
	got := sql(t, m.Lang, p)
	assert.Equal(t, 1, strings.Count(got, "SELECT"), got)
	assert.Contains(t, got, `"Freight") AS `)
	assert.Contains(t, got, "SUM(")
	assert.Contains(t, got, "GROUP BY ")
	assert.Contains(t, got[strings.Index(got, "GROUP BY"):], `"CustomerID"`)
}

func TestGroupResultAggregatesInline(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).GroupByResult(customerFn(city), nil,
		query.Fn2("k", model.String, "g", customerGroup, func(k, g nodes.Node) nodes.Node {
			return query.Rec("City", k, "Count", query.Of(g).Count().Expr())
		}))

	assert.Equal(t,
		`SELECT "t0"."City", COUNT(*) AS "Count" FROM "Customers" AS "t0" GROUP BY "t0"."City"`,
		sql(t, m.Lang, optimized(t, m, q)))
}

func TestAggregateWithoutGroupSelectKeepsSubquery(t *testing.T) {
	t.Parallel()
	sub := &nodes.Scalar{Select: nodes.NewSelect(nodes.NewAlias(), nil, nil, nil), Typ: model.Int}
	a := &nodes.AggregateSubquery{GroupAlias: nodes.NewAlias(), InGroup: query.Lit(1), Subquery: sub}
	assert.Same(t, nodes.Node(sub), RewriteAggregates(a))
}

// --- Columns ---

func TestRemoveUnusedColumns(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	a := nodes.NewColumn(tbl.Alias, "A", model.Int, nil)
	b := nodes.NewColumn(tbl.Alias, "B", model.Int, nil)
	inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "A", Expr: a}, {Name: "B", Expr: b}}, tbl, nil)
	outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "A", Expr: inner.Columns[0].Ref(inner.Alias)}}, inner, nil)
	p := nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias))

	out := RemoveUnusedColumns(p).(*nodes.Projection)
	got := out.Select.From.(*nodes.Select)
	require.Len(t, got.Columns, 1)
	assert.Equal(t, "A", got.Columns[0].Name)
	assert.Same(t, nodes.Node(out), RemoveUnusedColumns(out))
}

func TestRemoveUnusedColumnsKeepsDistinct(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{
		{Name: "A", Expr: nodes.NewColumn(tbl.Alias, "A", model.Int, nil)},
		{Name: "B", Expr: nodes.NewColumn(tbl.Alias, "B", model.Int, nil)},
	}, tbl, nil)
	inner.Distinct = true
	outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{
		{Name: "n", Expr: &nodes.Aggregate{Func: nodes.AggCount, Typ: model.Int}},
	}, inner, nil)
	p := nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias))

	out := RemoveUnusedColumns(p).(*nodes.Projection)
	assert.Len(t, out.Select.From.(*nodes.Select).Columns, 2, "distinct rows depend on every column")
}

func TestRemoveRedundantColumns(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	a := nodes.NewColumn(tbl.Alias, "City", model.String, nil)
	sel := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{
		{Name: "City", Expr: a},
		{Name: "Town", Expr: nodes.NewColumn(tbl.Alias, "City", model.String, nil)},
	}, tbl, nil)
	p := nodes.NewProjection(sel, query.Rec(
		"City", sel.Columns[0].Ref(sel.Alias),
		"Town", sel.Columns[1].Ref(sel.Alias),
	))

	out := RemoveRedundantColumns(p).(*nodes.Projection)
	require.Len(t, out.Select.Columns, 1)
	nw := out.Projector.(*nodes.New)
	assert.Equal(t, "City", nw.Field("Town").(*nodes.Column).Name)
}

// --- Subqueries ---

func TestRemoveRedundantSubqueryMergesWhere(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	c := nodes.NewColumn(tbl.Alias, "City", model.String, nil)
	inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: c}}, tbl,
		query.Eq(c, query.Lit("London")))
	ref := inner.Columns[0].Ref(inner.Alias)
	outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: ref}}, inner,
		query.Ne(ref, query.Lit("Paris")))
	p := nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias))

	out := RemoveRedundantSubqueries(p).(*nodes.Projection)
	assert.Same(t, tbl, out.Select.From)
	w := out.Select.Where.(*nodes.Binary)
	assert.Equal(t, nodes.OpAnd, w.Op)
	assert.Same(t, inner.Where, w.Left)
	assert.Same(t, c, w.Right.(*nodes.Binary).Left, "outer references read the source column")
}

func TestRemoveRedundantSubqueryKeepsPagedSource(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	c := nodes.NewColumn(tbl.Alias, "City", model.String, nil)
	inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: c}}, tbl, nil)
	inner.Take = query.Lit(3)
	ref := inner.Columns[0].Ref(inner.Alias)
	outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: ref}}, inner,
		query.Ne(ref, query.Lit("Paris")))
	p := nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias))

	assert.Same(t, nodes.Node(p), RemoveRedundantSubqueries(p), "filtering after take is not filtering before it")
}

func TestRemoveRedundantSubqueryMergesTakeAfterSkip(t *testing.T) {
	t.Parallel()
	pagedOver := func(skipFirst bool) (*nodes.Projection, *nodes.Table) {
		tbl := nodes.NewTable(nil, "Customers")
		c := nodes.NewColumn(tbl.Alias, "City", model.String, nil)
		inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: c}}, tbl, nil)
		outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "City", Expr: inner.Columns[0].Ref(inner.Alias)}}, inner, nil)
		if skipFirst {
			inner.Skip, outer.Take = query.Lit(5), query.Lit(10)
		} else {
			inner.Take, outer.Skip = query.Lit(10), query.Lit(5)
		}
		return nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias)), tbl
	}

	p, tbl := pagedOver(true)
	out := RemoveRedundantSubqueries(p).(*nodes.Projection)
	assert.Same(t, tbl, out.Select.From)
	assert.Equal(t, int64(5), out.Select.Skip.(*nodes.Constant).Value)
	assert.Equal(t, int64(10), out.Select.Take.(*nodes.Constant).Value)

	p, _ = pagedOver(false)
	assert.Same(t, nodes.Node(p), RemoveRedundantSubqueries(p), "skipping after take is not one page")
}

// --- Joins ---

func TestRemoveRedundantJoin(t *testing.T) {
	t.Parallel()
	base := nodes.NewTable(nil, "Orders")
	first := nodes.NewTable(nil, "Customers")
	second := nodes.NewTable(nil, "Customers")
	on := func(t *nodes.Table) nodes.Node {
		return query.Eq(nodes.NewColumn(t.Alias, "CustomerID", model.String, nil),
			nodes.NewColumn(base.Alias, "CustomerID", model.String, nil))
	}
	j1 := nodes.NewJoin(nodes.LeftOuterJoin, base, first, on(first))
	j2 := nodes.NewJoin(nodes.LeftOuterJoin, j1, second, on(second))
	sel := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{
		{Name: "Name", Expr: nodes.NewColumn(second.Alias, "CompanyName", model.String, nil)},
	}, j2, nil)

	out := RemoveRedundantJoins(sel).(*nodes.Select)
	assert.Same(t, j1, out.From)
	assert.Equal(t, first.Alias, out.Columns[0].Expr.(*nodes.Column).Alias)
}

func TestCrossApplyBecomesJoin(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).SelectMany(customerFn(func(c nodes.Node) nodes.Node {
		return query.M(c, "Orders")
	}))

	got := sql(t, m.Lang, optimized(t, m, q))
	assert.NotContains(t, got, "APPLY")
	assert.Contains(t, got, "INNER JOIN")
	assert.Contains(t, got, " ON ")
}

func TestOuterApplyWithoutPredicateKeepsLeftRows(t *testing.T) {
	t.Parallel()
	left := nodes.NewTable(nil, "Customers")
	right := nodes.NewTable(nil, "Orders")
	j := RewriteCrossApply(nodes.NewJoin(nodes.OuterApply, left, right, nil)).(*nodes.Join)
	assert.Equal(t, nodes.LeftOuterJoin, j.Kind)
	assert.NotNil(t, j.Condition)
}

// --- Ordering and paging ---

func TestOrderByLiftsToOutermost(t *testing.T) {
	t.Parallel()
	tbl := nodes.NewTable(nil, "Customers")
	c := nodes.NewColumn(tbl.Alias, "City", model.String, nil)
	name := nodes.NewColumn(tbl.Alias, "CompanyName", model.String, nil)
	inner := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{{Name: "CompanyName", Expr: name}}, tbl, nil)
	inner.OrderBy = []nodes.OrderExpression{{Expr: c, Direction: nodes.Desc}}
	outer := nodes.NewSelect(nodes.NewAlias(), []nodes.ColumnDeclaration{
		{Name: "CompanyName", Expr: inner.Columns[0].Ref(inner.Alias)},
	}, inner, nil)
	p := nodes.NewProjection(outer, outer.Columns[0].Ref(outer.Alias))

	out := RewriteOrderBy(p).(*nodes.Projection)
	got := out.Select.From.(*nodes.Select)
	assert.Empty(t, got.OrderBy)
	require.Len(t, got.Columns, 2, "the ordering column is declared for the outer select")
	require.Len(t, out.Select.OrderBy, 1)
	assert.Equal(t, nodes.Desc, out.Select.OrderBy[0].Direction)
	assert.Equal(t, got.Alias, out.Select.OrderBy[0].Expr.(*nodes.Column).Alias)
	assert.Same(t, nodes.Node(out), RewriteOrderBy(out))
}

func TestRowNumberPaging(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.TSQL())
	q := from(t, m, testutil.Customer).OrderBy(customerFn(city)).Skip(5).Take(10)

	got := sql(t, m.Lang, optimized(t, m, q))
	assert.Contains(t, got, "ROW_NUMBER() OVER(ORDER BY")
	assert.Contains(t, got, "BETWEEN 6 AND 15")
	assert.NotContains(t, got, "OFFSET")
}

func TestNestedOrderByPaging(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.Access())
	q := from(t, m, testutil.Customer).OrderBy(customerFn(city)).Skip(5).Take(10)

	got := sql(t, m.Lang, optimized(t, m, q))
	assert.Contains(t, got, "TOP 15")
	assert.Contains(t, got, "TOP 10")
	assert.Contains(t, got, "DESC")
}

func TestNestedOrderByFallsBackToClientSkip(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.Access())
	q := from(t, m, testutil.Customer).Skip(5).Take(10)

	p := optimized(t, m, q)
	require.NotNil(t, p.Aggregator)
	assert.Equal(t, int64(5), p.Aggregator.Skip.(*nodes.Constant).Value)
	assert.Contains(t, sql(t, m.Lang, p), "TOP 15")
}

func TestClientSkip(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.SQLite(dialect.WithPagination(dialect.PaginationClientSkip)))
	q := from(t, m, testutil.Customer).Skip(5).Take(10)

	p := optimized(t, m, q)
	require.NotNil(t, p.Aggregator)
	assert.Equal(t, nodes.ShapeSequence, p.Aggregator.Shape)
	assert.Nil(t, p.Select.Skip)
	assert.Equal(t, int64(15), p.Select.Take.(*nodes.Constant).Value)
}

func TestAddCounts(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(7), addCounts(query.Lit(3), query.Lit(4)).(*nodes.Constant).Value)
	n := query.Arg("n", model.Int)
	assert.IsType(t, &nodes.Binary{}, addCounts(n, query.Lit(4)))
}
