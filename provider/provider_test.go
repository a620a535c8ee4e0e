package provider_test

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins/softdelete"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMapper(t *testing.T, lang *dialect.Language) *mapping.Mapper {
	t.Helper()
	am, err := mapping.LoadAttributeMapping(strings.NewReader(testutil.NorthwindMapping), testutil.NorthwindTypes()...)
	require.NoError(t, err)
	return mapping.NewMapper(am, lang)
}

func newProvider(t *testing.T, db *sql.DB, opts ...provider.Option) *provider.Provider {
	t.Helper()
	var rt exec.Runtime
	if db != nil {
		rt = sqldb.New(db)
	}
	return provider.New(newMapper(t, dialect.SQLite()), rt, opts...)
}

func customers(t *testing.T, p *provider.Provider) *nodes.MappingEntity {
	t.Helper()
	e, err := p.Mapper().Resolver.Entity(testutil.Customer)
	require.NoError(t, err)
	return e
}

func customerFn(body func(c nodes.Node) nodes.Node) *nodes.Lambda {
	return query.Fn1("c", testutil.Customer, body)
}

func cityIs(city nodes.Node) *nodes.Lambda {
	return customerFn(func(c nodes.Node) nodes.Node { return query.Eq(query.M(c, "City"), city) })
}

func ids(t *testing.T, p *provider.Provider, city nodes.Node) query.Queryable {
	t.Helper()
	return query.From(customers(t, p)).
		Where(cityIs(city)).
		OrderBy(customerFn(func(c nodes.Node) nodes.Node { return query.M(c, "CustomerID") })).
		Select(customerFn(func(c nodes.Node) nodes.Node { return query.M(c, "CustomerID") }))
}

// --- Compiling ---

func TestQueryText(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil)
	text, err := p.QueryText(ids(t, p, query.Arg("city", model.String)))
	require.NoError(t, err)
	assert.Contains(t, text, `FROM "Customers" AS "t0"`)
	assert.Contains(t, text, `ORDER BY "t0"."CustomerID"`)
}

func TestPlanReportsParams(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil)
	plan, err := p.Plan(ids(t, p, query.Arg("city", model.String)))
	require.NoError(t, err)
	assert.Equal(t, exec.KindSequence, plan.Kind)
	assert.Equal(t, []string{"city"}, plan.Params())
	require.Len(t, plan.Commands, 1)
}

func TestPlanReportsUnsupportedShape(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil)
	_, err := p.Plan(query.Of(nodes.NewConstant(int64(1), model.Int)))
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrUnsupported, qerrors.CodeOf(err))
}

// --- Plan cache ---

func TestPlanCacheReusesShapes(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil)
	first, err := p.Plan(ids(t, p, query.Lit("London")))
	require.NoError(t, err)
	again, err := p.Plan(ids(t, p, query.Lit("London")))
	require.NoError(t, err)
	other, err := p.Plan(ids(t, p, query.Lit("Berlin")))
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, p.Cache().Len())
	hits, misses := p.Cache().Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestPlanCacheSkipsRecordConstants(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil)
	rec := model.RecordOf(testutil.Customer, "CustomerID", "NEWCO", "CompanyName", "New Co", "City", "Leeds", "Country", "UK")
	_, err := p.Plan(query.Insert(customers(t, p), query.Lit(rec)))
	require.NoError(t, err)
	assert.Zero(t, p.Cache().Len())
}

func TestWithoutCache(t *testing.T) {
	t.Parallel()
	p := newProvider(t, nil, provider.WithoutCache())
	a, err := p.Plan(ids(t, p, query.Lit("London")))
	require.NoError(t, err)
	b, err := p.Plan(ids(t, p, query.Lit("London")))
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Nil(t, p.Cache())
}

func TestPlanCacheCompilesOnce(t *testing.T) {
	t.Parallel()
	c := provider.NewPlanCache()
	var mu sync.Mutex
	compiles := 0
	compile := func() (*exec.Plan, error) {
		mu.Lock()
		compiles++
		mu.Unlock()
		return &exec.Plan{}, nil
	}

	var wg sync.WaitGroup
	plans := make([]*exec.Plan, 16)
	for i := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan, _, err := c.GetOrCompile("k", compile)
			assert.NoError(t, err)
			plans[i] = plan
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, compiles)
	for _, plan := range plans {
		assert.Same(t, plans[0], plan)
	}
}

func TestPlanCacheDoesNotKeepFailures(t *testing.T) {
	t.Parallel()
	c := provider.NewPlanCache()
	_, _, err := c.GetOrCompile("k", func() (*exec.Plan, error) { return nil, qerrors.New(qerrors.ErrMapping, "boom") })
	require.Error(t, err)
	assert.Zero(t, c.Len())

	plan, hit, err := c.GetOrCompile("k", func() (*exec.Plan, error) { return &exec.Plan{}, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotNil(t, plan)
	c.Clear()
	assert.Zero(t, c.Len())
}

// --- Paging ---

func customerID(c nodes.Node) nodes.Node { return query.M(c, "CustomerID") }

func TestPagingMatchesInMemory(t *testing.T) {
	t.Parallel()
	all := []any{"ALFKI", "ANATR", "AROUT", "BSBEV", "CONSH", "FISSA", "SEVES"}
	strategies := map[string]dialect.Pagination{
		"native":          dialect.PaginationNative,
		"row number":      dialect.PaginationRowNumber,
		"nested order by": dialect.PaginationNestedOrderBy,
		"client skip":     dialect.PaginationClientSkip,
	}
	pages := []struct{ skip, take int }{
		{0, 3}, {2, 3}, {4, 3}, {1, 6}, {5, 2}, {3, -1},
	}
	for name, strategy := range strategies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			db := testutil.NorthwindDB(t)
			p := provider.New(newMapper(t, dialect.SQLite(dialect.WithPagination(strategy))), sqldb.New(db))
			for _, pg := range pages {
				q := query.From(customers(t, p)).OrderBy(customerFn(customerID)).Skip(pg.skip)
				want := all[pg.skip:]
				if pg.take >= 0 {
					q = q.Take(pg.take)
					want = want[:pg.take]
				}
				q = q.Select(customerFn(customerID))

				got, err := p.ExecuteAll(context.Background(), q, nil)
				require.NoError(t, err, "skip %d take %d", pg.skip, pg.take)
				assert.Equal(t, want, got, "skip %d take %d", pg.skip, pg.take)
			}
		})
	}
}

func TestPagingTextForAccess(t *testing.T) {
	t.Parallel()
	p := provider.New(newMapper(t, dialect.Access()), nil)
	base := query.From(customers(t, p))
	cases := []struct {
		name string
		q    query.Queryable
		want []string
	}{
		{"ordered", base.OrderBy(customerFn(customerID)).Skip(1).Take(2), []string{"TOP 3 ", "TOP 2 ", " DESC"}},
		{"distinct", base.Select(customerFn(func(c nodes.Node) nodes.Node { return query.M(c, "City") })).Distinct().Skip(1).Take(2), []string{"TOP 3 ", "DISTINCT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			text, err := p.QueryText(tc.q)
			require.NoError(t, err)
			for _, w := range tc.want {
				assert.Contains(t, text, w)
			}
			assert.NotContains(t, text, "SKIP")
			assert.NotContains(t, text, "OFFSET")
		})
	}
}

// --- Executing ---

func TestExecute(t *testing.T) {
	t.Parallel()
	p := newProvider(t, testutil.NorthwindDB(t))
	q := ids(t, p, query.Arg("city", model.String))

	v, err := p.Execute(context.Background(), q, exec.Args{"city": "London"})
	require.NoError(t, err)
	it := v.(*exec.Iterator)
	require.True(t, it.Next())
	assert.Equal(t, "AROUT", it.Value())
	require.NoError(t, it.Close())

	all, err := p.ExecuteAll(context.Background(), q, exec.Args{"city": "Madrid"})
	require.NoError(t, err)
	assert.Equal(t, []any{"FISSA"}, all)
}

func TestExecuteAllSingleton(t *testing.T) {
	t.Parallel()
	p := newProvider(t, testutil.NorthwindDB(t))
	v, err := p.ExecuteAll(context.Background(), query.From(customers(t, p)).Count(cityIs(query.Lit("London"))), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestExecuteMissingArgument(t *testing.T) {
	t.Parallel()
	p := newProvider(t, testutil.NorthwindDB(t))
	_, err := p.Execute(context.Background(), ids(t, p, query.Arg("city", model.String)), nil)
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))
}

func TestExecuteCommand(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	p := newProvider(t, db)
	e := customers(t, p)

	n, err := p.ExecuteCommand(context.Background(), query.DeleteWhere(e, cityIs(query.Arg("city", model.String))), exec.Args{"city": "Madrid"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, testutil.Count(t, db, "Customers", `"City" = 'Madrid'`))

	_, err = p.ExecuteCommand(context.Background(), ids(t, p, query.Lit("London")), nil)
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))
}

func TestExecuteBatch(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	p := newProvider(t, db)
	e := customers(t, p)
	cmd := query.Batch(e, testutil.Customer, func(item nodes.Node) query.Command { return query.Insert(e, item) }, query.WithBatchSize(2))

	items := []*model.Record{
		model.RecordOf(testutil.Customer, "CustomerID", "NEW01", "CompanyName", "One", "City", "Leeds", "Country", "UK"),
		model.RecordOf(testutil.Customer, "CustomerID", "ALFKI", "CompanyName", "Dup", "City", "Leeds", "Country", "UK"),
		model.RecordOf(testutil.Customer, "CustomerID", "NEW02", "CompanyName", "Two", "City", "Leeds", "Country", "UK"),
	}
	it, err := p.ExecuteBatch(context.Background(), cmd, items)
	require.NoError(t, err)
	rs, err := provider.BatchResults(it)
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.NoError(t, rs[0].Err)
	assert.Error(t, rs[1].Err)
	assert.NoError(t, rs[2].Err)
	assert.Equal(t, 2, testutil.Count(t, db, "Customers", `"City" = 'Leeds'`))

	_, err = p.ExecuteBatch(context.Background(), ids(t, p, query.Lit("London")), items)
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))
}

// --- Options ---

func TestWithLoggerLogsCommands(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newProvider(t, testutil.NorthwindDB(t), provider.WithLogger(logger))

	_, err := p.ExecuteAll(context.Background(), ids(t, p, query.Arg("city", model.String)), exec.Args{"city": "London"})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `msg="relq: command"`)
	assert.Contains(t, out, "Customers")
	assert.Contains(t, out, "params=")
	assert.Contains(t, out, `msg="relq: plan cache" hit=false`)
}

func TestWithPluginsSoftDelete(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	_, err := db.Exec(`ALTER TABLE "Customers" ADD COLUMN "deleted_at" DATETIME`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE "Customers" SET "deleted_at" = '1998-01-01 00:00:00' WHERE "CustomerID" = 'BSBEV'`)
	require.NoError(t, err)

	p := newProvider(t, db, provider.WithPlugins(softdelete.New(softdelete.WithTables("Customers"))))
	q := ids(t, p, query.Lit("London"))
	text, err := p.QueryText(q)
	require.NoError(t, err)
	assert.Contains(t, text, `"deleted_at" IS NULL`)

	all, err := p.ExecuteAll(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"AROUT", "CONSH", "SEVES"}, all)
}

func TestWithPolicyIncludesAssociations(t *testing.T) {
	t.Parallel()
	policy := mapping.NewPolicy().Include(testutil.Customer, "Orders")
	p := newProvider(t, testutil.NorthwindDB(t), provider.WithPolicy(policy))

	v, err := p.ExecuteAll(context.Background(), query.From(customers(t, p)).Single(customerFn(func(c nodes.Node) nodes.Node {
		return query.Eq(query.M(c, "CustomerID"), query.Lit("AROUT"))
	})), nil)
	require.NoError(t, err)
	rec := v.(*model.Record)
	orders, ok := rec.Get("Orders").([]any)
	require.True(t, ok, "orders are loaded with the customer, got %T", rec.Get("Orders"))
	assert.Len(t, orders, 2)
}
