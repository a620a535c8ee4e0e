package exec_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/optimize"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/translate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMapper(t *testing.T, lang *dialect.Language) *mapping.Mapper {
	t.Helper()
	am, err := mapping.LoadAttributeMapping(strings.NewReader(testutil.NorthwindMapping), testutil.NorthwindTypes()...)
	require.NoError(t, err)
	return mapping.NewMapper(am, lang)
}

func entity(t *testing.T, m *mapping.Mapper, s *model.Struct) *nodes.MappingEntity {
	t.Helper()
	e, err := m.Resolver.Entity(s)
	require.NoError(t, err)
	return e
}

func from(t *testing.T, m *mapping.Mapper, s *model.Struct) query.Queryable {
	t.Helper()
	return query.From(entity(t, m, s))
}

// compile runs the whole pipeline over n.
func compile(t *testing.T, m *mapping.Mapper, policy mapping.Policy, n nodes.Node) *exec.Plan {
	t.Helper()
	bound, err := translate.Bind(m, n)
	require.NoError(t, err)
	opt, err := optimize.Pipeline{Mapper: m, Policy: policy}.Optimize(bound)
	require.NoError(t, err)
	plan, err := exec.Build(m.Lang, translate.Parameterize(m.Lang, opt))
	require.NoError(t, err)
	return plan
}

func execute(t *testing.T, plan *exec.Plan, rt exec.Runtime, args exec.Args) any {
	t.Helper()
	v, err := plan.Execute(context.Background(), rt, args)
	require.NoError(t, err)
	return v
}

func results(t *testing.T, v any) []any {
	t.Helper()
	it, ok := v.(*exec.Iterator)
	require.True(t, ok, "expected an iterator, got %T", v)
	out, err := it.All()
	require.NoError(t, err)
	return out
}

func customerFn(body func(c nodes.Node) nodes.Node) *nodes.Lambda {
	return query.Fn1("c", testutil.Customer, body)
}

func orderFn(body func(o nodes.Node) nodes.Node) *nodes.Lambda {
	return query.Fn1("o", testutil.Order, body)
}

func field(name string) func(nodes.Node) nodes.Node {
	return func(n nodes.Node) nodes.Node { return query.M(n, name) }
}

func inLondon(c nodes.Node) nodes.Node { return query.Eq(query.M(c, "City"), query.Lit("London")) }

func customerIs(id string) *nodes.Lambda {
	return customerFn(func(c nodes.Node) nodes.Node { return query.Eq(query.M(c, "CustomerID"), query.Lit(id)) })
}

// --- Queries ---

func TestExecuteSequence(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).
		Where(customerFn(inLondon)).
		OrderBy(customerFn(field("CustomerID"))).
		Select(customerFn(field("CustomerID")))

	plan := compile(t, m, nil, q.Expr())
	assert.Equal(t, exec.KindSequence, plan.Kind)
	got := results(t, execute(t, plan, sqldb.New(db), nil))
	assert.Equal(t, []any{"AROUT", "BSBEV", "CONSH", "SEVES"}, got)
}

func TestExecuteEntity(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	plan := compile(t, m, nil, from(t, m, testutil.Customer).Single(customerIs("CONSH")).Expr())
	assert.Equal(t, exec.KindSingleton, plan.Kind)

	rec, ok := execute(t, plan, sqldb.New(db), nil).(*model.Record)
	require.True(t, ok)
	assert.Equal(t, "Consolidated Holdings", rec.Get("CompanyName"))
	assert.Equal(t, "London", rec.Get("City"))
	assert.Nil(t, rec.Get("ContactName"), "nullable columns keep NULL")
}

func TestExecuteMaterializesColumnTypes(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Order).Where(orderFn(func(o nodes.Node) nodes.Node {
		return query.Eq(query.M(o, "OrderID"), query.Lit(10643))
	}))
	plan := compile(t, m, nil, q.Single().Expr())

	rec := execute(t, plan, sqldb.New(db), nil).(*model.Record)
	assert.Equal(t, int64(10643), rec.Get("OrderID"))
	assert.True(t, decimal.RequireFromString("29.46").Equal(rec.Get("Freight").(decimal.Decimal)))
	assert.Equal(t, time.Date(1997, 8, 25, 0, 0, 0, 0, time.UTC), rec.Get("OrderDate").(time.Time).UTC())
}

func TestExecuteArguments(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	city := query.Arg("city", model.String)
	q := from(t, m, testutil.Customer).Count(customerFn(func(c nodes.Node) nodes.Node {
		return query.Eq(query.M(c, "City"), city)
	}))
	plan := compile(t, m, nil, q.Expr())
	assert.Equal(t, []string{"city"}, plan.Params())

	rt := sqldb.New(db)
	assert.Equal(t, int64(4), execute(t, plan, rt, exec.Args{"city": "London"}))
	assert.Equal(t, int64(1), execute(t, plan, rt, exec.Args{"city": "Madrid"}))
	assert.Equal(t, int64(0), execute(t, plan, rt, exec.Args{"city": "Paris"}))

	_, err := plan.Execute(context.Background(), rt, exec.Args{})
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))

	_, err = plan.Execute(context.Background(), nil, exec.Args{"city": "London"})
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))
}

func TestExecuteScalarSubquery(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).
		Where(customerFn(inLondon)).
		OrderBy(customerFn(field("CustomerID"))).
		Select(customerFn(func(c nodes.Node) nodes.Node {
			return query.Of(query.M(c, "Orders")).Count().Expr()
		}))
	got := results(t, execute(t, compile(t, m, nil, q.Expr()), sqldb.New(db), nil))
	assert.Equal(t, []any{int64(2), int64(1), int64(1), int64(0)}, got)
}

// --- Shapes ---

func TestExecuteShapes(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	ids := func() query.Queryable {
		return from(t, m, testutil.Customer).OrderBy(customerFn(field("CustomerID"))).Select(customerFn(field("CustomerID")))
	}
	none := customerFn(func(c nodes.Node) nodes.Node { return query.Eq(query.M(c, "City"), query.Lit("Paris")) })
	cases := []struct {
		name string
		q    query.Queryable
		want any
		code qerrors.ErrorCode
	}{
		{"first", ids().First(), "ALFKI", ""},
		{"first empty", from(t, m, testutil.Customer).First(none), nil, qerrors.ErrCardinality},
		{"first or default empty", from(t, m, testutil.Customer).FirstOrDefault(none), nil, ""},
		{"single", from(t, m, testutil.Customer).Single(customerIs("FISSA")), nil, ""},
		{"single many", ids().Single(), nil, qerrors.ErrCardinality},
		{"single or default many", ids().SingleOrDefault(), nil, qerrors.ErrCardinality},
		{"any", from(t, m, testutil.Customer).Any(customerFn(inLondon)), true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan := compile(t, m, nil, tc.q.Expr())
			v, err := plan.Execute(context.Background(), sqldb.New(db), nil)
			if tc.code != "" {
				require.Error(t, err)
				assert.Equal(t, tc.code, qerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			if tc.want != nil {
				assert.Equal(t, tc.want, v)
			}
		})
	}
}

// --- Associations ---

func TestExecuteIncludedAssociation(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	policy := mapping.NewPolicy().Include(testutil.Customer, "Orders")
	q := from(t, m, testutil.Customer).Where(customerFn(inLondon)).OrderBy(customerFn(field("CustomerID")))
	plan := compile(t, m, policy, q.Expr())
	assert.Len(t, plan.Commands, 2, "orders load in one query, not one per customer")

	got := results(t, execute(t, plan, sqldb.New(db), nil))
	require.Len(t, got, 4)
	counts := map[string]int{}
	for _, v := range got {
		rec := v.(*model.Record)
		orders, ok := rec.Get("Orders").([]any)
		require.True(t, ok, "got %T", rec.Get("Orders"))
		for _, o := range orders {
			assert.Equal(t, rec.Get("CustomerID"), o.(*model.Record).Get("CustomerID"))
		}
		counts[rec.Get("CustomerID").(string)] = len(orders)
	}
	assert.Equal(t, map[string]int{"AROUT": 2, "BSBEV": 1, "CONSH": 1, "SEVES": 0}, counts)
}

func TestExecuteNestedPerRow(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	q := from(t, m, testutil.Customer).
		Where(customerFn(func(c nodes.Node) nodes.Node {
			return query.Ne(query.M(c, "Country"), query.Lit("UK"))
		})).
		OrderBy(customerFn(field("CustomerID"))).
		Select(customerFn(func(c nodes.Node) nodes.Node {
			return query.Rec(
				"ID", query.M(c, "CustomerID"),
				"Latest", query.Of(query.M(c, "Orders")).
					OrderByDescending(orderFn(field("OrderDate"))).
					Take(1).
					Select(orderFn(field("OrderID"))).Expr(),
			)
		}))

	got := results(t, execute(t, compile(t, m, nil, q.Expr()), sqldb.New(db), nil))
	latest := map[string]any{}
	for _, v := range got {
		rec := v.(*model.Record)
		latest[rec.Get("ID").(string)] = rec.Get("Latest")
	}
	assert.Equal(t, map[string]any{
		"ALFKI": []any{int64(10702)},
		"ANATR": []any{int64(10308)},
		"FISSA": []any{},
	}, latest)
}

func TestExecuteDeferredAssociation(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	policy := mapping.NewPolicy().Defer(testutil.Customer, "Orders")
	plan := compile(t, m, policy, from(t, m, testutil.Customer).Single(customerIs("ALFKI")).Expr())

	rec := execute(t, plan, sqldb.New(db), nil).(*model.Record)
	d, ok := rec.Get("Orders").(*exec.Deferred)
	require.True(t, ok, "got %T", rec.Get("Orders"))
	assert.False(t, d.Loaded())

	orders, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	assert.True(t, d.Loaded())

	again, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orders, again)
}

// --- Commands ---

func newCustomer(id, city string) *model.Record {
	return model.RecordOf(testutil.Customer,
		"CustomerID", id, "CompanyName", id+" Ltd", "City", city, "Country", "UK")
}

func TestExecuteInsertReadsBackGeneratedID(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	order := model.RecordOf(testutil.Order,
		"CustomerID", "SEVES",
		"OrderDate", time.Date(1998, 1, 2, 0, 0, 0, 0, time.UTC),
		"Freight", decimal.RequireFromString("12.50"),
		"ShipCity", "London")
	cmd := query.Insert(entity(t, m, testutil.Order), query.Lit(order), query.WithResult(orderFn(field("OrderID"))))
	plan := compile(t, m, nil, cmd.Expr())
	assert.Equal(t, exec.KindCommand, plan.Kind)

	id := execute(t, plan, sqldb.New(db), nil)
	assert.Equal(t, int64(10703), id)
	assert.Equal(t, 1, testutil.Count(t, db, "Orders", `"CustomerID" = 'SEVES'`))
}

func TestExecuteUpdateAndDelete(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	customers := entity(t, m, testutil.Customer)
	rt := sqldb.New(db)

	n := execute(t, compile(t, m, nil, query.Update(customers, query.Lit(newCustomer("CONSH", "Leeds"))).Expr()), rt, nil)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, testutil.Count(t, db, "Customers", `"City" = 'Leeds'`))

	n = execute(t, compile(t, m, nil, query.DeleteWhere(entity(t, m, testutil.Order),
		orderFn(func(o nodes.Node) nodes.Node { return query.Eq(query.M(o, "CustomerID"), query.Lit("ALFKI")) })).Expr()), rt, nil)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 5, testutil.Count(t, db, "Orders", ""))
}

func TestExecuteUpdateOfMissingRowSkipsReadBack(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	cmd := query.Update(entity(t, m, testutil.Customer), query.Lit(newCustomer("NOONE", "Leeds")),
		query.WithResult(customerFn(field("CompanyName"))))
	assert.Equal(t, "", execute(t, compile(t, m, nil, cmd.Expr()), sqldb.New(db), nil))
}

func TestExecuteUpsert(t *testing.T) {
	t.Parallel()
	client := dialect.SQLite()
	client.Upsert = dialect.UpsertClient
	for name, lang := range map[string]*dialect.Language{"on conflict": dialect.SQLite(), "client": client} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			db := testutil.NorthwindDB(t)
			m := newMapper(t, lang)
			customers := entity(t, m, testutil.Customer)
			rt := sqldb.New(db)
			upsert := func(rec *model.Record) any {
				return execute(t, compile(t, m, nil, query.InsertOrUpdate(customers, query.Lit(rec)).Expr()), rt, nil)
			}

			assert.Equal(t, int64(1), upsert(newCustomer("NEWCO", "Paris")))
			assert.Equal(t, int64(1), upsert(newCustomer("NEWCO", "Lyon")))
			assert.Equal(t, 1, testutil.Count(t, db, "Customers", `"CustomerID" = 'NEWCO'`))
			assert.Equal(t, 1, testutil.Count(t, db, "Customers", `"City" = 'Lyon'`))
		})
	}
}

// --- Batches ---

// chunkRecorder notes the size of every chunk it runs.
type chunkRecorder struct {
	*sqldb.Runtime
	sizes []int
}

func (r *chunkRecorder) ExecuteBatch(ctx context.Context, p exec.Prepared, values [][]any, size int) ([]exec.BatchResult, error) {
	r.sizes = append(r.sizes, len(values))
	return r.Runtime.ExecuteBatch(ctx, p, values, size)
}

// oneAtATime hides the batch support of the runtime it wraps.
type oneAtATime struct{ exec.Runtime }

func insertBatch(t *testing.T, m *mapping.Mapper, opts ...query.BatchOption) *exec.Plan {
	t.Helper()
	customers := entity(t, m, testutil.Customer)
	cmd := query.Batch(customers, testutil.Customer, func(item nodes.Node) query.Command {
		return query.Insert(customers, item)
	}, opts...)
	return compile(t, m, nil, cmd.Expr())
}

func TestExecuteBatch(t *testing.T) {
	t.Parallel()
	items := []*model.Record{
		newCustomer("NEW01", "Leeds"),
		newCustomer("ALFKI", "Leeds"),
		newCustomer("NEW02", "Leeds"),
		newCustomer("NEW03", "Leeds"),
		newCustomer("NEW04", "Leeds"),
	}
	cases := []struct {
		name   string
		rt     func(db *sql.DB) exec.Runtime
		chunks []int
	}{
		{"chunked", func(db *sql.DB) exec.Runtime { return &chunkRecorder{Runtime: sqldb.New(db)} }, []int{2, 2, 1}},
		{"one at a time", func(db *sql.DB) exec.Runtime { return oneAtATime{sqldb.New(db)} }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db := testutil.NorthwindDB(t)
			m := newMapper(t, dialect.SQLite())
			plan := insertBatch(t, m, query.WithBatchSize(2))
			assert.Equal(t, exec.KindBatch, plan.Kind)
			assert.Equal(t, []string{"items"}, plan.Params())

			rt := tc.rt(db)
			got := results(t, execute(t, plan, rt, exec.Args{"items": items}))
			require.Len(t, got, len(items))
			for i, v := range got {
				r := v.(exec.BatchResult)
				assert.Equal(t, i, r.Index)
				if i == 1 {
					require.Error(t, r.Err, "duplicate key")
					assert.Equal(t, qerrors.ErrRuntime, qerrors.CodeOf(r.Err))
					continue
				}
				require.NoError(t, r.Err)
				assert.Equal(t, int64(1), r.Rows)
			}
			assert.Equal(t, 4, testutil.Count(t, db, "Customers", `"City" = 'Leeds'`))
			if rec, ok := rt.(*chunkRecorder); ok {
				assert.Equal(t, tc.chunks, rec.sizes)
			}
		})
	}
}

func TestExecuteBatchStreamed(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	m := newMapper(t, dialect.SQLite())
	plan := insertBatch(t, m, query.Streamed())

	v := execute(t, plan, sqldb.New(db), exec.Args{"items": []*model.Record{newCustomer("NEW01", "Leeds")}})
	it := v.(*exec.Iterator)
	require.True(t, it.Next())
	assert.NoError(t, it.Value().(exec.BatchResult).Err)
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

// --- Runtimes ---

// fakeRuntime answers every query with rows and every command with
// affected, recording the text it was sent.
type fakeRuntime struct {
	rows     [][]any
	affected int64
	texts    []string
	values   [][]any
}

type fakePrepared struct{ cmd *exec.Command }

func (p fakePrepared) Command() *exec.Command { return p.cmd }
func (p fakePrepared) Close() error           { return nil }

func (f *fakeRuntime) Prepare(_ context.Context, cmd *exec.Command) (exec.Prepared, error) {
	return fakePrepared{cmd}, nil
}

func (f *fakeRuntime) Execute(_ context.Context, p exec.Prepared, values []any) (exec.Cursor, error) {
	f.texts = append(f.texts, p.Command().Text)
	f.values = append(f.values, values)
	return exec.NewRowCursor(f.rows), nil
}

func (f *fakeRuntime) ExecuteNonQuery(_ context.Context, p exec.Prepared, values []any) (int64, error) {
	f.texts = append(f.texts, p.Command().Text)
	f.values = append(f.values, values)
	return f.affected, nil
}

func TestExecuteCombinesCommandAndReadBack(t *testing.T) {
	t.Parallel()
	m := newMapper(t, dialect.TSQL())
	order := model.RecordOf(testutil.Order, "CustomerID", "SEVES", "ShipCity", "London")
	cmd := query.Insert(entity(t, m, testutil.Order), query.Lit(order), query.WithResult(orderFn(field("OrderID"))))
	plan := compile(t, m, nil, cmd.Expr())
	require.Len(t, plan.Commands, 1)
	assert.Contains(t, plan.Commands[0].Text, ";\n")
	assert.Contains(t, plan.Commands[0].Text, "SCOPE_IDENTITY()")

	rt := &fakeRuntime{rows: [][]any{{int64(42)}}}
	assert.Equal(t, int64(42), execute(t, plan, rt, nil))
	assert.Len(t, rt.texts, 1, "one round trip")
}

func TestExecuteGuardedUpdateReadBack(t *testing.T) {
	t.Parallel()
	nowhere := customerFn(func(c nodes.Node) nodes.Node { return query.Eq(query.M(c, "City"), query.Lit("Nowhere")) })
	update := func(m *mapping.Mapper) *exec.Plan {
		cmd := query.Update(entity(t, m, testutil.Customer), query.Lit(newCustomer("CONSH", "Leeds")),
			query.WithCheck(nowhere), query.WithResult(customerFn(field("CompanyName"))))
		return compile(t, m, nil, cmd.Expr())
	}

	t.Run("guarded", func(t *testing.T) {
		t.Parallel()
		plan := update(newMapper(t, dialect.TSQL()))
		require.Len(t, plan.Commands, 1)
		assert.Contains(t, plan.Commands[0].Text, ";\nIF @@ROWCOUNT > 0 SELECT ")

		rt := &fakeRuntime{}
		assert.Equal(t, "", execute(t, plan, rt, nil), "a failed check reads nothing back")
		assert.Len(t, rt.texts, 1)
	})

	t.Run("unguarded", func(t *testing.T) {
		t.Parallel()
		lang := dialect.TSQL()
		lang.RowCountGuard = ""
		plan := update(newMapper(t, lang))
		require.Len(t, plan.Commands, 2)
		assert.NotContains(t, plan.Commands[0].Text, ";\n")

		rt := &fakeRuntime{rows: [][]any{{"Consolidated Holdings"}}}
		assert.Equal(t, "", execute(t, plan, rt, nil))
		assert.Len(t, rt.texts, 1, "no read-back after an update that changed nothing")
	})
}

func TestExecuteClientUpsertChoosesCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		rows  [][]any
		wants string
	}{
		{"exists", [][]any{{nil}}, "UPDATE "},
		{"missing", nil, "INSERT INTO "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newMapper(t, dialect.MySQL())
			customers := entity(t, m, testutil.Customer)
			plan := compile(t, m, nil, query.InsertOrUpdate(customers, query.Lit(newCustomer("NEWCO", "Paris"))).Expr())

			rt := &fakeRuntime{rows: tc.rows, affected: 1}
			assert.Equal(t, int64(1), execute(t, plan, rt, nil))
			require.Len(t, rt.texts, 2)
			assert.True(t, strings.HasPrefix(rt.texts[0], "SELECT"), rt.texts[0])
			assert.True(t, strings.HasPrefix(rt.texts[1], tc.wants), rt.texts[1])
		})
	}
}

func TestBuildRejectsUnknownTrees(t *testing.T) {
	t.Parallel()
	_, err := exec.Build(dialect.SQLite(), query.Lit(1))
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrUnsupported, qerrors.CodeOf(err))
}
