package sqldb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/visitors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(names ...string) []visitors.Param {
	out := make([]visitors.Param, len(names))
	for i, n := range names {
		out[i] = visitors.Param{Name: n}
	}
	return out
}

// --- Args ---

func TestArgs(t *testing.T) {
	t.Parallel()
	price := decimal.RequireFromString("18.50")
	cases := []struct {
		name string
		cmd  *exec.Command
		want []any
	}{
		{
			name: "ordinal repeats",
			cmd:  &exec.Command{Params: params("p0", "p1"), Placeholders: []string{"p1", "p0", "p1"}, Style: dialect.ParamOrdinal},
			want: []any{"18.5", "x", "18.5"},
		},
		{
			name: "positional",
			cmd:  &exec.Command{Params: params("p0", "p1"), Style: dialect.ParamPositional},
			want: []any{"x", "18.5"},
		},
		{
			name: "named",
			cmd:  &exec.Command{Params: params("p0", "p1"), Style: dialect.ParamNamed},
			want: []any{sql.Named("p0", "x"), sql.Named("p1", "18.5")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Args(tc.cmd, []any{"x", price}))
		})
	}
}

// --- Runtime ---

func ordinal(text string, names ...string) *exec.Command {
	return &exec.Command{Text: text, Params: params(names...), Placeholders: names, Style: dialect.ParamOrdinal}
}

func TestRuntimeQuery(t *testing.T) {
	t.Parallel()
	for name, opts := range map[string][]Option{"prepared": nil, "unprepared": {WithoutPrepare()}} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			db := testutil.NorthwindDB(t)
			rt := New(db, opts...)
			ctx := context.Background()

			p, err := rt.Prepare(ctx, ordinal(`SELECT "CustomerID", "ContactName" FROM "Customers" WHERE "City" = ? ORDER BY 1`, "p0"))
			require.NoError(t, err)
			defer func() { assert.NoError(t, p.Close()) }()

			cur, err := rt.Execute(ctx, p, []any{"London"})
			require.NoError(t, err)
			var ids []any
			var nulls int
			for cur.Next() {
				ids = append(ids, cur.Value(0))
				if cur.IsNull(1) {
					nulls++
				}
			}
			require.NoError(t, cur.Err())
			require.NoError(t, cur.Close())
			assert.Equal(t, []any{"AROUT", "BSBEV", "CONSH", "SEVES"}, ids)
			assert.Equal(t, 1, nulls, "CONSH has no contact")
		})
	}
}

func TestRuntimeExecuteNonQuery(t *testing.T) {
	t.Parallel()
	db := testutil.NorthwindDB(t)
	rt := New(db)
	ctx := context.Background()
	p, err := rt.Prepare(ctx, ordinal(`UPDATE "Orders" SET "ShipCity" = ? WHERE "CustomerID" = ?`, "p0", "p1"))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	n, err := rt.ExecuteNonQuery(ctx, p, []any{"Bonn", "ALFKI"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 3, testutil.Count(t, db, "Orders", `"ShipCity" = 'Bonn'`))
}

func TestRuntimeRejectsForeignPrepared(t *testing.T) {
	t.Parallel()
	rt := New(testutil.NorthwindDB(t))
	_, err := rt.Execute(context.Background(), foreign{}, nil)
	assert.Error(t, err)
}

type foreign struct{}

func (foreign) Command() *exec.Command { return &exec.Command{} }
func (foreign) Close() error           { return nil }

// --- Batches ---

func TestRuntimeExecuteBatch(t *testing.T) {
	t.Parallel()
	insert := `INSERT INTO "Customers" ("CustomerID", "CompanyName", "City", "Country") VALUES (?, ?, 'Leeds', 'UK')`
	cases := []struct {
		name  string
		opts  []Option
		ids   []string
		fails []int
	}{
		{"all succeed", nil, []string{"NEW01", "NEW02", "NEW03"}, nil},
		{"failed chunk retries items", nil, []string{"NEW01", "ALFKI", "NEW02"}, []int{1}},
		{"without transactions", []Option{WithoutBatchTransactions()}, []string{"NEW01", "ALFKI", "NEW02"}, []int{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db := testutil.NorthwindDB(t)
			rt := New(db, tc.opts...)
			ctx := context.Background()
			p, err := rt.Prepare(ctx, ordinal(insert, "p0", "p1"))
			require.NoError(t, err)
			defer func() { _ = p.Close() }()

			values := make([][]any, len(tc.ids))
			for i, id := range tc.ids {
				values[i] = []any{id, id + " Ltd"}
			}
			rs, err := rt.ExecuteBatch(ctx, p, values, 2)
			require.NoError(t, err)
			require.Len(t, rs, len(tc.ids))

			var failed []int
			for i, r := range rs {
				assert.Equal(t, i, r.Index)
				if r.Err != nil {
					failed = append(failed, i)
					continue
				}
				assert.Equal(t, int64(1), r.Rows)
			}
			assert.Equal(t, tc.fails, failed)
			assert.Equal(t, len(tc.ids)-len(tc.fails), testutil.Count(t, db, "Customers", `"City" = 'Leeds'`))
		})
	}
}
