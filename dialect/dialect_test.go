package dialect

import (
	"testing"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Registry ---

func TestLookup(t *testing.T) {
	t.Parallel()
	for _, name := range Names() {
		lang, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, lang.Name)
		assert.NotNil(t, lang.Types)
	}
	_, err := Lookup("oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"access", "mysql", "postgres", "sqlite", "tsql"}, Names())
}

func TestWithPagination(t *testing.T) {
	t.Parallel()
	lang := SQLite(WithPagination(PaginationRowNumber))
	assert.Equal(t, PaginationRowNumber, lang.Pagination)
	assert.Equal(t, PaginationNative, SQLite().Pagination, "options do not leak between languages")
	assert.False(t, SQLite(WithPagination(PaginationClientSkip)).CanSkip())
}

func TestParsePagination(t *testing.T) {
	t.Parallel()
	for _, p := range []Pagination{PaginationNative, PaginationRowNumber, PaginationNestedOrderBy, PaginationClientSkip} {
		got, err := ParsePagination(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePagination("cursor")
	assert.Error(t, err)
}

func TestGeneratedIDExpr(t *testing.T) {
	t.Parallel()
	fn, ok := TSQL().GeneratedIDExpr().(*nodes.Function)
	require.True(t, ok)
	assert.Equal(t, "SCOPE_IDENTITY", fn.Name)
	assert.Equal(t, model.Int, fn.Typ)
}

// --- Type system ---

func TestColumnType(t *testing.T) {
	t.Parallel()
	qt := TSQL().Types.ColumnType(model.String)
	require.NotNil(t, qt)
	assert.Equal(t, "nvarchar(max)", qt.String())
	assert.True(t, qt.NotNull)

	qt = Postgres().Types.ColumnType(model.Nullable(model.Decimal))
	assert.Equal(t, "numeric(29,4)", qt.String())
	assert.False(t, qt.NotNull)

	assert.Nil(t, SQLite().Types.ColumnType(model.SeqOf(model.Int)))
}

func TestParseColumnType(t *testing.T) {
	t.Parallel()
	ts := TSQL().Types
	cases := []struct {
		decl string
		want nodes.QueryType
		kind model.Kind
	}{
		{"nvarchar(40)", nodes.QueryType{Name: "nvarchar", Length: 40}, model.KindString},
		{"nvarchar(max)", nodes.QueryType{Name: "nvarchar", Length: -1}, model.KindString},
		{"decimal(10, 2)", nodes.QueryType{Name: "decimal", Precision: 10, Scale: 2}, model.KindDecimal},
		{"decimal(18)", nodes.QueryType{Name: "decimal", Precision: 18}, model.KindDecimal},
		{"int NOT NULL", nodes.QueryType{Name: "int", NotNull: true}, model.KindInt},
		{"uniqueidentifier", nodes.QueryType{Name: "uniqueidentifier"}, model.KindUUID},
	}
	for _, c := range cases {
		t.Run(c.decl, func(t *testing.T) {
			got, err := ts.Parse(c.decl)
			require.NoError(t, err)
			assert.Equal(t, c.want, *got)
			assert.Equal(t, c.kind, ts.Kind(got))
		})
	}
}

func TestParseColumnTypeErrors(t *testing.T) {
	t.Parallel()
	ts := SQLite().Types
	for _, decl := range []string{"", "varchar(10", "varchar(x)", "decimal(1,2,3)"} {
		_, err := ts.Parse(decl)
		assert.Error(t, err, decl)
	}
}
