package softdelete

import (
	"strings"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/visitors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toSQL(t *testing.T, n nodes.Node) string {
	t.Helper()
	cmd, err := visitors.Format(dialect.Postgres(), n, visitors.WithoutParams())
	require.NoError(t, err)
	return cmd.Text
}

func col(tbl *nodes.Table, name string) *nodes.Column {
	return nodes.NewColumn(tbl.Alias, name, model.String, nil)
}

func selectFrom(from nodes.Node, where nodes.Node, tbl *nodes.Table) *nodes.Select {
	cols := []nodes.ColumnDeclaration{{Name: "id", Expr: col(tbl, "id")}}
	return nodes.NewSelect(nodes.NewAlias(), cols, from, where)
}

func transform(t *testing.T, sd *SoftDelete, sel *nodes.Select) string {
	t.Helper()
	out, err := sd.TransformSelect(sel)
	require.NoError(t, err)
	return toSQL(t, out)
}

// --- Default behaviour ---

func TestDefaultColumnDeletedAt(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	got := transform(t, New(), selectFrom(users, nil, users))
	assert.Contains(t, got, `WHERE "t`)
	assert.True(t, strings.HasSuffix(got, `"."deleted_at" IS NULL`), got)
}

func TestCustomColumnName(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	got := transform(t, New(WithColumn("removed_at")), selectFrom(users, nil, users))
	assert.Contains(t, got, `"removed_at" IS NULL`)
	assert.NotContains(t, got, "deleted_at")
}

func TestPreservesExistingWhere(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	active := nodes.Eq(col(users, "active"), nodes.NewConstant("yes", model.String))
	sel := selectFrom(users, active, users)

	got := transform(t, New(), sel)
	assert.Contains(t, got, `"active" = 'yes' AND "t`)
	assert.Same(t, active, sel.Where, "the input select is not modified")
}

// --- Joined tables ---

func TestAppliedToJoinedTables(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	posts := nodes.NewTable(nil, "posts")
	from := nodes.NewJoin(nodes.InnerJoin, users, posts, nodes.Eq(col(users, "id"), col(posts, "user_id")))

	got := transform(t, New(), selectFrom(from, nil, users))
	assert.Equal(t, 2, strings.Count(got, `"deleted_at" IS NULL`), got)
}

func TestWithTablesFiltersToSpecifiedTables(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	posts := nodes.NewTable(nil, "posts")
	from := nodes.NewJoin(nodes.InnerJoin, users, posts, nodes.Eq(col(users, "id"), col(posts, "user_id")))

	got := transform(t, New(WithTables("posts")), selectFrom(from, nil, users))
	assert.Equal(t, 1, strings.Count(got, `"deleted_at" IS NULL`), got)
}

func TestNoMatchingTablesIsNoOp(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	sel := selectFrom(users, nil, users)
	out, err := New(WithTables("posts")).TransformSelect(sel)
	require.NoError(t, err)
	assert.Same(t, sel, out)
}

func TestWithTableColumn(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	posts := nodes.NewTable(nil, "posts")
	comments := nodes.NewTable(nil, "comments")
	from := nodes.NewJoin(nodes.CrossJoin, nodes.NewJoin(nodes.CrossJoin, users, posts, nil), comments, nil)
	sd := New(
		WithTableColumn("users", "deleted_at"),
		WithTableColumn("posts", "removed_at"),
	)

	got := transform(t, sd, selectFrom(from, nil, users))
	assert.Contains(t, got, `"deleted_at" IS NULL`)
	assert.Contains(t, got, `"removed_at" IS NULL`)
	assert.Equal(t, 2, strings.Count(got, "IS NULL"), "comments is not whitelisted")
}

func TestWithTableColumnFallsBackToDefault(t *testing.T) {
	t.Parallel()
	sd := New(WithColumn("archived_at"), WithTableColumn("posts", "removed_at"))
	sd.tables["users"] = true
	assert.Equal(t, "removed_at", sd.columnFor("posts"))
	assert.Equal(t, "archived_at", sd.columnFor("users"))
}

// --- Commands ---

func TestCommandsSkipDeletedRows(t *testing.T) {
	t.Parallel()
	users := nodes.NewTable(nil, "users")
	byID := nodes.Eq(col(users, "id"), nodes.NewConstant("u1", model.String))
	set := []nodes.ColumnAssignment{{Column: col(users, "name"), Expr: nodes.NewConstant("Bob", model.String)}}

	upd, err := New().TransformUpdate(&nodes.Update{Table: users, Where: byID, Assignments: set})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "name" = 'Bob' WHERE "id" = 'u1' AND "deleted_at" IS NULL`,
		strings.Join(strings.Fields(toSQL(t, upd)), " "))

	del, err := New().TransformDelete(&nodes.Delete{Table: users})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "deleted_at" IS NULL`, strings.Join(strings.Fields(toSQL(t, del)), " "))

	other, err := New(WithTables("posts")).TransformDelete(&nodes.Delete{Table: users})
	require.NoError(t, err)
	assert.Nil(t, other.Where)
}

func TestImplementsTransformer(t *testing.T) {
	t.Parallel()
	var _ plugins.Transformer = New()

	users := nodes.NewTable(nil, "users")
	inner := selectFrom(users, nil, users)
	out, err := plugins.Apply(nodes.NewSelect(nodes.NewAlias(), nil, inner, nil), New())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(toSQL(t, out), "IS NULL"), "only the select reading the table is filtered")
}
