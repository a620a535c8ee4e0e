package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSession returns a session over the Northwind mapping whose
// output is captured in the returned buffer.
func newTestSession(t *testing.T, dialectName string) (*Session, *bytes.Buffer) {
	t.Helper()
	opts := &rootOptions{Dialect: dialectName, Mapping: northwindMapping, logger: newLogger(&bytes.Buffer{}, false)}
	sess, err := NewSession(opts, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	sess.out = &out
	t.Cleanup(sess.close)
	return sess, &out
}

// execAll runs commands in order and fails on the first error.
func execAll(t *testing.T, sess *Session, commands ...string) {
	t.Helper()
	for _, cmd := range commands {
		require.NoError(t, sess.Execute(cmd), "command %q", cmd)
	}
}

// --- Building documents ---

func TestSessionBuildsQuery(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	execAll(t, sess,
		"from Customer",
		"where {eq: [{m: City}, London]}",
		"orderby {m: CompanyName}",
		"take 2",
	)
	text, err := sess.GenerateSQL()
	require.NoError(t, err)
	assert.Contains(t, text, `FROM "Customers"`)
	assert.Contains(t, text, "'London'")
	assert.Contains(t, text, "LIMIT 2")
}

func TestSessionDocYAML(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	execAll(t, sess,
		"from Order",
		"arg min decimal",
		"where {gt: [{m: o.Freight}, {arg: min}]} as o",
		"count",
		"doc",
	)
	assert.Equal(t, `from: Order
args:
  min: decimal
ops:
  - where: {gt: [{m: o.Freight}, {arg: min}]}
    as: o
  - count: null
`, out.String()[strings.Index(out.String(), "from:"):])
}

func TestSessionRejectsBadOperator(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer")
	require.Error(t, sess.Execute("where {m: Nope}"))
	assert.Empty(t, sess.doc.ops, "a failed operator is not kept")
	require.Error(t, sess.Execute("distinct now"))
	require.Error(t, sess.Execute("select"))
}

func TestSessionUndo(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "distinct", "undo")
	assert.Empty(t, sess.doc.ops)
	assert.EqualError(t, sess.Execute("undo"), "nothing to undo")
}

func TestSessionNeedsFrom(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	assert.ErrorIs(t, sess.Execute("where {m: City}"), errNoQuery)
	assert.ErrorIs(t, sess.Execute("sql"), errNoQuery)
	err := sess.Execute("from Supplier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Customer, Order, OrderDetail, Product")
}

func TestSessionUnknownCommand(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	assert.EqualError(t, sess.Execute("frobnicate now"), "unknown command: frobnicate (type 'help' for commands)")
}

func TestSessionArguments(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "arg city string", "where {eq: [{m: City}, {arg: city}]}", "params")
	assert.Contains(t, out.String(), "city (unset)")

	out.Reset()
	execAll(t, sess, "set city London", "params")
	assert.Contains(t, out.String(), "city = London")

	require.Error(t, sess.Execute("arg n varchar"))
	execAll(t, sess, "unset city")
	require.Error(t, sess.Execute("unset city"))
}

// --- Commands ---

func TestSessionCommands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		commands []string
		want     string
	}{
		{"delete where", []string{"from Customer", "delete where {eq: [{m: City}, Madrid]}"}, "DELETE FROM"},
		{"insert", []string{"from Customer", "insert {CustomerID: NEWCO, CompanyName: New, City: Paris, Country: France}"}, "INSERT INTO"},
		{"update", []string{"from Customer", "update {CustomerID: CONSH, CompanyName: C, City: Leeds, Country: UK}", "check {eq: [{m: c.Country}, UK]} as c"}, "UPDATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, _ := newTestSession(t, "sqlite")
			execAll(t, sess, tt.commands...)
			text, err := sess.GenerateSQL()
			require.NoError(t, err)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestSessionCommandErrors(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "distinct")
	require.Error(t, sess.Execute("delete"), "a command takes no operators")

	execAll(t, sess, "from Customer")
	require.Error(t, sess.Execute("check {m: City}"))
	require.Error(t, sess.Execute("insert {Nope: 1}"))
	assert.Empty(t, sess.doc.command)
}

// --- Display ---

func TestSessionDialectSwitch(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "skip 5", "take 10")
	lite, err := sess.GenerateSQL()
	require.NoError(t, err)

	execAll(t, sess, "dialect tsql")
	tsql, err := sess.GenerateSQL()
	require.NoError(t, err)
	assert.NotEqual(t, lite, tsql)
	assert.Contains(t, tsql, "[Customers]")

	require.Error(t, sess.Execute("dialect oracle"))
	assert.Equal(t, "tsql", sess.opts.Dialect)
}

func TestSessionDot(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	path := filepath.Join(t.TempDir(), "query.dot")
	execAll(t, sess, "from Customer", "dot "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "digraph"))
}

func TestSessionEntities(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	execAll(t, sess, "entities")
	assert.Contains(t, out.String(), "OrderDetail -> Order Details")
	assert.Contains(t, out.String(), "ContactName string?")
}

func TestSessionSaveLoad(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	path := filepath.Join(t.TempDir(), "doc.yaml")
	execAll(t, sess,
		"from Customer",
		"where {eq: [{m: Country}, UK]}",
		"select {rec: {ID: {m: CustomerID}, N: {count: {from: {m: Orders}}}}}",
		"save "+path,
	)
	want := sess.doc.yaml()

	other, _ := newTestSession(t, "sqlite")
	execAll(t, other, "load "+path)
	assert.Equal(t, want, other.doc.yaml())
}

// --- Execution ---

func TestSessionExec(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	require.Error(t, sess.Execute("exec"))

	execAll(t, sess,
		"connect "+seedDB(t),
		"from Customer",
		"where {eq: [{m: City}, London]}",
		"select {m: CustomerID}",
	)
	out.Reset()
	execAll(t, sess, "exec")
	assert.Contains(t, out.String(), "(4 rows)")

	execAll(t, sess, "disconnect")
	require.Error(t, sess.Execute("disconnect"))
}

func TestSessionCache(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "distinct", "sql", "sql")
	out.Reset()
	execAll(t, sess, "cache")
	assert.Contains(t, out.String(), "1 plan cached")

	execAll(t, sess, "cache clear")
	assert.Equal(t, 0, sess.cache.Len())
}

// --- Plugins ---

func TestSessionSoftdelete(t *testing.T) {
	t.Parallel()
	sess, out := newTestSession(t, "sqlite")
	execAll(t, sess, "from Customer", "plugin softdelete removed_at on Customers", "plugins")
	assert.Contains(t, out.String(), "softdelete: column: removed_at, tables: Customers")

	text, err := sess.GenerateSQL()
	require.NoError(t, err)
	assert.Contains(t, text, `"removed_at" IS NULL`)

	execAll(t, sess, "plugin off softdelete")
	text, err = sess.GenerateSQL()
	require.NoError(t, err)
	assert.NotContains(t, text, "removed_at")
}

func TestSessionPluginErrors(t *testing.T) {
	t.Parallel()
	sess, _ := newTestSession(t, "sqlite")
	require.Error(t, sess.Execute("plugin nope"))
	require.Error(t, sess.Execute("plugin off softdelete"))
	require.Error(t, sess.Execute("plugin softdelete Customers."))
	require.Error(t, sess.Execute("plugin opa"), "opa needs setup first")
	require.NoError(t, sess.Execute("opa status"))
	require.ErrorIs(t, sess.Execute("opa masks"), errOPAOff)
}

// --- Helpers ---

func TestSplitAs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, value, as string
	}{
		{"{m: City}", "{m: City}", ""},
		{"{m: c.City} as c", "{m: c.City}", "c"},
		{"as c", "", "c"},
		{"{eq: [{m: x.Alias}, as]}", "{eq: [{m: x.Alias}, as]}", ""},
	}
	for _, tt := range tests {
		value, as := splitAs(tt.in)
		assert.Equal(t, tt.value, value, tt.in)
		assert.Equal(t, tt.as, as, tt.in)
	}
}
