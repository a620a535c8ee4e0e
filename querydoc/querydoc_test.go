package querydoc_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/internal/testutil"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/query"
	"github.com/bawdo/relq/querydoc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *provider.Provider {
	t.Helper()
	am, err := mapping.LoadAttributeMapping(strings.NewReader(testutil.NorthwindMapping), testutil.NorthwindTypes()...)
	require.NoError(t, err)
	return provider.New(mapping.NewMapper(am, dialect.SQLite()), sqldb.New(testutil.NorthwindDB(t)))
}

func build(t *testing.T, p *provider.Provider, doc string) query.Queryable {
	t.Helper()
	d, err := querydoc.ParseString(doc)
	require.NoError(t, err)
	q, err := d.Build(p.Mapper().Resolver, testutil.NorthwindTypes()...)
	require.NoError(t, err)
	return q
}

func run(t *testing.T, doc string, args exec.Args) any {
	t.Helper()
	p := newProvider(t)
	v, err := p.ExecuteAll(context.Background(), build(t, p, doc), args)
	require.NoError(t, err)
	return v
}

// --- Queries ---

func TestWhereOrderSelect(t *testing.T) {
	t.Parallel()
	got := run(t, `
from: Customer
ops:
  - where: {eq: [{m: City}, London]}
  - orderby: {m: CustomerID}
  - select: {m: CustomerID}
`, nil)
	assert.Equal(t, []any{"AROUT", "BSBEV", "CONSH", "SEVES"}, got)
}

func TestArguments(t *testing.T) {
	t.Parallel()
	doc := `
from: Customer
args: {city: string}
ops:
  - where: {eq: [{m: City}, {arg: city}]}
  - select: {m: CustomerID}
`
	assert.Equal(t, []any{"FISSA"}, run(t, doc, exec.Args{"city": "Madrid"}))
}

func TestTakeSkipAndDescending(t *testing.T) {
	t.Parallel()
	got := run(t, `
from: Customer
ops:
  - orderbydesc: {m: CustomerID}
  - skip: 1
  - take: 2
  - select: {m: CustomerID}
`, nil)
	assert.Equal(t, []any{"FISSA", "CONSH"}, got)
}

func TestGroupByWithNestedCount(t *testing.T) {
	t.Parallel()
	got := run(t, `
from: Customer
ops:
  - groupby: {m: Country}
    as: g
  - select: {rec: {Country: {m: g.Key}, N: {count: {from: {m: g}}}}}
    as: g
`, nil)
	counts := map[string]int64{}
	for _, v := range got.([]any) {
		rec := v.(*model.Record)
		counts[rec.Get("Country").(string)] = rec.Get("N").(int64)
	}
	assert.Equal(t, map[string]int64{"Germany": 1, "Mexico": 1, "UK": 4, "Spain": 1}, counts)
}

func TestNestedReductionOverAssociation(t *testing.T) {
	t.Parallel()
	got := run(t, `
from: Customer
ops:
  - where: {eq: [{m: CustomerID}, ALFKI]}
    as: c
  - select:
      count:
        from: {m: c.Orders}
        where: {gt: [{m: o.Freight}, {lit: "30", type: decimal}]}
        as: o
    as: c
`, nil)
	assert.Equal(t, []any{int64(1)}, got)
}

func TestInAndScalarMethods(t *testing.T) {
	t.Parallel()
	got := run(t, `
from: Customer
ops:
  - where:
      and:
        - {in: [{m: CustomerID}, [ALFKI, FISSA, BSBEV]]}
        - {not: {startswith: [{m: CompanyName}, "B"]}}
  - orderby: {m: CustomerID}
  - select: {lower: {m: CustomerID}}
`, nil)
	assert.Equal(t, []any{"alfki", "fissa"}, got)
}

func TestSingletonOperators(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(4), run(t, `
from: Customer
ops:
  - count: {eq: [{m: Country}, UK]}
`, nil))
	assert.Equal(t, true, run(t, `
from: Order
ops:
  - any: {eq: [{m: ShipCity}, Berlin]}
`, nil))
	assert.Equal(t, int64(1), run(t, `
from: Customer
ops:
  - where: {eq: [{m: ContactName}, null]}
  - count: null
`, nil))
}

// --- Commands ---

func command(t *testing.T, p *provider.Provider, doc string, args exec.Args) any {
	t.Helper()
	d, err := querydoc.ParseString(doc)
	require.NoError(t, err)
	require.True(t, d.IsCommand())
	c, err := d.BuildCommand(p.Mapper().Resolver, testutil.NorthwindTypes()...)
	require.NoError(t, err)
	v, err := p.ExecuteCommand(context.Background(), c, args)
	require.NoError(t, err)
	return v
}

func TestDeleteWhere(t *testing.T) {
	t.Parallel()
	p := newProvider(t)
	got := command(t, p, `
from: Customer
command: delete
where: {eq: [{m: City}, Madrid]}
`, nil)
	assert.Equal(t, int64(1), got)
}

func TestDeleteByIdentity(t *testing.T) {
	t.Parallel()
	p := newProvider(t)
	got := command(t, p, `
from: Customer
command: delete
values: {CustomerID: SEVES}
`, nil)
	assert.Equal(t, int64(1), got)
}

func TestUpdateWithCheck(t *testing.T) {
	t.Parallel()
	p := newProvider(t)
	doc := `
from: Customer
args: {city: string}
command: update
as: c
values: {CustomerID: CONSH, CompanyName: Consolidated, City: {arg: city}, Country: UK}
where: {eq: [{m: c.Country}, UK]}
`
	assert.Equal(t, int64(1), command(t, p, doc, exec.Args{"city": "Leeds"}))

	leeds := build(t, p, `
from: Customer
ops:
  - where: {eq: [{m: City}, Leeds]}
  - count: null
`)
	v, err := p.Execute(context.Background(), leeds, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestUpsertInsertsNewRow(t *testing.T) {
	t.Parallel()
	p := newProvider(t)
	command(t, p, `
from: Customer
command: upsert
values: {CustomerID: NEWCO, CompanyName: New Co, City: Paris, Country: France}
`, nil)
	v, err := p.Execute(context.Background(), build(t, p, "from: Customer\nops:\n  - count: {eq: [{m: Country}, France]}"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()
	_, err := querydoc.ParseString("from: Customer\ncommand: truncate")
	assert.ErrorContains(t, err, `unknown command "truncate"`)

	_, err = querydoc.ParseString("from: Customer\ncommand: delete\nops:\n  - take: 1")
	assert.ErrorContains(t, err, "takes no ops")

	p := newProvider(t)
	for name, doc := range map[string]string{
		"unknown member": "from: Customer\ncommand: insert\nvalues: {Fax: x}",
		"no values":      "from: Customer\ncommand: insert",
		"insert where":   "from: Customer\ncommand: insert\nvalues: {CustomerID: X}\nwhere: true",
	} {
		d, err := querydoc.ParseString(doc)
		require.NoError(t, err, name)
		_, err = d.BuildCommand(p.Mapper().Resolver, testutil.NorthwindTypes()...)
		assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err), name)
	}

	d, err := querydoc.ParseString("from: Customer\ncommand: delete\nwhere: true")
	require.NoError(t, err)
	_, err = d.Build(p.Mapper().Resolver, testutil.NorthwindTypes()...)
	assert.ErrorContains(t, err, "is a command")
}

// --- Errors ---

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		doc  string
		code qerrors.ErrorCode
		msg  string
	}{
		{"unknown entity", "from: Supplier\nops: []", qerrors.ErrMapping, `unknown entity "Supplier"`},
		{"unknown member", "from: Customer\nops:\n  - where: {eq: [{m: Town}, x]}", qerrors.ErrArgument, `no member "Town"`},
		{"unknown operator", "from: Customer\nops:\n  - shuffle: true", qerrors.ErrArgument, `unknown operator "shuffle"`},
		{"undeclared argument", "from: Customer\nops:\n  - where: {eq: [{m: City}, {arg: city}]}", qerrors.ErrArgument, `undeclared argument "city"`},
		{"two operators", "from: Customer\nops:\n  - {where: true, take: 1}", qerrors.ErrArgument, "expected one operator"},
		{"take needs an int", "from: Customer\nops:\n  - take: many", qerrors.ErrArgument, "count must be an int"},
		{"bad arg type", "from: Customer\nargs: {n: integer}\nops: []", qerrors.ErrArgument, `unknown type "integer"`},
		{"operand count", "from: Customer\nops:\n  - where: {eq: [{m: City}]}", qerrors.ErrArgument, "line 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newProvider(t)
			d, err := querydoc.ParseString(tc.doc)
			require.NoError(t, err)
			_, err = d.Build(p.Mapper().Resolver, testutil.NorthwindTypes()...)
			require.Error(t, err)
			assert.Equal(t, tc.code, qerrors.CodeOf(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	_, err := querydoc.ParseString("ops: []")
	assert.ErrorContains(t, err, "missing from")

	_, err = querydoc.ParseString("from: Customer\nlimit: 3")
	assert.Equal(t, qerrors.ErrArgument, qerrors.CodeOf(err))
}

func TestParseType(t *testing.T) {
	t.Parallel()
	typ, err := querydoc.ParseType("decimal?")
	require.NoError(t, err)
	assert.Equal(t, model.KindDecimal, typ.Kind)
	assert.True(t, typ.Nullable)
}
