package opa

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/visitors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fixtures ---

func dataRef(table, column string) string {
	return `{"type":"ref","value":[{"type":"var","value":"data"},{"type":"string","value":"` + table +
		`"},{"type":"var","value":"$01"},{"type":"string","value":"` + column + `"}]}`
}

func opRef(op string) string {
	return `{"type":"ref","value":[{"type":"var","value":"` + op + `"}]}`
}

func expr(op, left, right string) string {
	return `{"index":0,"terms":[` + opRef(op) + `,` + left + `,` + right + `]}`
}

func queries(qs ...[]string) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = "[" + strings.Join(q, ",") + "]"
	}
	return `{"result":{"queries":[` + strings.Join(parts, ",") + `]}}`
}

func parseQueries(t *testing.T, body string) [][]compileExpression {
	t.Helper()
	resp, err := parseCompileResponse([]byte(body))
	require.NoError(t, err)
	return resp.Result.Queries
}

func tableRef(name string) plugins.TableRef {
	tbl := nodes.NewTable(nil, name)
	return plugins.TableRef{Alias: tbl.Alias, Name: name, Table: tbl}
}

// whereSQL renders a condition over ref as the WHERE clause of a delete.
func whereSQL(t *testing.T, ref plugins.TableRef, cond nodes.Node) string {
	t.Helper()
	cmd, err := visitors.Format(dialect.Postgres(), &nodes.Delete{Table: ref.Table, Where: cond}, visitors.WithoutParams())
	require.NoError(t, err)
	_, where, _ := strings.Cut(strings.Join(strings.Fields(cmd.Text), " "), "WHERE ")
	return where
}

// opaServer answers the Compile API with compile and the Data API with
// masks. It records the last compile request.
type opaServer struct {
	*httptest.Server
	compile  string
	masks    string
	requests atomic.Int32
	last     atomic.Value
}

func newOPAServer(t *testing.T, compile, masks string) *opaServer {
	t.Helper()
	s := &opaServer{compile: compile, masks: masks}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		switch {
		case r.URL.Path == "/v1/compile":
			var req compileRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.last.Store(req)
			_, _ = w.Write([]byte(s.compile))
		case strings.HasPrefix(r.URL.Path, "/v1/data/"):
			if s.masks == "" {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			_, _ = w.Write([]byte(s.masks))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *opaServer) lastRequest() compileRequest {
	req, _ := s.last.Load().(compileRequest)
	return req
}

// --- Term decoding ---

func TestCompileTermNumbers(t *testing.T) {
	t.Parallel()
	var whole, frac compileTerm
	require.NoError(t, json.Unmarshal([]byte(`{"type":"number","value":42}`), &whole))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"number","value":1.5}`), &frac))
	assert.Equal(t, int64(42), whole.Value)
	assert.Equal(t, 1.5, frac.Value)
}

func TestCompileTermRejectsUnknownType(t *testing.T) {
	t.Parallel()
	var term compileTerm
	err := json.Unmarshal([]byte(`{"type":"set","value":[]}`), &term)
	assert.ErrorContains(t, err, `unknown term type "set"`)
}

func TestParseCompileResponseRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := parseCompileResponse([]byte(`{"result":`))
	assert.ErrorContains(t, err, "failed to parse compile response")
}

// --- Expression translation ---

func TestTranslateExpression(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		expr string
		want string
	}{
		{"eq number", expr("eq", dataRef("orders", "tenant_id"), `{"type":"number","value":42}`), `"tenant_id" = 42`},
		{"equal string", expr("equal", dataRef("orders", "status"), `{"type":"string","value":"open"}`), `"status" = 'open'`},
		{"reversed operands", expr("eq", `{"type":"string","value":"open"}`, dataRef("orders", "status")), `"status" = 'open'`},
		{"neq", expr("neq", dataRef("orders", "status"), `{"type":"string","value":"void"}`), `"status" <> 'void'`},
		{"lt", expr("lt", dataRef("orders", "total"), `{"type":"number","value":100}`), `"total" < 100`},
		{"gte", expr("gte", dataRef("orders", "total"), `{"type":"number","value":5}`), `"total" >= 5`},
		{"startswith", expr("startswith", dataRef("orders", "region"), `{"type":"string","value":"EU"}`), `"region" LIKE 'EU' || '%'`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ref := tableRef("orders")
			qs := parseQueries(t, queries([]string{tc.expr}))
			node, err := translateExpression(qs[0][0], ref)
			require.NoError(t, err)
			assert.Equal(t, tc.want, whereSQL(t, ref, node))
		})
	}
}

func TestTranslateExpressionErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		expr string
		err  string
	}{
		{"unknown operator", expr("regex", dataRef("orders", "status"), `{"type":"string","value":"x"}`), `unsupported operator "regex"`},
		{"no data ref", expr("eq", `{"type":"string","value":"a"}`, `{"type":"string","value":"b"}`), "no data ref term"},
		{"ref value", expr("eq", dataRef("orders", "a"), dataRef("orders", "b")), "value term must be a scalar"},
		{"matcher on number", expr("contains", dataRef("orders", "status"), `{"type":"number","value":1}`), "requires string value"},
		{"too few terms", `{"index":0,"terms":[` + opRef("eq") + `]}`, "need at least 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			qs := parseQueries(t, queries([]string{tc.expr}))
			_, err := translateExpression(qs[0][0], tableRef("orders"))
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

// --- Query sets ---

func TestTranslateQueries(t *testing.T) {
	t.Parallel()
	tenant := expr("eq", dataRef("orders", "tenant_id"), `{"type":"number","value":1}`)
	open := expr("eq", dataRef("orders", "status"), `{"type":"string","value":"open"}`)
	mine := expr("eq", dataRef("orders", "owner"), `{"type":"string","value":"bob"}`)

	t.Run("and within a query, or across queries", func(t *testing.T) {
		t.Parallel()
		ref := tableRef("orders")
		node, err := translateQueries(parseQueries(t, queries([]string{tenant, open}, []string{mine})), ref)
		require.NoError(t, err)
		assert.Equal(t, `("tenant_id" = 1 AND "status" = 'open') OR "owner" = 'bob'`, whereSQL(t, ref, node))
	})
	t.Run("empty query allows everything", func(t *testing.T) {
		t.Parallel()
		node, err := translateQueries(parseQueries(t, queries([]string{tenant}, []string{})), tableRef("orders"))
		require.NoError(t, err)
		assert.Nil(t, node)
	})
	t.Run("no queries denies access", func(t *testing.T) {
		t.Parallel()
		_, err := translateQueries(nil, tableRef("orders"))
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

// --- Client ---

func TestNewClientNormalizesPolicyPath(t *testing.T) {
	t.Parallel()
	c := NewClient("http://opa:8181/", "authz.orders.allow", nil)
	assert.Equal(t, "data.authz.orders.allow", c.policyPath)
	assert.Equal(t, "http://opa:8181", c.baseURL)
	assert.Equal(t, "authz/orders/masks", c.masksDataPath())
}

func TestClientCompile(t *testing.T) {
	t.Parallel()
	srv := newOPAServer(t, queries([]string{expr("eq", dataRef("orders", "tenant_id"), `{"type":"number","value":7}`)}), "")
	c := NewClient(srv.URL, "data.authz.allow", map[string]any{"tenant": 7})

	ref := tableRef("orders")
	node, err := c.Compile(ref)
	require.NoError(t, err)
	assert.Equal(t, `"tenant_id" = 7`, whereSQL(t, ref, node))

	req := srv.lastRequest()
	assert.Equal(t, "data.authz.allow == true", req.Query)
	assert.Equal(t, []string{"data.orders"}, req.Unknowns)
	assert.Equal(t, map[string]any{"tenant": float64(7)}, req.Input)
}

func TestClientCompileServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "policy missing", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, "authz.allow", nil).Compile(tableRef("orders"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "policy missing")
}

// --- Masks ---

func TestParseMasksResponse(t *testing.T) {
	t.Parallel()
	masks, err := parseMasksResponse([]byte(`{"result":{
		"customers":{"phone":{"replace":{"value":"***"}},"fax":{"hide":true},"city":{"replace":{"value":3}}}
	}}`))
	require.NoError(t, err)
	require.Len(t, masks["customers"], 1)
	assert.Equal(t, "***", masks["customers"]["phone"].Replace.Value)
}

func TestParseMasksResponseEmpty(t *testing.T) {
	t.Parallel()
	masks, err := parseMasksResponse([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, masks)
}

// --- Explain ---

func TestExplain(t *testing.T) {
	t.Parallel()
	body := queries([]string{
		expr("eq", dataRef("orders", "tenant_id"), `{"type":"number","value":3}`),
		expr("startswith", dataRef("orders", "region"), `{"type":"string","value":"EU"}`),
	})
	srv := newOPAServer(t, body, `{"result":{"orders":{"total":{"replace":{"value":"-"}}}}}`)

	res, err := NewClient(srv.URL, "authz.allow", nil).Explain(dialect.Postgres(), "orders")
	require.NoError(t, err)
	assert.Equal(t, body, res.RawJSON)
	assert.Equal(t, 1, res.QueryCount)
	assert.Equal(t, 2, res.ExpressionCount)
	require.Len(t, res.Translations, 2)
	assert.Equal(t, ExplainTranslation{Operator: "eq", Column: "tenant_id", Value: int64(3), SQL: `"tenant_id" = 3`}, res.Translations[0])
	assert.Equal(t, "startswith", res.Translations[1].Operator)
	assert.NotNil(t, res.Condition)
	assert.Contains(t, res.Masks["orders"], "total")
}

func TestExplainDeniedAndAllowed(t *testing.T) {
	t.Parallel()
	denied := newOPAServer(t, `{"result":{}}`, "")
	res, err := NewClient(denied.URL, "authz.allow", nil).Explain(dialect.Postgres(), "orders")
	require.NoError(t, err)
	assert.True(t, res.AccessDenied)

	allowed := newOPAServer(t, `{"result":{"queries":[[]]}}`, "")
	res, err = NewClient(allowed.URL, "authz.allow", nil).Explain(dialect.Postgres(), "orders")
	require.NoError(t, err)
	assert.True(t, res.UnconditionalAllow)
	assert.Nil(t, res.Condition)
}

// --- Input discovery ---

func TestDiscoverInputs(t *testing.T) {
	t.Parallel()
	inputRef := func(path ...string) string {
		parts := []string{`{"type":"var","value":"input"}`}
		for _, p := range path {
			parts = append(parts, `{"type":"string","value":"`+p+`"}`)
		}
		return `{"type":"ref","value":[` + strings.Join(parts, ",") + `]}`
	}
	srv := newOPAServer(t, queries(
		[]string{expr("eq", inputRef("user", "role"), `{"type":"string","value":"admin"}`)},
		[]string{expr("eq", dataRef("orders", "owner"), inputRef("user", "name")), expr("eq", inputRef("user", "role"), `{"type":"string","value":"clerk"}`)},
	), "")

	paths, err := NewClient(srv.URL, "authz.allow", nil).DiscoverInputs("data.orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"user.name", "user.role"}, paths)
	assert.Equal(t, []string{"input", "data.orders"}, srv.lastRequest().Unknowns)
}

