package opa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/visitors"
)

// Client communicates with an OPA server's Compile and Data APIs.
type Client struct {
	baseURL    string
	policyPath string
	input      map[string]any
	httpClient *http.Client
}

// NewClient returns a client for the policy at policyPath, prefixing it with
// "data." when needed. Requests go to baseURL unchanged, so policy input
// travels in clear text unless it is an https URL.
func NewClient(baseURL, policyPath string, input map[string]any) *Client {
	if !strings.HasPrefix(policyPath, "data.") {
		policyPath = "data." + policyPath
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		policyPath: policyPath,
		input:      input,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// postJSON posts body as JSON to path and returns the response body.
func (c *Client) postJSON(path string, reqBody []byte) ([]byte, error) {
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// --- Compile responses ---

type compileResponse struct {
	Result compileResult `json:"result"`
}

type compileResult struct {
	Queries [][]compileExpression `json:"queries"`
}

type compileExpression struct {
	Index int           `json:"index"`
	Terms []compileTerm `json:"terms"`
}

type compileTerm struct {
	Type  string
	Value any // string, int64, float64, bool, or []compileTerm (for ref)
}

// MaskAction is the mask of one column.
type MaskAction struct {
	Replace *ReplaceAction `json:"replace"`
}

// ReplaceAction reads Value in place of the column.
type ReplaceAction struct {
	Value string `json:"value"`
}

// UnmarshalJSON decodes Value according to Type.
func (ct *compileTerm) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ct.Type = raw.Type

	switch raw.Type {
	case "string", "var":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("opa: failed to unmarshal %s value: %w", raw.Type, err)
		}
		ct.Value = s
	case "number":
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			return fmt.Errorf("opa: failed to unmarshal number value: %w", err)
		}
		if f == math.Trunc(f) && !math.IsInf(f, 0) && !math.IsNaN(f) {
			ct.Value = int64(f)
		} else {
			ct.Value = f
		}
	case "boolean":
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return fmt.Errorf("opa: failed to unmarshal boolean value: %w", err)
		}
		ct.Value = b
	case "ref":
		var terms []compileTerm
		if err := json.Unmarshal(raw.Value, &terms); err != nil {
			return fmt.Errorf("opa: failed to unmarshal ref value: %w", err)
		}
		ct.Value = terms
	default:
		return fmt.Errorf("opa: unknown term type %q", raw.Type)
	}
	return nil
}

func parseCompileResponse(data []byte) (*compileResponse, error) {
	var resp compileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("opa: failed to parse compile response: %w", err)
	}
	return &resp, nil
}

// --- Expressions ---

// extractOperator pulls the operator name from the first term of an
// expression, a ref holding a single var.
func extractOperator(term compileTerm) (string, error) {
	if term.Type != "ref" {
		return "", fmt.Errorf("opa: operator term must be ref, got %s", term.Type)
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 {
		return "", errors.New("opa: operator ref has no parts")
	}
	if parts[0].Type != "var" {
		return "", fmt.Errorf("opa: operator ref[0] must be var, got %s", parts[0].Type)
	}
	name, ok := parts[0].Value.(string)
	if !ok {
		return "", errors.New("opa: operator var value is not a string")
	}
	return name, nil
}

// extractColumnName returns the last string element of a data ref.
func extractColumnName(term compileTerm) (string, error) {
	if term.Type != "ref" {
		return "", fmt.Errorf("opa: column term must be ref, got %s", term.Type)
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 {
		return "", errors.New("opa: column ref has no parts")
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == "string" {
			if s, ok := parts[i].Value.(string); ok {
				return s, nil
			}
		}
	}
	return "", errors.New("opa: column ref has no string-typed element")
}

// isDataRef reports whether the term is a ref starting with var "data".
func isDataRef(term compileTerm) bool {
	if term.Type != "ref" {
		return false
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) == 0 || parts[0].Type != "var" {
		return false
	}
	name, ok := parts[0].Value.(string)
	return ok && name == "data"
}

// operands splits an expression into its column and value terms. OPA does
// not guarantee operand order.
func operands(expr compileExpression) (col string, val any, err error) {
	if len(expr.Terms) < 3 {
		return "", nil, fmt.Errorf("opa: expression has %d terms, need at least 3", len(expr.Terms))
	}
	var colTerm, valTerm compileTerm
	switch {
	case isDataRef(expr.Terms[1]):
		colTerm, valTerm = expr.Terms[1], expr.Terms[2]
	case isDataRef(expr.Terms[2]):
		colTerm, valTerm = expr.Terms[2], expr.Terms[1]
	default:
		return "", nil, errors.New("opa: expression has no data ref term")
	}
	if valTerm.Type == "ref" {
		return "", nil, errors.New("opa: value term must be a scalar")
	}
	col, err = extractColumnName(colTerm)
	return col, valTerm.Value, err
}

func valueType(v any) model.Type {
	switch v.(type) {
	case int64:
		return model.Int
	case float64:
		return model.Float
	case bool:
		return model.Bool
	}
	return model.String
}

var comparisons = map[string]nodes.BinaryOp{
	"eq":    nodes.OpEq,
	"equal": nodes.OpEq,
	"neq":   nodes.OpNotEq,
	"lt":    nodes.OpLt,
	"lte":   nodes.OpLtEq,
	"gt":    nodes.OpGt,
	"gte":   nodes.OpGtEq,
}

var matchers = map[string]nodes.Method{
	"startswith": nodes.MethodStartsWith,
	"endswith":   nodes.MethodEndsWith,
	"contains":   nodes.MethodContainsString,
}

// translateExpression converts an OPA compile expression into a predicate
// over the columns of ref.
func translateExpression(expr compileExpression, ref plugins.TableRef) (nodes.Node, error) {
	colName, val, err := operands(expr)
	if err != nil {
		return nil, err
	}
	op, err := extractOperator(expr.Terms[0])
	if err != nil {
		return nil, err
	}
	typ := valueType(val)
	col := ref.Col(colName, typ)
	lit := nodes.NewConstant(val, typ)

	if bop, ok := comparisons[op]; ok {
		return nodes.NewBinary(bop, col, lit), nil
	}
	if m, ok := matchers[op]; ok {
		if _, ok := val.(string); !ok {
			return nil, fmt.Errorf("opa: %s requires string value, got %T", op, val)
		}
		return &nodes.Call{Method: m, Args: []nodes.Node{col, lit}, Typ: model.Bool}, nil
	}
	return nil, fmt.Errorf("opa: unsupported operator %q", op)
}

// --- Query sets ---

// translateQueries converts the query set of a Compile response into one
// predicate over ref.
//
// No queries deny the table. An empty query admits every row and yields a
// nil predicate. Each query is a conjunction and the set is their
// disjunction.
func translateQueries(queries [][]compileExpression, ref plugins.TableRef) (nodes.Node, error) {
	if len(queries) == 0 {
		return nil, ErrAccessDenied
	}
	var result nodes.Node
	for _, query := range queries {
		if len(query) == 0 {
			return nil, nil
		}
		var group nodes.Node
		for _, expr := range query {
			node, err := translateExpression(expr, ref)
			if err != nil {
				return nil, err
			}
			group = nodes.And(group, node)
		}
		if result == nil {
			result = group
		} else {
			result = nodes.NewBinary(nodes.OpOr, result, group)
		}
	}
	return result, nil
}

// ErrAccessDenied reports a policy that admits no rows of a table.
var ErrAccessDenied = errors.New("opa: access denied")

// --- Compiling ---

type compileRequest struct {
	Query    string   `json:"query"`
	Input    any      `json:"input,omitempty"`
	Unknowns []string `json:"unknowns"`
}

// compile returns the request sent, the raw response and its parse.
func (c *Client) compile(tableName string) (req, body []byte, parsed *compileResponse, err error) {
	req, err = json.Marshal(compileRequest{
		Query:    c.policyPath + " == true",
		Input:    c.input,
		Unknowns: []string{"data." + tableName},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opa: failed to marshal compile request: %w", err)
	}
	body, err = c.postJSON("/v1/compile", req)
	if err != nil {
		return req, nil, nil, fmt.Errorf("opa: compile request failed: %w", err)
	}
	parsed, err = parseCompileResponse(body)
	return req, body, parsed, err
}

// Compile calls the OPA Compile API for the table ref reads and returns the
// predicate its rows must satisfy; nil means every row is allowed.
func (c *Client) Compile(ref plugins.TableRef) (nodes.Node, error) {
	_, _, parsed, err := c.compile(ref.Name)
	if err != nil {
		return nil, err
	}
	return translateQueries(parsed.Result.Queries, ref)
}

// --- Masks ---

// masksDataPath returns the Data API path of the masks rule. Given policy
// path "data.policies.filtering.orders.include" it returns
// "policies/filtering/orders/masks".
func (c *Client) masksDataPath() string {
	path := strings.TrimPrefix(c.policyPath, "data.")
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		path = path[:idx]
	}
	return strings.ReplaceAll(path, ".", "/") + "/masks"
}

// FetchMasks evaluates the masks rule next to the policy through the Data
// API. It returns nil when no column is masked.
func (c *Client) FetchMasks() (map[string]map[string]MaskAction, error) {
	data, err := json.Marshal(struct {
		Input any `json:"input,omitempty"`
	}{c.input})
	if err != nil {
		return nil, fmt.Errorf("opa: failed to marshal data request: %w", err)
	}
	body, err := c.postJSON("/v1/data/"+c.masksDataPath(), data)
	if err != nil {
		return nil, fmt.Errorf("opa: masks request failed: %w", err)
	}
	return parseMasksResponse(body)
}

// parseMasksResponse reads {"result": {"table": {"column": {"replace":
// {"value": "<MASKED>"}}}}}. Only string values mask a column.
func parseMasksResponse(data []byte) (map[string]map[string]MaskAction, error) {
	var resp struct {
		Result map[string]map[string]map[string]any `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("opa: failed to parse masks response: %w", err)
	}
	var masks map[string]map[string]MaskAction
	for table, columns := range resp.Result {
		for column, action := range columns {
			replace, ok := action["replace"].(map[string]any)
			if !ok {
				continue
			}
			value, ok := replace["value"].(string)
			if !ok {
				continue
			}
			if masks == nil {
				masks = make(map[string]map[string]MaskAction)
			}
			if masks[table] == nil {
				masks[table] = make(map[string]MaskAction)
			}
			masks[table][column] = MaskAction{Replace: &ReplaceAction{Value: value}}
		}
	}
	return masks, nil
}

// --- Explain ---

// ExplainTranslation pairs one residual expression with the SQL it became.
type ExplainTranslation struct {
	Operator string
	Column   string
	Value    any
	SQL      string
}

// ExplainResult is what Explain reports for one table.
type ExplainResult struct {
	RequestJSON        string
	RawJSON            string
	QueryCount         int
	ExpressionCount    int
	Translations       []ExplainTranslation
	Condition          nodes.Node
	Masks              map[string]map[string]MaskAction
	UnconditionalAllow bool
	AccessDenied       bool
}

// Explain calls the Compile API for table and reports how the response
// translates to SQL in lang.
func (c *Client) Explain(lang *dialect.Language, table string) (*ExplainResult, error) {
	req, raw, parsed, err := c.compile(table)
	if err != nil {
		return nil, err
	}
	masks, _ := c.FetchMasks() // best effort
	res := &ExplainResult{
		RequestJSON: string(req),
		RawJSON:     string(raw),
		QueryCount:  len(parsed.Result.Queries),
		Masks:       masks,
	}
	for _, query := range parsed.Result.Queries {
		res.ExpressionCount += len(query)
		if len(query) == 0 {
			res.UnconditionalAllow = true
		}
	}
	if res.QueryCount == 0 {
		res.AccessDenied = true
		return res, nil
	}
	if res.UnconditionalAllow {
		return res, nil
	}

	tbl := nodes.NewTable(nil, table)
	ref := plugins.TableRef{Alias: tbl.Alias, Name: table, Table: tbl}
	for _, query := range parsed.Result.Queries {
		for _, expr := range query {
			tr := ExplainTranslation{}
			if len(expr.Terms) > 0 {
				tr.Operator, _ = extractOperator(expr.Terms[0])
			}
			tr.Column, tr.Value, _ = operands(expr)
			if node, err := translateExpression(expr, ref); err == nil {
				_, tr.SQL, _ = strings.Cut(visitors.String(lang, &nodes.Delete{Table: tbl, Where: node}), "WHERE ")
			}
			res.Translations = append(res.Translations, tr)
		}
	}
	res.Condition, err = translateQueries(parsed.Result.Queries, ref)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- Inputs ---

// inputRefPath returns the dotted path of a ref rooted at var "input".
func inputRefPath(term compileTerm) (string, bool) {
	if term.Type != "ref" {
		return "", false
	}
	parts, ok := term.Value.([]compileTerm)
	if !ok || len(parts) < 2 || parts[0].Type != "var" {
		return "", false
	}
	if name, ok := parts[0].Value.(string); !ok || name != "input" {
		return "", false
	}
	segments := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		s, ok := p.Value.(string)
		if p.Type != "string" || !ok {
			return "", false
		}
		segments = append(segments, s)
	}
	return strings.Join(segments, "."), true
}

func extractInputPaths(resp *compileResponse) []string {
	var paths []string
	for _, query := range resp.Result.Queries {
		for _, expr := range query {
			for _, term := range expr.Terms {
				if path, ok := inputRefPath(term); ok && !slices.Contains(paths, path) {
					paths = append(paths, path)
				}
			}
		}
	}
	slices.Sort(paths)
	return paths
}

// DiscoverInputs compiles the policy with the input unknown and returns
// the input fields it references. Extra data paths such as "data.orders"
// make rules over those tables produce residuals too.
func (c *Client) DiscoverInputs(dataUnknowns ...string) ([]string, error) {
	data, err := json.Marshal(compileRequest{
		Query:    c.policyPath + " == true",
		Input:    map[string]any{},
		Unknowns: append([]string{"input"}, dataUnknowns...),
	})
	if err != nil {
		return nil, fmt.Errorf("opa: failed to marshal compile request: %w", err)
	}
	body, err := c.postJSON("/v1/compile", data)
	if err != nil {
		return nil, fmt.Errorf("opa: compile request failed: %w", err)
	}
	parsed, err := parseCompileResponse(body)
	if err != nil {
		return nil, err
	}
	return extractInputPaths(parsed), nil
}
