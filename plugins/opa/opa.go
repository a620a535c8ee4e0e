// Package opa provides a Transformer that enforces Open Policy Agent
// policies on queries by injecting policy-derived WHERE conditions.
//
// You supply a [PolicyFunc] that is called once per table a select,
// update or delete reads. The function inspects the table and returns a
// predicate over its columns, or nil to allow every row. If the function
// returns an error the query is rejected entirely, which suits hard
// "access denied" rules.
//
// # Basic usage
//
//	policy := func(ref plugins.TableRef) (nodes.Node, error) {
//	    switch ref.Name {
//	    case "Secrets":
//	        return nil, opa.ErrAccessDenied
//	    case "Orders":
//	        tenant := ref.Col("TenantID", model.Int)
//	        return nodes.Eq(tenant, nodes.NewConstant(int64(42), model.Int)), nil
//	    }
//	    return nil, nil
//	}
//	p := provider.New(mapper, rt, provider.WithPlugins(opa.New(policy)))
//
// # Server mode
//
// [NewFromServer] asks an OPA server's Compile API for the residual policy
// of each table and translates it into SQL conditions. Column masks served
// by the Data API next to the policy replace masked columns in the select
// list.
//
// # Combining with other plugins
//
// OPA composes with any other Transformer; plugins apply in the order
// they are given:
//
//	provider.WithPlugins(softdelete.New(), opa.New(policy))
package opa

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

// PolicyFunc returns the predicate rows of the referenced table must
// satisfy; nil allows every row. Returning a non-nil error rejects the
// query.
type PolicyFunc func(ref plugins.TableRef) (nodes.Node, error)

// OPA is a Transformer that evaluates a policy against every table a query
// reads and injects the resulting conditions. It supports two modes:
//   - PolicyFunc mode (via [New]): calls a Go function to evaluate policy
//   - Server mode (via [NewFromServer]): calls an OPA server's Compile API
type OPA struct {
	plugins.BaseTransformer
	evalPolicy PolicyFunc
	client     *Client
}

// New creates an OPA transformer with the given policy function.
func New(policy PolicyFunc) *OPA {
	return &OPA{evalPolicy: policy}
}

// NewFromServer creates an OPA transformer that calls an OPA server. The
// url is the base URL of the server (e.g., "http://localhost:8181"),
// policyPath is the Rego rule (e.g., "data.authz.allow") and input is the
// input document sent with each request.
func NewFromServer(url, policyPath string, input map[string]any) *OPA {
	return &OPA{client: NewClient(url, policyPath, input)}
}

func (o *OPA) condition(ref plugins.TableRef) (nodes.Node, error) {
	if o.client != nil {
		return o.client.Compile(ref)
	}
	return o.evalPolicy(ref)
}

// TransformSelect restricts every table the select reads and, in server
// mode, masks the columns the policy hides.
func (o *OPA) TransformSelect(sel *nodes.Select) (*nodes.Select, error) {
	refs := plugins.CollectTables(sel)
	if len(refs) == 0 {
		return sel, nil
	}
	preds := []nodes.Node{sel.Where}
	for _, ref := range refs {
		cond, err := o.condition(ref)
		if err != nil {
			return nil, err
		}
		preds = append(preds, cond)
	}
	out := sel
	if where := nodes.And(preds...); where != sel.Where {
		out = sel.SetWhere(where)
	}
	if o.client == nil {
		return out, nil
	}
	masks, err := o.client.FetchMasks()
	if err != nil {
		return nil, err
	}
	return applyMasks(out, refs, masks), nil
}

// TransformUpdate keeps updates to the rows the policy allows.
func (o *OPA) TransformUpdate(stmt *nodes.Update) (*nodes.Update, error) {
	cond, err := o.condition(commandRef(stmt.Table))
	if err != nil || cond == nil {
		return stmt, err
	}
	c := *stmt
	c.Where = nodes.And(stmt.Where, cond)
	return &c, nil
}

// TransformDelete keeps deletes to the rows the policy allows.
func (o *OPA) TransformDelete(stmt *nodes.Delete) (*nodes.Delete, error) {
	cond, err := o.condition(commandRef(stmt.Table))
	if err != nil || cond == nil {
		return stmt, err
	}
	return &nodes.Delete{Table: stmt.Table, Where: nodes.And(stmt.Where, cond)}, nil
}

func commandRef(tbl *nodes.Table) plugins.TableRef {
	return plugins.TableRef{Alias: tbl.Alias, Name: tbl.Name, Table: tbl}
}

// applyMasks replaces masked table columns in the select list. String
// columns read the replacement text; other columns read NULL.
func applyMasks(sel *nodes.Select, refs []plugins.TableRef, masks map[string]map[string]MaskAction) *nodes.Select {
	if len(masks) == 0 {
		return sel
	}
	tables := make(map[*nodes.TableAlias]string, len(refs))
	for _, ref := range refs {
		tables[ref.Alias] = ref.Name
	}
	var cols []nodes.ColumnDeclaration
	for i, d := range sel.Columns {
		col, ok := d.Expr.(*nodes.Column)
		if !ok {
			continue
		}
		action, masked := masks[tables[col.Alias]][col.Name]
		if !masked || action.Replace == nil {
			continue
		}
		if cols == nil {
			cols = append([]nodes.ColumnDeclaration(nil), sel.Columns...)
		}
		var value any
		if model.KindOf(col.Typ) == model.KindString {
			value = action.Replace.Value
		}
		cols[i] = nodes.ColumnDeclaration{Name: d.Name, Expr: nodes.NewConstant(value, col.Typ), QueryType: d.QueryType}
	}
	if cols == nil {
		return sel
	}
	return sel.SetColumns(cols)
}
