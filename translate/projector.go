package translate

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// ProjectColumns splits expr into the column declarations a select under
// newAlias must carry and a projector that reads them back. Columns of the
// existing aliases are hoisted one for one. Computed sub-expressions whose
// every column comes from the existing aliases are hoisted whole and named
// after the record field they initialize.
func ProjectColumns(expr nodes.Node, newAlias *nodes.TableAlias, existing ...*nodes.TableAlias) ([]nodes.ColumnDeclaration, nodes.Node) {
	return ProjectColumnsWith(expr, nil, newAlias, existing...)
}

// ProjectColumnsWith is ProjectColumns for a select that already declares
// cols. New declarations are appended and identical column references reuse
// the existing declaration.
func ProjectColumnsWith(expr nodes.Node, cols []nodes.ColumnDeclaration, newAlias *nodes.TableAlias, existing ...*nodes.TableAlias) ([]nodes.ColumnDeclaration, nodes.Node) {
	aliases := make(map[*nodes.TableAlias]bool, len(existing))
	for _, a := range existing {
		aliases[a] = true
	}
	nm := &nominator{existing: aliases, candidates: make(map[nodes.Node]bool)}
	nm.nominate(expr, false)

	cp := &columnProjector{
		candidates: nm.candidates,
		existing:   aliases,
		newAlias:   newAlias,
		columns:    append([]nodes.ColumnDeclaration(nil), cols...),
	}
	cp.BaseTransformer = nodes.NewPreTransformer(cp, cp.pre)
	projector := cp.Transform(expr)
	return cp.columns, projector
}

type columnProjector struct {
	*nodes.BaseTransformer
	candidates map[nodes.Node]bool
	existing   map[*nodes.TableAlias]bool
	newAlias   *nodes.TableAlias
	columns    []nodes.ColumnDeclaration
	hint       string
}

func (cp *columnProjector) pre(n nodes.Node) (nodes.Node, bool) {
	if !cp.candidates[n] {
		return nil, false
	}
	if c, ok := n.(*nodes.Column); ok {
		if !cp.existing[c.Alias] {
			return c, true
		}
		for _, d := range cp.columns {
			if dc, ok := d.Expr.(*nodes.Column); ok && dc.Same(c) {
				return d.Ref(cp.newAlias), true
			}
		}
		return cp.declare(c.Name, c, c.QueryType), true
	}
	if !readsServer(n) {
		return n, true
	}
	base := cp.hint
	if base == "" {
		base = "c"
	}
	return cp.declare(base, n, nil), true
}

func (cp *columnProjector) declare(base string, expr nodes.Node, qt *nodes.QueryType) *nodes.Column {
	d := nodes.ColumnDeclaration{Name: nodes.AvailableColumnName(cp.columns, base), Expr: expr, QueryType: qt}
	cp.columns = append(cp.columns, d)
	return d.Ref(cp.newAlias)
}

// TransformNew names computed columns after the field they initialize.
func (cp *columnProjector) TransformNew(n *nodes.New) nodes.Node {
	saved := cp.hint
	defer func() { cp.hint = saved }()
	var out []nodes.FieldInit
	for i, f := range n.Fields {
		cp.hint = f.Name
		e := cp.Transform(f.Expr)
		if out == nil && e != f.Expr {
			out = make([]nodes.FieldInit, len(n.Fields))
			copy(out, n.Fields[:i])
		}
		if out != nil {
			out[i] = nodes.FieldInit{Name: f.Name, Expr: e}
		}
	}
	if out != nil {
		return &nodes.New{Typ: n.Typ, Fields: out}
	}
	return n
}

// TransformSelect keeps the hint from leaking into nested queries.
func (cp *columnProjector) TransformSelect(n *nodes.Select) nodes.Node {
	saved := cp.hint
	cp.hint = ""
	defer func() { cp.hint = saved }()
	return cp.BaseTransformer.TransformSelect(n)
}

// readsServer reports whether n depends on anything only the database can
// compute. Other candidates stay in the projector and run on the client.
func readsServer(n nodes.Node) bool {
	found := false
	nodes.Inspect(n, func(x nodes.Node) bool {
		switch x.(type) {
		case *nodes.Column, *nodes.Aggregate, *nodes.AggregateSubquery, *nodes.Scalar,
			*nodes.Exists, *nodes.Select, *nodes.RowNumber, *nodes.Function:
			found = true
		}
		return !found
	})
	return found
}

// nominator marks the sub-expressions that can become SQL columns. Inside a
// nested select only references to the existing aliases qualify, and only
// when they carry no aggregate of the nested query.
type nominator struct {
	existing   map[*nodes.TableAlias]bool
	candidates map[nodes.Node]bool
}

func (nm *nominator) nominate(n nodes.Node, nested bool) bool {
	if n == nil {
		return true
	}
	switch x := n.(type) {
	case *nodes.Column:
		if nested && !nm.existing[x.Alias] {
			return false
		}
		nm.candidates[n] = true
		return true
	case *nodes.Select, *nodes.Projection, *nodes.ClientJoin, *nodes.Join, *nodes.Table:
		for _, c := range nodes.Children(n) {
			nm.nominate(c, true)
		}
		return false
	case *nodes.Scalar, *nodes.Exists, *nodes.AggregateSubquery:
		for _, c := range nodes.Children(n) {
			nm.nominate(c, true)
		}
		return nm.accept(n, !nested)
	case *nodes.In:
		ok := nm.nominate(x.Expr, nested)
		if x.Select != nil {
			nm.nominate(x.Select, true)
		}
		ok = nm.all(x.Values, nested) && ok
		return nm.accept(n, ok && (x.Select == nil || !nested))
	case *nodes.Constant:
		if x.Value != nil && !isScalarValue(x) {
			return false
		}
		nm.candidates[n] = true
		return true
	case *nodes.NamedValue:
		nm.candidates[n] = true
		return true
	case *nodes.Call:
		ok := nm.all(x.Args, nested)
		return nm.accept(n, ok && !x.Method.IsQueryOperator() && x.Method != nodes.MethodDeferred)
	case *nodes.Aggregate, *nodes.RowNumber:
		ok := nm.all(nodes.Children(n), nested)
		return nm.accept(n, ok && !nested)
	case *nodes.Binary, *nodes.Unary, *nodes.Conditional, *nodes.Function, *nodes.IsNull, *nodes.Between:
		return nm.accept(n, nm.all(nodes.Children(n), nested))
	}
	nm.all(nodes.Children(n), nested)
	return false
}

func (nm *nominator) all(ns []nodes.Node, nested bool) bool {
	ok := true
	for _, c := range ns {
		if !nm.nominate(c, nested) {
			ok = false
		}
	}
	return ok
}

// accept records n when ok holds and every column n reads from outside
// itself belongs to an existing alias.
func (nm *nominator) accept(n nodes.Node, ok bool) bool {
	if !ok {
		return false
	}
	for a := range freeAliases(n) {
		if !nm.existing[a] {
			return false
		}
	}
	nm.candidates[n] = true
	return true
}

func isScalarValue(c *nodes.Constant) bool {
	switch c.Value.(type) {
	case []any, *model.Record:
		return false
	}
	return c.Typ == nil || model.IsScalar(c.Typ)
}

// freeAliases returns the aliases n reads that it does not declare itself.
func freeAliases(n nodes.Node) map[*nodes.TableAlias]bool {
	refs := nodes.ReferencedAliases(n)
	if len(refs) == 0 {
		return refs
	}
	nodes.Inspect(n, func(x nodes.Node) bool {
		switch s := x.(type) {
		case *nodes.Select:
			delete(refs, s.Alias)
		case *nodes.Table:
			delete(refs, s.Alias)
		}
		return true
	})
	return refs
}
