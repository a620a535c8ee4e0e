package translate

import (
	"strconv"
	"strings"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Parameterize replaces literal values in SQL positions with named values,
// and turns query arguments and their members into named values the
// runtime fills in. Equal literals of the same type share one name. Literal
// Take and Skip counts stay in the text. Projectors run on the client and
// keep their literals, but the queries nested in them are parameterized.
func Parameterize(lang *dialect.Language, n nodes.Node) nodes.Node {
	p := &parameterizer{lang: lang, byKey: make(map[string]*nodes.NamedValue)}
	p.BaseTransformer = nodes.NewBaseTransformer(p)
	return p.Transform(n)
}

type parameterizer struct {
	*nodes.BaseTransformer
	lang  *dialect.Language
	byKey map[string]*nodes.NamedValue
	args  map[*nodes.Parameter]int
}

func (p *parameterizer) named(key string, value nodes.Node) *nodes.NamedValue {
	if nv, ok := p.byKey[key]; ok {
		return nv
	}
	nv := &nodes.NamedValue{
		Name:      "p" + strconv.Itoa(len(p.byKey)),
		QueryType: p.lang.Types.ColumnType(value.Type()),
		Value:     value,
	}
	p.byKey[key] = nv
	return nv
}

func (p *parameterizer) TransformConstant(c *nodes.Constant) nodes.Node {
	if c.Value == nil || !isScalarValue(c) {
		return c
	}
	typ := "?"
	if c.Typ != nil {
		typ = c.Typ.String()
	}
	return p.named("c:"+typ+":"+model.FormatValue(c.Value), c)
}

func (p *parameterizer) TransformParameter(a *nodes.Parameter) nodes.Node {
	return p.named(p.argKey(a, ""), a)
}

func (p *parameterizer) TransformMember(m *nodes.Member) nodes.Node {
	if root, path, ok := argPath(m); ok {
		return p.named(p.argKey(root, path), m)
	}
	return p.BaseTransformer.TransformMember(m)
}

// argKey distinguishes arguments by identity, since two parameters may
// share a name.
func (p *parameterizer) argKey(a *nodes.Parameter, path string) string {
	if p.args == nil {
		p.args = make(map[*nodes.Parameter]int)
	}
	id, ok := p.args[a]
	if !ok {
		id = len(p.args)
		p.args[a] = id
	}
	return "a:" + strconv.Itoa(id) + path
}

// argPath reports whether m is a member chain over a parameter.
func argPath(m *nodes.Member) (*nodes.Parameter, string, bool) {
	var parts []string
	var n nodes.Node = m
	for {
		switch x := n.(type) {
		case *nodes.Member:
			parts = append(parts, x.Name)
			n = x.Expr
			continue
		case *nodes.Parameter:
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
			return x, "." + strings.Join(parts, "."), true
		}
		return nil, "", false
	}
}

// TransformBinary types a named value compared with a column as that column.
func (p *parameterizer) TransformBinary(n *nodes.Binary) nodes.Node {
	r := p.BaseTransformer.TransformBinary(n)
	b, ok := r.(*nodes.Binary)
	if !ok || b == n {
		return r
	}
	l, rt := b.Left, b.Right
	if nv, ok := rt.(*nodes.NamedValue); ok {
		rt = typedLike(nv, b.Left)
	}
	if nv, ok := l.(*nodes.NamedValue); ok {
		l = typedLike(nv, b.Right)
	}
	if l != b.Left || rt != b.Right {
		return &nodes.Binary{Op: b.Op, Left: l, Right: rt, Typ: b.Typ}
	}
	return b
}

func typedLike(nv *nodes.NamedValue, other nodes.Node) nodes.Node {
	col, ok := other.(*nodes.Column)
	if !ok || col.QueryType == nil || col.QueryType == nv.QueryType {
		return nv
	}
	return &nodes.NamedValue{Name: nv.Name, QueryType: col.QueryType, Value: nv.Value}
}

func (p *parameterizer) TransformSelect(n *nodes.Select) nodes.Node {
	stripped := n.SetTake(nil).SetSkip(nil)
	r := p.BaseTransformer.TransformSelect(stripped).(*nodes.Select)
	take, skip := p.count(n.Take), p.count(n.Skip)
	if r == stripped && take == n.Take && skip == n.Skip {
		return n
	}
	return r.SetTake(take).SetSkip(skip)
}

func (p *parameterizer) count(n nodes.Node) nodes.Node {
	if _, ok := n.(*nodes.Constant); ok || n == nil {
		return n
	}
	return p.Transform(n)
}

func (p *parameterizer) TransformProjection(n *nodes.Projection) nodes.Node {
	sel := p.TransformSubSelect(n.Select)
	projector := nodes.ReplaceFunc(n.Projector, func(x nodes.Node) (nodes.Node, bool) {
		switch x.(type) {
		case *nodes.Projection, *nodes.ClientJoin:
			return p.Transform(x), true
		}
		return nil, false
	})
	if sel != n.Select || projector != n.Projector {
		return &nodes.Projection{Select: sel, Projector: projector, Aggregator: n.Aggregator}
	}
	return n
}

// TransformBatch leaves the input alone; it is read on the client.
func (p *parameterizer) TransformBatch(n *nodes.Batch) nodes.Node {
	op := p.Transform(n.Operation).(*nodes.Lambda)
	if op != n.Operation {
		return &nodes.Batch{Input: n.Input, Operation: op, BatchSize: n.BatchSize, Stream: n.Stream}
	}
	return n
}

// ParameterizeOuter makes the select of a nested projection runnable on its
// own: every column it reads from an enclosing select becomes a named value
// n0, n1 and so on whose value is that outer column. Only sel is rewritten;
// queries nested in the projector are parameterized when they run.
func ParameterizeOuter(lang *dialect.Language, sel *nodes.Select) (*nodes.Select, []*nodes.NamedValue) {
	own := make(map[*nodes.TableAlias]bool)
	nodes.Inspect(sel, func(x nodes.Node) bool {
		switch s := x.(type) {
		case *nodes.Select:
			own[s.Alias] = true
		case *nodes.Table:
			own[s.Alias] = true
		}
		return true
	})
	type key struct {
		alias *nodes.TableAlias
		name  string
	}
	byCol := make(map[key]*nodes.NamedValue)
	var outer []*nodes.NamedValue
	out := nodes.ReplaceFunc(sel, func(x nodes.Node) (nodes.Node, bool) {
		c, ok := x.(*nodes.Column)
		if !ok || own[c.Alias] {
			return nil, false
		}
		k := key{c.Alias, c.Name}
		if nv, ok := byCol[k]; ok {
			return nv, true
		}
		qt := c.QueryType
		if qt == nil {
			qt = lang.Types.ColumnType(c.Type())
		}
		nv := &nodes.NamedValue{Name: "n" + strconv.Itoa(len(outer)), QueryType: qt, Value: c}
		byCol[k] = nv
		outer = append(outer, nv)
		return nv, true
	})
	return out.(*nodes.Select), outer
}
