// Package querydoc reads queries written as YAML documents. A document
// names the entity it starts from and lists operators in order:
//
//	from: Customer
//	args: {city: string}
//	ops:
//	  - where: {eq: [{m: City}, {arg: city}]}
//	  - orderby: {m: CompanyName}
//	  - take: 10
//	  - select: {rec: {ID: {m: CustomerID}, Orders: {count: {from: {m: Orders}}}}}
//
// Scalars are literals. {m: path} reads members of the innermost lambda
// parameter, or of the parameter a path's first segment names when an
// operator binds one with "as". {arg: name} is a query argument declared
// under args. {lit: value, type: t} is a typed literal.
//
// A document with a command describes a mutation instead:
//
//	from: Customer
//	command: update
//	values: {CustomerID: ALFKI, City: {arg: city}}
package querydoc

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/query"
)

// Document is a parsed query document. A document with a command reads
// where and values instead of ops.
type Document struct {
	From string            `yaml:"from"`
	Args map[string]string `yaml:"args,omitempty"`
	Ops  []yaml.Node       `yaml:"ops"`

	Command string    `yaml:"command,omitempty"`
	As      string    `yaml:"as,omitempty"`
	Where   yaml.Node `yaml:"where,omitempty"`
	Values  yaml.Node `yaml:"values,omitempty"`
}

var commands = map[string]bool{"insert": true, "update": true, "upsert": true, "delete": true}

// Parse reads a document.
func Parse(r io.Reader) (*Document, error) {
	var d Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrArgument, "querydoc: parse", err)
	}
	if d.From == "" {
		return nil, qerrors.New(qerrors.ErrArgument, "querydoc: missing from")
	}
	if d.Command != "" {
		d.Command = strings.ToLower(d.Command)
		if !commands[d.Command] {
			return nil, qerrors.New(qerrors.ErrArgument, "querydoc: unknown command %q", d.Command)
		}
		if len(d.Ops) > 0 {
			return nil, qerrors.New(qerrors.ErrArgument, "querydoc: a %s takes no ops", d.Command)
		}
	}
	return &d, nil
}

// ParseString reads a document from s.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// IsCommand reports whether the document describes a mutation.
func (d *Document) IsCommand() bool { return d.Command != "" }

// Build turns the document into a query over the entities r maps. types
// lists the entity types the document may name.
func (d *Document) Build(r mapping.Resolver, types ...*model.Struct) (q query.Queryable, err error) {
	if d.IsCommand() {
		return q, qerrors.New(qerrors.ErrArgument, "querydoc: %s is a command", d.Command)
	}
	defer recoverError(&err)
	b, _, e, err := d.prepare(r, types)
	if err != nil {
		return q, err
	}
	q = query.From(e)
	for i := range d.Ops {
		q = b.op(q, &d.Ops[i])
	}
	return q, nil
}

// BuildCommand turns a command document into a mutation:
//
//	from: Customer
//	command: delete
//	where: {eq: [{m: City}, Madrid]}
//
// insert, update and upsert read the new instance from values, a mapping
// of members to expressions; update also takes a where check. delete takes
// either where or the identity members under values.
func (d *Document) BuildCommand(r mapping.Resolver, types ...*model.Struct) (c query.Command, err error) {
	if !d.IsCommand() {
		return c, qerrors.New(qerrors.ErrArgument, "querydoc: document has no command")
	}
	defer recoverError(&err)
	b, t, e, err := d.prepare(r, types)
	if err != nil {
		return c, err
	}
	var opts []query.CommandOption
	if !isNull(&d.Where) && d.Command != "delete" {
		if d.Command != "update" {
			fail(&d.Where, "%s takes no where", d.Command)
		}
		opts = append(opts, query.WithCheck(b.lambda(t, &d.Where, d.As)))
	}
	switch d.Command {
	case "insert":
		return query.Insert(e, b.instance(t, &d.Values), opts...), nil
	case "update":
		return query.Update(e, b.instance(t, &d.Values), opts...), nil
	case "upsert":
		return query.InsertOrUpdate(e, b.instance(t, &d.Values), opts...), nil
	}
	if !isNull(&d.Where) {
		return query.DeleteWhere(e, b.lambda(t, &d.Where, d.As)), nil
	}
	return query.Delete(e, b.instance(t, &d.Values)), nil
}

func recoverError(err *error) {
	if rec := recover(); rec != nil {
		qe, ok := rec.(*qerrors.Error)
		if !ok {
			panic(rec)
		}
		*err = qe
	}
}

func (d *Document) prepare(r mapping.Resolver, types []*model.Struct) (*builder, *model.Struct, *nodes.MappingEntity, error) {
	b := &builder{types: make(map[string]*model.Struct), args: make(map[string]*nodes.Parameter)}
	for _, t := range types {
		b.types[t.Name] = t
	}
	t, ok := b.types[d.From]
	if !ok {
		return nil, nil, nil, qerrors.New(qerrors.ErrMapping, "querydoc: unknown entity %q", d.From)
	}
	e, err := r.Entity(t)
	if err != nil {
		return nil, nil, nil, err
	}
	for name, typ := range d.Args {
		st, err := ParseType(typ)
		if err != nil {
			return nil, nil, nil, err
		}
		b.args[name] = query.Arg(name, st)
	}
	return b, t, e, nil
}

// ParseType reads a scalar type name such as "int" or "string?".
func ParseType(s string) (*model.Scalar, error) {
	t, err := model.ParseScalar(s)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrArgument, "querydoc", err)
	}
	return t, nil
}

type builder struct {
	types  map[string]*model.Struct
	args   map[string]*nodes.Parameter
	scopes []*nodes.Parameter
}

func fail(n *yaml.Node, format string, args ...any) {
	panic(qerrors.New(qerrors.ErrArgument, "querydoc: line %d: %s", n.Line, fmt.Sprintf(format, args...)))
}

// entry splits a single-operator mapping into its operator, value and the
// optional parameter name given by "as".
func entry(n *yaml.Node) (key string, val *yaml.Node, as string) {
	if n.Kind != yaml.MappingNode {
		fail(n, "expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i].Value, n.Content[i+1]
		if k == "as" {
			as = v.Value
			continue
		}
		if key != "" {
			fail(n, "expected one operator, got %q and %q", key, k)
		}
		key, val = k, v
	}
	if key == "" {
		fail(n, "missing operator")
	}
	return key, val, as
}

// lambda builds a one-parameter lambda over elem whose body is read from
// n with the parameter in scope.
func (b *builder) lambda(elem model.Type, n *yaml.Node, as string) *nodes.Lambda {
	if as == "" {
		as = "it"
	}
	p := nodes.NewParameter(as, elem)
	b.scopes = append(b.scopes, p)
	body := b.expr(n)
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nodes.NewLambda(body, p)
}

func isNull(n *yaml.Node) bool {
	return n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// optionalLambda reads operators whose lambda may be omitted, as in
// "count: null".
func (b *builder) optionalLambda(elem model.Type, n *yaml.Node, as string) []*nodes.Lambda {
	if isNull(n) {
		return nil
	}
	return []*nodes.Lambda{b.lambda(elem, n, as)}
}

func (b *builder) op(q query.Queryable, n *yaml.Node) query.Queryable {
	key, val, as := entry(n)
	elem := model.ElemType(q.Type())
	switch strings.ToLower(key) {
	case "where":
		return q.Where(b.lambda(elem, val, as))
	case "select":
		return q.Select(b.lambda(elem, val, as))
	case "selectmany":
		return q.SelectMany(b.lambda(elem, val, as))
	case "orderby":
		return q.OrderBy(b.lambda(elem, val, as))
	case "orderbydesc":
		return q.OrderByDescending(b.lambda(elem, val, as))
	case "thenby":
		return q.ThenBy(b.lambda(elem, val, as))
	case "thenbydesc":
		return q.ThenByDescending(b.lambda(elem, val, as))
	case "groupby":
		return q.GroupBy(b.lambda(elem, val, as))
	case "distinct":
		return q.Distinct()
	case "take":
		return q.Take(b.count(val))
	case "skip":
		return q.Skip(b.count(val))
	case "count":
		return q.Count(b.optionalLambda(elem, val, as)...)
	case "sum":
		return q.Sum(b.optionalLambda(elem, val, as)...)
	case "min":
		return q.Min(b.optionalLambda(elem, val, as)...)
	case "max":
		return q.Max(b.optionalLambda(elem, val, as)...)
	case "average":
		return q.Average(b.optionalLambda(elem, val, as)...)
	case "first":
		return q.First(b.optionalLambda(elem, val, as)...)
	case "firstordefault":
		return q.FirstOrDefault(b.optionalLambda(elem, val, as)...)
	case "single":
		return q.Single(b.optionalLambda(elem, val, as)...)
	case "singleordefault":
		return q.SingleOrDefault(b.optionalLambda(elem, val, as)...)
	case "any":
		return q.Any(b.optionalLambda(elem, val, as)...)
	case "all":
		return q.All(b.lambda(elem, val, as))
	}
	fail(n, "unknown operator %q", key)
	return q
}

func (b *builder) count(n *yaml.Node) nodes.Node {
	c := b.expr(n)
	if model.KindOf(c.Type()) != model.KindInt {
		fail(n, "count must be an int")
	}
	return c
}

var binaries = map[string]func(a, b nodes.Node) nodes.Node{
	"eq":       query.Eq,
	"ne":       query.Ne,
	"lt":       query.Lt,
	"le":       query.Le,
	"gt":       query.Gt,
	"ge":       query.Ge,
	"add":      query.Add,
	"sub":      query.Sub,
	"mul":      query.Mul,
	"div":      query.Div,
	"mod":      query.Mod,
	"concat":   query.Concat,
	"coalesce": query.Coalesce,

	"startswith": query.StartsWith,
	"endswith":   query.EndsWith,
	"like":       query.Like,
}

var unaries = map[string]func(nodes.Node) nodes.Node{
	"not":    query.Not,
	"neg":    query.Neg,
	"upper":  query.ToUpper,
	"lower":  query.ToLower,
	"trim":   query.Trim,
	"length": query.Length,
	"abs":    query.Abs,
	"year":   query.Year,
	"month":  query.Month,
	"day":    query.Day,
	"hour":   query.Hour,
	"minute": query.Minute,
	"second": query.Second,
}

func (b *builder) expr(n *yaml.Node) nodes.Node {
	switch n.Kind {
	case yaml.ScalarNode:
		return b.scalar(n)
	case yaml.MappingNode:
	default:
		fail(n, "expected a literal or an operator mapping")
	}
	if len(n.Content) == 4 {
		switch k0, k1 := n.Content[0].Value, n.Content[2].Value; {
		case k0 == "lit" && k1 == "type":
			return b.typedLit(n, n.Content[1], n.Content[3])
		case k0 == "type" && k1 == "lit":
			return b.typedLit(n, n.Content[3], n.Content[1])
		}
	}
	key, val, _ := entry(n)
	if f, ok := binaries[key]; ok {
		args := b.list(val, 2)
		return f(args[0], args[1])
	}
	if f, ok := unaries[key]; ok {
		return f(b.expr(val))
	}
	switch key {
	case "m":
		return b.member(val)
	case "arg":
		p, ok := b.args[val.Value]
		if !ok {
			fail(val, "undeclared argument %q", val.Value)
		}
		return p
	case "lit":
		return b.scalar(val)
	case "and", "or":
		args := b.list(val, -1)
		if key == "and" {
			return query.And(args...)
		}
		return query.Or(args...)
	case "if":
		args := b.list(val, 3)
		return query.Cond(args[0], args[1], args[2])
	case "substring":
		args := b.list(val, 3)
		return query.Substring(args[0], b.intArg(val.Content[1]), b.intArg(val.Content[2]))
	case "round":
		args := b.list(val, 2)
		return query.Round(args[0], b.intArg(val.Content[1]))
	case "in":
		return b.in(val)
	case "rec":
		return b.record(val)
	case "count", "sum", "min", "max", "average", "any", "all", "first", "firstordefault":
		return b.nested(key, val)
	}
	fail(n, "unknown operator %q", key)
	return nil
}

func (b *builder) list(n *yaml.Node, want int) []nodes.Node {
	if n.Kind != yaml.SequenceNode || (want >= 0 && len(n.Content) != want) {
		fail(n, "expected a list of %d operands", want)
	}
	out := make([]nodes.Node, len(n.Content))
	for i, c := range n.Content {
		out[i] = b.expr(c)
	}
	return out
}

func (b *builder) intArg(n *yaml.Node) int {
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		fail(n, "expected an integer, got %q", n.Value)
	}
	return v
}

func (b *builder) scalar(n *yaml.Node) nodes.Node {
	switch n.Tag {
	case "!!null":
		return query.LitOf(nil, model.Nullable(model.String))
	case "!!bool":
		v, err := strconv.ParseBool(n.Value)
		if err != nil {
			fail(n, "bad bool %q", n.Value)
		}
		return query.Lit(v)
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			fail(n, "bad int %q", n.Value)
		}
		return query.Lit(v)
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			fail(n, "bad float %q", n.Value)
		}
		return query.Lit(v)
	case "!!str", "":
		return query.Lit(n.Value)
	}
	fail(n, "unsupported literal tag %s", n.Tag)
	return nil
}

func (b *builder) typedLit(n, val, typ *yaml.Node) nodes.Node {
	t, err := ParseType(typ.Value)
	if err != nil {
		fail(typ, "%v", err)
	}
	if isNull(val) {
		return query.LitOf(nil, model.Nullable(t))
	}
	v, err := model.Convert(val.Value, t)
	if err != nil {
		fail(n, "literal %q is not a %s: %v", val.Value, t, err)
	}
	return query.LitOf(v, t)
}

// member resolves a dotted path against the scope. A first segment naming
// a parameter starts from that parameter.
func (b *builder) member(n *yaml.Node) nodes.Node {
	if len(b.scopes) == 0 {
		fail(n, "member %q outside an operator", n.Value)
	}
	path := strings.Split(n.Value, ".")
	var cur nodes.Node = b.scopes[len(b.scopes)-1]
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if b.scopes[i].Name == path[0] {
			cur, path = b.scopes[i], path[1:]
			break
		}
	}
	for _, name := range path {
		next := nodes.MemberOf(cur, name)
		if next.Typ == nil {
			fail(n, "%s has no member %q", cur.Type(), name)
		}
		cur = next
	}
	return cur
}

func (b *builder) in(n *yaml.Node) nodes.Node {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 || n.Content[1].Kind != yaml.SequenceNode {
		fail(n, "in takes [expression, [values...]]")
	}
	x := b.expr(n.Content[0])
	t := x.Type()
	vals := make([]any, len(n.Content[1].Content))
	for i, c := range n.Content[1].Content {
		v, err := model.Convert(b.scalar(c).(*nodes.Constant).Value, t)
		if err != nil {
			fail(c, "%v", err)
		}
		vals[i] = v
	}
	return query.Values(t, vals...).Contains(x).Expr()
}

func (b *builder) record(n *yaml.Node) nodes.Node {
	if n.Kind != yaml.MappingNode {
		fail(n, "rec takes a mapping of fields")
	}
	kv := make([]any, 0, len(n.Content))
	for i := 0; i+1 < len(n.Content); i += 2 {
		kv = append(kv, n.Content[i].Value, b.expr(n.Content[i+1]))
	}
	return query.Rec(kv...)
}

// instance reads the members of a new t. Literals take the member's type
// and scalar members left out take their zero value.
func (b *builder) instance(t *model.Struct, n *yaml.Node) nodes.Node {
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		fail(n, "values takes a mapping of members")
	}
	kv := make([]any, 0, 2*len(t.Fields))
	given := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		given[n.Content[i].Value] = true
		name := n.Content[i].Value
		f, ok := t.Field(name)
		if !ok {
			fail(n.Content[i], "%s has no member %q", t, name)
		}
		x := b.expr(n.Content[i+1])
		if c, ok := x.(*nodes.Constant); ok && !model.Same(c.Type(), f.Type) {
			v, err := model.Convert(c.Value, f.Type)
			if err != nil {
				fail(n.Content[i+1], "%s.%s: %v", t, name, err)
			}
			x = query.LitOf(v, f.Type)
		}
		kv = append(kv, name, x)
	}
	for _, f := range t.Fields {
		if !given[f.Name] && model.IsScalar(f.Type) {
			kv = append(kv, f.Name, query.LitOf(model.Zero(f.Type), f.Type))
		}
	}
	return query.New(t, kv...)
}

// nested reads a reduction over a sequence inside an expression:
//
//	{count: {from: {m: Orders}, where: {gt: [{m: Freight}, 30]}, as: o}}
//	{sum: {from: {m: Details}, select: {m: Quantity}}}
func (b *builder) nested(op string, n *yaml.Node) nodes.Node {
	var from, fn *yaml.Node
	var as string
	if n.Kind != yaml.MappingNode {
		fail(n, "%s takes a mapping with from", op)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch k, v := n.Content[i].Value, n.Content[i+1]; k {
		case "from":
			from = v
		case "where", "select":
			fn = v
		case "as":
			as = v.Value
		default:
			fail(n.Content[i], "unexpected key %q", k)
		}
	}
	if from == nil {
		fail(n, "%s needs from", op)
	}
	src := b.expr(from)
	if !model.IsSeq(src.Type()) {
		fail(from, "%s needs a sequence, got %s", op, src.Type())
	}
	q := query.Of(src)
	elem := model.ElemType(src.Type())
	var l []*nodes.Lambda
	if fn != nil {
		l = []*nodes.Lambda{b.lambda(elem, fn, as)}
	}
	switch op {
	case "count":
		q = q.Count(l...)
	case "sum":
		q = q.Sum(l...)
	case "min":
		q = q.Min(l...)
	case "max":
		q = q.Max(l...)
	case "average":
		q = q.Average(l...)
	case "any":
		q = q.Any(l...)
	case "first":
		q = q.First(l...)
	case "firstordefault":
		q = q.FirstOrDefault(l...)
	case "all":
		if len(l) == 0 {
			fail(n, "all needs where")
		}
		q = q.All(l[0])
	}
	return q.Expr()
}
