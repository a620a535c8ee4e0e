// Package query builds operator chains fluently. A Queryable is an
// immutable wrapper around a nodes tree; every method returns a new one
// whose expression applies the operator to the previous expression.
//
//	q := query.From(customers).
//		Where(query.Fn1("c", testutil.Customer, func(c nodes.Node) nodes.Node {
//			return query.Eq(query.M(c, "City"), query.Lit("London"))
//		})).
//		OrderBy(query.Fn1("c", testutil.Customer, func(c nodes.Node) nodes.Node {
//			return query.M(c, "CompanyName")
//		}))
package query

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Queryable is an operator chain under construction.
type Queryable struct {
	expr nodes.Node
}

// From starts a chain at the table of entity e.
func From(e *nodes.MappingEntity) Queryable {
	return Queryable{expr: &nodes.Root{Entity: e}}
}

// Of wraps any sequence-valued expression, such as an association member
// inside a lambda, so operators can be applied to it.
func Of(n nodes.Node) Queryable {
	return Queryable{expr: n}
}

// Expr returns the built expression.
func (q Queryable) Expr() nodes.Node { return q.expr }

// Type returns the type of the built expression.
func (q Queryable) Type() model.Type { return q.expr.Type() }

func (q Queryable) elem() model.Type { return model.ElemType(q.expr.Type()) }

func (q Queryable) call(m nodes.Method, typ model.Type, args ...nodes.Node) Queryable {
	all := append([]nodes.Node{q.expr}, args...)
	return Queryable{expr: &nodes.Call{Method: m, Args: all, Typ: typ}}
}

// --- Sequence operators ---

func (q Queryable) Where(pred *nodes.Lambda) Queryable {
	return q.call(nodes.MethodWhere, q.Type(), pred)
}

func (q Queryable) Select(sel *nodes.Lambda) Queryable {
	return q.call(nodes.MethodSelect, model.SeqOf(sel.Type()), sel)
}

// SelectMany flattens the collection sel returns for every element.
func (q Queryable) SelectMany(coll *nodes.Lambda) Queryable {
	return q.call(nodes.MethodSelectMany, coll.Type(), coll)
}

// SelectManyResult is SelectMany with a selector over the element and each
// item of its collection.
func (q Queryable) SelectManyResult(coll, result *nodes.Lambda) Queryable {
	return q.call(nodes.MethodSelectMany, model.SeqOf(result.Type()), coll, result)
}

// Join correlates q with inner on equal keys.
func (q Queryable) Join(inner Queryable, outerKey, innerKey, result *nodes.Lambda) Queryable {
	return q.call(nodes.MethodJoin, model.SeqOf(result.Type()), inner.expr, outerKey, innerKey, result)
}

func (q Queryable) OrderBy(key *nodes.Lambda) Queryable {
	return q.call(nodes.MethodOrderBy, q.Type(), key)
}

func (q Queryable) OrderByDescending(key *nodes.Lambda) Queryable {
	return q.call(nodes.MethodOrderByDescending, q.Type(), key)
}

func (q Queryable) ThenBy(key *nodes.Lambda) Queryable {
	return q.call(nodes.MethodThenBy, q.Type(), key)
}

func (q Queryable) ThenByDescending(key *nodes.Lambda) Queryable {
	return q.call(nodes.MethodThenByDescending, q.Type(), key)
}

// GroupBy groups the elements by key. Each group has a Key member and is
// itself a sequence of the elements.
func (q Queryable) GroupBy(key *nodes.Lambda) Queryable {
	return q.call(nodes.MethodGroupBy, model.SeqOf(&model.Group{Key: key.Type(), Elem: q.elem()}), key)
}

// GroupByElement groups the values elem selects instead of the elements.
func (q Queryable) GroupByElement(key, elem *nodes.Lambda) Queryable {
	return q.call(nodes.MethodGroupBy, model.SeqOf(&model.Group{Key: key.Type(), Elem: elem.Type()}), key, elem)
}

// GroupByResult groups by key and maps every (key, group) pair with result.
// elem may be nil to group the elements themselves.
func (q Queryable) GroupByResult(key, elem, result *nodes.Lambda) Queryable {
	var e nodes.Node
	if elem != nil {
		e = elem
	}
	return q.call(nodes.MethodGroupBy, model.SeqOf(result.Type()), key, e, result)
}

func (q Queryable) Distinct() Queryable {
	return q.call(nodes.MethodDistinct, q.Type())
}

// Take keeps the first n elements. n is an int or an expression such as a
// query argument.
func (q Queryable) Take(n any) Queryable {
	return q.call(nodes.MethodTake, q.Type(), count(n))
}

// Skip drops the first n elements. n is an int or an expression.
func (q Queryable) Skip(n any) Queryable {
	return q.call(nodes.MethodSkip, q.Type(), count(n))
}

func count(n any) nodes.Node {
	switch v := n.(type) {
	case nodes.Node:
		return v
	case int:
		return nodes.NewConstant(int64(v), model.Int)
	case int64:
		return nodes.NewConstant(v, model.Int)
	}
	panic("query: count must be an int or a node")
}

// --- Reductions ---

// Count counts the elements, or those pred accepts.
func (q Queryable) Count(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodCount, model.Int, optional(pred)...)
}

// Sum adds up the values sel selects, or the elements themselves.
func (q Queryable) Sum(sel ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodSum, q.reducedType(sel), optional(sel)...)
}

func (q Queryable) Min(sel ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodMin, q.reducedType(sel), optional(sel)...)
}

func (q Queryable) Max(sel ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodMax, q.reducedType(sel), optional(sel)...)
}

// Average is a decimal for decimal values and a float otherwise.
func (q Queryable) Average(sel ...*nodes.Lambda) Queryable {
	typ := model.Type(model.Float)
	if model.KindOf(q.reducedType(sel)) == model.KindDecimal {
		typ = model.Decimal
	}
	return q.call(nodes.MethodAverage, typ, optional(sel)...)
}

func (q Queryable) reducedType(sel []*nodes.Lambda) model.Type {
	if len(sel) > 0 && sel[0] != nil {
		return sel[0].Type()
	}
	return q.elem()
}

func (q Queryable) First(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodFirst, q.elem(), optional(pred)...)
}

func (q Queryable) FirstOrDefault(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodFirstOrDefault, q.elem(), optional(pred)...)
}

func (q Queryable) Single(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodSingle, q.elem(), optional(pred)...)
}

func (q Queryable) SingleOrDefault(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodSingleOrDefault, q.elem(), optional(pred)...)
}

// Any reports whether there is an element, or one pred accepts.
func (q Queryable) Any(pred ...*nodes.Lambda) Queryable {
	return q.call(nodes.MethodAny, model.Bool, optional(pred)...)
}

// All reports whether pred accepts every element.
func (q Queryable) All(pred *nodes.Lambda) Queryable {
	return q.call(nodes.MethodAll, model.Bool, pred)
}

// Contains reports whether value is one of the elements.
func (q Queryable) Contains(value nodes.Node) Queryable {
	return q.call(nodes.MethodContains, model.Bool, value)
}

func optional(ls []*nodes.Lambda) []nodes.Node {
	if len(ls) == 0 || ls[0] == nil {
		return nil
	}
	return []nodes.Node{ls[0]}
}

// Values is a local sequence, for Contains and Any over client-side lists.
func Values(elem model.Type, vals ...any) Queryable {
	if vals == nil {
		vals = []any{}
	}
	return Queryable{expr: nodes.NewConstant(vals, model.SeqOf(elem))}
}
