package translate

import (
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// IncludeRelationships adds every association policy includes to the entities the query
// constructs, nesting the related query in the entity's construction.
// Deferred associations are wrapped so they load on first access. An
// association reached again while it is being included is an error.
func IncludeRelationships(m *mapping.Mapper, policy mapping.Policy, n nodes.Node) (out nodes.Node, err error) {
	if policy == nil {
		return n, nil
	}
	inc := &includer{mapper: m, policy: policy, tr: newBinder(m), scope: make(map[scopeKey]bool)}
	inc.BaseTransformer = nodes.NewBaseTransformer(inc)
	defer recoverError(&err)
	return inc.Transform(n), nil
}

type scopeKey struct {
	entity *nodes.MappingEntity
	member string
}

type includer struct {
	*nodes.BaseTransformer
	mapper *mapping.Mapper
	policy mapping.Policy
	tr     *binder
	scope  map[scopeKey]bool
}

func (inc *includer) TransformEntity(e *nodes.Entity) nodes.Node {
	out := inc.BaseTransformer.TransformEntity(e).(*nodes.Entity)
	nw, ok := out.Expr.(*nodes.New)
	if !ok {
		return out
	}
	r := inc.mapper.Resolver
	var added []nodes.FieldInit
	for _, member := range r.Members(e.Entity) {
		if !r.IsRelationship(e.Entity, member) || nw.Field(member) != nil || !inc.policy.IsIncluded(e.Entity, member) {
			continue
		}
		added = append(added, nodes.FieldInit{Name: member, Expr: inc.include(out, member)})
	}
	if len(added) == 0 {
		return out
	}
	fields := append(append([]nodes.FieldInit(nil), nw.Fields...), added...)
	return &nodes.Entity{Entity: e.Entity, Expr: &nodes.New{Typ: nw.Typ, Fields: fields}}
}

func (inc *includer) include(e *nodes.Entity, member string) nodes.Node {
	k := scopeKey{e.Entity, member}
	if inc.scope[k] {
		panic(qerrors.New(qerrors.ErrRecursiveInclude, "%s.%s includes itself", e.Entity.Type, member))
	}
	inc.scope[k] = true
	defer delete(inc.scope, k)
	proj := must(inc.mapper.MemberExpression(inc.tr, e, e.Entity, member))
	val := inc.Transform(proj)
	if inc.policy.IsDeferLoaded(e.Entity, member) {
		return &nodes.Call{Method: nodes.MethodDeferred, Args: []nodes.Node{val}, Typ: val.Type()}
	}
	return val
}
