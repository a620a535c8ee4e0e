// Package mapping ties entity types to tables. A Resolver answers the
// per-member questions the binder asks (is it a column, an identity, an
// association) and a Mapper turns those answers into table queries,
// relationship projections and CRUD commands.
//
// Two strategies implement Resolver: AttributeMapping, driven by declared
// metadata that may be loaded from YAML, and ImplicitMapping, which infers
// everything from naming conventions.
package mapping

import (
	"sync"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// Resolver describes how entity members map onto tables and columns.
// Implementations are read-only after construction and safe for concurrent
// use.
type Resolver interface {
	// Entity returns the mapping entity for t. Repeated calls return the
	// same pointer.
	Entity(t *model.Struct) (*nodes.MappingEntity, error)
	TableName(e *nodes.MappingEntity) string
	// Members lists the mapped members of e in declaration order.
	Members(e *nodes.MappingEntity) []string
	IsColumn(e *nodes.MappingEntity, member string) bool
	ColumnName(e *nodes.MappingEntity, member string) string
	// ColumnType is the declared database type of the column, or "" to
	// infer it from the member's type.
	ColumnType(e *nodes.MappingEntity, member string) string
	IsIdentity(e *nodes.MappingEntity, member string) bool
	IsGenerated(e *nodes.MappingEntity, member string) bool
	IsRelationship(e *nodes.MappingEntity, member string) bool
	// IsSingletonRelationship reports whether the association yields at
	// most one related entity.
	IsSingletonRelationship(e *nodes.MappingEntity, member string) bool
	RelatedEntity(e *nodes.MappingEntity, member string) *nodes.MappingEntity
	// AssociationKeys returns the members of e and of the related entity
	// whose pairwise equality links the two.
	AssociationKeys(e *nodes.MappingEntity, member string) (keys, relatedKeys []string)
}

type memberInfo struct {
	name      string
	column    string
	dbType    string
	identity  bool
	generated bool
	assoc     *association
}

type association struct {
	related     *model.Struct
	many        bool
	keys        []string
	relatedKeys []string
}

type entityInfo struct {
	entity  *nodes.MappingEntity
	table   string
	members []*memberInfo
	byName  map[string]*memberInfo
}

func newEntityInfo(t *model.Struct, table string) *entityInfo {
	return &entityInfo{
		entity: &nodes.MappingEntity{TableID: table, Type: t},
		table:  table,
		byName: make(map[string]*memberInfo),
	}
}

func (ei *entityInfo) add(m *memberInfo) {
	ei.members = append(ei.members, m)
	ei.byName[m.name] = m
}

// catalog holds the entity table shared by both strategies. lookup resolves
// a type the catalog has not seen yet.
type catalog struct {
	mu       sync.RWMutex
	byType   map[*model.Struct]*entityInfo
	byEntity map[*nodes.MappingEntity]*entityInfo
	lookup   func(t *model.Struct) (*entityInfo, error)
}

func newCatalog(lookup func(t *model.Struct) (*entityInfo, error)) *catalog {
	return &catalog{
		byType:   make(map[*model.Struct]*entityInfo),
		byEntity: make(map[*nodes.MappingEntity]*entityInfo),
		lookup:   lookup,
	}
}

func (c *catalog) register(ei *entityInfo) {
	c.byType[ei.entity.Type] = ei
	c.byEntity[ei.entity] = ei
}

func (c *catalog) Entity(t *model.Struct) (*nodes.MappingEntity, error) {
	ei, err := c.info(t)
	if err != nil {
		return nil, err
	}
	return ei.entity, nil
}

func (c *catalog) info(t *model.Struct) (*entityInfo, error) {
	if t == nil {
		return nil, qerrors.New(qerrors.ErrMapping, "nil entity type")
	}
	c.mu.RLock()
	ei, ok := c.byType[t]
	c.mu.RUnlock()
	if ok {
		return ei, nil
	}
	if c.lookup == nil {
		return nil, qerrors.New(qerrors.ErrMapping, "type %s is not mapped", t)
	}
	ei, err := c.lookup(t)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byType[t]; ok {
		return prev, nil
	}
	c.register(ei)
	return ei, nil
}

func (c *catalog) member(e *nodes.MappingEntity, name string) *memberInfo {
	c.mu.RLock()
	ei := c.byEntity[e]
	c.mu.RUnlock()
	if ei == nil {
		return nil
	}
	return ei.byName[name]
}

func (c *catalog) TableName(e *nodes.MappingEntity) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ei := c.byEntity[e]; ei != nil {
		return ei.table
	}
	return e.TableID
}

func (c *catalog) Members(e *nodes.MappingEntity) []string {
	c.mu.RLock()
	ei := c.byEntity[e]
	c.mu.RUnlock()
	if ei == nil {
		return nil
	}
	out := make([]string, len(ei.members))
	for i, m := range ei.members {
		out[i] = m.name
	}
	return out
}

func (c *catalog) IsColumn(e *nodes.MappingEntity, member string) bool {
	m := c.member(e, member)
	return m != nil && m.assoc == nil
}

func (c *catalog) ColumnName(e *nodes.MappingEntity, member string) string {
	if m := c.member(e, member); m != nil && m.column != "" {
		return m.column
	}
	return member
}

func (c *catalog) ColumnType(e *nodes.MappingEntity, member string) string {
	if m := c.member(e, member); m != nil {
		return m.dbType
	}
	return ""
}

func (c *catalog) IsIdentity(e *nodes.MappingEntity, member string) bool {
	m := c.member(e, member)
	return m != nil && m.identity
}

func (c *catalog) IsGenerated(e *nodes.MappingEntity, member string) bool {
	m := c.member(e, member)
	return m != nil && m.generated
}

func (c *catalog) IsRelationship(e *nodes.MappingEntity, member string) bool {
	m := c.member(e, member)
	return m != nil && m.assoc != nil
}

func (c *catalog) IsSingletonRelationship(e *nodes.MappingEntity, member string) bool {
	m := c.member(e, member)
	return m != nil && m.assoc != nil && !m.assoc.many
}

func (c *catalog) RelatedEntity(e *nodes.MappingEntity, member string) *nodes.MappingEntity {
	m := c.member(e, member)
	if m == nil || m.assoc == nil {
		return nil
	}
	related, err := c.Entity(m.assoc.related)
	if err != nil {
		return nil
	}
	return related
}

func (c *catalog) AssociationKeys(e *nodes.MappingEntity, member string) ([]string, []string) {
	m := c.member(e, member)
	if m == nil || m.assoc == nil {
		return nil, nil
	}
	return m.assoc.keys, m.assoc.relatedKeys
}

// IdentityMembers returns the identity members of e in declaration order.
func IdentityMembers(r Resolver, e *nodes.MappingEntity) []string {
	var out []string
	for _, m := range r.Members(e) {
		if r.IsColumn(e, m) && r.IsIdentity(e, m) {
			out = append(out, m)
		}
	}
	return out
}

// relatedStruct returns the entity type an association member points at and
// whether the member is a collection.
func relatedStruct(t model.Type) (*model.Struct, bool) {
	switch x := t.(type) {
	case *model.Struct:
		if x.Name != "" {
			return x, false
		}
	case *model.Seq:
		if s, ok := x.Elem.(*model.Struct); ok && s.Name != "" {
			return s, true
		}
	}
	return nil, false
}
