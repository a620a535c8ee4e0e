package mapping

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/qerrors"
)

// ColumnSpec declares one column member.
type ColumnSpec struct {
	Member    string `yaml:"member"`
	Name      string `yaml:"name,omitempty"`
	DBType    string `yaml:"type,omitempty"`
	Identity  bool   `yaml:"identity,omitempty"`
	Generated bool   `yaml:"generated,omitempty"`
	// Kind is the member's scalar type, read only by LoadSchema.
	Kind string `yaml:"kind,omitempty"`
}

// AssociationSpec declares one association member. Keys are members of the
// declaring entity, Related the matching members of the other side.
type AssociationSpec struct {
	Member  string   `yaml:"member"`
	Keys    []string `yaml:"keys"`
	Related []string `yaml:"related"`
	// Entity and Many give the member's type, read only by LoadSchema.
	Entity string `yaml:"entity,omitempty"`
	Many   bool   `yaml:"many,omitempty"`
}

// EntitySpec is the declared mapping of one entity type. Members that are
// not declared are not mapped.
type EntitySpec struct {
	Type         string            `yaml:"type"`
	Table        string            `yaml:"table,omitempty"`
	Columns      []ColumnSpec      `yaml:"columns"`
	Associations []AssociationSpec `yaml:"associations,omitempty"`
}

type mappingFile struct {
	Entities []EntitySpec `yaml:"entities"`
}

// AttributeMapping resolves entities from declared metadata.
type AttributeMapping struct {
	*catalog
}

// NewAttributeMapping returns an empty mapping. Register every entity type
// before the mapping is shared.
func NewAttributeMapping() *AttributeMapping {
	return &AttributeMapping{catalog: newCatalog(nil)}
}

// Register declares the mapping of t. The table name defaults to the type
// name.
func (am *AttributeMapping) Register(t *model.Struct, spec EntitySpec) error {
	table := spec.Table
	if table == "" {
		table = t.Name
	}
	ei := newEntityInfo(t, table)
	for _, c := range spec.Columns {
		f, ok := t.Field(c.Member)
		if !ok {
			return qerrors.New(qerrors.ErrMapping, "%s has no member %q", t, c.Member)
		}
		if !model.IsScalar(f.Type) {
			return qerrors.New(qerrors.ErrMapping, "%s.%s is not a scalar and cannot be a column", t, c.Member)
		}
		if _, dup := ei.byName[c.Member]; dup {
			return qerrors.New(qerrors.ErrMapping, "%s.%s is declared twice", t, c.Member)
		}
		ei.add(&memberInfo{
			name:      c.Member,
			column:    c.Name,
			dbType:    c.DBType,
			identity:  c.Identity,
			generated: c.Generated,
		})
	}
	for _, a := range spec.Associations {
		f, ok := t.Field(a.Member)
		if !ok {
			return qerrors.New(qerrors.ErrMapping, "%s has no member %q", t, a.Member)
		}
		related, many := relatedStruct(f.Type)
		if related == nil {
			return qerrors.New(qerrors.ErrMapping, "%s.%s is not an entity or a sequence of entities", t, a.Member)
		}
		if len(a.Keys) == 0 || len(a.Keys) != len(a.Related) {
			return qerrors.New(qerrors.ErrMapping, "%s.%s needs matching key lists, got %d and %d",
				t, a.Member, len(a.Keys), len(a.Related))
		}
		for _, k := range a.Keys {
			if m := ei.byName[k]; m == nil || m.assoc != nil {
				return qerrors.New(qerrors.ErrMapping, "%s.%s key %q is not a mapped column", t, a.Member, k)
			}
		}
		for _, k := range a.Related {
			if _, ok := related.Field(k); !ok {
				return qerrors.New(qerrors.ErrMapping, "%s.%s related key %q is not a member of %s",
					t, a.Member, k, related)
			}
		}
		ei.add(&memberInfo{
			name:  a.Member,
			assoc: &association{related: related, many: many, keys: a.Keys, relatedKeys: a.Related},
		})
	}

	am.mu.Lock()
	defer am.mu.Unlock()
	if _, dup := am.byType[t]; dup {
		return qerrors.New(qerrors.ErrMapping, "%s is already registered", t)
	}
	am.register(ei)
	return nil
}

// LoadAttributeMapping reads a YAML mapping document. Entity type names are
// resolved against types.
//
//	entities:
//	  - type: Customer
//	    table: Customers
//	    columns:
//	      - {member: CustomerID, identity: true, type: nchar(5)}
//	      - {member: City}
//	    associations:
//	      - {member: Orders, keys: [CustomerID], related: [CustomerID]}
func LoadAttributeMapping(r io.Reader, types ...*model.Struct) (*AttributeMapping, error) {
	var doc mappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrMapping, "decode mapping", err)
	}
	byName := make(map[string]*model.Struct, len(types))
	for _, t := range types {
		byName[t.Name] = t
	}
	am := NewAttributeMapping()
	for i, spec := range doc.Entities {
		t, ok := byName[spec.Type]
		if !ok {
			return nil, qerrors.New(qerrors.ErrMapping, "entity %d: unknown type %q", i, spec.Type)
		}
		if err := am.Register(t, spec); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrMapping, fmt.Sprintf("entity %s", spec.Type), err)
		}
	}
	return am, nil
}

// LoadSchema reads a YAML mapping document that also declares the entity
// types: every column carries a kind (default string) and every association
// names its entity. It returns the mapping and the declared types in
// document order.
//
//	entities:
//	  - type: Customer
//	    table: Customers
//	    columns:
//	      - {member: CustomerID, identity: true}
//	      - {member: ContactName, kind: "string?"}
//	    associations:
//	      - {member: Orders, entity: Order, many: true, keys: [CustomerID], related: [CustomerID]}
func LoadSchema(r io.Reader) (*AttributeMapping, []*model.Struct, error) {
	var doc mappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, qerrors.Wrap(qerrors.ErrMapping, "decode schema", err)
	}
	types := make([]*model.Struct, len(doc.Entities))
	byName := make(map[string]*model.Struct, len(doc.Entities))
	for i, spec := range doc.Entities {
		if spec.Type == "" {
			return nil, nil, qerrors.New(qerrors.ErrMapping, "entity %d: missing type", i)
		}
		if _, dup := byName[spec.Type]; dup {
			return nil, nil, qerrors.New(qerrors.ErrMapping, "entity %d: %s is declared twice", i, spec.Type)
		}
		types[i] = model.NewStruct(spec.Type)
		byName[spec.Type] = types[i]
	}
	for i, spec := range doc.Entities {
		fields := make([]model.Field, 0, len(spec.Columns)+len(spec.Associations))
		for _, c := range spec.Columns {
			kind := c.Kind
			if kind == "" {
				kind = "string"
			}
			t, err := model.ParseScalar(kind)
			if err != nil {
				return nil, nil, qerrors.Wrap(qerrors.ErrMapping, spec.Type+"."+c.Member, err)
			}
			fields = append(fields, model.Field{Name: c.Member, Type: t})
		}
		for _, a := range spec.Associations {
			related, ok := byName[a.Entity]
			if !ok {
				return nil, nil, qerrors.New(qerrors.ErrMapping, "%s.%s: unknown entity %q", spec.Type, a.Member, a.Entity)
			}
			var t model.Type = related
			if a.Many {
				t = model.SeqOf(related)
			}
			fields = append(fields, model.Field{Name: a.Member, Type: t})
		}
		types[i].Define(fields...)
	}
	am := NewAttributeMapping()
	for i, spec := range doc.Entities {
		if err := am.Register(types[i], spec); err != nil {
			return nil, nil, qerrors.Wrap(qerrors.ErrMapping, fmt.Sprintf("entity %s", spec.Type), err)
		}
	}
	return am, types, nil
}
