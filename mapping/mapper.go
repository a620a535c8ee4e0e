package mapping

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// Translator is the part of the query binder the Mapper calls back into.
type Translator interface {
	// ProjectColumns splits expr into the columns a select under newAlias
	// must declare and a projector reading them. Only columns of the
	// existing aliases are pulled into the select.
	ProjectColumns(expr nodes.Node, newAlias *nodes.TableAlias, existing ...*nodes.TableAlias) ([]nodes.ColumnDeclaration, nodes.Node)
	// BindLambda binds the body of l with its parameters replaced by args.
	BindLambda(l *nodes.Lambda, args ...nodes.Node) nodes.Node
	// BindMember binds the access of member on source.
	BindMember(source nodes.Node, member string) nodes.Node
}

// Mapper builds the trees that depend on mapping metadata.
type Mapper struct {
	Resolver Resolver
	Lang     *dialect.Language
}

// NewMapper returns a Mapper for one data source.
func NewMapper(r Resolver, lang *dialect.Language) *Mapper {
	return &Mapper{Resolver: r, Lang: lang}
}

// QueryType returns the column type of member, from its declaration when
// there is one and inferred from t otherwise.
func (m *Mapper) QueryType(e *nodes.MappingEntity, member string, t model.Type) (*nodes.QueryType, error) {
	if decl := m.Resolver.ColumnType(e, member); decl != "" {
		qt, err := m.Lang.Types.Parse(decl)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrMapping, e.Type.Name+"."+member, err)
		}
		if !model.IsNullable(t) {
			qt.NotNull = true
		}
		return qt, nil
	}
	return m.Lang.Types.ColumnType(t), nil
}

func (m *Mapper) column(e *nodes.MappingEntity, alias *nodes.TableAlias, member string) (*nodes.Column, error) {
	f, ok := e.Type.Field(member)
	if !ok {
		return nil, qerrors.New(qerrors.ErrMapping, "%s has no member %q", e.Type, member)
	}
	qt, err := m.QueryType(e, member, f.Type)
	if err != nil {
		return nil, err
	}
	return nodes.NewColumn(alias, m.Resolver.ColumnName(e, member), f.Type, qt), nil
}

// EntityExpression constructs e from the columns of the table under alias.
// Associations are left out; the binder expands them on access.
func (m *Mapper) EntityExpression(e *nodes.MappingEntity, alias *nodes.TableAlias) (*nodes.Entity, error) {
	var fields []nodes.FieldInit
	for _, member := range m.Resolver.Members(e) {
		if !m.Resolver.IsColumn(e, member) {
			continue
		}
		col, err := m.column(e, alias, member)
		if err != nil {
			return nil, err
		}
		fields = append(fields, nodes.FieldInit{Name: member, Expr: col})
	}
	return &nodes.Entity{Entity: e, Expr: &nodes.New{Typ: e.Type, Fields: fields}}, nil
}

// TableQuery returns the projection of every row of e's table.
func (m *Mapper) TableQuery(e *nodes.MappingEntity) (*nodes.Projection, error) {
	tbl := nodes.NewTable(e, m.Resolver.TableName(e))
	ent, err := m.EntityExpression(e, tbl.Alias)
	if err != nil {
		return nil, err
	}
	selAlias := nodes.NewAlias()
	src := ent.Expr.(*nodes.New)
	cols := make([]nodes.ColumnDeclaration, 0, len(src.Fields))
	fields := make([]nodes.FieldInit, len(src.Fields))
	for i, f := range src.Fields {
		col := f.Expr.(*nodes.Column)
		decl := nodes.ColumnDeclaration{
			Name:      nodes.AvailableColumnName(cols, col.Name),
			Expr:      col,
			QueryType: col.QueryType,
		}
		cols = append(cols, decl)
		fields[i] = nodes.FieldInit{Name: f.Name, Expr: decl.Ref(selAlias)}
	}
	projector := &nodes.Entity{Entity: e, Expr: &nodes.New{Typ: e.Type, Fields: fields}}
	return nodes.NewProjection(nodes.NewSelect(selAlias, cols, tbl, nil), projector), nil
}

// MemberExpression returns the projection of the entities related to root
// through the association member of e. Singleton associations carry a
// SingleOrDefault aggregator.
func (m *Mapper) MemberExpression(t Translator, root nodes.Node, e *nodes.MappingEntity, member string) (*nodes.Projection, error) {
	related := m.Resolver.RelatedEntity(e, member)
	if related == nil {
		return nil, qerrors.New(qerrors.ErrMapping, "%s.%s is not a mapped association", e.Type, member)
	}
	proj, err := m.TableQuery(related)
	if err != nil {
		return nil, err
	}
	keys, relatedKeys := m.Resolver.AssociationKeys(e, member)
	var pred nodes.Node
	for i := range keys {
		pred = nodes.And(pred, nodes.Eq(t.BindMember(proj.Projector, relatedKeys[i]), t.BindMember(root, keys[i])))
	}
	alias := nodes.NewAlias()
	cols, projector := t.ProjectColumns(proj.Projector, alias, proj.Select.Alias)
	out := nodes.NewProjection(nodes.NewSelect(alias, cols, proj.Select, pred), projector)
	if m.Resolver.IsSingletonRelationship(e, member) {
		out.Aggregator = &nodes.Aggregator{Shape: nodes.ShapeSingleOrDefault}
	}
	return out, nil
}

// --- Commands ---

// identityCheck matches the row of instance by its identity columns. When
// generated is set, generated identities match the value the database
// produced for the last insert instead.
func (m *Mapper) identityCheck(t Translator, e *nodes.MappingEntity, alias *nodes.TableAlias, instance nodes.Node, generated bool) (nodes.Node, error) {
	ids := IdentityMembers(m.Resolver, e)
	if len(ids) == 0 {
		return nil, qerrors.New(qerrors.ErrMapping, "%s has no identity members", e.Type)
	}
	var pred nodes.Node
	for _, id := range ids {
		col, err := m.column(e, alias, id)
		if err != nil {
			return nil, err
		}
		var val nodes.Node
		if generated && m.Resolver.IsGenerated(e, id) {
			val = m.Lang.GeneratedIDExpr()
		} else {
			val = t.BindMember(instance, id)
		}
		pred = nodes.And(pred, nodes.Eq(col, val))
	}
	return pred, nil
}

func (m *Mapper) assignments(t Translator, e *nodes.MappingEntity, tbl *nodes.Table, instance nodes.Node, skip func(member string) bool) ([]nodes.ColumnAssignment, error) {
	var out []nodes.ColumnAssignment
	for _, member := range m.Resolver.Members(e) {
		if !m.Resolver.IsColumn(e, member) || skip(member) {
			continue
		}
		col, err := m.column(e, tbl.Alias, member)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes.ColumnAssignment{Column: col, Expr: t.BindMember(instance, member)})
	}
	return out, nil
}

// resultProjection reads back one row of e through selector. where filters
// the base table by its alias.
func (m *Mapper) resultProjection(t Translator, e *nodes.MappingEntity, selector *nodes.Lambda, where func(*nodes.TableAlias) (nodes.Node, error)) (*nodes.Projection, error) {
	tq, err := m.TableQuery(e)
	if err != nil {
		return nil, err
	}
	pred, err := where(tq.Select.From.(*nodes.Table).Alias)
	if err != nil {
		return nil, err
	}
	sel := tq.Select.SetWhere(pred)
	body := t.BindLambda(selector, tq.Projector)
	alias := nodes.NewAlias()
	cols, projector := t.ProjectColumns(body, alias, sel.Alias)
	return &nodes.Projection{
		Select:     nodes.NewSelect(alias, cols, sel, nil),
		Projector:  projector,
		Aggregator: &nodes.Aggregator{Shape: nodes.ShapeSingleOrDefault},
	}, nil
}

// InsertExpression inserts instance into e's table. Generated columns are
// left to the database. With a selector the command reads the new row
// back, locating it through the generated identity when there is one.
func (m *Mapper) InsertExpression(t Translator, e *nodes.MappingEntity, instance nodes.Node, selector *nodes.Lambda) (*nodes.Insert, error) {
	tbl := nodes.NewTable(e, m.Resolver.TableName(e))
	as, err := m.assignments(t, e, tbl, instance, func(member string) bool {
		return m.Resolver.IsGenerated(e, member)
	})
	if err != nil {
		return nil, err
	}
	ins := &nodes.Insert{Table: tbl, Assignments: as}
	if selector != nil {
		ins.Result, err = m.resultProjection(t, e, selector, func(a *nodes.TableAlias) (nodes.Node, error) {
			return m.identityCheck(t, e, a, instance, true)
		})
		if err != nil {
			return nil, err
		}
	}
	return ins, nil
}

// UpdateExpression updates the row of instance, identified by its identity
// columns and further restricted by updateCheck over the current row.
func (m *Mapper) UpdateExpression(t Translator, e *nodes.MappingEntity, instance nodes.Node, updateCheck, selector *nodes.Lambda) (*nodes.Update, error) {
	tbl := nodes.NewTable(e, m.Resolver.TableName(e))
	where, err := m.identityCheck(t, e, tbl.Alias, instance, false)
	if err != nil {
		return nil, err
	}
	if updateCheck != nil {
		current, err := m.EntityExpression(e, tbl.Alias)
		if err != nil {
			return nil, err
		}
		where = nodes.And(where, t.BindLambda(updateCheck, current))
	}
	as, err := m.assignments(t, e, tbl, instance, func(member string) bool {
		return m.Resolver.IsIdentity(e, member) || m.Resolver.IsGenerated(e, member)
	})
	if err != nil {
		return nil, err
	}
	upd := &nodes.Update{Table: tbl, Where: where, Assignments: as}
	if selector != nil {
		upd.Result, err = m.keyedResult(t, e, instance, selector)
		if err != nil {
			return nil, err
		}
	}
	return upd, nil
}

func (m *Mapper) keyedResult(t Translator, e *nodes.MappingEntity, instance nodes.Node, selector *nodes.Lambda) (*nodes.Projection, error) {
	return m.resultProjection(t, e, selector, func(a *nodes.TableAlias) (nodes.Node, error) {
		return m.identityCheck(t, e, a, instance, false)
	})
}

// InsertOrUpdateExpression updates the row of instance when it exists and
// inserts it otherwise.
func (m *Mapper) InsertOrUpdateExpression(t Translator, e *nodes.MappingEntity, instance nodes.Node, updateCheck, selector *nodes.Lambda) (*nodes.Upsert, error) {
	ins, err := m.InsertExpression(t, e, instance, nil)
	if err != nil {
		return nil, err
	}
	upd, err := m.UpdateExpression(t, e, instance, updateCheck, nil)
	if err != nil {
		return nil, err
	}
	checkTbl := nodes.NewTable(e, m.Resolver.TableName(e))
	where, err := m.identityCheck(t, e, checkTbl.Alias, instance, false)
	if err != nil {
		return nil, err
	}
	var keys []*nodes.Column
	for _, id := range IdentityMembers(m.Resolver, e) {
		col, err := m.column(e, ins.Table.Alias, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, col)
	}
	if selector != nil {
		res, err := m.keyedResult(t, e, instance, selector)
		if err != nil {
			return nil, err
		}
		ins.Result, upd.Result = res, res
	}
	return &nodes.Upsert{
		Check:  &nodes.Exists{Select: nodes.NewSelect(nodes.NewAlias(), nil, checkTbl, where)},
		Keys:   keys,
		Insert: ins,
		Update: upd,
	}, nil
}

// DeleteExpression deletes the row of instance, the rows matching
// deleteCheck, or both conditions combined. With neither it deletes every
// row.
func (m *Mapper) DeleteExpression(t Translator, e *nodes.MappingEntity, instance nodes.Node, deleteCheck *nodes.Lambda) (*nodes.Delete, error) {
	tbl := nodes.NewTable(e, m.Resolver.TableName(e))
	var where nodes.Node
	if instance != nil {
		var err error
		if where, err = m.identityCheck(t, e, tbl.Alias, instance, false); err != nil {
			return nil, err
		}
	}
	if deleteCheck != nil {
		current, err := m.EntityExpression(e, tbl.Alias)
		if err != nil {
			return nil, err
		}
		where = nodes.And(where, t.BindLambda(deleteCheck, current))
	}
	return &nodes.Delete{Table: tbl, Where: where}, nil
}
