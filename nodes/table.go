package nodes

import (
	"strconv"

	"github.com/bawdo/relq/model"
)

// Table is a scan of a mapped table.
type Table struct {
	Alias  *TableAlias
	Entity *MappingEntity
	Name   string
}

func (n *Table) Accept(v Visitor) string { return v.VisitTable(n) }
func (n *Table) Transform(t Transformer) Node { return t.TransformTable(n) }
func (n *Table) Type() model.Type { return nil }

// NewTable creates a table scan under a fresh alias.
func NewTable(entity *MappingEntity, name string) *Table {
	return &Table{Alias: NewAlias(), Entity: entity, Name: name}
}

// Column references a column declared by the select or table with Alias.
type Column struct {
	Alias     *TableAlias
	Name      string
	Typ       model.Type
	QueryType *QueryType
}

func (n *Column) Accept(v Visitor) string { return v.VisitColumn(n) }
func (n *Column) Transform(t Transformer) Node { return t.TransformColumn(n) }
func (n *Column) Type() model.Type { return n.Typ }

// NewColumn creates a column reference.
func NewColumn(alias *TableAlias, name string, typ model.Type, qt *QueryType) *Column {
	return &Column{Alias: alias, Name: name, Typ: typ, QueryType: qt}
}

// Same reports whether c and o reference the same declared column.
func (n *Column) Same(o *Column) bool {
	return o != nil && n.Alias == o.Alias && n.Name == o.Name
}

// ColumnDeclaration is one named output column of a select.
type ColumnDeclaration struct {
	Name      string
	Expr      Node
	QueryType *QueryType
}

// Ref returns a column referencing this declaration through alias.
func (d ColumnDeclaration) Ref(alias *TableAlias) *Column {
	qt := d.QueryType
	if c, ok := d.Expr.(*Column); ok && qt == nil {
		qt = c.QueryType
	}
	return NewColumn(alias, d.Name, d.Expr.Type(), qt)
}

// AvailableColumnName returns base, or base followed by the smallest number
// that does not collide with a name in cols.
func AvailableColumnName(cols []ColumnDeclaration, base string) string {
	name := base
	for n := 1; ; n++ {
		if !hasColumn(cols, name) {
			return name
		}
		name = base + strconv.Itoa(n)
	}
}

func hasColumn(cols []ColumnDeclaration, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
