// Package softdelete provides a Transformer that hides soft-deleted rows by
// injecting "column IS NULL" conditions into every select, update and
// delete.
//
// By default it appends "deleted_at" IS NULL for every table a select reads
// in its FROM and JOIN clauses. Both the column name and the set of tables
// can be customised via options.
//
// # Basic usage
//
//	p := provider.New(mapper, rt, provider.WithPlugins(softdelete.New()))
//	// SELECT ... FROM "Customers" AS t0 WHERE t0."deleted_at" IS NULL
//
// # Custom column
//
//	sd := softdelete.New(softdelete.WithColumn("removed_at"))
//
// # Restrict to specific tables
//
// When a query joins multiple tables but only some use soft-delete:
//
//	sd := softdelete.New(softdelete.WithTables("Customers"))
//
// # Per-table columns
//
//	sd := softdelete.New(
//	    softdelete.WithTableColumn("Customers", "deleted_at"),
//	    softdelete.WithTableColumn("Orders", "removed_at"),
//	)
//
// # REPL usage
//
//	relq> plugin softdelete
//	relq> plugin softdelete removed_at on Customers Orders
//	relq> plugin softdelete Customers.deleted_at, Orders.removed_at
//	relq> plugin off softdelete
package softdelete

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/plugins"
)

var deletedAtType = model.Nullable(model.Time)

// SoftDelete is a Transformer that appends IS NULL conditions for a
// soft-delete column on every referenced table (or a configured subset).
type SoftDelete struct {
	plugins.BaseTransformer
	Column  string
	Columns map[string]string // per-table column overrides (table name → column name)
	tables  map[string]bool   // nil means apply to all tables
}

// Option configures a SoftDelete transformer.
type Option func(*SoftDelete)

// WithColumn sets the soft-delete column name. Default is "deleted_at".
func WithColumn(name string) Option {
	return func(sd *SoftDelete) { sd.Column = name }
}

// WithTables restricts the plugin to only the named tables.
// By default, the plugin applies to every table in the query.
func WithTables(names ...string) Option {
	return func(sd *SoftDelete) {
		sd.tables = make(map[string]bool, len(names))
		for _, n := range names {
			sd.tables[n] = true
		}
	}
}

// WithTableColumn sets a per-table column override. The table is
// automatically added to the whitelist, restricting the plugin's scope.
func WithTableColumn(table, column string) Option {
	return func(sd *SoftDelete) {
		if sd.Columns == nil {
			sd.Columns = make(map[string]string)
		}
		sd.Columns[table] = column
		if sd.tables == nil {
			sd.tables = make(map[string]bool)
		}
		sd.tables[table] = true
	}
}

// New creates a SoftDelete transformer with the given options.
func New(opts ...Option) *SoftDelete {
	sd := &SoftDelete{Column: "deleted_at"}
	for _, o := range opts {
		o(sd)
	}
	return sd
}

// TransformSelect appends "column IS NULL" to the WHERE clause for each
// matching table the select reads.
func (sd *SoftDelete) TransformSelect(sel *nodes.Select) (*nodes.Select, error) {
	var preds []nodes.Node
	for _, ref := range plugins.CollectTables(sel) {
		if sd.appliesTo(ref.Name) {
			preds = append(preds, &nodes.IsNull{Expr: ref.Col(sd.columnFor(ref.Name), deletedAtType)})
		}
	}
	if len(preds) == 0 {
		return sel, nil
	}
	return sel.SetWhere(nodes.And(append([]nodes.Node{sel.Where}, preds...)...)), nil
}

// TransformUpdate leaves soft-deleted rows unchanged.
func (sd *SoftDelete) TransformUpdate(stmt *nodes.Update) (*nodes.Update, error) {
	where, ok := sd.restrict(stmt.Table, stmt.Where)
	if !ok {
		return stmt, nil
	}
	c := *stmt
	c.Where = where
	return &c, nil
}

// TransformDelete leaves soft-deleted rows in place.
func (sd *SoftDelete) TransformDelete(stmt *nodes.Delete) (*nodes.Delete, error) {
	where, ok := sd.restrict(stmt.Table, stmt.Where)
	if !ok {
		return stmt, nil
	}
	return &nodes.Delete{Table: stmt.Table, Where: where}, nil
}

func (sd *SoftDelete) restrict(tbl *nodes.Table, where nodes.Node) (nodes.Node, bool) {
	if !sd.appliesTo(tbl.Name) {
		return nil, false
	}
	col := nodes.NewColumn(tbl.Alias, sd.columnFor(tbl.Name), deletedAtType, nil)
	return nodes.And(where, &nodes.IsNull{Expr: col}), true
}

func (sd *SoftDelete) appliesTo(tableName string) bool {
	if sd.tables == nil {
		return true
	}
	return sd.tables[tableName]
}

// columnFor returns the column name to use for the given table.
// It checks Columns for a per-table override, falling back to Column.
func (sd *SoftDelete) columnFor(tableName string) string {
	if sd.Columns != nil {
		if col, ok := sd.Columns[tableName]; ok {
			return col
		}
	}
	return sd.Column
}
