package plugins

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// TableRef holds a table a select reads and the alias its columns are
// referenced through.
type TableRef struct {
	Alias *nodes.TableAlias
	Name  string
	Table *nodes.Table
}

// Col returns a column of the referenced table.
func (r TableRef) Col(name string, typ model.Type) *nodes.Column {
	return nodes.NewColumn(r.Alias, name, typ, nil)
}

// CollectTables returns the tables a select reads directly: its FROM table
// and every table joined to it. Subqueries are skipped; Apply visits them
// on their own.
func CollectTables(sel *nodes.Select) []TableRef {
	var refs []TableRef
	collect(sel.From, &refs)
	return refs
}

func collect(n nodes.Node, refs *[]TableRef) {
	switch r := n.(type) {
	case *nodes.Table:
		*refs = append(*refs, TableRef{Alias: r.Alias, Name: r.Name, Table: r})
	case *nodes.Join:
		collect(r.Left, refs)
		collect(r.Right, refs)
	}
}
