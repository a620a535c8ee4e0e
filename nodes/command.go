package nodes

import "github.com/bawdo/relq/model"

// ColumnAssignment sets a column in an INSERT or UPDATE.
type ColumnAssignment struct {
	Column *Column
	Expr   Node
}

// Insert adds one row. Result, when set, reads back the inserted row.
type Insert struct {
	Table       *Table
	Assignments []ColumnAssignment
	Result      *Projection
}

func (n *Insert) Accept(v Visitor) string { return v.VisitInsert(n) }
func (n *Insert) Transform(t Transformer) Node { return t.TransformInsert(n) }
func (n *Insert) Type() model.Type { return commandType(n.Result) }

// Update changes the rows matching Where. Result, when set, reads back the
// updated row.
type Update struct {
	Table       *Table
	Where       Node
	Assignments []ColumnAssignment
	Result      *Projection
}

func (n *Update) Accept(v Visitor) string { return v.VisitUpdate(n) }
func (n *Update) Transform(t Transformer) Node { return t.TransformUpdate(n) }
func (n *Update) Type() model.Type { return commandType(n.Result) }

// Upsert runs Update when Check holds and Insert otherwise. Keys are the
// identity columns of the target table.
type Upsert struct {
	Check  Node
	Keys   []*Column
	Insert *Insert
	Update *Update
}

func (n *Upsert) Accept(v Visitor) string { return v.VisitUpsert(n) }
func (n *Upsert) Transform(t Transformer) Node { return t.TransformUpsert(n) }
func (n *Upsert) Type() model.Type { return n.Insert.Type() }

// Delete removes the rows matching Where.
type Delete struct {
	Table *Table
	Where Node
}

func (n *Delete) Accept(v Visitor) string { return v.VisitDelete(n) }
func (n *Delete) Transform(t Transformer) Node { return t.TransformDelete(n) }
func (n *Delete) Type() model.Type { return model.Int }

// Batch runs Operation once per element of Input. Operation is a lambda of
// one parameter whose body is a command.
type Batch struct {
	Input     Node
	Operation *Lambda
	BatchSize int
	Stream    bool
}

func (n *Batch) Accept(v Visitor) string { return v.VisitBatch(n) }
func (n *Batch) Transform(t Transformer) Node { return t.TransformBatch(n) }
func (n *Batch) Type() model.Type { return model.SeqOf(n.Operation.Body.Type()) }

func commandType(result *Projection) model.Type {
	if result != nil {
		return result.Type()
	}
	return model.Int
}
