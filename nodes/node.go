// Package nodes defines the relational expression tree produced by the query
// binder, rewritten by the optimizer and consumed by the formatters and the
// execution builder.
//
// The node set is closed. Every kind implements Accept for string-producing
// visitors (SQL formatters, debug writers) and Transform for node-producing
// rewriters, so adding a kind forces every Visitor and Transformer to handle it.
package nodes

import (
	"strconv"
	"sync/atomic"

	"github.com/bawdo/relq/model"
)

// Node is the interface that all expression tree nodes implement.
type Node interface {
	Accept(visitor Visitor) string
	Transform(t Transformer) Node
	Type() model.Type
}

// Visitor walks the tree and produces text. Concrete visitors (SQL dialects,
// the debug writer, the DOT renderer) implement this interface.
type Visitor interface {
	VisitConstant(node *Constant) string
	VisitParameter(node *Parameter) string
	VisitLambda(node *Lambda) string
	VisitMember(node *Member) string
	VisitNew(node *New) string
	VisitBinary(node *Binary) string
	VisitUnary(node *Unary) string
	VisitConditional(node *Conditional) string
	VisitCall(node *Call) string
	VisitRoot(node *Root) string
	VisitTable(node *Table) string
	VisitColumn(node *Column) string
	VisitSelect(node *Select) string
	VisitJoin(node *Join) string
	VisitOuterJoined(node *OuterJoined) string
	VisitAggregate(node *Aggregate) string
	VisitAggregateSubquery(node *AggregateSubquery) string
	VisitScalar(node *Scalar) string
	VisitExists(node *Exists) string
	VisitIn(node *In) string
	VisitIsNull(node *IsNull) string
	VisitBetween(node *Between) string
	VisitRowNumber(node *RowNumber) string
	VisitNamedValue(node *NamedValue) string
	VisitFunction(node *Function) string
	VisitEntity(node *Entity) string
	VisitGrouping(node *Grouping) string
	VisitProjection(node *Projection) string
	VisitClientJoin(node *ClientJoin) string
	VisitInsert(node *Insert) string
	VisitUpdate(node *Update) string
	VisitUpsert(node *Upsert) string
	VisitDelete(node *Delete) string
	VisitBatch(node *Batch) string
}

// Transformer rewrites the tree. Implementations embed *BaseTransformer and
// override only the kinds they care about; BaseTransformer returns the
// original node whenever no child changed.
type Transformer interface {
	TransformConstant(node *Constant) Node
	TransformParameter(node *Parameter) Node
	TransformLambda(node *Lambda) Node
	TransformMember(node *Member) Node
	TransformNew(node *New) Node
	TransformBinary(node *Binary) Node
	TransformUnary(node *Unary) Node
	TransformConditional(node *Conditional) Node
	TransformCall(node *Call) Node
	TransformRoot(node *Root) Node
	TransformTable(node *Table) Node
	TransformColumn(node *Column) Node
	TransformSelect(node *Select) Node
	TransformJoin(node *Join) Node
	TransformOuterJoined(node *OuterJoined) Node
	TransformAggregate(node *Aggregate) Node
	TransformAggregateSubquery(node *AggregateSubquery) Node
	TransformScalar(node *Scalar) Node
	TransformExists(node *Exists) Node
	TransformIn(node *In) Node
	TransformIsNull(node *IsNull) Node
	TransformBetween(node *Between) Node
	TransformRowNumber(node *RowNumber) Node
	TransformNamedValue(node *NamedValue) Node
	TransformFunction(node *Function) Node
	TransformEntity(node *Entity) Node
	TransformGrouping(node *Grouping) Node
	TransformProjection(node *Projection) Node
	TransformClientJoin(node *ClientJoin) Node
	TransformInsert(node *Insert) Node
	TransformUpdate(node *Update) Node
	TransformUpsert(node *Upsert) Node
	TransformDelete(node *Delete) Node
	TransformBatch(node *Batch) Node
}

var aliasCounter atomic.Uint64

// TableAlias identifies one row source. Aliases compare by identity; the
// name is only used for debugging and is assigned afresh by formatters.
type TableAlias struct {
	id uint64
}

// NewAlias mints a fresh alias.
func NewAlias() *TableAlias {
	return &TableAlias{id: aliasCounter.Add(1)}
}

func (a *TableAlias) String() string {
	if a == nil {
		return "<nil>"
	}
	return "A" + strconv.FormatUint(a.id, 10)
}

// MappingEntity ties a struct type to the table identifier it was mapped
// from. Two entities with the same type but different table ids are distinct.
type MappingEntity struct {
	TableID string
	Type    *model.Struct
}

// QueryType is a concrete column type in the target dialect.
type QueryType struct {
	Name      string
	Length    int
	Precision int
	Scale     int
	NotNull   bool
}

func (q *QueryType) String() string {
	if q == nil {
		return ""
	}
	switch {
	case q.Length < 0:
		return q.Name + "(max)"
	case q.Length > 0:
		return q.Name + "(" + strconv.Itoa(q.Length) + ")"
	case q.Precision > 0 && q.Scale > 0:
		return q.Name + "(" + strconv.Itoa(q.Precision) + "," + strconv.Itoa(q.Scale) + ")"
	case q.Precision > 0:
		return q.Name + "(" + strconv.Itoa(q.Precision) + ")"
	}
	return q.Name
}
