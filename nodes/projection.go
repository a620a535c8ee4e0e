package nodes

import "github.com/bawdo/relq/model"

// Entity marks Expr as the construction of a mapped entity.
type Entity struct {
	Entity *MappingEntity
	Expr   Node
}

func (n *Entity) Accept(v Visitor) string { return v.VisitEntity(n) }
func (n *Entity) Transform(t Transformer) Node { return t.TransformEntity(n) }
func (n *Entity) Type() model.Type { return n.Entity.Type }

// Grouping is the projector of one GroupBy result: its key and the element
// projection of the group.
type Grouping struct {
	Key   Node
	Group Node
	Typ   *model.Group
}

func (n *Grouping) Accept(v Visitor) string { return v.VisitGrouping(n) }
func (n *Grouping) Transform(t Transformer) Node { return t.TransformGrouping(n) }
func (n *Grouping) Type() model.Type { return n.Typ }

// Shape is the cardinality an aggregator coerces rows into.
type Shape int

const (
	ShapeSequence Shape = iota
	ShapeSingle
	ShapeSingleOrDefault
	ShapeFirst
	ShapeFirstOrDefault
)

var shapeNames = [...]string{
	ShapeSequence:        "Sequence",
	ShapeSingle:          "Single",
	ShapeSingleOrDefault: "SingleOrDefault",
	ShapeFirst:           "First",
	ShapeFirstOrDefault:  "FirstOrDefault",
}

func (s Shape) String() string { return shapeNames[s] }

// Aggregator coerces the rows of a projection. Skip, when set, is applied on
// the client before shaping.
type Aggregator struct {
	Shape Shape
	Skip  Node
}

// Projection pairs a select with the expression that rebuilds each result
// from its columns. It is the only node with a result type.
type Projection struct {
	Select     *Select
	Projector  Node
	Aggregator *Aggregator
}

func (n *Projection) Accept(v Visitor) string { return v.VisitProjection(n) }
func (n *Projection) Transform(t Transformer) Node { return t.TransformProjection(n) }

func (n *Projection) Type() model.Type {
	if n.IsSingleton() {
		return n.Projector.Type()
	}
	return model.SeqOf(n.Projector.Type())
}

// IsSingleton reports whether the aggregator reduces rows to one value.
func (n *Projection) IsSingleton() bool {
	return n.Aggregator != nil && n.Aggregator.Shape != ShapeSequence
}

// NewProjection creates a projection without an aggregator.
func NewProjection(sel *Select, projector Node) *Projection {
	return &Projection{Select: sel, Projector: projector}
}

// ClientJoin is a nested projection joined on the client: its rows are
// loaded once into a lookup keyed by InnerKey, and each outer row fetches its
// matches by OuterKey. With NullKeys a NULL key matches NULL keys, as the
// null-safe correlation of group elements does.
type ClientJoin struct {
	Projection *Projection
	OuterKey   []Node
	InnerKey   []Node
	NullKeys   bool
}

func (n *ClientJoin) Accept(v Visitor) string { return v.VisitClientJoin(n) }
func (n *ClientJoin) Transform(t Transformer) Node { return t.TransformClientJoin(n) }
func (n *ClientJoin) Type() model.Type { return n.Projection.Type() }
