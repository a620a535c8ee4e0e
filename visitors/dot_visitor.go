package visitors

import (
	"fmt"
	"strings"

	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Color constants for DOT node categories.
const (
	colorTable      = "#6CA6CD" // tables, selects
	colorColumn     = "#B0D4E8" // columns
	colorComparison = "#FFB347" // comparisons, predicates
	colorLogical    = "#FFEB80" // AND, OR, NOT
	colorLiteral    = "#D3D3D3" // constants, parameters
	colorJoin       = "#77DD77" // joins
	colorProjection = "#CDA0E0" // projections, entities, client joins
	colorCommand    = "#FF6961" // DML
	colorArithmetic = "#98FB98" // arithmetic
	colorFunction   = "#87CEEB" // aggregates, functions, subqueries
)

// dotNode represents a single node in the DOT graph.
type dotNode struct {
	id    string
	label string
	color string
}

// dotEdge represents a directed edge between two nodes in the DOT graph.
type dotEdge struct {
	from  string
	to    string
	label string
}

// DotVisitor renders a tree as a Graphviz digraph. Aliases are shown by
// their debug names, so columns can be matched to the select declaring them.
type DotVisitor struct {
	nodes []dotNode
	edges []dotEdge
}

// NewDotVisitor creates an empty DotVisitor.
func NewDotVisitor() *DotVisitor {
	return &DotVisitor{}
}

// Dot renders n as DOT text.
func Dot(n nodes.Node) string {
	dv := NewDotVisitor()
	dv.Add(n)
	return dv.ToDot()
}

// Add adds n and its descendants to the graph and returns n's id.
func (dv *DotVisitor) Add(n nodes.Node) string {
	label, color := dotLabel(n)
	id := fmt.Sprintf("n%d", len(dv.nodes))
	dv.nodes = append(dv.nodes, dotNode{id: id, label: label, color: color})
	for _, c := range dotChildren(n) {
		if c.node == nil {
			continue
		}
		child := dv.Add(c.node)
		dv.edges = append(dv.edges, dotEdge{from: id, to: child, label: c.label})
	}
	return id
}

// NodeCount returns the number of nodes added so far.
func (dv *DotVisitor) NodeCount() int {
	return len(dv.nodes)
}

// ToDot generates the complete DOT graph text.
func (dv *DotVisitor) ToDot() string {
	var sb strings.Builder

	sb.WriteString("digraph AST {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	sb.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n")

	for _, n := range dv.nodes {
		fmt.Fprintf(&sb, "  %s [label=\"%s\", fillcolor=\"%s\"];\n", n.id, escapeLabel(n.label), n.color)
	}
	for _, e := range dv.edges {
		if e.label != "" {
			fmt.Fprintf(&sb, "  %s -> %s [label=\"%s\"];\n", e.from, e.to, e.label)
		} else {
			fmt.Fprintf(&sb, "  %s -> %s;\n", e.from, e.to)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// escapeLabel escapes double quotes in DOT labels.
// Backslash sequences like \n are intentional DOT line breaks and are preserved.
func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

type labeled struct {
	label string
	node  nodes.Node
}

func dotChildren(n nodes.Node) []labeled {
	switch x := n.(type) {
	case *nodes.Select:
		out := []labeled{{"FROM", x.From}, {"WHERE", x.Where}}
		for _, o := range x.OrderBy {
			out = append(out, labeled{"ORDER", o.Expr})
		}
		for _, g := range x.GroupBy {
			out = append(out, labeled{"GROUP", g})
		}
		out = append(out, labeled{"SKIP", x.Skip}, labeled{"TAKE", x.Take})
		for _, c := range x.Columns {
			out = append(out, labeled{c.Name, c.Expr})
		}
		return out
	case *nodes.Join:
		return []labeled{{"LEFT", x.Left}, {"RIGHT", x.Right}, {"ON", x.Condition}}
	case *nodes.Projection:
		return []labeled{{"SELECT", x.Select}, {"PROJECTOR", x.Projector}}
	case *nodes.OuterJoined:
		return []labeled{{"TEST", x.Test}, {"EXPR", x.Expr}}
	case *nodes.Member:
		return []labeled{{"", x.Expr}}
	}
	var out []labeled
	for _, c := range nodes.Children(n) {
		out = append(out, labeled{"", c})
	}
	return out
}

func dotLabel(n nodes.Node) (string, string) {
	switch x := n.(type) {
	case *nodes.Constant:
		return "Constant\\n" + model.FormatValue(x.Value), colorLiteral
	case *nodes.Parameter:
		return "Parameter\\n" + x.Name, colorLiteral
	case *nodes.NamedValue:
		return "NamedValue\\n@" + x.Name, colorLiteral
	case *nodes.Column:
		return "Column\\n" + x.Alias.String() + "." + x.Name, colorColumn
	case *nodes.Table:
		return "Table\\n" + x.Name + " AS " + x.Alias.String(), colorTable
	case *nodes.Select:
		label := "Select\\n" + x.Alias.String()
		if x.Distinct {
			label += " DISTINCT"
		}
		return label, colorTable
	case *nodes.Join:
		return x.Kind.String(), colorJoin
	case *nodes.Binary:
		switch {
		case x.Op.IsLogical():
			return x.Op.String(), colorLogical
		case x.Op.IsComparison():
			return x.Op.String(), colorComparison
		}
		return x.Op.String(), colorArithmetic
	case *nodes.Unary:
		if x.Op == nodes.OpNot {
			return "NOT", colorLogical
		}
		return "Unary", colorArithmetic
	case *nodes.Member:
		return "Member\\n" + x.Name, colorColumn
	case *nodes.Call:
		return "Call\\n" + string(x.Method), colorFunction
	case *nodes.Function:
		return "Function\\n" + x.Name, colorFunction
	case *nodes.Aggregate:
		return "Aggregate\\n" + x.Func.String(), colorFunction
	case *nodes.Scalar, *nodes.Exists, *nodes.In, *nodes.AggregateSubquery:
		return strings.TrimPrefix(fmt.Sprintf("%T", n), "*nodes."), colorFunction
	case *nodes.IsNull, *nodes.Between:
		return strings.TrimPrefix(fmt.Sprintf("%T", n), "*nodes."), colorComparison
	case *nodes.Projection:
		label := "Projection"
		if x.Aggregator != nil {
			label += "\\n" + x.Aggregator.Shape.String()
		}
		return label, colorProjection
	case *nodes.Entity:
		return "Entity\\n" + x.Entity.Type.Name, colorProjection
	case *nodes.New:
		return "New\\n" + x.Typ.String(), colorProjection
	case *nodes.Insert, *nodes.Update, *nodes.Upsert, *nodes.Delete, *nodes.Batch:
		return strings.TrimPrefix(fmt.Sprintf("%T", n), "*nodes."), colorCommand
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", n), "*nodes."), colorProjection
}
