package nodes

// Children returns the direct child nodes of n in evaluation order.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Constant, *Parameter, *Root, *Table, *Column:
		return nil
	case *Lambda:
		return []Node{x.Body}
	case *Member:
		return []Node{x.Expr}
	case *New:
		out := make([]Node, len(x.Fields))
		for i, f := range x.Fields {
			out[i] = f.Expr
		}
		return out
	case *Binary:
		return []Node{x.Left, x.Right}
	case *Unary:
		return []Node{x.Expr}
	case *Conditional:
		return []Node{x.Test, x.Then, x.Else}
	case *Call:
		return x.Args
	case *Select:
		out := []Node{x.From, x.Where}
		for _, o := range x.OrderBy {
			out = append(out, o.Expr)
		}
		out = append(out, x.GroupBy...)
		out = append(out, x.Skip, x.Take)
		for _, c := range x.Columns {
			out = append(out, c.Expr)
		}
		return compact(out)
	case *Join:
		return compact([]Node{x.Left, x.Right, x.Condition})
	case *OuterJoined:
		return []Node{x.Test, x.Expr}
	case *Aggregate:
		return compact([]Node{x.Arg})
	case *AggregateSubquery:
		return []Node{x.Subquery}
	case *Scalar:
		return []Node{x.Select}
	case *Exists:
		return []Node{x.Select}
	case *In:
		out := []Node{x.Expr}
		if x.Select != nil {
			out = append(out, x.Select)
		}
		return append(out, x.Values...)
	case *IsNull:
		return []Node{x.Expr}
	case *Between:
		return []Node{x.Expr, x.Lower, x.Upper}
	case *RowNumber:
		out := make([]Node, len(x.OrderBy))
		for i, o := range x.OrderBy {
			out[i] = o.Expr
		}
		return out
	case *NamedValue:
		return []Node{x.Value}
	case *Function:
		return x.Args
	case *Entity:
		return []Node{x.Expr}
	case *Grouping:
		return []Node{x.Key, x.Group}
	case *Projection:
		return []Node{x.Select, x.Projector}
	case *ClientJoin:
		out := []Node{x.Projection}
		out = append(out, x.OuterKey...)
		return append(out, x.InnerKey...)
	case *Insert:
		out := []Node{x.Table}
		out = appendAssignments(out, x.Assignments)
		if x.Result != nil {
			out = append(out, x.Result)
		}
		return out
	case *Update:
		out := compact([]Node{x.Table, x.Where})
		out = appendAssignments(out, x.Assignments)
		if x.Result != nil {
			out = append(out, x.Result)
		}
		return out
	case *Upsert:
		return compact([]Node{x.Check, x.Insert, x.Update})
	case *Delete:
		return compact([]Node{x.Table, x.Where})
	case *Batch:
		return []Node{x.Input, x.Operation}
	}
	return nil
}

func appendAssignments(out []Node, as []ColumnAssignment) []Node {
	for _, a := range as {
		out = append(out, a.Column, a.Expr)
	}
	return out
}

func compact(ns []Node) []Node {
	out := ns[:0]
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Inspect traverses the tree in depth-first order, calling f for each node.
// If f returns false, Inspect skips the node's children.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, f)
	}
}

// DeclaredAliases returns the aliases a FROM source makes visible: the alias
// of a select or table, or the aliases of both sides of a join.
func DeclaredAliases(source Node) map[*TableAlias]bool {
	out := make(map[*TableAlias]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch x := n.(type) {
		case *Select:
			out[x.Alias] = true
		case *Table:
			out[x.Alias] = true
		case *Join:
			walk(x.Left)
			walk(x.Right)
		}
	}
	walk(source)
	return out
}

// ReferencedAliases returns the aliases of every column referenced under n.
func ReferencedAliases(n Node) map[*TableAlias]bool {
	out := make(map[*TableAlias]bool)
	Inspect(n, func(x Node) bool {
		if c, ok := x.(*Column); ok {
			out[c.Alias] = true
		}
		return true
	})
	return out
}

// References reports whether any column under n reads from alias.
func References(n Node, alias *TableAlias) bool {
	found := false
	Inspect(n, func(x Node) bool {
		if c, ok := x.(*Column); ok && c.Alias == alias {
			found = true
		}
		return !found
	})
	return found
}

// HasColumns reports whether n contains any column reference.
func HasColumns(n Node) bool {
	found := false
	Inspect(n, func(x Node) bool {
		if _, ok := x.(*Column); ok {
			found = true
		}
		return !found
	})
	return found
}

// Replace returns n with every occurrence of find, compared by identity,
// replaced by with.
func Replace(n, find, with Node) Node {
	return ReplaceFunc(n, func(x Node) (Node, bool) {
		if x == find {
			return with, true
		}
		return nil, false
	})
}

// ReplaceFunc rewrites n top-down: wherever f returns (r, true) the subtree
// is replaced by r and not descended into.
func ReplaceFunc(n Node, f func(Node) (Node, bool)) Node {
	b := &BaseTransformer{pre: f}
	b.outer = b
	return b.Transform(n)
}

// MapColumns rewrites columns whose alias is in from to use alias to.
func MapColumns(n Node, to *TableAlias, from ...*TableAlias) Node {
	set := make(map[*TableAlias]bool, len(from))
	for _, a := range from {
		set[a] = true
	}
	return ReplaceFunc(n, func(x Node) (Node, bool) {
		if c, ok := x.(*Column); ok && set[c.Alias] {
			return &Column{Alias: to, Name: c.Name, Typ: c.Typ, QueryType: c.QueryType}, true
		}
		return nil, false
	})
}
