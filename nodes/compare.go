package nodes

// Equivalent reports whether a and b have the same shape once the aliases
// each tree declares are paired up in declaration order. Aliases declared
// outside both trees must be identical.
func Equivalent(a, b Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	var shared []*TableAlias
	return String(canonical(a, &shared)) == String(canonical(b, &shared))
}

func canonical(n Node, shared *[]*TableAlias) Node {
	aliases := make(map[*TableAlias]*TableAlias)
	i := 0
	Inspect(n, func(x Node) bool {
		var a *TableAlias
		switch s := x.(type) {
		case *Select:
			a = s.Alias
		case *Table:
			a = s.Alias
		}
		if a != nil {
			if i == len(*shared) {
				*shared = append(*shared, NewAlias())
			}
			aliases[a] = (*shared)[i]
			i++
		}
		return true
	})
	d := &duplicator{aliases: aliases}
	d.BaseTransformer = NewBaseTransformer(d)
	return d.Transform(n)
}
