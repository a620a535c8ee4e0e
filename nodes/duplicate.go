package nodes

type duplicator struct {
	*BaseTransformer
	aliases map[*TableAlias]*TableAlias
}

// Duplicate copies n giving every select and table declared inside it a
// fresh alias. Columns that reference aliases declared outside n are kept.
func Duplicate(n Node) Node {
	d := &duplicator{aliases: make(map[*TableAlias]*TableAlias)}
	d.BaseTransformer = NewBaseTransformer(d)
	Inspect(n, func(x Node) bool {
		switch s := x.(type) {
		case *Select:
			d.aliases[s.Alias] = NewAlias()
		case *Table:
			d.aliases[s.Alias] = NewAlias()
		}
		return true
	})
	return d.Transform(n)
}

func (d *duplicator) TransformSelect(n *Select) Node {
	s := d.BaseTransformer.TransformSelect(n).(*Select)
	if s == n {
		s = n.clone()
	}
	s.Alias = d.aliases[n.Alias]
	return s
}

func (d *duplicator) TransformTable(n *Table) Node {
	return &Table{Alias: d.aliases[n.Alias], Entity: n.Entity, Name: n.Name}
}

func (d *duplicator) TransformColumn(n *Column) Node {
	if a, ok := d.aliases[n.Alias]; ok {
		return &Column{Alias: a, Name: n.Name, Typ: n.Typ, QueryType: n.QueryType}
	}
	return n
}
