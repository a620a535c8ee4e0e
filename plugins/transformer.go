// Package plugins defines the Transformer interface for tree middleware.
// Plugins run on the bound tree, before optimization, so they see every
// select with its source tables still in place.
package plugins

import (
	"fmt"

	"github.com/bawdo/relq/nodes"
)

// Transformer is the interface that tree transformation plugins implement.
// Plugins embed BaseTransformer and override only the methods they need.
// Trees are shared, so a hook returns a modified copy instead of changing
// its argument.
type Transformer interface {
	TransformSelect(sel *nodes.Select) (*nodes.Select, error)
	TransformInsert(stmt *nodes.Insert) (*nodes.Insert, error)
	TransformUpdate(stmt *nodes.Update) (*nodes.Update, error)
	TransformDelete(stmt *nodes.Delete) (*nodes.Delete, error)
}

// BaseTransformer provides no-op defaults for all Transformer methods.
// Plugins embed this and override only the methods they care about.
type BaseTransformer struct{}

func (BaseTransformer) TransformSelect(s *nodes.Select) (*nodes.Select, error) {
	return s, nil
}
func (BaseTransformer) TransformInsert(s *nodes.Insert) (*nodes.Insert, error) {
	return s, nil
}
func (BaseTransformer) TransformUpdate(s *nodes.Update) (*nodes.Update, error) {
	return s, nil
}
func (BaseTransformer) TransformDelete(s *nodes.Delete) (*nodes.Delete, error) {
	return s, nil
}

// Apply runs ts, in order, over every select and command in n. Nested
// selects are transformed before the selects that contain them.
func Apply(n nodes.Node, ts ...Transformer) (out nodes.Node, err error) {
	if len(ts) == 0 {
		return n, nil
	}
	a := &applier{ts: ts}
	a.BaseTransformer = nodes.NewBaseTransformer(a)
	defer func() {
		if r := recover(); r != nil {
			ae, ok := r.(applyError)
			if !ok {
				panic(r)
			}
			out, err = nil, ae.err
		}
	}()
	return a.Transform(n), nil
}

type applyError struct{ err error }

type applier struct {
	*nodes.BaseTransformer
	ts []Transformer
}

func check(t Transformer, err error) {
	if err != nil {
		panic(applyError{fmt.Errorf("plugin %T: %w", t, err)})
	}
}

func (a *applier) TransformSelect(n *nodes.Select) nodes.Node {
	sel := a.BaseTransformer.TransformSelect(n).(*nodes.Select)
	for _, t := range a.ts {
		r, err := t.TransformSelect(sel)
		check(t, err)
		sel = r
	}
	return sel
}

func (a *applier) TransformInsert(n *nodes.Insert) nodes.Node {
	stmt := a.BaseTransformer.TransformInsert(n).(*nodes.Insert)
	for _, t := range a.ts {
		r, err := t.TransformInsert(stmt)
		check(t, err)
		stmt = r
	}
	return stmt
}

func (a *applier) TransformUpdate(n *nodes.Update) nodes.Node {
	stmt := a.BaseTransformer.TransformUpdate(n).(*nodes.Update)
	for _, t := range a.ts {
		r, err := t.TransformUpdate(stmt)
		check(t, err)
		stmt = r
	}
	return stmt
}

func (a *applier) TransformDelete(n *nodes.Delete) nodes.Node {
	stmt := a.BaseTransformer.TransformDelete(n).(*nodes.Delete)
	for _, t := range a.ts {
		r, err := t.TransformDelete(stmt)
		check(t, err)
		stmt = r
	}
	return stmt
}
