package exec

import (
	"reflect"

	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
)

// batchUnit runs one command per item.
type batchUnit struct {
	input evalFn
	item  *nodes.Parameter
	op    runner
	// plain is set when the command reads nothing back, so that a
	// BatchRuntime may run it in chunks.
	plain  *commandUnit
	size   int
	stream bool
}

func (c *compiler) batch(b *nodes.Batch) *batchUnit {
	if len(b.Operation.Params) != 1 {
		c.fail(b.Operation, "batch operation takes one item")
	}
	item := b.Operation.Params[0]
	c.bound[item] = true
	bu := &batchUnit{input: c.expr(nil, b.Input), item: item, size: b.BatchSize, stream: b.Stream}
	bu.op = c.command(nil, b.Operation.Body)
	if cu, ok := bu.op.(*commandUnit); ok && cu.result == nil {
		bu.plain = cu
	}
	if bu.size < 1 {
		bu.size = 1
	}
	return bu
}

func (bu *batchUnit) run(e *env) (any, error) {
	v, err := bu.input(e)
	if err != nil {
		return nil, err
	}
	items, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	var next func() ([]BatchResult, bool)
	if br, ok := e.rt.(BatchRuntime); ok && bu.plain != nil {
		next = bu.chunks(e, br, items)
	} else {
		next = bu.oneByOne(e, items)
	}
	var pending []BatchResult
	it := newIterator(func() (any, bool, error) {
		for len(pending) == 0 {
			rs, ok := next()
			if !ok {
				return nil, false, nil
			}
			pending = rs
		}
		r := pending[0]
		pending = pending[1:]
		return r, true, nil
	}, nil)
	if bu.stream {
		return it, nil
	}
	all, err := it.All()
	if err != nil {
		return nil, err
	}
	return SliceIterator(all), nil
}

func (bu *batchUnit) bind(e *env, item any) error {
	v, err := convertArg(item, bu.item.Typ)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrArgument, "batch item", err)
	}
	e.params[bu.item] = v
	return nil
}

func (bu *batchUnit) oneByOne(e *env, items []any) func() ([]BatchResult, bool) {
	i := 0
	return func() ([]BatchResult, bool) {
		if i >= len(items) {
			return nil, false
		}
		r := BatchResult{Index: i}
		if err := bu.bind(e, items[i]); err != nil {
			r.Err = err
		} else {
			out, err := bu.op.run(e)
			r.Rows, r.Err = out.rows, err
			if out.read {
				r.Value = out.result
			}
		}
		i++
		return []BatchResult{r}, true
	}
}

// chunks hands the runtime size items at a time. Items whose values fail
// to evaluate are reported without being sent.
func (bu *batchUnit) chunks(e *env, br BatchRuntime, items []any) func() ([]BatchResult, bool) {
	start := 0
	return func() ([]BatchResult, bool) {
		if start >= len(items) {
			return nil, false
		}
		end := min(start+bu.size, len(items))
		var out []BatchResult
		var values [][]any
		var index []int
		for i := start; i < end; i++ {
			err := bu.bind(e, items[i])
			var vals []any
			if err == nil {
				vals, err = evalAll(e, bu.plain.args)
			}
			if err != nil {
				out = append(out, BatchResult{Index: i, Err: err})
				continue
			}
			values = append(values, vals)
			index = append(index, i)
		}
		start = end
		if len(values) == 0 {
			return out, true
		}
		p, err := e.prepare(bu.plain.cmd)
		var rs []BatchResult
		if err == nil {
			rs, err = br.ExecuteBatch(e.ctx, p, values, bu.size)
		}
		if err != nil {
			err = qerrors.Wrap(qerrors.ErrRuntime, "batch", err)
			for _, i := range index {
				out = append(out, BatchResult{Index: i, Err: err})
			}
			return out, true
		}
		for _, r := range rs {
			if r.Index >= 0 && r.Index < len(index) {
				r.Index = index[r.Index]
			}
			if r.Err != nil {
				r.Err = qerrors.Wrap(qerrors.ErrRuntime, "batch item", r.Err)
			}
			out = append(out, r)
		}
		return out, true
	}
}

// toSlice accepts any slice of items.
func toSlice(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, qerrors.New(qerrors.ErrArgument, "batch items must be a slice, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
