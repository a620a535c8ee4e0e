package exec

import (
	"context"
	"sort"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/translate"
)

// Args holds query argument values by parameter name.
type Args map[string]any

// Kind is what a plan produces.
type Kind int

const (
	// KindSequence plans yield an *Iterator of results.
	KindSequence Kind = iota
	// KindSingleton plans yield one value.
	KindSingleton
	// KindCommand plans yield the affected row count or the read-back value.
	KindCommand
	// KindBatch plans yield an *Iterator of BatchResult.
	KindBatch
)

// Plan is a compiled query or command. Plans are immutable and may run
// concurrently against different runtimes.
type Plan struct {
	Lang *dialect.Language
	Kind Kind
	// Type is the static type of the result.
	Type model.Type
	// Commands lists every command the plan may run, in compile order.
	Commands []*Command

	params map[string][]*nodes.Parameter
	run    func(e *env) (any, error)
}

// Params returns the names of the query arguments the plan needs.
func (p *Plan) Params() []string {
	names := make([]string, 0, len(p.params))
	for name := range p.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build compiles a bound, optimized and parameterized tree for lang.
// Nested projections correlated with their enclosing select on keys become
// client joins; the rest run once per enclosing row.
func Build(lang *dialect.Language, n nodes.Node) (plan *Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			qe, ok := r.(*qerrors.Error)
			if !ok {
				panic(r)
			}
			plan, err = nil, qe
		}
	}()
	c := &compiler{lang: lang, params: make(map[string][]*nodes.Parameter), bound: make(map[*nodes.Parameter]bool)}
	n = translate.RewriteClientJoins(n)
	plan = &Plan{Lang: lang, Type: n.Type()}
	switch x := n.(type) {
	case *nodes.Projection:
		u := c.projection(nil, x)
		if x.IsSingleton() {
			plan.Kind = KindSingleton
			plan.run = func(e *env) (any, error) { return u.value(e) }
		} else {
			plan.Kind = KindSequence
			plan.run = func(e *env) (any, error) { return u.iterate(e) }
		}
	case *nodes.Insert, *nodes.Update, *nodes.Delete, *nodes.Upsert:
		cu := c.command(nil, x)
		plan.Kind = KindCommand
		plan.run = func(e *env) (any, error) {
			res, err := cu.run(e)
			return res.value(), err
		}
	case *nodes.Batch:
		bu := c.batch(x)
		plan.Kind = KindBatch
		plan.run = bu.run
	default:
		c.fail(n, "%T is not a query or command", n)
	}
	plan.Commands = c.commands
	plan.params = c.params
	return plan, nil
}

// Execute runs the plan. Sequences and batches return an *Iterator the
// caller must drain or close; singletons return the value; commands return
// the affected row count as int64, or the read-back value.
func (p *Plan) Execute(ctx context.Context, rt Runtime, args Args) (any, error) {
	if rt == nil {
		return nil, qerrors.New(qerrors.ErrArgument, "no runtime")
	}
	params, err := p.bind(args)
	if err != nil {
		return nil, err
	}
	e := newEnv(ctx, rt, params)
	v, err := p.run(e)
	if it, ok := v.(*Iterator); ok && err == nil {
		inner := it.close
		it.close = func() error {
			var err error
			if inner != nil {
				err = inner()
			}
			if cerr := e.release(); err == nil {
				err = cerr
			}
			return err
		}
		return it, nil
	}
	if cerr := e.release(); err == nil && cerr != nil {
		err = qerrors.Wrap(qerrors.ErrRuntime, "close", cerr)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Plan) bind(args Args) (map[*nodes.Parameter]any, error) {
	out := make(map[*nodes.Parameter]any)
	for name, ps := range p.params {
		v, ok := args[name]
		if !ok {
			return nil, qerrors.New(qerrors.ErrArgument, "missing argument %q", name)
		}
		for _, param := range ps {
			cv, err := convertArg(v, param.Typ)
			if err != nil {
				return nil, qerrors.Wrap(qerrors.ErrArgument, "argument "+name, err)
			}
			out[param] = cv
		}
	}
	return out, nil
}

func convertArg(v any, t model.Type) (any, error) {
	if v == nil || !model.IsScalar(t) {
		return v, nil
	}
	return model.Convert(v, t)
}

// env is the state of one plan execution.
type env struct {
	ctx      context.Context
	rt       Runtime
	params   map[*nodes.Parameter]any
	frames   [][]any
	lookups  map[*joinUnit]map[any][]any
	prepared map[*Command]Prepared
}

func newEnv(ctx context.Context, rt Runtime, params map[*nodes.Parameter]any) *env {
	return &env{
		ctx:      ctx,
		rt:       rt,
		params:   params,
		lookups:  make(map[*joinUnit]map[any][]any),
		prepared: make(map[*Command]Prepared),
	}
}

func (e *env) setFrame(depth int, row []any) {
	for len(e.frames) <= depth {
		e.frames = append(e.frames, nil)
	}
	e.frames[depth] = row
}

func (e *env) frame(depth int) []any {
	if depth < len(e.frames) {
		return e.frames[depth]
	}
	return nil
}

// snapshot copies what a deferred load needs to run later.
func (e *env) snapshot() *env {
	params := make(map[*nodes.Parameter]any, len(e.params))
	for k, v := range e.params {
		params[k] = v
	}
	s := newEnv(e.ctx, e.rt, params)
	s.frames = append([][]any(nil), e.frames...)
	return s
}

func (e *env) prepare(cmd *Command) (Prepared, error) {
	if p, ok := e.prepared[cmd]; ok {
		return p, nil
	}
	p, err := e.rt.Prepare(e.ctx, cmd)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrRuntime, "prepare", err)
	}
	e.prepared[cmd] = p
	return p, nil
}

func (e *env) query(cmd *Command, values []any) (Cursor, error) {
	p, err := e.prepare(cmd)
	if err != nil {
		return nil, err
	}
	cur, err := e.rt.Execute(e.ctx, p, values)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrRuntime, "execute", err)
	}
	return cur, nil
}

func (e *env) nonQuery(cmd *Command, values []any) (int64, error) {
	p, err := e.prepare(cmd)
	if err != nil {
		return 0, err
	}
	n, err := e.rt.ExecuteNonQuery(e.ctx, p, values)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrRuntime, "execute", err)
	}
	return n, nil
}

// release closes every prepared command.
func (e *env) release() error {
	var first error
	for cmd, p := range e.prepared {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(e.prepared, cmd)
	}
	return first
}
