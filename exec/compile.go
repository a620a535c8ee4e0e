package exec

import (
	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/translate"
	"github.com/bawdo/relq/visitors"
)

type evalFn func(e *env) (any, error)

// scope maps the columns of one select to the row frame that holds them.
type scope struct {
	outer    *scope
	alias    *nodes.TableAlias
	ordinals map[string]int
	depth    int
}

func newScope(outer *scope, sel *nodes.Select) *scope {
	s := &scope{outer: outer, alias: sel.Alias, ordinals: make(map[string]int, len(sel.Columns))}
	if outer != nil {
		s.depth = outer.depth + 1
	}
	for i, c := range sel.Columns {
		s.ordinals[c.Name] = i
	}
	return s
}

func (s *scope) resolve(c *nodes.Column) (depth, ord int, ok bool) {
	for ; s != nil; s = s.outer {
		if s.alias == c.Alias {
			ord, ok := s.ordinals[c.Name]
			return s.depth, ord, ok
		}
	}
	return 0, 0, false
}

type compiler struct {
	lang     *dialect.Language
	params   map[string][]*nodes.Parameter
	bound    map[*nodes.Parameter]bool
	commands []*Command
	// cur is the unit whose projector is being compiled.
	cur *queryUnit
}

func (c *compiler) fail(n nodes.Node, format string, args ...any) {
	panic(qerrors.New(qerrors.ErrUnsupported, format, args...).WithExpr(nodes.String(n)))
}

func (c *compiler) format(n nodes.Node) *Command {
	vc, err := visitors.Format(c.lang, n)
	if err != nil {
		if qe, ok := err.(*qerrors.Error); ok {
			panic(qe)
		}
		panic(qerrors.Wrap(qerrors.ErrUnsupported, "format", err))
	}
	cmd := &Command{Text: vc.Text, Params: vc.Params, Placeholders: vc.Placeholders, Style: c.lang.Params, Sources: []nodes.Node{n}}
	c.commands = append(c.commands, cmd)
	return cmd
}

// args compiles, in s, the values of the parameters cmd binds. The named
// values are looked up in n, outside the projections nested in it.
func (c *compiler) args(s *scope, n nodes.Node, cmd *Command) []evalFn {
	named := make(map[string]*nodes.NamedValue)
	nodes.Inspect(n, func(x nodes.Node) bool {
		switch v := x.(type) {
		case *nodes.Projection:
			return x == n
		case *nodes.NamedValue:
			if _, ok := named[v.Name]; !ok {
				named[v.Name] = v
			}
			return false
		}
		return true
	})
	out := make([]evalFn, len(cmd.Params))
	for i, p := range cmd.Params {
		nv, ok := named[p.Name]
		if !ok {
			c.fail(n, "parameter %s has no value", p.Name)
		}
		out[i] = c.expr(s, nv.Value)
	}
	return out
}

func evalAll(e *env, fns []evalFn) ([]any, error) {
	out := make([]any, len(fns))
	for i, f := range fns {
		v, err := f(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// --- Queries ---

// queryUnit runs one select and rebuilds a value from each of its rows.
type queryUnit struct {
	cmd     *Command
	args    []evalFn
	depth   int
	width   int
	project evalFn
	elem    model.Type
	shape   nodes.Shape
	skip    evalFn
	// buffer reads all rows before projecting, since the projector runs
	// queries of its own.
	buffer  bool
	dropNil bool
	joins   []*joinUnit
}

func (c *compiler) projection(s *scope, p *nodes.Projection) *queryUnit {
	u, _ := c.projectionScope(s, p)
	return u
}

func (c *compiler) projectionScope(s *scope, p *nodes.Projection) (*queryUnit, *scope) {
	sel := p.Select
	if s != nil {
		sel, _ = translate.ParameterizeOuter(c.lang, sel)
	}
	u := &queryUnit{elem: p.Projector.Type(), width: len(sel.Columns)}
	u.cmd = c.format(sel)
	u.args = c.args(s, sel, u.cmd)
	if p.Aggregator != nil {
		u.shape = p.Aggregator.Shape
		if p.Aggregator.Skip != nil {
			u.skip = c.expr(s, p.Aggregator.Skip)
		}
	}
	_, u.dropNil = p.Projector.(*nodes.OuterJoined)
	us := newScope(s, sel)
	u.depth = us.depth
	saved := c.cur
	c.cur = u
	u.project = c.expr(us, p.Projector)
	c.cur = saved
	return u, us
}

func (u *queryUnit) iterate(e *env) (*Iterator, error) {
	values, err := evalAll(e, u.args)
	if err != nil {
		return nil, err
	}
	skip := 0
	if u.skip != nil {
		v, err := u.skip(e)
		if err != nil {
			return nil, err
		}
		n, err := model.Convert(v, model.Int)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrArgument, "skip", err)
		}
		skip = int(n.(int64))
	}
	for _, j := range u.joins {
		if err := j.load(e); err != nil {
			return nil, err
		}
	}
	cur, err := e.query(u.cmd, values)
	if err != nil {
		return nil, err
	}
	if u.buffer {
		rc, err := drain(cur, u.width)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrRuntime, "read", err)
		}
		cur = rc
	}
	return newIterator(func() (any, bool, error) {
		for cur.Next() {
			e.setFrame(u.depth, readRow(cur, u.width))
			if skip > 0 {
				skip--
				continue
			}
			v, err := u.project(e)
			if err != nil {
				return nil, false, err
			}
			if v == nil && u.dropNil {
				continue
			}
			return v, true, nil
		}
		if err := cur.Err(); err != nil {
			return nil, false, qerrors.Wrap(qerrors.ErrRuntime, "read", err)
		}
		return nil, false, nil
	}, cur.Close), nil
}

// value runs the unit and shapes its results: a slice for sequences, one
// value for singletons.
func (u *queryUnit) value(e *env) (any, error) {
	it, err := u.iterate(e)
	if err != nil {
		return nil, err
	}
	return shape(it, u.shape, u.elem)
}

// joinUnit is a nested query loaded once per run of the unit that owns it
// and matched to each row of that unit by key.
type joinUnit struct {
	unit     *queryUnit
	outerKey []evalFn
	innerKey []evalFn
	nullKeys bool
}

func (c *compiler) clientJoin(s *scope, cj *nodes.ClientJoin) evalFn {
	owner := c.cur
	if owner == nil {
		c.fail(cj, "client join outside a projector")
	}
	j := &joinUnit{nullKeys: cj.NullKeys}
	var us *scope
	j.unit, us = c.projectionScope(s, cj.Projection)
	for _, k := range cj.InnerKey {
		j.innerKey = append(j.innerKey, c.key(us, k))
	}
	for _, k := range cj.OuterKey {
		j.outerKey = append(j.outerKey, c.key(s, k))
	}
	owner.joins = append(owner.joins, j)
	return j.match
}

// key compiles a key part, keeping NULL as nil.
func (c *compiler) key(s *scope, n nodes.Node) evalFn {
	if col, ok := n.(*nodes.Column); ok {
		return c.column(s, col, true)
	}
	return c.expr(s, n)
}

func (j *joinUnit) load(e *env) error {
	it, err := j.unit.iterate(e)
	if err != nil {
		return err
	}
	lookup := make(map[any][]any)
	for it.Next() {
		key, ok, err := keyOf(e, j.innerKey, j.nullKeys)
		if err != nil {
			_ = it.Close()
			return err
		}
		if ok {
			lookup[key] = append(lookup[key], it.Value())
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	e.lookups[j] = lookup
	return nil
}

func (j *joinUnit) match(e *env) (any, error) {
	key, ok, err := keyOf(e, j.outerKey, j.nullKeys)
	if err != nil {
		return nil, err
	}
	var rows []any
	if ok {
		rows = e.lookups[j][key]
	}
	return shape(SliceIterator(rows), j.unit.shape, j.unit.elem)
}

// keyOf evaluates a compound key. A NULL part matches nothing unless
// nullKeys is set.
func keyOf(e *env, parts []evalFn, nullKeys bool) (any, bool, error) {
	vals, err := evalAll(e, parts)
	if err != nil {
		return nil, false, err
	}
	for _, v := range vals {
		if v == nil && !nullKeys {
			return nil, false, nil
		}
	}
	return model.Key(vals...), true, nil
}

// --- Commands ---

// outcome is the result of one command.
type outcome struct {
	rows   int64
	result any
	read   bool
}

func (o outcome) value() any {
	if o.read {
		return o.result
	}
	return o.rows
}

type runner interface {
	run(e *env) (outcome, error)
}

func (c *compiler) command(s *scope, n nodes.Node) runner {
	switch x := n.(type) {
	case *nodes.Insert:
		return c.simple(s, x, x.Result)
	case *nodes.Update:
		return c.simple(s, x, x.Result)
	case *nodes.Delete:
		return c.simple(s, x, nil)
	case *nodes.Upsert:
		if c.lang.Upsert == dialect.UpsertClient {
			return c.clientUpsert(s, x)
		}
		return c.simple(s, x, x.Insert.Result)
	}
	c.fail(n, "%T is not a command", n)
	return nil
}

// commandUnit runs one command and reads back its result, if it has one.
type commandUnit struct {
	cmd    *Command
	args   []evalFn
	result *queryUnit
	// combined units send the command and the result query as one text.
	combined bool
}

func (c *compiler) simple(s *scope, n nodes.Node, result *nodes.Projection) *commandUnit {
	cu := &commandUnit{cmd: c.format(n)}
	cu.args = c.args(s, n, cu.cmd)
	if result == nil {
		return cu
	}
	cu.result = c.projection(s, result)
	if c.canCombine(n) {
		c.combine(cu)
	}
	return cu
}

// canCombine reports whether n and its read-back can share one text. An
// insert always changes its row; other commands need the dialect's row
// count guard so that a command matching nothing reads nothing back.
func (c *compiler) canCombine(n nodes.Node) bool {
	if !c.lang.MultipleCommands || c.lang.Params == dialect.ParamPositional {
		return false
	}
	_, insert := n.(*nodes.Insert)
	return insert || c.lang.RowCountGuard != ""
}

// combine folds the command into the text of its result query, so that
// values the command generates are read in the same request.
func (c *compiler) combine(cu *commandUnit) {
	res := *cu.result
	merged := &Command{
		Text:         cu.cmd.Text + ";\n" + c.lang.RowCountGuard + res.cmd.Text,
		Params:       append([]visitors.Param(nil), cu.cmd.Params...),
		Placeholders: append(append([]string(nil), cu.cmd.Placeholders...), res.cmd.Placeholders...),
		Style:        cu.cmd.Style,
		Sources:      append(append([]nodes.Node(nil), cu.cmd.Sources...), res.cmd.Sources...),
	}
	args := append([]evalFn(nil), cu.args...)
	for i, p := range res.cmd.Params {
		if merged.Index(p.Name) < 0 {
			merged.Params = append(merged.Params, p)
			args = append(args, res.args[i])
		}
	}
	kept := c.commands[:0]
	for _, cmd := range c.commands {
		switch cmd {
		case cu.cmd:
			kept = append(kept, merged)
		case res.cmd:
		default:
			kept = append(kept, cmd)
		}
	}
	c.commands = kept
	res.cmd, res.args = merged, args
	cu.cmd, cu.result, cu.combined = merged, &res, true
}

func (cu *commandUnit) run(e *env) (outcome, error) {
	if cu.combined {
		it, err := cu.result.iterate(e)
		if err != nil {
			return outcome{}, err
		}
		vals, err := it.All()
		if err != nil {
			return outcome{}, err
		}
		if len(vals) == 0 {
			return outcome{read: true, result: model.Zero(cu.result.elem)}, nil
		}
		v, err := shape(SliceIterator(vals), cu.result.shape, cu.result.elem)
		return outcome{rows: int64(len(vals)), result: v, read: true}, err
	}
	values, err := evalAll(e, cu.args)
	if err != nil {
		return outcome{}, err
	}
	n, err := e.nonQuery(cu.cmd, values)
	if err != nil || cu.result == nil {
		return outcome{rows: n}, err
	}
	if n == 0 {
		return outcome{read: true, result: model.Zero(cu.result.elem)}, nil
	}
	v, err := cu.result.value(e)
	return outcome{rows: n, result: v, read: true}, err
}

// upsertUnit checks for the row, then updates or inserts it.
type upsertUnit struct {
	check     *Command
	checkArgs []evalFn
	update    *commandUnit
	insert    *commandUnit
}

func (c *compiler) clientUpsert(s *scope, n *nodes.Upsert) *upsertUnit {
	ex, ok := n.Check.(*nodes.Exists)
	if !ok {
		c.fail(n.Check, "upsert check must be an existence test")
	}
	u := &upsertUnit{check: c.format(ex.Select)}
	u.checkArgs = c.args(s, ex.Select, u.check)
	u.update = c.simple(s, n.Update, n.Update.Result)
	u.insert = c.simple(s, n.Insert, n.Insert.Result)
	return u
}

func (u *upsertUnit) run(e *env) (outcome, error) {
	values, err := evalAll(e, u.checkArgs)
	if err != nil {
		return outcome{}, err
	}
	cur, err := e.query(u.check, values)
	if err != nil {
		return outcome{}, err
	}
	exists := cur.Next()
	err = cur.Err()
	_ = cur.Close()
	if err != nil {
		return outcome{}, qerrors.Wrap(qerrors.ErrRuntime, "read", err)
	}
	if exists {
		return u.update.run(e)
	}
	return u.insert.run(e)
}
