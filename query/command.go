package query

import (
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Command is a mutation ready to compile.
type Command struct {
	expr nodes.Node
}

// Expr returns the built command expression.
func (c Command) Expr() nodes.Node { return c.expr }

type commandConfig struct {
	check  *nodes.Lambda
	result *nodes.Lambda
}

// CommandOption configures a mutation.
type CommandOption func(*commandConfig)

// WithCheck restricts the command to rows check accepts. The lambda
// receives the current row of the table.
func WithCheck(check *nodes.Lambda) CommandOption {
	return func(c *commandConfig) { c.check = check }
}

// WithResult reads the affected row back through sel instead of returning
// the affected row count.
func WithResult(sel *nodes.Lambda) CommandOption {
	return func(c *commandConfig) { c.result = sel }
}

func configure(opts []CommandOption) *commandConfig {
	cfg := &commandConfig{}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

func command(m nodes.Method, e *nodes.MappingEntity, typ model.Type, args ...nodes.Node) Command {
	for len(args) > 0 && args[len(args)-1] == nil {
		args = args[:len(args)-1]
	}
	all := append([]nodes.Node{&nodes.Root{Entity: e}}, args...)
	return Command{expr: &nodes.Call{Method: m, Args: all, Typ: typ}}
}

func resultType(cfg *commandConfig) model.Type {
	if cfg.result != nil {
		return cfg.result.Type()
	}
	return model.Int
}

// lambda keeps an absent lambda an untyped nil argument.
func lambda(l *nodes.Lambda) nodes.Node {
	if l == nil {
		return nil
	}
	return l
}

// Insert adds instance to e's table.
func Insert(e *nodes.MappingEntity, instance nodes.Node, opts ...CommandOption) Command {
	cfg := configure(opts)
	return command(nodes.MethodInsert, e, resultType(cfg), instance, lambda(cfg.result))
}

// Update writes instance over the row with the same identity.
func Update(e *nodes.MappingEntity, instance nodes.Node, opts ...CommandOption) Command {
	cfg := configure(opts)
	return command(nodes.MethodUpdate, e, resultType(cfg), instance, lambda(cfg.check), lambda(cfg.result))
}

// InsertOrUpdate updates the row of instance when it exists and inserts it
// otherwise.
func InsertOrUpdate(e *nodes.MappingEntity, instance nodes.Node, opts ...CommandOption) Command {
	cfg := configure(opts)
	return command(nodes.MethodInsertOrUpdate, e, resultType(cfg), instance, lambda(cfg.check), lambda(cfg.result))
}

// Delete removes the row of instance. A nil instance with WithCheck deletes
// every row the check accepts.
func Delete(e *nodes.MappingEntity, instance nodes.Node, opts ...CommandOption) Command {
	cfg := configure(opts)
	if instance == nil {
		instance = nodes.NewConstant(nil, e.Type)
	}
	return command(nodes.MethodDelete, e, model.Int, instance, lambda(cfg.check))
}

// DeleteWhere removes every row pred accepts.
func DeleteWhere(e *nodes.MappingEntity, pred *nodes.Lambda) Command {
	return Delete(e, nil, WithCheck(pred))
}

type batchConfig struct {
	size   int
	stream bool
}

// BatchOption configures a batch.
type BatchOption func(*batchConfig)

// WithBatchSize sets how many items share one round trip on dialects that
// accept several commands per request.
func WithBatchSize(n int) BatchOption {
	return func(c *batchConfig) { c.size = n }
}

// Streamed yields per-item results as they complete instead of after the
// whole batch.
func Streamed() BatchOption {
	return func(c *batchConfig) { c.stream = true }
}

// DefaultBatchSize is the batch size when none is given.
const DefaultBatchSize = 50

// Batch applies op to every item supplied at execution. op receives the
// item and must build one command over it; its parameter is typed elem.
func Batch(e *nodes.MappingEntity, elem model.Type, op func(item nodes.Node) Command, opts ...BatchOption) Command {
	cfg := &batchConfig{size: DefaultBatchSize}
	for _, o := range opts {
		o(cfg)
	}
	item := nodes.NewParameter("item", elem)
	body := op(item).expr
	items := nodes.NewParameter("items", model.SeqOf(elem))
	return Command{expr: &nodes.Call{
		Method: nodes.MethodBatch,
		Args: []nodes.Node{
			&nodes.Root{Entity: e},
			items,
			nodes.NewLambda(body, item),
			nodes.NewConstant(int64(cfg.size), model.Int),
			nodes.NewConstant(cfg.stream, model.Bool),
		},
		Typ: model.SeqOf(body.Type()),
	}}
}
