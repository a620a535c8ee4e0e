// Package provider ties the compiler together: it binds, transforms,
// optimizes and builds query trees into plans, caches the plans by query
// shape and runs them against a runtime.
package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/nodes"
	"github.com/bawdo/relq/optimize"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/qerrors"
	"github.com/bawdo/relq/translate"
)

// Expression is anything that carries a query or command tree, such as
// query.Queryable and query.Command.
type Expression interface {
	Expr() nodes.Node
}

// Provider compiles and executes queries for one data source. It is safe
// for concurrent use when its runtime is.
type Provider struct {
	mapper  *mapping.Mapper
	rt      exec.Runtime
	policy  mapping.Policy
	plugins []plugins.Transformer
	cache   *PlanCache
	logger  *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Commands, cache lookups and batch progress
// are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithPolicy sets the policy deciding which associations are loaded with
// their owners and which are deferred.
func WithPolicy(policy mapping.Policy) Option {
	return func(p *Provider) { p.policy = policy }
}

// WithPlugins adds tree transformers, applied in order after binding.
// Plugins run once per cached plan, so a plugin whose output depends on
// outside state should be paired with WithoutCache.
func WithPlugins(ts ...plugins.Transformer) Option {
	return func(p *Provider) { p.plugins = append(p.plugins, ts...) }
}

// WithCache makes the provider use c, which may be shared with other
// providers configured the same way.
func WithCache(c *PlanCache) Option {
	return func(p *Provider) { p.cache = c }
}

// WithoutCache compiles every query afresh.
func WithoutCache() Option {
	return func(p *Provider) { p.cache = nil }
}

// New returns a provider compiling with m and executing on rt. rt may be
// nil for a provider that only compiles.
func New(m *mapping.Mapper, rt exec.Runtime, opts ...Option) *Provider {
	p := &Provider{mapper: m, cache: NewPlanCache()}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if rt != nil {
		rt = newLoggingRuntime(rt, p.logger)
	}
	p.rt = rt
	return p
}

// Mapper returns the mapper the provider compiles with.
func (p *Provider) Mapper() *mapping.Mapper { return p.mapper }

// Cache returns the provider's plan cache, or nil.
func (p *Provider) Cache() *PlanCache { return p.cache }

// Plan returns the compiled plan for q, from the cache when it holds one.
func (p *Provider) Plan(q Expression) (*exec.Plan, error) {
	n := q.Expr()
	if n == nil {
		return nil, qerrors.New(qerrors.ErrArgument, "empty expression")
	}
	if p.cache == nil {
		return p.compile(n)
	}
	key, ok := cacheKey(n)
	if !ok {
		p.logger.Debug("relq: plan not cacheable")
		return p.compile(n)
	}
	plan, hit, err := p.cache.GetOrCompile(key, func() (*exec.Plan, error) { return p.compile(n) })
	if err != nil {
		return nil, err
	}
	p.logger.Debug("relq: plan cache", "hit", hit)
	return plan, nil
}

func (p *Provider) compile(n nodes.Node) (*exec.Plan, error) {
	bound, err := translate.Bind(p.mapper, n)
	if err != nil {
		return nil, err
	}
	if bound, err = plugins.Apply(bound, p.plugins...); err != nil {
		return nil, err
	}
	opt, err := optimize.Pipeline{Mapper: p.mapper, Policy: p.policy}.Optimize(bound)
	if err != nil {
		return nil, err
	}
	return exec.Build(p.mapper.Lang, translate.Parameterize(p.mapper.Lang, opt))
}

// QueryText returns the text of every command q compiles to, separated by
// blank lines.
func (p *Provider) QueryText(q Expression) (string, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(plan.Commands))
	for i, cmd := range plan.Commands {
		texts[i] = cmd.Text
	}
	return strings.Join(texts, "\n\n"), nil
}

// Execute runs q. Sequences and batches yield an *exec.Iterator the caller
// must drain or close; singletons yield the value; commands yield the
// affected row count or the read-back value.
func (p *Provider) Execute(ctx context.Context, q Expression, args exec.Args) (any, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	return plan.Execute(ctx, p.rt, args)
}

// ExecuteAll runs q and buffers the whole result: sequences come back as
// []any, everything else as Execute returns it.
func (p *Provider) ExecuteAll(ctx context.Context, q Expression, args exec.Args) (any, error) {
	v, err := p.Execute(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if it, ok := v.(*exec.Iterator); ok {
		return it.All()
	}
	return v, nil
}

// ExecuteCommand runs an insert, update, upsert or delete. It returns the
// affected row count as int64, or the value the command reads back.
func (p *Provider) ExecuteCommand(ctx context.Context, q Expression, args exec.Args) (any, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	if plan.Kind != exec.KindCommand {
		return nil, qerrors.New(qerrors.ErrArgument, "%s is not a command", nodes.String(q.Expr()))
	}
	return plan.Execute(ctx, p.rt, args)
}

// ExecuteBatch runs a batch command over items and returns an iterator of
// exec.BatchResult, one per item in item order. A failing item does not
// stop the others.
func (p *Provider) ExecuteBatch(ctx context.Context, q Expression, items any) (*exec.Iterator, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return nil, err
	}
	if plan.Kind != exec.KindBatch {
		return nil, qerrors.New(qerrors.ErrArgument, "%s is not a batch", nodes.String(q.Expr()))
	}
	v, err := plan.Execute(ctx, p.rt, exec.Args{"items": items})
	if err != nil {
		return nil, err
	}
	return v.(*exec.Iterator), nil
}

// BatchResults drains a batch iterator.
func BatchResults(it *exec.Iterator) ([]exec.BatchResult, error) {
	all, err := it.All()
	if err != nil {
		return nil, err
	}
	out := make([]exec.BatchResult, len(all))
	for i, v := range all {
		out[i] = v.(exec.BatchResult)
	}
	return out, nil
}
