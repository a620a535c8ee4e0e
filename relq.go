// Package relq compiles typed, composable queries over mapped entities to
// SQL and runs them.
//
// This package re-exports the pieces most programs need. Advanced users can
// import subpackages directly:
//   - github.com/bawdo/relq/query (query and command builders)
//   - github.com/bawdo/relq/mapping (entity to table mappings)
//   - github.com/bawdo/relq/provider (compilation, caching and execution)
//   - github.com/bawdo/relq/dialect (SQL dialects)
//   - github.com/bawdo/relq/plugins (query transformers)
package relq

import (
	"database/sql"
	"log/slog"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/plugins"
	"github.com/bawdo/relq/provider"
	"github.com/bawdo/relq/query"
)

// --- Core Types ---

// Provider compiles queries for one dialect and mapping and runs them.
type Provider = provider.Provider

// Option configures a Provider.
type Option = provider.Option

// Queryable is a composable query over a sequence.
type Queryable = query.Queryable

// Command is an insert, update, upsert, delete or batch.
type Command = query.Command

// Args binds query arguments by name.
type Args = exec.Args

// Plan is a compiled query: its commands and how their results combine.
type Plan = exec.Plan

// Resolver maps entity members onto tables and columns.
type Resolver = mapping.Resolver

// --- Constructors ---

// Open returns a provider that compiles for the named dialect and runs
// against db.
func Open(db *sql.DB, dialectName string, r Resolver, opts ...Option) (*Provider, error) {
	lang, err := dialect.Lookup(dialectName)
	if err != nil {
		return nil, err
	}
	return provider.New(mapping.NewMapper(r, lang), sqldb.New(db), opts...), nil
}

// Compiler returns a provider that only compiles: Plan and QueryText work,
// execution fails.
func Compiler(dialectName string, r Resolver, opts ...Option) (*Provider, error) {
	lang, err := dialect.Lookup(dialectName)
	if err != nil {
		return nil, err
	}
	return provider.New(mapping.NewMapper(r, lang), nil, opts...), nil
}

// From starts a query over the table entity type t maps to.
func From(p *Provider, t *model.Struct) (Queryable, error) {
	e, err := p.Mapper().Resolver.Entity(t)
	if err != nil {
		return Queryable{}, err
	}
	return query.From(e), nil
}

// --- Options ---

// WithLogger logs compiled commands at debug level.
func WithLogger(l *slog.Logger) Option { return provider.WithLogger(l) }

// WithPlugins applies transformers to every compiled select and command.
func WithPlugins(ts ...plugins.Transformer) Option { return provider.WithPlugins(ts...) }

// WithPolicy sets which associations are loaded with their owner.
func WithPolicy(p mapping.Policy) Option { return provider.WithPolicy(p) }

// WithoutCache compiles every query afresh.
func WithoutCache() Option { return provider.WithoutCache() }
