// Package dialect describes what a target SQL language can express. The
// optimizer reads it to choose pagination and join rewrites, the mapper reads
// it to build insert result queries, and the formatters read it for quoting,
// parameter placeholders and column types.
package dialect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bawdo/relq/internal/quoting"
	"github.com/bawdo/relq/model"
	"github.com/bawdo/relq/nodes"
)

// Pagination is the strategy used to translate Skip.
type Pagination int

const (
	// PaginationNative renders skip with LIMIT/OFFSET.
	PaginationNative Pagination = iota
	// PaginationRowNumber filters on a ROW_NUMBER() pseudo-column.
	PaginationRowNumber
	// PaginationNestedOrderBy takes skip+take rows, inverts the order,
	// takes take rows and restores the order.
	PaginationNestedOrderBy
	// PaginationClientSkip asks the server for skip+take rows and drops the
	// first skip rows on the client.
	PaginationClientSkip
)

var paginationNames = [...]string{
	PaginationNative:        "native",
	PaginationRowNumber:     "rownumber",
	PaginationNestedOrderBy: "nested",
	PaginationClientSkip:    "client",
}

func (p Pagination) String() string { return paginationNames[p] }

// ParsePagination parses a strategy name as printed by String.
func ParsePagination(s string) (Pagination, error) {
	for i, n := range paginationNames {
		if strings.EqualFold(n, s) {
			return Pagination(i), nil
		}
	}
	return 0, fmt.Errorf("relq: unknown pagination strategy %q", s)
}

// ParamStyle is how parameters appear in command text.
type ParamStyle int

const (
	// ParamNamed renders @name; each name is bound once.
	ParamNamed ParamStyle = iota
	// ParamPositional renders $n numbered by first appearance.
	ParamPositional
	// ParamOrdinal renders ? and binds one value per occurrence.
	ParamOrdinal
)

// LimitStyle is how Take is rendered.
type LimitStyle int

const (
	LimitTop LimitStyle = iota
	LimitClause
)

// ApplyStyle is how correlated joins are rendered.
type ApplyStyle int

const (
	ApplyNone ApplyStyle = iota
	ApplyNative
	ApplyLateral
)

// UpsertStyle is how insert-or-update commands are issued.
type UpsertStyle int

const (
	// UpsertIfExists renders IF EXISTS (...) UPDATE ... ELSE INSERT ...
	UpsertIfExists UpsertStyle = iota
	// UpsertOnConflict renders INSERT ... ON CONFLICT (keys) DO UPDATE.
	UpsertOnConflict
	// UpsertClient runs the existence check, then one of the two commands.
	UpsertClient
)

// Language is a target SQL dialect. Languages are read-only once built and
// may be shared by concurrent compiles.
//
// RowCountGuard prefixes the read-back of a command sent in the same text,
// so the read-back returns no rows when the command changed none.
type Language struct {
	Name              string
	QuoteIdent        func(string) string
	EscapeString      func(string) string
	Params            ParamStyle
	Pagination        Pagination
	Limit             LimitStyle
	Apply             ApplyStyle
	Upsert            UpsertStyle
	MultipleCommands  bool
	RowCountGuard     string
	SelectWithoutFrom bool
	BooleanValues     bool
	GeneratedID       string
	Types             *TypeSystem
}

// Option configures a Language at construction time.
type Option func(*Language)

// WithPagination overrides the dialect's skip strategy.
func WithPagination(p Pagination) Option {
	return func(l *Language) {
		l.Pagination = p
	}
}

// WithMultipleCommands sets whether several commands may be sent as one
// text.
func WithMultipleCommands(ok bool) Option {
	return func(l *Language) {
		l.MultipleCommands = ok
	}
}

func (l *Language) apply(opts []Option) *Language {
	for _, o := range opts {
		o(l)
	}
	return l
}

// GeneratedIDExpr returns the expression that reads the identity value
// generated by the last insert.
func (l *Language) GeneratedIDExpr() nodes.Node {
	return &nodes.Function{Name: l.GeneratedID, Typ: model.Int}
}

// CanSkip reports whether skip can be expressed on the server at all.
func (l *Language) CanSkip() bool {
	return l.Pagination != PaginationClientSkip
}

// TSQL returns the SQL Server dialect.
func TSQL(opts ...Option) *Language {
	return (&Language{
		Name:              "tsql",
		QuoteIdent:        quoting.Bracket,
		EscapeString:      quoting.EscapeStandard,
		Params:            ParamNamed,
		Pagination:        PaginationRowNumber,
		Limit:             LimitTop,
		Apply:             ApplyNative,
		Upsert:            UpsertIfExists,
		MultipleCommands:  true,
		RowCountGuard:     "IF @@ROWCOUNT > 0 ",
		SelectWithoutFrom: true,
		GeneratedID:       "SCOPE_IDENTITY",
		Types:             tsqlTypes,
	}).apply(opts)
}

// Access returns the Microsoft Access (Jet) dialect.
func Access(opts ...Option) *Language {
	return (&Language{
		Name:         "access",
		QuoteIdent:   quoting.Bracket,
		EscapeString: quoting.EscapeStandard,
		Params:       ParamOrdinal,
		Pagination:   PaginationNestedOrderBy,
		Limit:        LimitTop,
		Upsert:       UpsertClient,
		GeneratedID:  "@@IDENTITY",
		Types:        accessTypes,
	}).apply(opts)
}

// SQLite returns the SQLite dialect.
func SQLite(opts ...Option) *Language {
	return (&Language{
		Name:              "sqlite",
		QuoteIdent:        quoting.DoubleQuote,
		EscapeString:      quoting.EscapeStandard,
		Params:            ParamOrdinal,
		Pagination:        PaginationNative,
		Limit:             LimitClause,
		Upsert:            UpsertOnConflict,
		SelectWithoutFrom: true,
		BooleanValues:     true,
		GeneratedID:       "last_insert_rowid",
		Types:             sqliteTypes,
	}).apply(opts)
}

// Postgres returns the PostgreSQL dialect.
func Postgres(opts ...Option) *Language {
	return (&Language{
		Name:              "postgres",
		QuoteIdent:        quoting.DoubleQuote,
		EscapeString:      quoting.EscapeStandard,
		Params:            ParamPositional,
		Pagination:        PaginationNative,
		Limit:             LimitClause,
		Apply:             ApplyLateral,
		Upsert:            UpsertOnConflict,
		SelectWithoutFrom: true,
		BooleanValues:     true,
		GeneratedID:       "lastval",
		Types:             postgresTypes,
	}).apply(opts)
}

// MySQL returns the MySQL dialect.
func MySQL(opts ...Option) *Language {
	return (&Language{
		Name:              "mysql",
		QuoteIdent:        quoting.Backtick,
		EscapeString:      quoting.EscapeString,
		Params:            ParamOrdinal,
		Pagination:        PaginationNative,
		Limit:             LimitClause,
		Upsert:            UpsertClient,
		SelectWithoutFrom: true,
		BooleanValues:     true,
		GeneratedID:       "LAST_INSERT_ID",
		Types:             mysqlTypes,
	}).apply(opts)
}

var registry = map[string]func(...Option) *Language{
	"tsql":     TSQL,
	"access":   Access,
	"sqlite":   SQLite,
	"postgres": Postgres,
	"mysql":    MySQL,
}

// Lookup returns the dialect registered under name.
func Lookup(name string, opts ...Option) (*Language, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("relq: unknown dialect %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(opts...), nil
}

// Names lists the registered dialects in alphabetical order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
