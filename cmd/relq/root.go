package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/dialect"
	"github.com/bawdo/relq/mapping"
	"github.com/bawdo/relq/model"
)

// rootOptions holds the global flags shared by every command.
type rootOptions struct {
	Dialect    string
	DSN        string
	Driver     string
	Mapping    string
	Pagination string
	Verbose    bool

	logger *slog.Logger
}

// newRootCommand creates the relq command tree.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "relq",
		Short: "relq - relational query compiler",
		Long: `Compile typed query documents to SQL for several dialects, run them
against a live database and explore them interactively.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Dialect, "dialect", "sqlite", "SQL dialect ("+strings.Join(dialect.Names(), "|")+")")
	pf.StringVar(&opts.DSN, "dsn", "", "database connection string")
	pf.StringVar(&opts.Driver, "driver", "", "database/sql driver name (defaults per dialect)")
	pf.StringVarP(&opts.Mapping, "mapping", "m", "", "YAML schema declaring entities, tables and columns")
	pf.StringVar(&opts.Pagination, "pagination", "", "override the dialect's skip strategy")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "log every command sent to the database")

	cmd.AddCommand(newTranslateCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newReplCommand(opts))
	return cmd
}

// resolve applies env fallbacks to flags the user left unset and builds
// the logger.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if !flags.Changed("dialect") {
		if v := strings.TrimSpace(os.Getenv("RELQ_DIALECT")); v != "" {
			o.Dialect = v
		}
	}
	if !flags.Changed("dsn") {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			o.DSN = v
		}
	}
	o.Dialect = strings.ToLower(o.Dialect)
	if _, err := o.language(); err != nil {
		return err
	}
	o.logger = newLogger(cmd.ErrOrStderr(), o.Verbose)
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) language() (*dialect.Language, error) {
	var opts []dialect.Option
	if o.Pagination != "" {
		p, err := dialect.ParsePagination(o.Pagination)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dialect.WithPagination(p))
	}
	return dialect.Lookup(o.Dialect, opts...)
}

// schema is a loaded mapping file and the entity types it declares.
type schema struct {
	mapping *mapping.AttributeMapping
	types   []*model.Struct
}

func loadSchema(path string) (*schema, error) {
	if path == "" {
		return &schema{mapping: mapping.NewAttributeMapping()}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}
	defer func() { _ = f.Close() }()
	am, types, err := mapping.LoadSchema(f)
	if err != nil {
		return nil, err
	}
	return &schema{mapping: am, types: types}, nil
}

func (s *schema) entityNames() []string {
	names := make([]string, len(s.types))
	for i, t := range s.types {
		names[i] = t.Name
	}
	return names
}
