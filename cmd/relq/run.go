package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bawdo/relq/exec"
	"github.com/bawdo/relq/exec/sqldb"
	"github.com/bawdo/relq/provider"
)

// runOptions holds flags for the run command.
type runOptions struct {
	*rootOptions
	Args map[string]string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <doc.yaml>",
		Short: "Run a query document against the database",
		Long: `Compile a query document, run it against the database named by --dsn
and print the result. Arguments declared by the document are given with
--arg name=value and converted to the declared type.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringToStringVar(&opts.Args, "arg", nil, "query argument as name=value (repeatable)")
	return cmd
}

func runRun(ctx context.Context, opts *runOptions, path string, stdin io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := connect(opts.Dialect, opts.Driver, opts.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	p, s, err := opts.provider(sqldb.New(db))
	if err != nil {
		return err
	}
	q, err := readDocument(path, stdin, s)
	if err != nil {
		return err
	}
	args := make(exec.Args, len(opts.Args))
	for k, v := range opts.Args {
		args[k] = v
	}
	text, err := execute(ctx, p, q, args)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, text)
	return err
}

// execute runs q and renders its result.
func execute(ctx context.Context, p *provider.Provider, q provider.Expression, args exec.Args) (string, error) {
	plan, err := p.Plan(q)
	if err != nil {
		return "", err
	}
	var v any
	if plan.Kind == exec.KindCommand {
		v, err = p.ExecuteCommand(ctx, q, args)
	} else {
		v, err = p.Execute(ctx, q, args)
	}
	if err != nil {
		return "", err
	}
	return formatResult(v, plan.Kind)
}
